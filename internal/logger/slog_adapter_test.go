package logger

import (
	"log/slog"
	"strings"
	"testing"
)

func TestSlogAdapterFormatsAttrs(t *testing.T) {
	var buf strings.Builder
	l := NewWithWriter(LevelDebug, &buf, "auth")

	log := NewSlog(l).With("issuer", "https://auth.example").WithGroup("token")
	log.Warn("verification failed", "kid", "k1", slog.Group("claims", "sub", "user-1"))

	out := buf.String()
	for _, want := range []string{
		"[WARN] [auth] verification failed",
		"issuer=https://auth.example",
		"token.kid=k1",
		"token.claims.sub=user-1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestSlogAdapterRespectsLevel(t *testing.T) {
	var buf strings.Builder
	l := NewWithWriter(LevelWarn, &buf, "")

	log := NewSlog(l)
	log.Info("dropped")
	log.Error("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered at WARN: %q", out)
	}
	if !strings.Contains(out, "[ERROR] kept") {
		t.Errorf("error record missing: %q", out)
	}
}

func TestNewStdLog(t *testing.T) {
	var buf strings.Builder
	l := NewWithWriter(LevelInfo, &buf, "http")

	NewStdLog(l, LevelError).Printf("http: TLS handshake error from %s", "10.0.0.1:5555")

	if !strings.Contains(buf.String(), "[ERROR] [http] http: TLS handshake error from 10.0.0.1:5555") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
