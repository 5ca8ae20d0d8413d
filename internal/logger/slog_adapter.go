package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to the provided Logger.
// If logger is nil, it returns nil.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{log: l}
}

// NewSlog wraps l in a *slog.Logger for components that take one.
func NewSlog(l *Logger) *slog.Logger {
	if l == nil {
		l = Global()
	}
	return slog.New(NewSlogHandler(l))
}

// NewStdLog returns a *log.Logger that writes every line at the given level,
// suitable for http.Server.ErrorLog.
func NewStdLog(l *Logger, level Level) *log.Logger {
	if l == nil {
		l = Global()
	}
	return slog.NewLogLogger(NewSlogHandler(l), loggerLevelToSlogLevel(level))
}

type slogAdapter struct {
	log    *Logger
	groups []string
	bound  string // attrs from WithAttrs, rendered with the groups open at the time
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	return slogLevelToLoggerLevel(level) >= h.log.GetLevel()
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	attrs := make([]slog.Attr, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)
		return true
	})

	message := strings.TrimRight(record.Message, "\n")
	for _, text := range []string{h.bound, formatAttrs(attrs, h.groups)} {
		if text == "" {
			continue
		}
		if message == "" {
			message = text
		} else {
			message += " " + text
		}
	}

	h.log.log(slogLevelToLoggerLevel(record.Level), "%s", message)
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := h.bound
	if text := formatAttrs(attrs, h.groups); text != "" {
		if bound != "" {
			bound += " "
		}
		bound += text
	}
	return &slogAdapter{
		log:    h.log,
		groups: h.groups,
		bound:  bound,
	}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &slogAdapter{
		log:    h.log,
		groups: groups,
		bound:  h.bound,
	}
}

func slogLevelToLoggerLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func loggerLevelToSlogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError, LevelNone:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// formatAttrs renders attrs as space separated key=value pairs; group
// names become dotted key prefixes.
func formatAttrs(attrs []slog.Attr, groups []string) string {
	var b strings.Builder
	for _, attr := range attrs {
		writeAttr(&b, attr, groups)
	}
	return b.String()
}

func writeAttr(b *strings.Builder, attr slog.Attr, groups []string) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if attr.Value.Kind() == slog.KindGroup {
		nested := groups
		if attr.Key != "" {
			nested = append(append([]string(nil), groups...), attr.Key)
		}
		for _, child := range attr.Value.Group() {
			writeAttr(b, child, nested)
		}
		return
	}

	key := attr.Key
	if key == "" {
		key = "attr"
	}
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	fmt.Fprintf(b, "%s=%v", key, attr.Value)
}
