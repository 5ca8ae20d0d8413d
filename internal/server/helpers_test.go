package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PostPulse/mcp-server-postpulse/internal/auth"
	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"github.com/PostPulse/mcp-server-postpulse/internal/mcp"
	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/PostPulse/mcp-server-postpulse/internal/tools"
	"github.com/stretchr/testify/require"
)

const (
	validToken  = "good-token"
	initRequest = `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`
)

// stubAPI answers the PostPulse calls the tools make.
type stubAPI struct{}

func (stubAPI) ListAccounts(ctx context.Context) ([]postpulse.Account, error) {
	return []postpulse.Account{{ID: 7, Platform: "TELEGRAM", Username: "news"}}, nil
}

func (stubAPI) ListChats(ctx context.Context, accountID int64, platform string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (stubAPI) SchedulePost(ctx context.Context, req postpulse.PostRequest) (json.RawMessage, error) {
	return json.RawMessage(`{"id":1}`), nil
}

func (stubAPI) UploadMedia(ctx context.Context, mediaURL string, p *postpulse.Poller) (string, error) {
	p.OnAttempt(1, 20, &postpulse.ImportStatus{State: "PROCESSING"})
	p.OnAttempt(2, 20, &postpulse.ImportStatus{State: "COMPLETED"})
	return "uploads/clip.mp4", nil
}

type testEnv struct {
	srv      *Server
	registry *session.Registry
	ts       *httptest.Server
	verified atomic.Int32
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog, err := tools.DefaultCatalog(nil)
	require.NoError(t, err)
	factory := func(b session.Binding) (session.Engine, error) {
		return mcp.New(mcp.Config{
			SessionID: b.SessionID,
			Identity:  b.Identity,
			Tools:     catalog.Bind(stubAPI{}),
			Notifier:  b.Notifier,
			Info:      mcp.ServerInfo{Name: "mcp-server-postpulse", Version: "test"},
		}), nil
	}

	env := &testEnv{}
	verifier := auth.VerifierFunc(func(ctx context.Context, token string) (*auth.Identity, error) {
		env.verified.Add(1)
		if token != validToken {
			return nil, auth.ErrInvalidToken
		}
		return &auth.Identity{Token: token, ClientID: "client-1", Scopes: []string{"postpulse-api/api"}}, nil
	})

	log := logger.NewWithWriter(logger.LevelError, io.Discard, "server")
	env.registry = session.NewRegistry(session.WithShards(4), session.WithLogger(log))
	env.srv = NewServer(env.registry, auth.NewGate(verifier, "https://mcp.example.com"+ProtectedResourceMetadataPath), factory, Options{
		ResourceURL:     "https://mcp.example.com",
		Issuer:          "https://auth.example.com/",
		JWKSURI:         "https://auth.example.com/.well-known/jwks.json",
		ScopesSupported: []string{"openid", "postpulse-api/api"},
		KeepAlive:       time.Hour,
		StreamBuffer:    16,
		Logger:          log,
	})
	env.ts = httptest.NewServer(env.srv.Handler())

	// Streams end when their sessions close, so close sessions before the
	// test server waits for handlers.
	t.Cleanup(env.ts.Close)
	t.Cleanup(func() { env.registry.CloseAll() })
	return env
}

func (e *testEnv) post(t *testing.T, path, sessionID, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) delete(t *testing.T, sessionID string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, e.ts.URL+"/", nil)
	require.NoError(t, err)
	if sessionID != "" {
		req.Header.Set(HeaderSessionID, sessionID)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// handshake establishes a session and waits for it to become Active.
func (e *testEnv) handshake(t *testing.T) *session.Session {
	t.Helper()
	resp := e.post(t, "/", "", validToken, initRequest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(HeaderSessionID)
	require.NotEmpty(t, id)

	sess, ok := e.registry.Lookup(id)
	require.True(t, ok)
	require.Eventually(t, func() bool { return sess.State() == session.StateActive },
		2*time.Second, 5*time.Millisecond)
	return sess
}

// openSSE attaches an SSE stream; cancel disconnects it.
func (e *testEnv) openSSE(t *testing.T, query string) (*http.Response, *bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.ts.URL+"/sse?"+query, nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body), cancel
}

// readEvent returns the data of the next SSE event. Multi-line data is
// joined with newlines.
func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	type result struct {
		data string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		var data []string
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				if len(data) > 0 {
					ch <- result{data: strings.Join(data, "\n")}
					return
				}
				continue
			}
			if value, ok := strings.CutPrefix(line, "data:"); ok {
				data = append(data, strings.TrimPrefix(value, " "))
			}
		}
	}()
	select {
	case res := <-ch:
		require.NoError(t, res.err)
		return res.data
	case <-time.After(5 * time.Second):
		t.Fatal("no SSE event received")
		return ""
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
