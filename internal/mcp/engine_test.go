package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
	"github.com/PostPulse/mcp-server-postpulse/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	err error
}

func (f *fakeAPI) ListAccounts(ctx context.Context) ([]postpulse.Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []postpulse.Account{{ID: 1, Platform: "INSTAGRAM", Username: "pp"}}, nil
}

func (f *fakeAPI) ListChats(ctx context.Context, accountID int64, platform string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), f.err
}

func (f *fakeAPI) SchedulePost(ctx context.Context, req postpulse.PostRequest) (json.RawMessage, error) {
	return json.RawMessage(`{"id":1}`), f.err
}

func (f *fakeAPI) UploadMedia(ctx context.Context, mediaURL string, p *postpulse.Poller) (string, error) {
	p.OnAttempt(1, 2, &postpulse.ImportStatus{State: "PROCESSING"})
	p.OnAttempt(2, 2, &postpulse.ImportStatus{State: "COMPLETED"})
	return "uploads/x.png", f.err
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []map[string]any
}

func (n *recordingNotifier) Notify(msg []byte) bool {
	var m map[string]any
	if err := json.Unmarshal(msg, &m); err != nil {
		return false
	}
	n.mu.Lock()
	n.msgs = append(n.msgs, m)
	n.mu.Unlock()
	return true
}

func (n *recordingNotifier) methods() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs {
		out = append(out, m["method"].(string))
	}
	return out
}

func newTestEngine(t *testing.T, api tools.API) (*Engine, *recordingNotifier) {
	t.Helper()
	catalog, err := tools.DefaultCatalog(nil)
	require.NoError(t, err)
	n := &recordingNotifier{}
	e := New(Config{
		SessionID: "s-1",
		Tools:     catalog.Bind(api),
		Notifier:  n,
		Info:      ServerInfo{Name: "mcp-server-postpulse", Version: "test"},
	})
	return e, n
}

type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *Error          `json:"error"`
}

func call(t *testing.T, e *Engine, msg string) rpcReply {
	t.Helper()
	out, err := e.Handle(context.Background(), []byte(msg))
	require.NoError(t, err)
	require.NotNil(t, out, "expected a response to %s", msg)
	var r rpcReply
	require.NoError(t, json.Unmarshal(out, &r))
	return r
}

func initialize(t *testing.T, e *Engine) {
	t.Helper()
	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	require.Nil(t, r.Error)
}

func TestInitializeNegotiatesVersion(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})

	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test"}}}`)
	require.Nil(t, r.Error)
	assert.JSONEq(t, `1`, string(r.ID))

	var result initializeResult
	require.NoError(t, json.Unmarshal(r.Result, &result))
	assert.Equal(t, "2025-03-26", result.ProtocolVersion)
	assert.Equal(t, "mcp-server-postpulse", result.ServerInfo.Name)
	assert.NotNil(t, result.Capabilities.Tools)
	assert.True(t, e.initialized)

	r = call(t, e, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{}}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)
}

func TestInitializeUnknownVersionGetsLatest(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`)
	require.Nil(t, r.Error)
	assert.Equal(t, LatestProtocolVersion, e.protocolVersion)
}

func TestRequiresInitialize(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})

	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)

	r = call(t, e, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.Nil(t, r.Error)
	assert.JSONEq(t, `{}`, string(r.Result))
}

func TestNotificationsAndResponsesHaveNoReply(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	for _, msg := range []string{
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":3,"reason":"user"}}`,
		`{"jsonrpc":"2.0","id":"srv-1","result":{}}`,
		`{"jsonrpc":"2.0","id":"srv-2","error":{"code":-1,"message":"no"}}`,
	} {
		out, err := e.Handle(context.Background(), []byte(msg))
		require.NoError(t, err)
		assert.Nil(t, out, msg)
	}
	assert.True(t, e.initialized)
}

func TestProtocolErrors(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	tests := []struct {
		msg  string
		code int
	}{
		{`{not json`, CodeParseError},
		{`{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{`{"jsonrpc":"2.0","id":1,"method":"prompts/list"}`, CodeMethodNotFound},
		{`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"logging/setLevel","params":{"level":"loud"}}`, CodeInvalidParams},
		{`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{}}`, CodeInvalidParams},
	}
	for _, tt := range tests {
		r := call(t, e, tt.msg)
		require.NotNil(t, r.Error, tt.msg)
		assert.Equal(t, tt.code, r.Error.Code, tt.msg)
	}
}

func TestBatch(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	out, err := e.Handle(context.Background(), []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"nope"}
	]`))
	require.NoError(t, err)
	var replies []rpcReply
	require.NoError(t, json.Unmarshal(out, &replies))
	require.Len(t, replies, 2)
	assert.Nil(t, replies[0].Error)
	assert.Equal(t, CodeMethodNotFound, replies[1].Error.Code)

	out, err = e.Handle(context.Background(), []byte(`[{"jsonrpc":"2.0","method":"notifications/initialized"}]`))
	require.NoError(t, err)
	assert.Nil(t, out)

	r := call(t, e, `[]`)
	assert.Equal(t, CodeInvalidRequest, r.Error.Code)
}

func TestInitializeCannotBeBatched(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	out, err := e.Handle(context.Background(), []byte(`[{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}]`))
	require.NoError(t, err)
	var replies []rpcReply
	require.NoError(t, json.Unmarshal(out, &replies))
	require.Len(t, replies, 1)
	assert.Equal(t, CodeInvalidRequest, replies[0].Error.Code)
	assert.False(t, e.initialized)
}

func TestToolsList(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Nil(t, r.Error)
	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &result))
	require.Len(t, result.Tools, 4)
	assert.Equal(t, "list_accounts", result.Tools[0].Name)
	for _, tool := range result.Tools {
		assert.Equal(t, "object", tool.InputSchema["type"], tool.Name)
	}
}

func TestToolsCall(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"list_accounts","arguments":{}}}`)
	require.Nil(t, r.Error)
	var result toolsCallResult
	require.NoError(t, json.Unmarshal(r.Result, &result))
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Contains(t, result.Content[0].Text, `"username": "pp"`)
}

func TestToolsCallErrors(t *testing.T) {
	e, n := newTestEngine(t, &fakeAPI{err: errors.New("api down")})
	initialize(t, e)

	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"missing"}}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidParams, r.Error.Code)

	r = call(t, e, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_chats","arguments":{"platform":"X"}}}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeInvalidParams, r.Error.Code)
	assert.Contains(t, r.Error.Message, "invalid arguments for list_chats")

	r = call(t, e, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"list_accounts"}}`)
	require.Nil(t, r.Error)
	var result toolsCallResult
	require.NoError(t, json.Unmarshal(r.Result, &result))
	assert.True(t, result.IsError)
	assert.Equal(t, "Error: api down", result.Content[0].Text)
	assert.Equal(t, []string{"notifications/message"}, n.methods())

	// Raising the client log level silences tool failure messages.
	call(t, e, `{"jsonrpc":"2.0","id":4,"method":"logging/setLevel","params":{"level":"critical"}}`)
	call(t, e, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"list_accounts"}}`)
	assert.Len(t, n.methods(), 1)
}

func TestToolsCallProgress(t *testing.T) {
	e, n := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"upload_media","arguments":{"url":"https://cdn.example/x.png"},"_meta":{"progressToken":"up-1"}}}`)
	require.Nil(t, r.Error)

	assert.Equal(t, []string{"notifications/progress", "notifications/progress"}, n.methods())
	n.mu.Lock()
	params := n.msgs[1]["params"].(map[string]any)
	n.mu.Unlock()
	assert.Equal(t, "up-1", params["progressToken"])
	assert.Equal(t, float64(2), params["progress"])
	assert.Equal(t, float64(2), params["total"])

	// Without a token nothing is pushed.
	call(t, e, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"upload_media","arguments":{"url":"https://cdn.example/x.png"}}}`)
	assert.Len(t, n.methods(), 2)
}

func TestResources(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	r := call(t, e, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`)
	require.Nil(t, r.Error)
	assert.Contains(t, string(r.Result), `"uri":"postpulse://accounts"`)

	r = call(t, e, `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"postpulse://accounts"}}`)
	require.Nil(t, r.Error)
	var read struct {
		Contents []tools.ResourceContent `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(r.Result, &read))
	require.Len(t, read.Contents, 1)
	assert.Equal(t, "application/json", read.Contents[0].MimeType)

	r = call(t, e, `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"postpulse://other"}}`)
	require.NotNil(t, r.Error)
	assert.Equal(t, CodeResourceMissing, r.Error.Code)
}

func TestCloseStopsEngine(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	select {
	case <-e.Done():
	default:
		t.Fatal("done not closed")
	}
	_, err := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, e.notify("notifications/message", nil))
}

func TestConcurrentCallsAreSerialized(t *testing.T) {
	e, _ := newTestEngine(t, &fakeAPI{})
	initialize(t, e)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
			assert.NoError(t, err)
			assert.NotEmpty(t, out)
		}()
	}
	wg.Wait()
}
