package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
)

type fakeAPI struct {
	accounts  []postpulse.Account
	chats     json.RawMessage
	posted    *postpulse.PostRequest
	mediaPath string
	err       error
	statuses  []string
}

func (f *fakeAPI) ListAccounts(ctx context.Context) ([]postpulse.Account, error) {
	return f.accounts, f.err
}

func (f *fakeAPI) ListChats(ctx context.Context, accountID int64, platform string) (json.RawMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"accountId":` + jsonNumber(accountID) + `,"platform":"` + platform + `"}`), nil
}

func (f *fakeAPI) SchedulePost(ctx context.Context, req postpulse.PostRequest) (json.RawMessage, error) {
	f.posted = &req
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(`{"id":1}`), nil
}

func (f *fakeAPI) UploadMedia(ctx context.Context, mediaURL string, p *postpulse.Poller) (string, error) {
	for i, state := range f.statuses {
		p.OnAttempt(i+1, len(f.statuses), &postpulse.ImportStatus{State: state})
	}
	return f.mediaPath, f.err
}

func jsonNumber(n int64) string {
	data, _ := json.Marshal(n)
	return string(data)
}

func newTestRegistry(t *testing.T, api API) *Registry {
	t.Helper()
	catalog, err := DefaultCatalog(nil)
	if err != nil {
		t.Fatalf("DefaultCatalog: %v", err)
	}
	return catalog.Bind(api)
}

// decodeArgs mimics arguments arriving over JSON-RPC.
func decodeArgs(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("bad test arguments: %v", err)
	}
	return m
}

func TestListSpecsSorted(t *testing.T) {
	reg := newTestRegistry(t, &fakeAPI{})

	var names []string
	for _, spec := range reg.ListSpecs() {
		names = append(names, spec.Name())
	}
	want := "list_accounts,list_chats,schedule_post,upload_media"
	if got := strings.Join(names, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	reg := newTestRegistry(t, &fakeAPI{})

	_, err := reg.Execute(context.Background(), &ToolCall{Name: "delete_everything"})
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	reg := newTestRegistry(t, &fakeAPI{})

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"missing required", ToolNameListChats, `{"platform":"TELEGRAM"}`},
		{"wrong type", ToolNameListChats, `{"accountId":"seven","platform":"TELEGRAM"}`},
		{"empty url", ToolNameUploadMedia, `{"url":""}`},
		{"media paths not strings", ToolNameSchedulePost, `{"accountId":1,"platform":"X_TWITTER","content":"hi","scheduledTime":"2026-01-01T00:00:00Z","mediaPaths":[1]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Execute(context.Background(), &ToolCall{Name: tt.tool, Parameters: decodeArgs(t, tt.args)})
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Tool != tt.tool {
				t.Errorf("expected tool %s, got %s", tt.tool, verr.Tool)
			}
		})
	}
}

func TestListAccountsTool(t *testing.T) {
	api := &fakeAPI{accounts: []postpulse.Account{{ID: 1, Platform: "INSTAGRAM", Username: "pp", Name: "PostPulse"}}}
	reg := newTestRegistry(t, api)

	result, err := reg.Execute(context.Background(), &ToolCall{Name: ToolNameListAccounts})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("unexpected tool error: %s", result.Error)
	}
	text := result.Result.(string)
	if !strings.Contains(text, `"username": "pp"`) {
		t.Errorf("expected indented account JSON, got %s", text)
	}
}

func TestListChatsTool(t *testing.T) {
	reg := newTestRegistry(t, &fakeAPI{})

	result, err := reg.Execute(context.Background(), &ToolCall{
		Name:       ToolNameListChats,
		Parameters: decodeArgs(t, `{"accountId":42,"platform":"TELEGRAM"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Result.(string), `"accountId": 42`) {
		t.Errorf("unexpected result %v", result.Result)
	}
}

func TestToolFailureIsResult(t *testing.T) {
	api := &fakeAPI{err: &postpulse.APIError{Method: "GET", Path: "/v1/accounts", StatusCode: 401}}
	reg := newTestRegistry(t, api)

	result, err := reg.Execute(context.Background(), &ToolCall{Name: ToolNameListAccounts})
	if err != nil {
		t.Fatalf("tool failures must not be call errors: %v", err)
	}
	if !strings.Contains(result.Error, "status 401") {
		t.Errorf("expected API error in result, got %q", result.Error)
	}
}

func TestSchedulePostTool(t *testing.T) {
	api := &fakeAPI{}
	reg := newTestRegistry(t, api)

	result, err := reg.Execute(context.Background(), &ToolCall{
		Name: ToolNameSchedulePost,
		Parameters: decodeArgs(t, `{
			"accountId": 5,
			"platform": "TELEGRAM",
			"content": "hello",
			"scheduledTime": "2026-11-01T10:00:00Z",
			"mediaPaths": ["uploads/a.jpg"],
			"chatId": "@news"
		}`),
	})
	if err != nil || result.Error != "" {
		t.Fatalf("unexpected failure: %v %v", err, result)
	}

	want := postpulse.PostRequest{
		AccountID:     5,
		Platform:      "TELEGRAM",
		Content:       "hello",
		ScheduledTime: "2026-11-01T10:00:00Z",
		MediaPaths:    []string{"uploads/a.jpg"},
		ChatID:        "@news",
	}
	got := api.posted
	if got == nil || got.AccountID != want.AccountID || got.Platform != want.Platform ||
		got.Content != want.Content || got.ScheduledTime != want.ScheduledTime ||
		strings.Join(got.MediaPaths, ",") != "uploads/a.jpg" || got.ChatID != want.ChatID {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestSchedulePostRejectsFractionalAccount(t *testing.T) {
	reg := newTestRegistry(t, &fakeAPI{})

	result, err := reg.Execute(context.Background(), &ToolCall{
		Name:       ToolNameSchedulePost,
		Parameters: decodeArgs(t, `{"accountId":1.5,"platform":"X_TWITTER","content":"hi","scheduledTime":"2026-01-01T00:00:00Z"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Error, "whole number") {
		t.Errorf("expected whole number error, got %q", result.Error)
	}
}

func TestUploadMediaReportsProgress(t *testing.T) {
	api := &fakeAPI{mediaPath: "uploads/a.jpg", statuses: []string{"PROCESSING", "COMPLETED"}}
	reg := newTestRegistry(t, api)

	var updates []string
	ctx := WithProgress(context.Background(), func(progress, total float64, message string) {
		updates = append(updates, message)
		if total != 2 {
			t.Errorf("expected total 2, got %v", total)
		}
	})

	result, err := reg.Execute(ctx, &ToolCall{Name: ToolNameUploadMedia, Parameters: decodeArgs(t, `{"url":"https://cdn.example/a.jpg"}`)})
	if err != nil || result.Error != "" {
		t.Fatalf("unexpected failure: %v %v", err, result)
	}
	if result.Result != "uploads/a.jpg" {
		t.Errorf("expected media path, got %v", result.Result)
	}
	if strings.Join(updates, "|") != "Media import PROCESSING|Media import COMPLETED" {
		t.Errorf("unexpected progress updates %v", updates)
	}
}

func TestUploadMediaRejectsRelativeURL(t *testing.T) {
	reg := newTestRegistry(t, &fakeAPI{})

	result, err := reg.Execute(context.Background(), &ToolCall{Name: ToolNameUploadMedia, Parameters: decodeArgs(t, `{"url":"/tmp/a.jpg"}`)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Error == "" {
		t.Error("expected an error for a relative URL")
	}
}

func TestAccountsResource(t *testing.T) {
	api := &fakeAPI{accounts: []postpulse.Account{{ID: 3, Platform: "FACEBOOK"}}}
	reg := newTestRegistry(t, api)

	resources := reg.ListResources()
	if len(resources) != 1 || resources[0].URI != ResourceURIAccounts {
		t.Fatalf("unexpected resources %+v", resources)
	}

	content, err := reg.ReadResource(context.Background(), ResourceURIAccounts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content.MimeType != "application/json" || !strings.Contains(content.Text, `"platform": "FACEBOOK"`) {
		t.Errorf("unexpected content %+v", content)
	}

	if _, err := reg.ReadResource(context.Background(), "postpulse://nope"); !errors.Is(err, ErrResourceNotFound) {
		t.Errorf("expected ErrResourceNotFound, got %v", err)
	}

	api.err = errors.New("down")
	if _, err := reg.ReadResource(context.Background(), ResourceURIAccounts); err == nil || !strings.Contains(err.Error(), "failed to fetch accounts") {
		t.Errorf("expected wrapped fetch error, got %v", err)
	}
}

func TestRegisterSpecRejectsBrokenSchema(t *testing.T) {
	c := NewCatalog()
	err := c.RegisterSpec(brokenSpec{}, NewListAccountsFactory())
	if err == nil {
		t.Fatal("expected schema error")
	}
}

type brokenSpec struct{}

func (brokenSpec) Name() string        { return "broken" }
func (brokenSpec) Description() string { return "" }
func (brokenSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{"type": "object", "properties": map[string]interface{}{"a": map[string]interface{}{"type": "frobnicate"}}}
}
