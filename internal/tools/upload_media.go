package tools

import (
	"context"
	"fmt"
	"net/url"

	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
)

// UploadMediaSpec is the static specification of the upload_media tool.
type UploadMediaSpec struct{}

func (s *UploadMediaSpec) Name() string {
	return ToolNameUploadMedia
}

func (s *UploadMediaSpec) Description() string {
	return "Upload media from a URL for use in scheduled posts. Returns the media path/key."
}

func (s *UploadMediaSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{
				"type":        "string",
				"minLength":   1,
				"description": "Public URL of the media file to import",
			},
		},
		"required": []string{"url"},
	}
}

type uploadMediaExecutor struct {
	api       API
	newPoller func() *postpulse.Poller
}

// NewUploadMediaFactory creates upload_media executors. newPoller returns
// the poll settings of one upload; nil uses the defaults.
func NewUploadMediaFactory(newPoller func() *postpulse.Poller) ToolFactory {
	if newPoller == nil {
		newPoller = func() *postpulse.Poller { return &postpulse.Poller{} }
	}
	return func(api API) ToolExecutor {
		return &uploadMediaExecutor{api: api, newPoller: newPoller}
	}
}

func (e *uploadMediaExecutor) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	raw := stringParam(params, "url")
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return failure(fmt.Errorf("url must be an absolute http(s) URL: %q", raw))
	}

	poller := e.newPoller()
	poller.OnAttempt = func(attempt, maxAttempts int, status *postpulse.ImportStatus) {
		ReportProgress(ctx, float64(attempt), float64(maxAttempts), "Media import "+status.State)
	}

	path, err := e.api.UploadMedia(ctx, raw, poller)
	if err != nil {
		return failure(err)
	}
	return &ToolResult{Result: path}
}
