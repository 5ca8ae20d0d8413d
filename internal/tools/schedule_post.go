package tools

import (
	"context"
	"strings"

	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
)

// SchedulePostSpec is the static specification of the schedule_post tool.
type SchedulePostSpec struct{}

func (s *SchedulePostSpec) Name() string {
	return ToolNameSchedulePost
}

func (s *SchedulePostSpec) Description() string {
	return "Schedule a social media post to one of your connected accounts."
}

func (s *SchedulePostSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"accountId": map[string]interface{}{
				"type":        "number",
				"description": "Account ID from list_accounts",
			},
			"platform": map[string]interface{}{
				"type":        "string",
				"description": "Platform (" + strings.Join(postpulse.Platforms, ", ") + ")",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The text content of the post",
			},
			"scheduledTime": map[string]interface{}{
				"type":        "string",
				"description": "ISO 8601 date-time for when to publish",
			},
			"mediaPaths": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Media paths from upload_media",
			},
			"chatId": map[string]interface{}{
				"type":        "string",
				"description": "Chat/channel ID for Telegram posts",
			},
		},
		"required": []string{"accountId", "platform", "content", "scheduledTime"},
	}
}

type schedulePostExecutor struct {
	api API
}

// NewSchedulePostFactory creates schedule_post executors.
func NewSchedulePostFactory() ToolFactory {
	return func(api API) ToolExecutor {
		return &schedulePostExecutor{api: api}
	}
}

func (e *schedulePostExecutor) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	accountID, err := int64Param(params, "accountId")
	if err != nil {
		return failure(err)
	}

	out, err := e.api.SchedulePost(ctx, postpulse.PostRequest{
		AccountID:     accountID,
		Platform:      stringParam(params, "platform"),
		Content:       stringParam(params, "content"),
		ScheduledTime: stringParam(params, "scheduledTime"),
		MediaPaths:    stringSliceParam(params, "mediaPaths"),
		ChatID:        stringParam(params, "chatId"),
	})
	if err != nil {
		return failure(err)
	}
	text, err := jsonText(out)
	if err != nil {
		return failure(err)
	}
	return &ToolResult{Result: text}
}
