package tools

import "context"

// ListChatsSpec is the static specification of the list_chats tool.
type ListChatsSpec struct{}

func (s *ListChatsSpec) Name() string {
	return ToolNameListChats
}

func (s *ListChatsSpec) Description() string {
	return "List chat threads for a connected social media account."
}

func (s *ListChatsSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"accountId": map[string]interface{}{
				"type":        "number",
				"description": "The account ID from list_accounts",
			},
			"platform": map[string]interface{}{
				"type":        "string",
				"description": "Platform name (e.g. INSTAGRAM, FACEBOOK, TELEGRAM)",
			},
		},
		"required": []string{"accountId", "platform"},
	}
}

type listChatsExecutor struct {
	api API
}

// NewListChatsFactory creates list_chats executors.
func NewListChatsFactory() ToolFactory {
	return func(api API) ToolExecutor {
		return &listChatsExecutor{api: api}
	}
}

func (e *listChatsExecutor) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	accountID, err := int64Param(params, "accountId")
	if err != nil {
		return failure(err)
	}
	chats, err := e.api.ListChats(ctx, accountID, stringParam(params, "platform"))
	if err != nil {
		return failure(err)
	}
	text, err := jsonText(chats)
	if err != nil {
		return failure(err)
	}
	return &ToolResult{Result: text}
}
