package tools

import "context"

// ListAccountsSpec is the static specification of the list_accounts tool.
type ListAccountsSpec struct{}

func (s *ListAccountsSpec) Name() string {
	return ToolNameListAccounts
}

func (s *ListAccountsSpec) Description() string {
	return "List all connected social media accounts (Instagram, Facebook, Telegram, etc.) with their IDs and platforms."
}

func (s *ListAccountsSpec) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

type listAccountsExecutor struct {
	api API
}

// NewListAccountsFactory creates list_accounts executors.
func NewListAccountsFactory() ToolFactory {
	return func(api API) ToolExecutor {
		return &listAccountsExecutor{api: api}
	}
}

func (e *listAccountsExecutor) Execute(ctx context.Context, params map[string]interface{}) *ToolResult {
	accounts, err := e.api.ListAccounts(ctx)
	if err != nil {
		return failure(err)
	}
	text, err := jsonText(accounts)
	if err != nil {
		return failure(err)
	}
	return &ToolResult{Result: text}
}
