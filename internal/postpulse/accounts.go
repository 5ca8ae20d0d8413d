package postpulse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Account is a connected social media account.
type Account struct {
	ID       int64  `json:"id"`
	Platform string `json:"platform"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type apiAccount struct {
	ID              int64  `json:"id"`
	Platform        string `json:"platform"`
	AccountUsername string `json:"accountUsername"`
	AccountName     string `json:"accountName"`
}

// ListAccounts returns the user's connected accounts.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	var raw []apiAccount
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &raw); err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(raw))
	for _, a := range raw {
		accounts = append(accounts, Account{
			ID:       a.ID,
			Platform: a.Platform,
			Username: a.AccountUsername,
			Name:     a.AccountName,
		})
	}
	return accounts, nil
}

// ListChats returns the chat threads of an account as returned by the API.
func (c *Client) ListChats(ctx context.Context, accountID int64, platform string) (json.RawMessage, error) {
	path := fmt.Sprintf("/v1/accounts/%d/chats?platform=%s", accountID, url.QueryEscape(platform))
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
