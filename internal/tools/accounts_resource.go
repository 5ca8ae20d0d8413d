package tools

import (
	"context"
	"fmt"
)

// AccountsResource lists the connected accounts as a JSON document.
var AccountsResource = ResourceSpec{
	URI:         ResourceURIAccounts,
	Name:        "Social Media Accounts",
	Description: "A list of all connected social media accounts (Instagram, Facebook, Telegram, etc.)",
	MimeType:    "application/json",
}

// NewAccountsResourceFactory creates readers for AccountsResource.
func NewAccountsResourceFactory() ResourceFactory {
	return func(api API) ResourceReader {
		return ResourceReaderFunc(func(ctx context.Context) (*ResourceContent, error) {
			accounts, err := api.ListAccounts(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to fetch accounts: %w", err)
			}
			text, err := jsonText(accounts)
			if err != nil {
				return nil, err
			}
			return &ResourceContent{URI: AccountsResource.URI, MimeType: AccountsResource.MimeType, Text: text}, nil
		})
	}
}
