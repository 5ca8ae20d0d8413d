package tools

import "github.com/PostPulse/mcp-server-postpulse/internal/postpulse"

// DefaultCatalog registers the PostPulse tools and resources. newPoller
// configures media import polling; nil uses the defaults.
func DefaultCatalog(newPoller func() *postpulse.Poller) (*Catalog, error) {
	c := NewCatalog()
	registrations := []struct {
		spec    ToolSpec
		factory ToolFactory
	}{
		{&ListAccountsSpec{}, NewListAccountsFactory()},
		{&ListChatsSpec{}, NewListChatsFactory()},
		{&UploadMediaSpec{}, NewUploadMediaFactory(newPoller)},
		{&SchedulePostSpec{}, NewSchedulePostFactory()},
	}
	for _, reg := range registrations {
		if err := c.RegisterSpec(reg.spec, reg.factory); err != nil {
			return nil, err
		}
	}
	c.RegisterResource(AccountsResource, NewAccountsResourceFactory())
	return c, nil
}
