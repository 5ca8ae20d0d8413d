package mcp

import (
	"errors"

	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/PostPulse/mcp-server-postpulse/internal/tools"
)

var _ session.Engine = (*Engine)(nil)

// FactoryOptions configures NewFactory.
type FactoryOptions struct {
	Info         ServerInfo
	Instructions string
	Catalog      *tools.Catalog
	API          *postpulse.Client
}

// NewFactory returns a session.EngineFactory creating one engine per
// session, with the tools bound to an API client that acts as the session's
// user.
func NewFactory(opts FactoryOptions) session.EngineFactory {
	return func(b session.Binding) (session.Engine, error) {
		if opts.Catalog == nil || opts.API == nil {
			return nil, errors.New("mcp: factory needs a catalog and an API client")
		}
		return New(Config{
			SessionID:    b.SessionID,
			Identity:     b.Identity,
			Tools:        opts.Catalog.Bind(opts.API.WithBearer(b.Credential)),
			Notifier:     b.Notifier,
			Info:         opts.Info,
			Instructions: opts.Instructions,
		}), nil
	}
}
