// Package tools implements the MCP tools and resources backed by the
// PostPulse API. A Catalog holds the shared specs and compiled argument
// schemas; each session binds it to its own API client.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/PostPulse/mcp-server-postpulse/internal/postpulse"
	"github.com/getkin/kin-openapi/openapi3"
)

var (
	// ErrToolNotFound is returned for calls to unregistered tools.
	ErrToolNotFound = errors.New("tool not found")
	// ErrResourceNotFound is returned for reads of unknown resource URIs.
	ErrResourceNotFound = errors.New("resource not found")
)

// ToolSpec represents the static specification of a tool (name, description,
// parameters). Specs are shared by every session.
type ToolSpec interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
}

// ToolExecutor runs a tool for one session.
type ToolExecutor interface {
	Execute(ctx context.Context, params map[string]interface{}) *ToolResult
}

// API is the part of the PostPulse client the tools use.
type API interface {
	ListAccounts(ctx context.Context) ([]postpulse.Account, error)
	ListChats(ctx context.Context, accountID int64, platform string) (json.RawMessage, error)
	SchedulePost(ctx context.Context, req postpulse.PostRequest) (json.RawMessage, error)
	UploadMedia(ctx context.Context, mediaURL string, p *postpulse.Poller) (string, error)
}

// ToolFactory creates the executor of a tool bound to one session's API client.
type ToolFactory func(api API) ToolExecutor

// ToolCall represents a tools/call request
type ToolCall struct {
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"arguments"`
}

// ToolResult represents the result of a tool execution. Result is rendered
// as text; a non-empty Error marks the call as failed.
type ToolResult struct {
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// ValidationError reports arguments that do not match a tool's schema.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

type catalogEntry struct {
	spec    ToolSpec
	factory ToolFactory
	schema  *openapi3.Schema
}

type resourceEntry struct {
	spec    ResourceSpec
	factory ResourceFactory
}

// Catalog holds the tool and resource specs with their compiled schemas.
// It is built once and bound to an API client per session.
type Catalog struct {
	tools     map[string]*catalogEntry
	resources map[string]*resourceEntry
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tools:     make(map[string]*catalogEntry),
		resources: make(map[string]*resourceEntry),
	}
}

// RegisterSpec adds a tool. The parameter schema is compiled here so a
// broken schema fails at startup rather than on the first call.
func (c *Catalog) RegisterSpec(spec ToolSpec, factory ToolFactory) error {
	schema, err := compileSchema(spec.Parameters())
	if err != nil {
		return fmt.Errorf("tool %s: %w", spec.Name(), err)
	}
	c.tools[spec.Name()] = &catalogEntry{spec: spec, factory: factory, schema: schema}
	return nil
}

// RegisterResource adds a readable resource.
func (c *Catalog) RegisterResource(spec ResourceSpec, factory ResourceFactory) {
	c.resources[spec.URI] = &resourceEntry{spec: spec, factory: factory}
}

func compileSchema(params map[string]interface{}) (*openapi3.Schema, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	schema := openapi3.NewSchema()
	if err := schema.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if err := schema.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return schema, nil
}

// Bind creates the registry of one session.
func (c *Catalog) Bind(api API) *Registry {
	r := &Registry{
		catalog:   c,
		executors: make(map[string]ToolExecutor, len(c.tools)),
		readers:   make(map[string]ResourceReader, len(c.resources)),
	}
	for name, entry := range c.tools {
		r.executors[name] = entry.factory(api)
	}
	for uri, entry := range c.resources {
		r.readers[uri] = entry.factory(api)
	}
	return r
}

// Registry manages the tools and resources available to one session.
type Registry struct {
	catalog   *Catalog
	executors map[string]ToolExecutor
	readers   map[string]ResourceReader
}

// ListSpecs returns all tool specs sorted by name.
func (r *Registry) ListSpecs() []ToolSpec {
	result := make([]ToolSpec, 0, len(r.catalog.tools))
	for _, entry := range r.catalog.tools {
		result = append(result, entry.spec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Execute validates the arguments of call and runs the tool. Tool failures
// are reported in the result; the error is reserved for unknown tools and
// invalid arguments.
func (r *Registry) Execute(ctx context.Context, call *ToolCall) (*ToolResult, error) {
	entry, ok := r.catalog.tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
	}

	params := call.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	if err := entry.schema.VisitJSON(params); err != nil {
		return nil, &ValidationError{Tool: call.Name, Err: err}
	}

	result := r.executors[call.Name].Execute(ctx, params)
	if result == nil {
		return &ToolResult{Error: "tool returned nil result"}, nil
	}
	return result, nil
}

// ListResources returns all resource specs sorted by URI.
func (r *Registry) ListResources() []ResourceSpec {
	result := make([]ResourceSpec, 0, len(r.catalog.resources))
	for _, entry := range r.catalog.resources {
		result = append(result, entry.spec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].URI < result[j].URI })
	return result
}

// ReadResource reads the resource at uri.
func (r *Registry) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	reader, ok := r.readers[uri]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	return reader.Read(ctx)
}
