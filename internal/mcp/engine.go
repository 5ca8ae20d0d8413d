// Package mcp implements the Model Context Protocol dispatch engine bound to
// one session: JSON-RPC framing, the initialize handshake, and the tools,
// resources and logging methods.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/PostPulse/mcp-server-postpulse/internal/auth"
	"github.com/PostPulse/mcp-server-postpulse/internal/logger"
	"github.com/PostPulse/mcp-server-postpulse/internal/session"
	"github.com/PostPulse/mcp-server-postpulse/internal/tools"
)

// ErrClosed is returned by Handle after Close.
var ErrClosed = errors.New("mcp engine closed")

// logLevels are the MCP logging levels in increasing severity.
var logLevels = []string{"debug", "info", "notice", "warning", "error", "critical", "alert", "emergency"}

// Config describes one engine.
type Config struct {
	SessionID    string
	Identity     auth.Identity
	Tools        *tools.Registry
	Notifier     session.Notifier
	Info         ServerInfo
	Instructions string
}

// Engine answers the protocol messages of one session. Calls are
// serialized, so the engine is safe for concurrent use.
type Engine struct {
	cfg Config
	log *logger.Logger

	mu              sync.Mutex
	initialized     bool
	protocolVersion string
	logLevel        string

	done      chan struct{}
	closeOnce sync.Once
}

// New creates an engine.
func New(cfg Config) *Engine {
	if cfg.Tools == nil {
		catalog := tools.NewCatalog()
		cfg.Tools = catalog.Bind(nil)
	}
	return &Engine{
		cfg:      cfg,
		log:      logger.Global().WithPrefix("mcp"),
		logLevel: "info",
		done:     make(chan struct{}),
	}
}

// Done is closed after Close.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Close shuts the engine down. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
		e.log.Debug("Engine for session %s closed", e.cfg.SessionID)
	})
	return nil
}

func (e *Engine) closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Handle processes a single JSON-RPC message or a batch. It returns nil
// when nothing needs to be sent back (notifications and client responses).
func (e *Engine) Handle(ctx context.Context, msg []byte) ([]byte, error) {
	if e.closed() {
		return nil, ErrClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return e.handleBatch(ctx, trimmed)
	}

	resp := e.handleMessage(ctx, trimmed, false)
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}

func (e *Engine) handleBatch(ctx context.Context, raw []byte) ([]byte, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return json.Marshal(errorResponse(nullID, CodeParseError, "Parse error"))
	}
	if len(items) == 0 {
		return json.Marshal(errorResponse(nullID, CodeInvalidRequest, "Invalid Request: empty batch"))
	}

	var responses []*response
	for _, item := range items {
		if resp := e.handleMessage(ctx, item, true); resp != nil {
			responses = append(responses, resp)
		}
	}
	if len(responses) == 0 {
		return nil, nil
	}
	return json.Marshal(responses)
}

func (e *Engine) handleMessage(ctx context.Context, raw []byte, inBatch bool) *response {
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return errorResponse(nullID, CodeParseError, "Parse error")
	}
	if m.isResponse() {
		return nil
	}
	if m.JSONRPC != jsonrpcVersion || m.Method == "" {
		if m.isNotification() {
			return errorResponse(nullID, CodeInvalidRequest, "Invalid Request")
		}
		return errorResponse(m.ID, CodeInvalidRequest, "Invalid Request")
	}

	if m.isNotification() {
		e.handleNotification(&m)
		return nil
	}

	if inBatch && m.Method == methodInitialize {
		return errorResponse(m.ID, CodeInvalidRequest, "Invalid Request: initialize must not be batched")
	}

	result, rpcErr := e.dispatch(ctx, &m)
	if rpcErr != nil {
		return &response{JSONRPC: jsonrpcVersion, ID: m.ID, Error: rpcErr}
	}
	return &response{JSONRPC: jsonrpcVersion, ID: m.ID, Result: result}
}

func errorResponse(id json.RawMessage, code int, msg string) *response {
	return &response{JSONRPC: jsonrpcVersion, ID: id, Error: &Error{Code: code, Message: msg}}
}

func (e *Engine) handleNotification(m *message) {
	switch m.Method {
	case notificationInitialized:
		e.log.Debug("Session %s: client ready", e.cfg.SessionID)
	case notificationCancelled:
		var p cancelledParams
		_ = json.Unmarshal(m.Params, &p)
		e.log.Debug("Session %s: client cancelled request %s: %s", e.cfg.SessionID, p.RequestID, p.Reason)
	default:
		e.log.Debug("Session %s: ignoring notification %s", e.cfg.SessionID, m.Method)
	}
}

func (e *Engine) dispatch(ctx context.Context, m *message) (any, *Error) {
	switch m.Method {
	case methodInitialize:
		return e.initialize(m.Params)
	case methodPing:
		return struct{}{}, nil
	}

	if !e.initialized {
		return nil, &Error{Code: CodeInvalidRequest, Message: "Bad Request: Server not initialized"}
	}

	switch m.Method {
	case methodToolsList:
		return e.toolsList(), nil
	case methodToolsCall:
		return e.toolsCall(ctx, m.Params)
	case methodResourcesList:
		return resourcesListResult{Resources: e.cfg.Tools.ListResources()}, nil
	case methodResourcesRead:
		return e.resourcesRead(ctx, m.Params)
	case methodSetLevel:
		return e.setLevel(m.Params)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "Method not found"}
	}
}

func (e *Engine) initialize(raw json.RawMessage) (any, *Error) {
	if e.initialized {
		return nil, &Error{Code: CodeInvalidRequest, Message: "Invalid Request: Server already initialized"}
	}

	var params initializeParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: " + err.Error()}
		}
	}

	version := LatestProtocolVersion
	if slices.Contains(SupportedProtocolVersions, params.ProtocolVersion) {
		version = params.ProtocolVersion
	}

	e.initialized = true
	e.protocolVersion = version
	e.log.Info("Session %s initialized by %s %s (protocol %s, client id %s)",
		e.cfg.SessionID, params.ClientInfo.Name, params.ClientInfo.Version, version, e.cfg.Identity.ClientID)

	return initializeResult{
		ProtocolVersion: version,
		Capabilities: serverCapabilities{
			Tools:     &listCapability{},
			Resources: &listCapability{},
			Logging:   &struct{}{},
		},
		ServerInfo:   e.cfg.Info,
		Instructions: e.cfg.Instructions,
	}, nil
}

func (e *Engine) toolsList() toolsListResult {
	specs := e.cfg.Tools.ListSpecs()
	result := toolsListResult{Tools: make([]toolDescription, 0, len(specs))}
	for _, spec := range specs {
		result.Tools = append(result.Tools, toolDescription{
			Name:        spec.Name(),
			Description: spec.Description(),
			InputSchema: spec.Parameters(),
		})
	}
	return result
}

func (e *Engine) toolsCall(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: " + err.Error()}
	}
	if params.Name == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: missing tool name"}
	}

	if params.Meta != nil && len(params.Meta.ProgressToken) > 0 {
		token := params.Meta.ProgressToken
		ctx = tools.WithProgress(ctx, func(progress, total float64, message string) {
			e.notify(notificationProgress, progressParams{
				ProgressToken: token,
				Progress:      progress,
				Total:         total,
				Message:       message,
			})
		})
	}

	result, err := e.cfg.Tools.Execute(ctx, &tools.ToolCall{Name: params.Name, Parameters: params.Arguments})
	if err != nil {
		var verr *tools.ValidationError
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			return nil, &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("Tool %s not found", params.Name)}
		case errors.As(err, &verr):
			return nil, &Error{Code: CodeInvalidParams, Message: verr.Error()}
		default:
			return nil, &Error{Code: CodeInternalError, Message: err.Error()}
		}
	}

	if result.Error != "" {
		e.log.Warn("Session %s: tool %s failed: %s", e.cfg.SessionID, params.Name, result.Error)
		e.logToClient("error", map[string]string{"tool": params.Name, "error": result.Error})
		return toolsCallResult{
			Content: []contentBlock{{Type: "text", Text: "Error: " + result.Error}},
			IsError: true,
		}, nil
	}

	return toolsCallResult{Content: []contentBlock{{Type: "text", Text: fmt.Sprint(result.Result)}}}, nil
}

func (e *Engine) resourcesRead(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var params resourcesReadParams
	if err := json.Unmarshal(raw, &params); err != nil || params.URI == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: uri is required"}
	}

	content, err := e.cfg.Tools.ReadResource(ctx, params.URI)
	if err != nil {
		if errors.Is(err, tools.ErrResourceNotFound) {
			return nil, &Error{Code: CodeResourceMissing, Message: "Resource not found", Data: map[string]string{"uri": params.URI}}
		}
		return nil, &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return resourcesReadResult{Contents: []*tools.ResourceContent{content}}, nil
}

func (e *Engine) setLevel(raw json.RawMessage) (any, *Error) {
	var params setLevelParams
	if err := json.Unmarshal(raw, &params); err != nil || !slices.Contains(logLevels, params.Level) {
		return nil, &Error{Code: CodeInvalidParams, Message: "Invalid params: unknown log level"}
	}
	e.logLevel = params.Level
	return struct{}{}, nil
}

// logToClient sends a notifications/message when level passes the level
// set by the client.
func (e *Engine) logToClient(level string, data any) {
	if slices.Index(logLevels, level) < slices.Index(logLevels, e.logLevel) {
		return
	}
	e.notify(notificationMessage, logMessageParams{Level: level, Logger: "postpulse", Data: data})
}

// notify pushes a notification on the session stream, best effort.
func (e *Engine) notify(method string, params any) bool {
	if e.cfg.Notifier == nil || e.closed() {
		return false
	}
	data, err := json.Marshal(notification{JSONRPC: jsonrpcVersion, Method: method, Params: params})
	if err != nil {
		e.log.Warn("Session %s: encode %s: %v", e.cfg.SessionID, method, err)
		return false
	}
	return e.cfg.Notifier.Notify(data)
}
