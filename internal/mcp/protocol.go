package mcp

import (
	"bytes"
	"encoding/json"
)

// LatestProtocolVersion is answered to clients asking for a version this
// server does not know.
const LatestProtocolVersion = "2025-06-18"

// SupportedProtocolVersions lists the versions echoed back during
// initialize, newest first.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// JSON-RPC 2.0 standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Transport level codes used by the HTTP router.
const (
	CodeBadRequest      = -32000
	CodeSessionNotFound = -32001
	CodeResourceMissing = -32002
)

const jsonrpcVersion = "2.0"

// message is any inbound JSON-RPC 2.0 object: a request, a notification
// (no id), or a response from the client (result or error, no method).
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (m *message) isNotification() bool {
	return len(m.ID) == 0
}

func (m *message) isResponse() bool {
	return m.Method == "" && (len(m.Result) > 0 || len(m.Error) > 0)
}

// response is a JSON-RPC 2.0 response. Exactly one of Result or Error is set.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// notification is an outbound JSON-RPC 2.0 notification.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string { return e.Message }

var nullID = json.RawMessage("null")

// errorEnvelope is an error-only response with error ahead of id, the order
// MCP transports emit.
type errorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Error   *Error          `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// ErrorResponse renders a JSON-RPC error response with a null id.
func ErrorResponse(code int, msg string) []byte {
	data, _ := json.Marshal(errorEnvelope{
		JSONRPC: jsonrpcVersion,
		Error:   &Error{Code: code, Message: msg},
		ID:      nullID,
	})
	return data
}

// IsInitializeRequest reports whether body is a single JSON-RPC initialize
// request.
func IsInitializeRequest(body []byte) bool {
	var m message
	if err := json.Unmarshal(bytes.TrimSpace(body), &m); err != nil {
		return false
	}
	return m.JSONRPC == jsonrpcVersion && m.Method == methodInitialize && !m.isNotification()
}

// IsErrorResponse reports whether body is a JSON-RPC error response.
func IsErrorResponse(body []byte) bool {
	var m message
	if err := json.Unmarshal(bytes.TrimSpace(body), &m); err != nil {
		return false
	}
	return len(m.Error) > 0 && !bytes.Equal(m.Error, nullID)
}

// --- MCP protocol types ---

const (
	methodInitialize    = "initialize"
	methodPing          = "ping"
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"
	methodResourcesList = "resources/list"
	methodResourcesRead = "resources/read"
	methodSetLevel      = "logging/setLevel"

	notificationInitialized = "notifications/initialized"
	notificationCancelled   = "notifications/cancelled"
	notificationProgress    = "notifications/progress"
	notificationMessage     = "notifications/message"
)

type initializeParams struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ClientInfo      clientInfo `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    serverCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

type serverCapabilities struct {
	Tools     *listCapability `json:"tools,omitempty"`
	Resources *listCapability `json:"resources,omitempty"`
	Logging   *struct{}       `json:"logging,omitempty"`
}

type listCapability struct {
	ListChanged bool `json:"listChanged"`
}

// ServerInfo identifies the server in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []toolDescription `json:"tools"`
}

type toolDescription struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema any    `json:"inputSchema"`
}

// requestMeta is the _meta object of a request.
type requestMeta struct {
	ProgressToken json.RawMessage `json:"progressToken,omitempty"`
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Meta      *requestMeta           `json:"_meta,omitempty"`
}

type toolsCallResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type resourcesListResult struct {
	Resources any `json:"resources"`
}

type resourcesReadParams struct {
	URI string `json:"uri"`
}

type resourcesReadResult struct {
	Contents any `json:"contents"`
}

type setLevelParams struct {
	Level string `json:"level"`
}

type progressParams struct {
	ProgressToken json.RawMessage `json:"progressToken"`
	Progress      float64         `json:"progress"`
	Total         float64         `json:"total,omitempty"`
	Message       string          `json:"message,omitempty"`
}

type logMessageParams struct {
	Level  string `json:"level"`
	Logger string `json:"logger,omitempty"`
	Data   any    `json:"data"`
}

type cancelledParams struct {
	RequestID json.RawMessage `json:"requestId"`
	Reason    string          `json:"reason,omitempty"`
}
