// Package mcp serves the tool registry over line-delimited JSON-RPC 2.0.
//
// DESIGN: One JSON object per line in each direction. Requests carrying an
// id get exactly one response line with the same id, holding either result
// or error. Requests without an id are notifications and never get a line
// back, even when they fail. Nothing a peer sends can stop the read loop:
// bad JSON, unknown methods and handler panics all become error responses.
//
// Tool calls are gated on initialize. The gate is checked when the request
// is read, so a call that arrives before initialize is rejected even though
// the call itself runs concurrently with later lines.
package mcp

import (
	"encoding/json"
	"fmt"
)

const (
	JSONRPCVersion  = "2.0"
	ProtocolVersion = "2024-11-05"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotInitialized = -32002
)

// Method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// Request is an inbound JSON-RPC message. ID is kept raw so that string,
// number and null ids round-trip unchanged; a nil ID means notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is an outbound JSON-RPC message. Exactly one of Result and Error
// is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ProtocolError  `json:"error,omitempty"`
}

// ProtocolError is a JSON-RPC error object. It is reported to the peer and
// never changes dispatcher state.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// ErrNotInitialized is returned for tool calls before initialize.
var ErrNotInitialized = &ProtocolError{Code: CodeNotInitialized, Message: "Server not initialized"}

func errParse() *ProtocolError {
	return &ProtocolError{Code: CodeParseError, Message: "Parse error"}
}

func errInvalidRequest(detail string) *ProtocolError {
	return &ProtocolError{Code: CodeInvalidRequest, Message: "Invalid Request", Data: detail}
}

func errMethodNotFound() *ProtocolError {
	return &ProtocolError{Code: CodeMethodNotFound, Message: "Method not found"}
}

func errInvalidParams(detail string) *ProtocolError {
	return &ProtocolError{Code: CodeInvalidParams, Message: "Invalid params", Data: detail}
}

func errInternal(detail string) *ProtocolError {
	return &ProtocolError{Code: CodeInternalError, Message: "Internal error", Data: detail}
}

// ServerInfo identifies this server in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Capabilities advertises what the server can do.
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// ToolsCapability lists the callable tools.
type ToolsCapability struct {
	CanExecute bool     `json:"canExecute"`
	ToolNames  []string `json:"toolNames"`
}

// CallParams are the params of tools/call.
type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Content is one item of a call result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the result of tools/call: the tool status plus MCP-style
// content for clients that only read that.
type CallResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Content []Content       `json:"content"`
	IsError bool            `json:"isError"`
}
