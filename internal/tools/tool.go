// Package tools holds the callable tool set and executes tool calls.
//
// DESIGN: A Tool is an opaque capability: name, description, JSON-Schema and
// an Invoke function. The Registry maps names to tools (last registration
// wins). The Invoker runs calls on a bounded worker pool and hands back a
// Future immediately after submission.
//
// Argument handling happens before the tool body runs:
//  1. Arguments are checked against the tool's input schema
//  2. Typed tools additionally decode into their Go struct (unknown fields
//     rejected) and run validator tags
//  3. Any failure becomes Status{Success:false, Message:"invalid arguments: ..."}
//
// Nothing a tool does (error, panic, bad arguments) escapes the invoker as
// anything other than a failed Status.
package tools

import (
	"context"
	"encoding/json"
)

// Tool is a callable capability.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Invoke(ctx context.Context, args json.RawMessage) (*Status, error)
}

// Status is the structured result of one tool call.
type Status struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OK builds a successful status with an optional JSON payload.
func OK(message string, payload any) *Status {
	st := &Status{Success: true, Message: message}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			st.Payload = raw
		}
	}
	return st
}

// Failed builds a failed status.
func Failed(message string) *Status {
	return &Status{Success: false, Message: message}
}

// Descriptor is the wire form of a tool, as listed by tools/list.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Describe returns the descriptor of t.
func Describe(t Tool) Descriptor {
	schema := t.InputSchema()
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
	}
	return Descriptor{Name: t.Name(), Description: t.Description(), InputSchema: schema}
}
