package tools

import (
	"context"
	"encoding/json"
)

// FuncTool exposes a plain function with an explicit JSON-Schema.
// It has no mutable state after construction and is safe for concurrent use.
type FuncTool struct {
	name        string
	description string
	schema      json.RawMessage
	fn          func(ctx context.Context, args json.RawMessage) (*Status, error)
}

// NewFunc constructs a FuncTool. The invoker validates arguments against
// schema before fn runs.
func NewFunc(name, description string, schema json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (*Status, error)) *FuncTool {
	return &FuncTool{name: name, description: description, schema: schema, fn: fn}
}

func (t *FuncTool) Name() string                 { return t.name }
func (t *FuncTool) Description() string          { return t.description }
func (t *FuncTool) InputSchema() json.RawMessage { return t.schema }

// Invoke calls the wrapped function.
func (t *FuncTool) Invoke(ctx context.Context, args json.RawMessage) (*Status, error) {
	return t.fn(ctx, args)
}

var _ Tool = (*FuncTool)(nil)
