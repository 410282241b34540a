package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-runtime/internal/tools"
)

// HandlerFunc handles one method. A non-nil *ProtocolError becomes the
// error response; otherwise result is sent.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, *ProtocolError)

// Dispatcher routes JSON-RPC requests to handlers.
type Dispatcher struct {
	invoker *tools.Invoker
	info    ServerInfo

	initialized atomic.Bool

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewDispatcher creates a dispatcher serving the invoker's registry.
func NewDispatcher(invoker *tools.Invoker, info ServerInfo) *Dispatcher {
	d := &Dispatcher{
		invoker:  invoker,
		info:     info,
		handlers: make(map[string]HandlerFunc),
	}
	d.Handle(MethodInitialize, d.handleInitialize)
	d.Handle(MethodInitialized, func(context.Context, json.RawMessage) (any, *ProtocolError) { return nil, nil })
	d.Handle(MethodToolsList, d.handleToolsList)
	d.Handle(MethodToolsCall, d.handleToolsCall)
	d.Handle(MethodPing, func(context.Context, json.RawMessage) (any, *ProtocolError) { return struct{}{}, nil })
	return d
}

// Clone returns an uninitialized dispatcher sharing the invoker and
// handlers. Each connection gets its own clone.
func (d *Dispatcher) Clone() *Dispatcher {
	c := NewDispatcher(d.invoker, d.info)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for method, h := range d.handlers {
		switch method {
		case MethodInitialize, MethodToolsList, MethodToolsCall:
			// bound to the clone by NewDispatcher
		default:
			c.handlers[method] = h
		}
	}
	return c
}

// Handle registers or replaces a method handler.
func (d *Dispatcher) Handle(method string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[method] = h
}

// Initialized reports whether initialize has been received.
func (d *Dispatcher) Initialized() bool {
	return d.initialized.Load()
}

// Initialize marks the dispatcher initialized for in-process callers and
// returns the same result a remote initialize gets.
func (d *Dispatcher) Initialize() InitializeResult {
	d.initialized.Store(true)
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{Tools: ToolsCapability{
			CanExecute: true,
			ToolNames:  d.invoker.Registry().Names(),
		}},
		ServerInfo: d.info,
	}
}

// ListTools returns the descriptors of every registered tool.
func (d *Dispatcher) ListTools() []tools.Descriptor {
	list := d.invoker.Registry().List()
	out := make([]tools.Descriptor, len(list))
	for i, t := range list {
		out[i] = tools.Describe(t)
	}
	return out
}

// CallTool runs a tool in-process with the same gate and status semantics
// as tools/call.
func (d *Dispatcher) CallTool(ctx context.Context, name string, args json.RawMessage) (*tools.Status, error) {
	if !d.Initialized() {
		return nil, ErrNotInitialized
	}
	return d.invoker.Call(ctx, name, args)
}

// =============================================================================
// REQUEST HANDLING
// =============================================================================

// HandleLine processes one raw line. It returns the encoded response, or nil
// when nothing should be written.
func (d *Dispatcher) HandleLine(ctx context.Context, line []byte) []byte {
	req, perr := decodeRequest(line)
	if perr != nil {
		if req != nil && req.IsNotification() && perr.Code != CodeParseError {
			return nil
		}
		return encode(errorResponse(idOf(req), perr))
	}
	resp := d.HandleRequest(ctx, req)
	if resp == nil {
		return nil
	}
	return encode(resp)
}

// HandleRequest dispatches a decoded request. Notifications return nil.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("method", req.Method).Msg("jsonrpc handler panicked")
			resp = errorResponse(req.ID, errInternal(fmt.Sprint(r)))
			if req.IsNotification() {
				resp = nil
			}
		}
	}()

	d.mu.RLock()
	h, ok := d.handlers[req.Method]
	d.mu.RUnlock()

	var (
		result any
		perr   *ProtocolError
	)
	if ok {
		result, perr = h(ctx, req.Params)
	} else {
		perr = errMethodNotFound()
	}

	if req.IsNotification() {
		if perr != nil {
			log.Debug().Str("method", req.Method).Int("code", perr.Code).Msg("notification failed")
		}
		return nil
	}
	if perr != nil {
		return errorResponse(req.ID, perr)
	}
	if result == nil {
		result = struct{}{}
	}
	return &Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result}
}

func (d *Dispatcher) handleInitialize(_ context.Context, _ json.RawMessage) (any, *ProtocolError) {
	res := d.Initialize()
	log.Debug().Int("tools", len(res.Capabilities.Tools.ToolNames)).Msg("jsonrpc initialized")
	return res, nil
}

func (d *Dispatcher) handleToolsList(_ context.Context, _ json.RawMessage) (any, *ProtocolError) {
	return map[string]any{"tools": d.ListTools()}, nil
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage) (any, *ProtocolError) {
	if !d.Initialized() {
		return nil, ErrNotInitialized
	}
	var p CallParams
	if err := json.Unmarshal(orEmpty(params), &p); err != nil {
		return nil, errInvalidParams(err.Error())
	}
	if p.Name == "" {
		return nil, errInvalidParams("name is required")
	}

	st, err := d.invoker.Call(ctx, p.Name, p.Arguments)
	if err != nil {
		return nil, errInternal(err.Error())
	}
	return toCallResult(st), nil
}

func toCallResult(st *tools.Status) CallResult {
	return CallResult{
		Success: st.Success,
		Message: st.Message,
		Payload: st.Payload,
		Content: []Content{{Type: "text", Text: st.Message}},
		IsError: !st.Success,
	}
}

// =============================================================================
// ENCODING
// =============================================================================

// decodeRequest parses a line. On failure it returns the error and, when
// the line was a JSON object, the partially decoded request so its id can
// be echoed.
func decodeRequest(line []byte) (*Request, *ProtocolError) {
	line = bytes.TrimSpace(line)
	if !json.Valid(line) {
		return nil, errParse()
	}
	if line[0] != '{' {
		return nil, errInvalidRequest("request must be a JSON object")
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return nil, errInvalidRequest(err.Error())
	}
	if req.JSONRPC != JSONRPCVersion {
		return &req, errInvalidRequest(`jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return &req, errInvalidRequest("method is required")
	}
	return &req, nil
}

func idOf(req *Request) json.RawMessage {
	if req == nil {
		return nil
	}
	return req.ID
}

func errorResponse(id json.RawMessage, perr *ProtocolError) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: perr}
}

func encode(resp *Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode jsonrpc response")
		data, _ = json.Marshal(errorResponse(resp.ID, errInternal("response encoding failed")))
	}
	return data
}

func orEmpty(params json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(params)) == 0 || string(params) == "null" {
		return json.RawMessage("{}")
	}
	return params
}
