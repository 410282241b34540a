// Package orchestrator drives the agent loop: prompt the model, run the
// tools it asks for, feed the outputs back, and wait for the next user
// message.
//
// DESIGN: One Session owns one conversation Context and runs one loop
// goroutine, so turns inside a session are strictly sequential. Sessions
// share nothing but the adapter registry and the tool caller; the Manager
// hands them out per caller.
//
// FLOW (per user message):
//  1. AwaitingUserInput → UserMessage appended → Requesting
//  2. Requesting: transcript + instructions + tools → Adapter.Send, with the
//     retry policy (Plan) deciding between trim-and-retry, retry, partial
//     acceptance and failure
//  3. Tool calls in the response → Executing: all calls run in parallel,
//     outputs are appended in extraction order once every call finished,
//     then back to Requesting without consuming input
//  4. Text only → reply delivered → AwaitingUserInput
//
// A failed exchange appends a SystemNote, releases the waiting caller with
// the error and leaves the loop running.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/compresr/agent-runtime/internal/adapters"
	"github.com/compresr/agent-runtime/internal/memory"
	"github.com/compresr/agent-runtime/internal/monitoring"
	"github.com/compresr/agent-runtime/internal/tools"
)

// Defaults.
const (
	DefaultMaxRetries    = 2
	DefaultRetryDelay    = 500 * time.Millisecond
	DefaultMaxToolRounds = 8
	DefaultTurnTimeout   = 5 * time.Minute
	DefaultEventBuffer   = 256
)

// FailureNote is appended to the context when an exchange fails.
const FailureNote = "previous output exceeded limits / errored; last entry removed"

var (
	ErrSessionClosed      = errors.New("session closed")
	ErrTurnTimeout        = errors.New("turn timed out")
	ErrToolRoundsExceeded = errors.New("tool round limit exceeded")
	ErrNoAdapter          = errors.New("no adapter for provider")
	ErrSessionNotStarted  = errors.New("session not started")
	ErrEmptyUserMessage   = errors.New("user message is empty")
)

// =============================================================================
// STATES
// =============================================================================

// State is the loop state of a session.
type State string

const (
	StateIdle              State = "idle"
	StateRequesting        State = "requesting"
	StateExecuting         State = "executing"
	StateAwaitingUserInput State = "awaiting_user_input"
	StateClosed            State = "closed"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// ToolCaller lists and runs tools. *mcp.Dispatcher satisfies it.
type ToolCaller interface {
	ListTools() []tools.Descriptor
	CallTool(ctx context.Context, name string, args json.RawMessage) (*tools.Status, error)
}

// AdapterSource resolves a provider name to an adapter.
// *adapters.Registry satisfies it.
type AdapterSource interface {
	Get(name string) (adapters.Adapter, bool)
}

// Observer receives loop activity. *monitoring.Monitor satisfies it.
type Observer interface {
	RecordTurn(event *monitoring.TurnEvent)
	RecordRetry()
	RecordTrim()
}

type nopObserver struct{}

func (nopObserver) RecordTurn(*monitoring.TurnEvent) {}
func (nopObserver) RecordRetry()                     {}
func (nopObserver) RecordTrim()                      {}

// =============================================================================
// CONFIG
// =============================================================================

// Config governs every session a Manager creates.
type Config struct {
	Instructions  string
	Kind          adapters.RequestKind
	Stream        bool
	NativeTools   bool // offer tool definitions in the request body
	Retry         RetryPolicy
	MaxToolRounds int
	TurnTimeout   time.Duration
	TokenCeiling  int // total tokens per response; 0 disables
	Context       memory.Policy
	EventBuffer   int
}

func (c Config) withDefaults() Config {
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.Retry.Delay < 0 {
		c.Retry.Delay = 0
	}
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = DefaultTurnTimeout
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	return c
}

// DefaultConfig returns the built-in loop settings.
func DefaultConfig() Config {
	return Config{
		Kind:          adapters.KindDeprecated,
		NativeTools:   true,
		Retry:         RetryPolicy{MaxRetries: DefaultMaxRetries, Delay: DefaultRetryDelay},
		MaxToolRounds: DefaultMaxToolRounds,
		TurnTimeout:   DefaultTurnTimeout,
		Context:       memory.DefaultPolicy(),
		EventBuffer:   DefaultEventBuffer,
	}
}

// =============================================================================
// REPLIES AND EVENTS
// =============================================================================

// Reply is the outcome of one exchange.
type Reply struct {
	RequestID  string
	Text       string
	Partial    bool // accepted from a malformed function call
	Provider   string
	Model      string
	ResponseID string
	Usage      adapters.TokenUsage
	ToolRounds int
}

// EventType classifies session events.
type EventType string

const (
	EventState      EventType = "state"
	EventDelta      EventType = "delta"
	EventToolCall   EventType = "tool_call"
	EventToolOutput EventType = "tool_output"
	EventReply      EventType = "reply"
	EventError      EventType = "error"
)

// Event is one observable step of a session.
type Event struct {
	Type      EventType
	SessionID string
	RequestID string
	State     State
	Text      string
	Tool      string
	Success   bool
	Err       error
	At        time.Time
}
