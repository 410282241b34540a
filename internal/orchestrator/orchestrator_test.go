package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/agent-runtime/internal/adapters"
	"github.com/compresr/agent-runtime/internal/memory"
	"github.com/compresr/agent-runtime/internal/monitoring"
	"github.com/compresr/agent-runtime/internal/orchestrator"
	"github.com/compresr/agent-runtime/internal/store"
	"github.com/compresr/agent-runtime/internal/tools"
)

// =============================================================================
// FAKES
// =============================================================================

type scriptFunc func(n int, req *adapters.Request, deltas chan<- string) (*adapters.NormalizedResponse, error)

type scriptedAdapter struct {
	name     string
	script   scriptFunc
	mu       sync.Mutex
	requests []adapters.Request
}

func newScripted(script scriptFunc) *scriptedAdapter {
	return &scriptedAdapter{name: "openai", script: script}
}

func (a *scriptedAdapter) Name() string                { return a.name }
func (a *scriptedAdapter) Provider() adapters.Provider { return adapters.ProviderOpenAI }

func (a *scriptedAdapter) Send(_ context.Context, req *adapters.Request, deltas chan<- string) (*adapters.NormalizedResponse, error) {
	if deltas != nil {
		defer close(deltas)
	}
	a.mu.Lock()
	n := len(a.requests)
	a.requests = append(a.requests, *req)
	a.mu.Unlock()
	return a.script(n, req, deltas)
}

func (a *scriptedAdapter) Requests() []adapters.Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]adapters.Request(nil), a.requests...)
}

func text(id, content string, total int) *adapters.NormalizedResponse {
	return &adapters.NormalizedResponse{
		ID:           id,
		Model:        "gpt-test",
		FinishReason: adapters.FinishStop,
		Content:      content,
		Usage:        adapters.TokenUsage{Input: total / 2, Output: total - total/2, Total: total},
	}
}

func toolCalls(id string, calls ...adapters.ToolCallRequest) *adapters.NormalizedResponse {
	return &adapters.NormalizedResponse{ID: id, FinishReason: adapters.FinishToolCalls, ToolCalls: calls}
}

func call(name, args string) adapters.ToolCallRequest {
	return adapters.ToolCallRequest{Name: name, Arguments: json.RawMessage(args)}
}

type fakeTools struct {
	delays    map[string]time.Duration
	mu        sync.Mutex
	completed []string
}

func (f *fakeTools) ListTools() []tools.Descriptor {
	return []tools.Descriptor{
		{Name: "read_file", Description: "read", InputSchema: json.RawMessage(`{"type":"object"}`)},
		{Name: "search_files", Description: "search", InputSchema: json.RawMessage(`{"type":"object"}`)},
	}
}

func (f *fakeTools) CallTool(ctx context.Context, name string, _ json.RawMessage) (*tools.Status, error) {
	select {
	case <-time.After(f.delays[name]):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	f.mu.Lock()
	f.completed = append(f.completed, name)
	f.mu.Unlock()
	return tools.OK(name+" done", nil), nil
}

func (f *fakeTools) Completed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...)
}

type countingObserver struct {
	mu      sync.Mutex
	turns   []*monitoring.TurnEvent
	retries int
	trims   int
}

func (o *countingObserver) RecordTurn(e *monitoring.TurnEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.turns = append(o.turns, e)
}

func (o *countingObserver) RecordRetry() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *countingObserver) RecordTrim() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trims++
}

func (o *countingObserver) counts() (retries, trims int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retries, o.trims
}

func (o *countingObserver) last() *monitoring.TurnEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.turns) == 0 {
		return nil
	}
	return o.turns[len(o.turns)-1]
}

var testSettings = store.Settings{PreferredProvider: "openai", PreferredModel: "gpt-test"}

func testConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.Retry.Delay = 0
	cfg.TurnTimeout = 5 * time.Second
	return cfg
}

func testDeps(a adapters.Adapter, caller orchestrator.ToolCaller) (orchestrator.Deps, *countingObserver) {
	reg := adapters.NewRegistry()
	reg.Register(a)
	obs := &countingObserver{}
	if caller == nil {
		caller = &fakeTools{}
	}
	return orchestrator.Deps{Adapters: reg, Tools: caller, Observer: obs}, obs
}

func startSession(t *testing.T, cfg orchestrator.Config, a adapters.Adapter, caller orchestrator.ToolCaller) (*orchestrator.Session, *countingObserver) {
	t.Helper()
	deps, obs := testDeps(a, caller)
	s := orchestrator.NewSession("alice", cfg, testSettings, deps)
	s.Start(context.Background())
	t.Cleanup(s.Close)
	return s, obs
}

func kinds(entries []memory.Entry) []memory.Kind {
	out := make([]memory.Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func drain(ch <-chan orchestrator.Event) []orchestrator.Event {
	var out []orchestrator.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

// =============================================================================
// SESSION
// =============================================================================

func TestSession_TextReply(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		return text("resp-1", "hi there", 12), nil
	})
	s, obs := startSession(t, testConfig(), a, nil)

	reply, err := s.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", reply.Text)
	assert.False(t, reply.Partial)
	assert.Equal(t, "resp-1", reply.ResponseID)
	assert.Equal(t, 12, reply.Usage.Total)
	assert.NotEmpty(t, reply.RequestID)

	assert.Equal(t, "[UserMessage]: hello\n[AssistantMessage]: hi there", s.Context().Transcript())
	assert.Equal(t, orchestrator.StateAwaitingUserInput, s.State())

	reqs := a.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "gpt-test", reqs[0].Model)
	assert.Equal(t, "[UserMessage]: hello", reqs[0].Content)
	assert.Empty(t, reqs[0].PreviousTurnID)
	require.Len(t, reqs[0].Tools, 2)
	assert.Equal(t, "read_file", reqs[0].Tools[0].Name)

	turn := obs.last()
	require.NotNil(t, turn)
	assert.Equal(t, monitoring.OutcomeSuccess, turn.Outcome)
	assert.Equal(t, 1, turn.Attempts)
}

func TestSession_ChainsPreviousResponseID(t *testing.T) {
	a := newScripted(func(n int, _ *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		if n == 0 {
			return text("resp-1", "first", 5), nil
		}
		return text("resp-2", "second", 5), nil
	})
	s, _ := startSession(t, testConfig(), a, nil)

	_, err := s.Submit(context.Background(), "one")
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "two")
	require.NoError(t, err)

	reqs := a.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "resp-1", reqs[1].PreviousTurnID)
	assert.Contains(t, reqs[1].Content, "[AssistantMessage]: first\n[UserMessage]: two")
}

func TestSession_ParallelToolCallsKeepExtractionOrder(t *testing.T) {
	a := newScripted(func(n int, _ *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		if n == 0 {
			return toolCalls("resp-1",
				call("read_file", `{"path":"main.go"}`),
				call("search_files", `{"pattern":"TODO"}`),
			), nil
		}
		return text("resp-2", "found it", 20), nil
	})
	caller := &fakeTools{delays: map[string]time.Duration{"read_file": 80 * time.Millisecond}}
	s, _ := startSession(t, testConfig(), a, caller)

	reply, err := s.Submit(context.Background(), "look around")
	require.NoError(t, err)
	assert.Equal(t, "found it", reply.Text)
	assert.Equal(t, 1, reply.ToolRounds)

	// search_files finished first, yet outputs follow the model's order.
	assert.Equal(t, []string{"search_files", "read_file"}, caller.Completed())

	entries := s.Context().Snapshot()
	assert.Equal(t, []memory.Kind{
		memory.UserMessage,
		memory.AssistantMessage,
		memory.ToolCall,
		memory.ToolCall,
		memory.ToolOutput,
		memory.ToolOutput,
		memory.AssistantMessage,
	}, kinds(entries))
	assert.Equal(t, "read_file succeeded: read_file done", entries[4].Text)
	assert.Equal(t, "search_files succeeded: search_files done", entries[5].Text)
	assert.Equal(t, `read_file {"path":"main.go"}`, entries[2].Text)

	reqs := a.Requests()
	require.Len(t, reqs, 2)
	second := reqs[1].Content
	assert.Less(t, strings.Index(second, "read_file succeeded"), strings.Index(second, "search_files succeeded"))
}

func TestSession_ToolFailureIsFedBack(t *testing.T) {
	a := newScripted(func(n int, _ *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		if n == 0 {
			return toolCalls("resp-1", call("delete_everything", `{}`)), nil
		}
		return text("resp-2", "sorry", 5), nil
	})
	caller := &failingTools{}
	s, _ := startSession(t, testConfig(), a, caller)

	_, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)

	reqs := a.Requests()
	require.Len(t, reqs, 2)
	assert.Contains(t, reqs[1].Content, "[ToolOutput]: delete_everything failed: tool not found")
}

type failingTools struct{ fakeTools }

func (f *failingTools) CallTool(context.Context, string, json.RawMessage) (*tools.Status, error) {
	return nil, errors.New("tool not found")
}

func TestSession_TokenCeilingTrimsOnceAndRetries(t *testing.T) {
	a := newScripted(func(n int, _ *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		switch n {
		case 0:
			return text("resp-1", "first answer", 10), nil
		case 1:
			return text("resp-2", "way too long", 5000), nil
		default:
			return text("resp-3", "fits", 20), nil
		}
	})
	cfg := testConfig()
	cfg.TokenCeiling = 1000
	s, obs := startSession(t, cfg, a, nil)

	_, err := s.Submit(context.Background(), "one")
	require.NoError(t, err)

	reply, err := s.Submit(context.Background(), "two")
	require.NoError(t, err)
	assert.Equal(t, "fits", reply.Text)

	retries, trims := obs.counts()
	assert.Equal(t, 1, retries)
	assert.Equal(t, 1, trims)

	reqs := a.Requests()
	require.Len(t, reqs, 3)
	assert.Contains(t, reqs[1].Content, "first answer")
	assert.NotContains(t, reqs[2].Content, "first answer")
	assert.Equal(t, "[UserMessage]: one\n[UserMessage]: two", reqs[2].Content)

	turn := obs.last()
	require.NotNil(t, turn)
	assert.Equal(t, 2, turn.Attempts)
	assert.Equal(t, 1, turn.Retries)
	assert.Equal(t, 1, turn.Trims)
	assert.NotContains(t, s.Context().Transcript(), "way too long")
}

func TestSession_RetryableErrorRetriesWithoutTrim(t *testing.T) {
	a := newScripted(func(n int, _ *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		if n == 0 {
			return nil, &adapters.UpstreamError{Provider: adapters.ProviderOpenAI, StatusCode: 503, Body: "busy"}
		}
		return text("resp-1", "ok", 5), nil
	})
	s, obs := startSession(t, testConfig(), a, nil)

	reply, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", reply.Text)

	retries, trims := obs.counts()
	assert.Equal(t, 1, retries)
	assert.Equal(t, 0, trims)
}

func TestSession_RetriesExhausted(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		return nil, &adapters.TransportError{Provider: adapters.ProviderOpenAI, Err: errors.New("connection reset")}
	})
	s, obs := startSession(t, testConfig(), a, nil)

	_, err := s.Submit(context.Background(), "hi")
	var te *adapters.TransportError
	require.ErrorAs(t, err, &te)
	assert.Len(t, a.Requests(), orchestrator.DefaultMaxRetries+1)

	retries, _ := obs.counts()
	assert.Equal(t, orchestrator.DefaultMaxRetries, retries)
	assert.Equal(t, monitoring.OutcomeFailed, obs.last().Outcome)
}

func TestSession_MalformedFunctionCallIsPartial(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		return &adapters.NormalizedResponse{
			ID:           "resp-1",
			FinishReason: adapters.FinishMalformedFunctionCall,
			Content:      "I tried to call a tool",
			ToolCalls:    []adapters.ToolCallRequest{call("read_file", `{"path":`)},
		}, nil
	})
	caller := &fakeTools{}
	s, obs := startSession(t, testConfig(), a, caller)

	reply, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)
	assert.True(t, reply.Partial)
	assert.Equal(t, "I tried to call a tool", reply.Text)
	assert.Empty(t, caller.Completed())
	assert.Len(t, a.Requests(), 1)

	retries, _ := obs.counts()
	assert.Equal(t, 0, retries)
	assert.Equal(t, monitoring.OutcomePartial, obs.last().Outcome)
}

func TestSession_AuthErrorFailsAndLoopSurvives(t *testing.T) {
	a := newScripted(func(n int, _ *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		if n == 0 {
			return nil, &adapters.AuthError{Provider: adapters.ProviderOpenAI, Message: "API key not configured"}
		}
		return text("resp-2", "recovered", 5), nil
	})
	s, obs := startSession(t, testConfig(), a, nil)

	_, err := s.Submit(context.Background(), "hi")
	var authErr *adapters.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Len(t, a.Requests(), 1)

	entries := s.Context().Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, memory.SystemNote, entries[0].Kind)
	assert.Equal(t, orchestrator.FailureNote, entries[0].Text)
	assert.Equal(t, orchestrator.StateAwaitingUserInput, s.State())
	assert.Equal(t, monitoring.OutcomeFailed, obs.last().Outcome)

	reply, err := s.Submit(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply.Text)
	assert.Contains(t, a.Requests()[1].Content, "[SystemNote]: "+orchestrator.FailureNote)
}

func TestSession_UnknownProviderFails(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		return text("resp-1", "unused", 1), nil
	})
	deps, _ := testDeps(a, nil)
	s := orchestrator.NewSession("alice", testConfig(), store.Settings{PreferredProvider: "gemini", PreferredModel: "x"}, deps)
	s.Start(context.Background())
	defer s.Close()

	_, err := s.Submit(context.Background(), "hi")
	require.ErrorIs(t, err, orchestrator.ErrNoAdapter)
	assert.Empty(t, a.Requests())
}

func TestSession_ToolRoundLimit(t *testing.T) {
	a := newScripted(func(n int, _ *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		if n == 0 {
			return text("resp-0", "hello", 5), nil
		}
		return toolCalls("resp", call("read_file", `{"path":"a"}`)), nil
	})
	cfg := testConfig()
	cfg.MaxToolRounds = 2
	s, _ := startSession(t, cfg, a, &fakeTools{})

	_, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), "loop forever")
	require.ErrorIs(t, err, orchestrator.ErrToolRoundsExceeded)
	assert.Len(t, a.Requests(), 4)

	// Every entry of the failed exchange is rolled back; the earlier one stays.
	entries := s.Context().Snapshot()
	assert.Equal(t, []memory.Kind{
		memory.UserMessage,
		memory.AssistantMessage,
		memory.SystemNote,
	}, kinds(entries))
	assert.Equal(t, "hi", entries[0].Text)
	assert.Equal(t, orchestrator.FailureNote, entries[2].Text)
}

func TestSession_TurnTimeoutReleasesCaller(t *testing.T) {
	release := make(chan struct{})
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		<-release // ignores ctx on purpose
		return text("resp-1", "late", 1), nil
	})
	cfg := testConfig()
	cfg.TurnTimeout = 50 * time.Millisecond
	s, _ := startSession(t, cfg, a, nil)
	t.Cleanup(func() { close(release) })

	start := time.Now()
	_, err := s.Submit(context.Background(), "hi")
	require.ErrorIs(t, err, orchestrator.ErrTurnTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSession_CallerCancellation(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		time.Sleep(200 * time.Millisecond)
		return text("resp-1", "late", 1), nil
	})
	s, _ := startSession(t, testConfig(), a, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Submit(ctx, "hi")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, orchestrator.ErrTurnTimeout)
}

func TestSession_StreamingEmitsDeltas(t *testing.T) {
	a := newScripted(func(_ int, req *adapters.Request, deltas chan<- string) (*adapters.NormalizedResponse, error) {
		if !assert.NotNil(t, deltas) {
			return nil, errors.New("no delta channel")
		}
		for _, d := range []string{"Hel", "lo"} {
			deltas <- d
		}
		return text("resp-1", "Hello", 3), nil
	})
	cfg := testConfig()
	cfg.Stream = true
	s, _ := startSession(t, cfg, a, nil)

	reply, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply.Text)
	assert.True(t, a.Requests()[0].Stream)

	var streamed strings.Builder
	var sawReply bool
	for _, e := range drain(s.Events()) {
		assert.Equal(t, s.ID, e.SessionID)
		switch e.Type {
		case orchestrator.EventDelta:
			streamed.WriteString(e.Text)
		case orchestrator.EventReply:
			sawReply = true
			assert.Equal(t, reply.RequestID, e.RequestID)
		}
	}
	assert.Equal(t, "Hello", streamed.String())
	assert.True(t, sawReply)
}

func TestSession_SubmitPreconditions(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		return text("resp-1", "ok", 1), nil
	})
	deps, _ := testDeps(a, nil)
	s := orchestrator.NewSession("alice", testConfig(), testSettings, deps)

	_, err := s.Submit(context.Background(), "hi")
	require.ErrorIs(t, err, orchestrator.ErrSessionNotStarted)
	assert.Equal(t, orchestrator.StateIdle, s.State())

	s.Start(context.Background())
	_, err = s.Submit(context.Background(), "   ")
	require.ErrorIs(t, err, orchestrator.ErrEmptyUserMessage)

	s.Close()
	s.Close()
	_, err = s.Submit(context.Background(), "hi")
	require.ErrorIs(t, err, orchestrator.ErrSessionClosed)
	assert.Equal(t, orchestrator.StateClosed, s.State())

	for range s.Events() {
	}
}

// =============================================================================
// RETRY POLICY
// =============================================================================

func TestRetryPolicy_Plan(t *testing.T) {
	entries := []memory.Entry{
		memory.NewEntry(memory.UserMessage, "a"),
		memory.NewEntry(memory.AssistantMessage, "b"),
		memory.NewEntry(memory.UserMessage, "c"),
	}
	onlyUser := entries[2:]
	partial := &adapters.NormalizedResponse{Content: "half", FinishReason: adapters.FinishMalformedFunctionCall}
	overflow := &adapters.ContextOverflowError{Provider: adapters.ProviderOpenAI, Message: "too long"}
	policy := orchestrator.RetryPolicy{MaxRetries: 2, Delay: 10 * time.Millisecond}

	tests := []struct {
		name       string
		entries    []memory.Entry
		attempt    int
		err        error
		want       orchestrator.Outcome
		wantLen    int
		wantDelay  time.Duration
		wantResult *adapters.NormalizedResponse
	}{
		{
			name:       "malformed call accepted as partial",
			entries:    entries,
			err:        &orchestrator.MalformedCallError{Provider: adapters.ProviderGemini, Response: partial},
			want:       orchestrator.OutcomePartial,
			wantLen:    3,
			wantResult: partial,
		},
		{
			name:    "auth never retried",
			entries: entries,
			err:     &adapters.AuthError{Provider: adapters.ProviderOpenAI, Message: "no key"},
			want:    orchestrator.OutcomeFail,
			wantLen: 3,
		},
		{
			name:    "unclassified error fails",
			entries: entries,
			err:     errors.New("boom"),
			want:    orchestrator.OutcomeFail,
			wantLen: 3,
		},
		{
			name:    "exhausted",
			entries: entries,
			attempt: 2,
			err:     overflow,
			want:    orchestrator.OutcomeFail,
			wantLen: 3,
		},
		{
			name:      "overflow drops oldest assistant turn",
			entries:   entries,
			err:       overflow,
			want:      orchestrator.OutcomeRetryTrimmed,
			wantLen:   2,
			wantDelay: 10 * time.Millisecond,
		},
		{
			name:      "overflow with nothing to drop retries as-is",
			entries:   onlyUser,
			err:       overflow,
			want:      orchestrator.OutcomeRetry,
			wantLen:   1,
			wantDelay: 10 * time.Millisecond,
		},
		{
			name:      "upstream error retries without trimming",
			entries:   entries,
			attempt:   1,
			err:       &adapters.UpstreamError{Provider: adapters.ProviderOpenAI, StatusCode: 502},
			want:      orchestrator.OutcomeRetry,
			wantLen:   3,
			wantDelay: 10 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := policy.Plan(tt.entries, tt.attempt, tt.err)
			assert.Equal(t, tt.want, d.Outcome)
			assert.Len(t, d.Entries, tt.wantLen)
			assert.Equal(t, tt.wantDelay, d.Delay)
			assert.Equal(t, tt.wantResult, d.Partial)
			assert.NotEmpty(t, d.Reason)
		})
	}

	// Plan never mutates its input.
	assert.Len(t, entries, 3)
	assert.Equal(t, memory.AssistantMessage, entries[1].Kind)
}

// =============================================================================
// MANAGER
// =============================================================================

func TestManager_PerCallerSettings(t *testing.T) {
	a := newScripted(func(_ int, req *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		return text("resp", "model="+req.Model, 1), nil
	})
	deps, _ := testDeps(a, nil)
	settings := store.NewMemoryStore(testSettings, 0)
	defer settings.Close()

	m := orchestrator.NewManager(testConfig(), settings, deps, 0)
	defer m.Close()

	m.SetPreferredModel("alice", "gpt-big")

	reply, err := m.Submit(context.Background(), "alice", "hi")
	require.NoError(t, err)
	assert.Equal(t, "model=gpt-big", reply.Text)

	reply, err = m.Submit(context.Background(), "bob", "hi")
	require.NoError(t, err)
	assert.Equal(t, "model=gpt-test", reply.Text)
	assert.Equal(t, 2, m.Len())

	// A live session picks up changes on its next exchange.
	m.SetPreferredModel("bob", "gpt-small")
	reply, err = m.Submit(context.Background(), "bob", "again")
	require.NoError(t, err)
	assert.Equal(t, "model=gpt-small", reply.Text)

	_, err = m.SetPreferredProvider("alice", "nope")
	require.ErrorIs(t, err, orchestrator.ErrNoAdapter)
	assert.Equal(t, "openai", m.Settings("alice").PreferredProvider)

	m.End("alice")
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, "gpt-big", m.Settings("alice").PreferredModel)
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	a := newScripted(func(_ int, req *adapters.Request, _ chan<- string) (*adapters.NormalizedResponse, error) {
		return text("resp", "ack", 1), nil
	})
	deps, _ := testDeps(a, nil)
	settings := store.NewMemoryStore(testSettings, 0)
	defer settings.Close()
	m := orchestrator.NewManager(testConfig(), settings, deps, 0)
	defer m.Close()

	var wg sync.WaitGroup
	for _, caller := range []string{"alice", "bob", "carol"} {
		wg.Add(1)
		go func(caller string) {
			defer wg.Done()
			_, err := m.Submit(context.Background(), caller, "I am "+caller)
			assert.NoError(t, err)
		}(caller)
	}
	wg.Wait()

	s, err := m.Session("bob")
	require.NoError(t, err)
	assert.Equal(t, "[UserMessage]: I am bob\n[AssistantMessage]: ack", s.Context().Transcript())
}

func TestManager_EvictsIdleSessions(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		return text("resp", "ack", 1), nil
	})
	deps, _ := testDeps(a, nil)
	settings := store.NewMemoryStore(testSettings, 0)
	defer settings.Close()
	m := orchestrator.NewManager(testConfig(), settings, deps, 30*time.Millisecond)
	defer m.Close()

	_, err := m.Submit(context.Background(), "alice", "hi")
	require.NoError(t, err)
	require.Equal(t, 1, m.Len())

	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestManager_ClosedRejectsCallers(t *testing.T) {
	a := newScripted(func(int, *adapters.Request, chan<- string) (*adapters.NormalizedResponse, error) {
		return text("resp", "ack", 1), nil
	})
	deps, _ := testDeps(a, nil)
	m := orchestrator.NewManager(testConfig(), store.NewMemoryStore(testSettings, 0), deps, 0)
	m.Close()
	m.Close()

	_, err := m.Submit(context.Background(), "alice", "hi")
	require.ErrorIs(t, err, orchestrator.ErrSessionClosed)
}
