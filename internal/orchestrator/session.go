package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-runtime/internal/adapters"
	"github.com/compresr/agent-runtime/internal/memory"
	"github.com/compresr/agent-runtime/internal/monitoring"
	"github.com/compresr/agent-runtime/internal/store"
	"github.com/compresr/agent-runtime/internal/tools"
)

// Deps are the shared collaborators of every session.
type Deps struct {
	Adapters AdapterSource
	Tools    ToolCaller
	Observer Observer
}

// Session is one conversation driven by its own loop goroutine.
type Session struct {
	ID       string
	CallerID string

	cfg      Config
	deps     Deps
	memory   *memory.Context
	inbox    chan *exchange
	events   chan Event
	done     chan struct{}
	closeOne sync.Once

	mu             sync.RWMutex
	settings       store.Settings
	state          State
	lastResponseID string
	lastActive     time.Time
	started        bool
	closed         bool
	loopCtx        context.Context
	cancel         context.CancelFunc
}

type exchange struct {
	ctx       context.Context
	text      string
	requestID string
	result    chan exchangeResult
}

type exchangeResult struct {
	reply *Reply
	err   error
}

// turnStats accumulates what one exchange did, for the TurnEvent.
type turnStats struct {
	requestID  string
	start      time.Time
	provider   string
	model      string
	attempts   int
	retries    int
	trims      int
	toolRounds int
	toolCalls  int
	usage      adapters.TokenUsage
}

// NewSession creates a session. Call Start before Submit.
func NewSession(callerID string, cfg Config, settings store.Settings, deps Deps) *Session {
	cfg = cfg.withDefaults()
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	return &Session{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		cfg:        cfg,
		deps:       deps,
		memory:     memory.NewContext(cfg.Context),
		inbox:      make(chan *exchange),
		events:     make(chan Event, cfg.EventBuffer),
		done:       make(chan struct{}),
		settings:   settings,
		state:      StateIdle,
		lastActive: time.Now(),
	}
}

// Start runs the loop until ctx ends or Close is called.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.loopCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.setState(StateAwaitingUserInput)
	go s.loop()
	log.Debug().Str("session_id", s.ID).Str("caller", s.CallerID).Msg("session started")
}

// Close stops the loop, releases waiting callers and closes Events.
func (s *Session) Close() {
	s.closeOne.Do(func() {
		s.mu.Lock()
		s.closed = true
		started, cancel := s.started, s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if started {
			<-s.done
		}
		s.setState(StateClosed)
		close(s.events)
		log.Debug().Str("session_id", s.ID).Msg("session closed")
	})
}

// Events streams state changes, deltas, tool activity and errors. Events
// are dropped when the buffer is full. The channel is closed by Close.
func (s *Session) Events() <-chan Event { return s.events }

// Context returns the conversation log.
func (s *Session) Context() *memory.Context { return s.memory }

// State returns the current loop state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Settings returns the provider and model the next exchange will use.
func (s *Session) Settings() store.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// SetSettings replaces the provider/model selection for later exchanges.
func (s *Session) SetSettings(st store.Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
}

// LastActive returns when the session last accepted a message.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Submit hands a user message to the loop and waits for that exchange's
// reply. The wait is bounded by the turn timeout even if the loop is stuck.
func (s *Session) Submit(ctx context.Context, text string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyUserMessage
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if !s.started {
		s.mu.Unlock()
		return nil, ErrSessionNotStarted
	}
	s.lastActive = time.Now()
	s.mu.Unlock()

	ex := &exchange{
		ctx:       ctx,
		text:      text,
		requestID: uuid.NewString(),
		result:    make(chan exchangeResult, 1),
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	select {
	case s.inbox <- ex:
	case <-waitCtx.Done():
		return nil, s.waitErr(ctx)
	case <-s.done:
		return nil, ErrSessionClosed
	}

	select {
	case r := <-ex.result:
		return r.reply, r.err
	case <-waitCtx.Done():
		return nil, s.waitErr(ctx)
	case <-s.done:
		return nil, ErrSessionClosed
	}
}

func (s *Session) waitErr(caller context.Context) error {
	if err := caller.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w after %s", ErrTurnTimeout, s.cfg.TurnTimeout)
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.loopCtx.Done():
			return
		case ex := <-s.inbox:
			reply, err := s.runExchange(ex)
			s.mu.Lock()
			s.lastActive = time.Now()
			s.mu.Unlock()
			ex.result <- exchangeResult{reply: reply, err: err}
		}
	}
}

// =============================================================================
// EXCHANGE
// =============================================================================

func (s *Session) runExchange(ex *exchange) (*Reply, error) {
	ctx, cancel := context.WithTimeout(ex.ctx, s.cfg.TurnTimeout)
	defer cancel()
	stop := context.AfterFunc(s.loopCtx, cancel)
	defer stop()
	ctx = monitoring.WithRequestIDContext(ctx, ex.requestID)
	ctx = monitoring.WithSessionIDContext(ctx, s.ID)

	settings := s.Settings()
	ts := &turnStats{
		requestID: ex.requestID,
		start:     time.Now(),
		provider:  settings.PreferredProvider,
		model:     settings.PreferredModel,
	}

	s.memory.Append(memory.NewEntry(memory.UserMessage, ex.text))

	adapter, ok := s.deps.Adapters.Get(settings.PreferredProvider)
	if !ok {
		return s.fail(ex, ts, fmt.Errorf("%w %q", ErrNoAdapter, settings.PreferredProvider))
	}

	for {
		s.setState(StateRequesting)
		resp, partial, err := s.request(ctx, adapter, settings, ts)
		if err != nil {
			return s.fail(ex, ts, err)
		}
		s.record(resp, !partial)

		if partial || !resp.HasToolCalls() {
			return s.succeed(ex, ts, resp, partial), nil
		}
		if ts.toolRounds >= s.cfg.MaxToolRounds {
			return s.fail(ex, ts, fmt.Errorf("%w (%d)", ErrToolRoundsExceeded, s.cfg.MaxToolRounds))
		}

		s.setState(StateExecuting)
		s.execute(ctx, resp.ToolCalls, ts)
		if err := ctx.Err(); err != nil {
			return s.fail(ex, ts, err)
		}
	}
}

// request sends one prompt, applying the retry policy. partial is true when
// the returned response was accepted from a malformed function call.
func (s *Session) request(ctx context.Context, adapter adapters.Adapter, settings store.Settings, ts *turnStats) (*adapters.NormalizedResponse, bool, error) {
	for attempt := 0; ; attempt++ {
		ts.attempts++
		entries := s.memory.Snapshot()
		req := s.buildRequest(entries, settings)

		resp, err := s.send(ctx, adapter, req)
		if resp != nil {
			ts.addUsage(resp.Usage)
		}
		if err == nil {
			err = checkResponse(resp, adapter.Provider(), s.cfg.TokenCeiling)
		}
		if err == nil {
			return resp, false, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}

		d := s.cfg.Retry.Plan(entries, attempt, err)
		log.Debug().
			Str("session_id", s.ID).
			Str("request_id", ts.requestID).
			Int("attempt", attempt).
			Str("outcome", string(d.Outcome)).
			Str("reason", d.Reason).
			Err(err).
			Msg("provider attempt failed")

		switch d.Outcome {
		case OutcomePartial:
			return d.Partial, true, nil
		case OutcomeFail:
			return nil, false, err
		case OutcomeRetryTrimmed:
			s.memory.Replace(d.Entries)
			ts.trims++
			s.deps.Observer.RecordTrim()
		}
		ts.retries++
		s.deps.Observer.RecordRetry()

		if err := sleepCtx(ctx, d.Delay); err != nil {
			return nil, false, err
		}
	}
}

func (s *Session) buildRequest(entries []memory.Entry, settings store.Settings) *adapters.Request {
	s.mu.RLock()
	prev := s.lastResponseID
	s.mu.RUnlock()

	req := &adapters.Request{
		Content:        memory.Render(entries),
		PreviousTurnID: prev,
		Model:          settings.PreferredModel,
		Kind:           s.cfg.Kind,
		Instructions:   s.cfg.Instructions,
		Stream:         s.cfg.Stream,
	}
	if s.cfg.NativeTools && s.deps.Tools != nil {
		for _, d := range s.deps.Tools.ListTools() {
			req.Tools = append(req.Tools, adapters.ToolDefinition{
				Name:        d.Name,
				Description: d.Description,
				InputSchema: d.InputSchema,
			})
		}
	}
	return req
}

// send calls the adapter, folding streamed deltas into an accumulator and
// forwarding each one as an event.
func (s *Session) send(ctx context.Context, adapter adapters.Adapter, req *adapters.Request) (*adapters.NormalizedResponse, error) {
	if !s.cfg.Stream {
		return adapter.Send(ctx, req, nil)
	}

	deltas := make(chan string, 64)
	folded := make(chan string, 1)
	go func() {
		var acc strings.Builder
		for d := range deltas {
			acc.WriteString(d)
			s.emit(Event{Type: EventDelta, RequestID: monitoring.RequestIDFromContext(ctx), Text: d})
		}
		folded <- acc.String()
	}()

	resp, err := adapter.Send(ctx, req, deltas)
	text := <-folded
	if err != nil && text != "" {
		log.Debug().Int("chars", len(text)).Msg("discarding partial stream after error")
	}
	return resp, err
}

// record appends the assistant turn. A tool-only response still gets an
// AssistantMessage so trimming can remove the turn as a unit. Calls of a
// partial response are not recorded since they never run.
func (s *Session) record(resp *adapters.NormalizedResponse, withCalls bool) {
	if !withCalls {
		resp = &adapters.NormalizedResponse{ID: resp.ID, Content: resp.Content}
	}
	text := resp.Content
	if text == "" && resp.HasToolCalls() {
		names := make([]string, len(resp.ToolCalls))
		for i, c := range resp.ToolCalls {
			names[i] = c.Name
		}
		text = "(calling tools: " + strings.Join(names, ", ") + ")"
	}

	entries := make([]memory.Entry, 0, 1+len(resp.ToolCalls))
	if text != "" {
		entries = append(entries, memory.NewEntry(memory.AssistantMessage, text))
	}
	for _, c := range resp.ToolCalls {
		entries = append(entries, memory.NewEntry(memory.ToolCall, c.Name+" "+string(c.Arguments)))
	}
	s.memory.AppendAll(entries...)

	s.mu.Lock()
	if resp.ID != "" {
		s.lastResponseID = resp.ID
	}
	s.mu.Unlock()
}

// execute runs every call of one model turn in parallel and appends the
// outputs in extraction order once all have finished.
func (s *Session) execute(ctx context.Context, calls []adapters.ToolCallRequest, ts *turnStats) {
	requestID := monitoring.RequestIDFromContext(ctx)
	outputs := make([]memory.Entry, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		s.emit(Event{Type: EventToolCall, RequestID: requestID, Tool: call.Name, Text: string(call.Arguments)})
		wg.Add(1)
		go func(i int, call adapters.ToolCallRequest) {
			defer wg.Done()
			st, err := s.deps.Tools.CallTool(ctx, call.Name, call.Arguments)
			if err != nil {
				st = tools.Failed(err.Error())
			}
			outputs[i] = memory.NewEntry(memory.ToolOutput, formatToolOutput(call.Name, st))
			s.emit(Event{Type: EventToolOutput, RequestID: requestID, Tool: call.Name, Success: st.Success, Text: st.Message})
		}(i, call)
	}
	wg.Wait()

	s.memory.AppendAll(outputs...)
	ts.toolRounds++
	ts.toolCalls += len(calls)
}

func formatToolOutput(name string, st *tools.Status) string {
	status := "succeeded"
	if !st.Success {
		status = "failed"
	}
	body := st.Message
	if body == "" && len(st.Payload) > 0 {
		body = string(st.Payload)
	}
	return fmt.Sprintf("%s %s: %s", name, status, body)
}

// =============================================================================
// OUTCOMES
// =============================================================================

func (s *Session) succeed(ex *exchange, ts *turnStats, resp *adapters.NormalizedResponse, partial bool) *Reply {
	reply := &Reply{
		RequestID:  ex.requestID,
		Text:       resp.Content,
		Partial:    partial,
		Provider:   ts.provider,
		Model:      resp.Model,
		ResponseID: resp.ID,
		Usage:      ts.usage,
		ToolRounds: ts.toolRounds,
	}
	if reply.Model == "" {
		reply.Model = ts.model
	}

	s.setState(StateAwaitingUserInput)
	s.emit(Event{Type: EventReply, RequestID: ex.requestID, Text: reply.Text})

	outcome := monitoring.OutcomeSuccess
	if partial {
		outcome = monitoring.OutcomePartial
	}
	s.finish(ts, outcome, nil)
	return reply
}

// fail appends the failure note in place of the last entry, releases the
// caller with err and keeps the loop alive.
func (s *Session) fail(ex *exchange, ts *turnStats, err error) (*Reply, error) {
	outcome := monitoring.OutcomeFailed
	if errors.Is(err, context.DeadlineExceeded) && ex.ctx.Err() == nil {
		err = fmt.Errorf("%w: %v", ErrTurnTimeout, err)
		outcome = monitoring.OutcomeTimeout
	}

	s.memory.Replace(rollback(s.memory.Snapshot()))

	s.setState(StateAwaitingUserInput)
	s.emit(Event{Type: EventError, RequestID: ex.requestID, Text: err.Error(), Err: err})
	s.finish(ts, outcome, err)
	return nil, err
}

// rollback removes the failed exchange, its user message and everything
// recorded after it, and appends the failure note. Earlier history, older
// notes included, is kept.
func rollback(entries []memory.Entry) []memory.Entry {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == memory.UserMessage {
			return append(entries[:i:i], memory.NewEntry(memory.SystemNote, FailureNote))
		}
	}
	if n := len(entries); n > 0 && entries[n-1].Kind != memory.SystemNote {
		entries = entries[:n-1]
	}
	return append(entries, memory.NewEntry(memory.SystemNote, FailureNote))
}

func (s *Session) finish(ts *turnStats, outcome monitoring.TurnOutcome, err error) {
	event := &monitoring.TurnEvent{
		RequestID:    ts.requestID,
		SessionID:    s.ID,
		Timestamp:    ts.start,
		Provider:     ts.provider,
		Model:        ts.model,
		Attempts:     ts.attempts,
		Retries:      ts.retries,
		Trims:        ts.trims,
		ToolRounds:   ts.toolRounds,
		ToolCalls:    ts.toolCalls,
		InputTokens:  ts.usage.Input,
		OutputTokens: ts.usage.Output,
		TotalTokens:  ts.usage.Total,
		LatencyMs:    time.Since(ts.start).Milliseconds(),
		Outcome:      outcome,
	}
	if err != nil {
		event.Error = err.Error()
	}
	s.deps.Observer.RecordTurn(event)

	log.Info().
		Str("session_id", s.ID).
		Str("request_id", ts.requestID).
		Str("provider", ts.provider).
		Str("outcome", string(outcome)).
		Int("attempts", ts.attempts).
		Int("tool_rounds", ts.toolRounds).
		Int64("latency_ms", event.LatencyMs).
		Msg("exchange finished")
}

func (ts *turnStats) addUsage(u adapters.TokenUsage) {
	ts.usage.Input += u.Input
	ts.usage.Output += u.Output
	ts.usage.Total += u.Total
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Session) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed {
		s.emit(Event{Type: EventState, State: st})
	}
}

func (s *Session) emit(e Event) {
	e.SessionID = s.ID
	e.At = time.Now()
	select {
	case s.events <- e:
	default:
		log.Debug().Str("session_id", s.ID).Str("type", string(e.Type)).Msg("event dropped")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
