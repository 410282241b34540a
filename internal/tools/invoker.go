package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for the worker pool.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64
)

// Observer receives one record per completed call.
type Observer interface {
	RecordToolCall(name string, success bool, d time.Duration)
}

// InvokerConfig configures the worker pool.
type InvokerConfig struct {
	Workers     int
	QueueSize   int
	CallTimeout time.Duration // 0 disables the per-call timeout
	Observer    Observer
}

// Future is the pending result of one call.
type Future struct {
	Name   string
	done   chan struct{}
	status *Status
}

// Done is closed when the call completes.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the call completes or ctx ends.
func (f *Future) Wait(ctx context.Context) (*Status, error) {
	select {
	case <-f.done:
		return f.status, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) complete(st *Status) {
	f.status = st
	close(f.done)
}

type call struct {
	ctx    context.Context
	tool   Tool
	args   json.RawMessage
	future *Future
}

// Invoker executes tool calls on a bounded pool of goroutines.
type Invoker struct {
	registry *Registry
	cfg      InvokerConfig

	jobs     chan *call
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewInvoker creates an invoker over registry. Call Start before Invoke.
func NewInvoker(registry *Registry, cfg InvokerConfig) *Invoker {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Invoker{
		registry: registry,
		cfg:      cfg,
		jobs:     make(chan *call, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}
}

// Registry returns the tool registry.
func (inv *Invoker) Registry() *Registry { return inv.registry }

// Start starts the workers.
func (inv *Invoker) Start() {
	inv.mu.Lock()
	if inv.running {
		inv.mu.Unlock()
		return
	}
	inv.running = true
	inv.mu.Unlock()

	for i := 0; i < inv.cfg.Workers; i++ {
		inv.wg.Add(1)
		go inv.work(i)
	}
	log.Debug().Int("workers", inv.cfg.Workers).Msg("tool invoker started")
}

// Stop stops the workers. Queued calls that never ran complete with a
// failed status.
func (inv *Invoker) Stop() {
	inv.mu.Lock()
	if !inv.running {
		inv.mu.Unlock()
		return
	}
	inv.running = false
	close(inv.stopChan)
	inv.mu.Unlock()
	inv.wg.Wait()

	for {
		select {
		case c := <-inv.jobs:
			c.future.complete(Failed(ErrInvokerStopped.Error()))
		default:
			log.Debug().Msg("tool invoker stopped")
			return
		}
	}
}

// Invoke resolves name and submits the call. It fails fast with
// *ToolNotFoundError for unknown names; otherwise it returns a Future as
// soon as the call is queued.
func (inv *Invoker) Invoke(ctx context.Context, name string, args json.RawMessage) (*Future, error) {
	tool, ok := inv.registry.Get(name)
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}

	// Held across the send so Stop cannot drain the queue between the
	// running check and the enqueue.
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	if !inv.running {
		return nil, ErrInvokerStopped
	}

	c := &call{
		ctx:    ctx,
		tool:   tool,
		args:   args,
		future: &Future{Name: name, done: make(chan struct{})},
	}
	select {
	case inv.jobs <- c:
		return c.future, nil
	case <-inv.stopChan:
		return nil, ErrInvokerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Call invokes and waits. Unknown tools yield a failed status rather than an
// error, so callers reporting results have a single path.
func (inv *Invoker) Call(ctx context.Context, name string, args json.RawMessage) (*Status, error) {
	f, err := inv.Invoke(ctx, name, args)
	if err != nil {
		var nf *ToolNotFoundError
		if errors.As(err, &nf) {
			return Failed(nf.Error()), nil
		}
		return nil, err
	}
	return f.Wait(ctx)
}

func (inv *Invoker) work(id int) {
	defer inv.wg.Done()
	for {
		select {
		case <-inv.stopChan:
			return
		case c := <-inv.jobs:
			inv.run(id, c)
		}
	}
}

func (inv *Invoker) run(workerID int, c *call) {
	start := time.Now()
	st := inv.execute(c)
	elapsed := time.Since(start)

	if inv.cfg.Observer != nil {
		inv.cfg.Observer.RecordToolCall(c.tool.Name(), st.Success, elapsed)
	}
	log.Debug().
		Int("worker", workerID).
		Str("tool", c.tool.Name()).
		Bool("success", st.Success).
		Dur("duration", elapsed).
		Msg("tool call completed")

	c.future.complete(st)
}

// execute never panics and never returns nil.
func (inv *Invoker) execute(c *call) (st *Status) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("tool", c.tool.Name()).Msg("tool panicked")
			st = Failed(fmt.Sprintf("tool %s panicked: %v", c.tool.Name(), r))
		}
	}()

	if err := c.ctx.Err(); err != nil {
		return Failed(fmt.Sprintf("call cancelled: %v", err))
	}
	if err := ValidateArguments(c.tool.Name(), c.tool.InputSchema(), c.args); err != nil {
		return Failed(err.Error())
	}

	ctx := c.ctx
	if inv.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.cfg.CallTimeout)
		defer cancel()
	}

	result, err := c.tool.Invoke(ctx, c.args)
	if err != nil {
		return Failed(err.Error())
	}
	if result == nil {
		return &Status{Success: true}
	}
	return result
}
