package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-runtime/internal/store"
)

// Manager hands out one Session per caller and applies per-caller settings.
//
// Sessions are created lazily on the first message and closed after
// idleTTL without activity. Settings live in the store, so a caller whose
// session was evicted keeps its provider and model.
type Manager struct {
	cfg      Config
	deps     Deps
	settings store.Store
	idleTTL  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	stopChan chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// NewManager creates a manager. idleTTL <= 0 keeps sessions until Close.
func NewManager(cfg Config, settings store.Store, deps Deps, idleTTL time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		settings: settings,
		idleTTL:  idleTTL,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
		stopChan: make(chan struct{}),
	}
	if idleTTL > 0 {
		m.wg.Add(1)
		go m.cleanup(sweepInterval(idleTTL))
	}
	return m
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl / 2
	}
	return time.Minute
}

// Session returns the caller's session, starting one if needed.
func (m *Manager) Session(callerID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrSessionClosed
	}
	if s, ok := m.sessions[callerID]; ok {
		return s, nil
	}

	s := NewSession(callerID, m.cfg, m.settings.Get(callerID), m.deps)
	s.Start(m.ctx)
	m.sessions[callerID] = s
	log.Info().Str("caller", callerID).Str("session_id", s.ID).Msg("session created")
	return s, nil
}

// Submit sends text on behalf of callerID and waits for the reply.
func (m *Manager) Submit(ctx context.Context, callerID, text string) (*Reply, error) {
	s, err := m.Session(callerID)
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, text)
}

// Settings returns the caller's current settings.
func (m *Manager) Settings(callerID string) store.Settings {
	return m.settings.Get(callerID)
}

// SetPreferredModel changes the caller's model from the next exchange on.
func (m *Manager) SetPreferredModel(callerID, model string) store.Settings {
	st := m.settings.SetPreferredModel(callerID, model)
	m.apply(callerID, st)
	return st
}

// SetPreferredProvider changes the caller's provider. The provider must
// have a configured adapter.
func (m *Manager) SetPreferredProvider(callerID, provider string) (store.Settings, error) {
	if _, ok := m.deps.Adapters.Get(provider); !ok {
		return m.settings.Get(callerID), fmt.Errorf("%w %q", ErrNoAdapter, provider)
	}
	st := m.settings.SetPreferredProvider(callerID, provider)
	m.apply(callerID, st)
	return st, nil
}

func (m *Manager) apply(callerID string, st store.Settings) {
	m.mu.Lock()
	s, ok := m.sessions[callerID]
	m.mu.Unlock()
	if ok {
		s.SetSettings(st)
	}
}

// End closes and forgets the caller's session. Settings are kept.
func (m *Manager) End(callerID string) {
	m.mu.Lock()
	s, ok := m.sessions[callerID]
	delete(m.sessions, callerID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close stops every session and the sweeper.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.stopChan)
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	m.wg.Wait()
	m.cancel()
	for _, s := range sessions {
		s.Close()
	}
}

func (m *Manager) cleanup(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			m.evictIdle(now)
		}
	}
}

// evictIdle closes sessions that are waiting for input and have been idle
// longer than idleTTL. Busy sessions are left alone.
func (m *Manager) evictIdle(now time.Time) {
	var idle []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.State() == StateAwaitingUserInput && now.Sub(s.LastActive()) > m.idleTTL {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		log.Debug().Str("caller", s.CallerID).Str("session_id", s.ID).Msg("evicting idle session")
		s.Close()
	}
}
