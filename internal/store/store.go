// Package store keeps per-caller settings for the lifetime of the process.
//
// DESIGN: Settings are keyed by caller ID and defaulted from configuration
// on first read. Reads never fail: an unknown caller simply gets the
// defaults. An optional idle TTL forgets callers that stopped showing up.
//
// Currently only MemoryStore is implemented. Nothing is persisted across
// restarts.
package store

import (
	"sync"
	"time"
)

// DefaultCleanupInterval is how often expired callers are swept.
const DefaultCleanupInterval = 5 * time.Minute

// Settings are one caller's preferences.
type Settings struct {
	PreferredProvider string    `json:"preferred_provider" yaml:"provider"`
	PreferredModel    string    `json:"preferred_model" yaml:"model"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// Store defines per-caller settings storage.
type Store interface {
	// Get returns the caller's settings, or the defaults for a new caller.
	Get(callerID string) Settings

	// Update applies fn to the caller's settings and returns the result.
	Update(callerID string, fn func(*Settings)) Settings

	// SetPreferredModel sets the caller's model.
	SetPreferredModel(callerID, model string) Settings

	// SetPreferredProvider sets the caller's provider.
	SetPreferredProvider(callerID, provider string) Settings

	// Delete forgets the caller.
	Delete(callerID string)

	// Close cleans up resources.
	Close() error
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	data     map[string]entry
	defaults Settings
	ttl      time.Duration
	mu       sync.RWMutex
	stopChan chan struct{}
	stopped  bool
}

type entry struct {
	settings Settings
	lastSeen time.Time
}

// NewMemoryStore creates a store that hands out defaults to new callers.
// ttl > 0 forgets callers idle for longer than ttl.
func NewMemoryStore(defaults Settings, ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		data:     make(map[string]entry),
		defaults: defaults,
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	if ttl > 0 {
		go s.cleanup(cleanupInterval(ttl))
	}
	return s
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if ttl < DefaultCleanupInterval {
		return ttl
	}
	return DefaultCleanupInterval
}

// Defaults returns the settings new callers start from.
func (s *MemoryStore) Defaults() Settings {
	return s.defaults
}

// Get returns the caller's settings.
func (s *MemoryStore) Get(callerID string) Settings {
	s.mu.RLock()
	e, ok := s.data[callerID]
	s.mu.RUnlock()

	if !ok || s.expired(e, time.Now()) {
		return s.defaults
	}
	s.touch(callerID)
	return e.settings
}

// Update applies fn under the write lock.
func (s *MemoryStore) Update(callerID string, fn func(*Settings)) Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return s.defaults
	}

	now := time.Now()
	e, ok := s.data[callerID]
	if !ok || s.expired(e, now) {
		e = entry{settings: s.defaults}
	}
	fn(&e.settings)
	e.settings.UpdatedAt = now
	e.lastSeen = now
	s.data[callerID] = e
	return e.settings
}

// SetPreferredModel sets the caller's model.
func (s *MemoryStore) SetPreferredModel(callerID, model string) Settings {
	return s.Update(callerID, func(st *Settings) { st.PreferredModel = model })
}

// SetPreferredProvider sets the caller's provider.
func (s *MemoryStore) SetPreferredProvider(callerID, provider string) Settings {
	return s.Update(callerID, func(st *Settings) { st.PreferredProvider = provider })
}

// Delete forgets the caller.
func (s *MemoryStore) Delete(callerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, callerID)
}

// Len returns the number of callers with stored settings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Close stops the cleanup goroutine and clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.data = make(map[string]entry)
	}
	return nil
}

func (s *MemoryStore) expired(e entry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.lastSeen) > s.ttl
}

func (s *MemoryStore) touch(callerID string) {
	if s.ttl <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[callerID]; ok {
		e.lastSeen = time.Now()
		s.data[callerID] = e
	}
}

// cleanup periodically removes expired callers.
func (s *MemoryStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for id, e := range s.data {
		if s.expired(e, now) {
			delete(s.data, id)
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
