package memory

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Context is a mutex-serialized conversation log.
type Context struct {
	mu      sync.Mutex
	entries []Entry
	policy  Policy
}

// NewContext creates an empty log governed by policy.
func NewContext(policy Policy) *Context {
	return &Context{policy: policy}
}

// Policy returns the policy in force.
func (c *Context) Policy() Policy {
	return c.policy
}

// Append adds an entry, truncating tool output and trimming once the log
// grows past the policy threshold.
func (c *Context) Append(e Entry) {
	c.AppendAll(e)
}

// AppendAll adds entries in order under one lock acquisition.
func (c *Context) AppendAll(entries ...Entry) {
	prepared := make([]Entry, len(entries))
	for i, e := range entries {
		if e.At.IsZero() {
			e.At = time.Now()
		}
		if e.Kind == ToolOutput {
			e.Text = Truncate(e.Text, c.policy.MaxToolOutputChars)
		}
		prepared[i] = e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, prepared...)
	if c.policy.MaxEntries > 0 && len(c.entries) > c.policy.MaxEntries {
		c.trimLocked()
	}
}

// Snapshot returns a copy of the entries in order.
func (c *Context) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clone(c.entries)
}

// Transcript renders the log as prompt text.
func (c *Context) Transcript() string {
	return Render(c.Snapshot())
}

// Trim applies the policy and returns how many entries were removed.
func (c *Context) Trim() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.trimLocked()
}

func (c *Context) trimLocked() int {
	before := len(c.entries)
	c.entries = Trimmed(c.entries, c.policy)
	removed := before - len(c.entries)
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("kept", len(c.entries)).Msg("context trimmed")
	}
	return removed
}

// Replace swaps in a new entry list, as computed by a pure transform.
func (c *Context) Replace(entries []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = clone(entries)
}

// Len returns the number of entries.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
