package memory

import (
	"fmt"
	"unicode/utf8"
)

// Policy defaults.
const (
	DefaultMaxEntries         = 40
	DefaultKeepRecent         = 20
	DefaultMaxToolOutputChars = 8000
)

// Policy bounds the conversation log.
type Policy struct {
	MaxEntries         int `yaml:"max_entries"`           // trim once exceeded; 0 disables trimming
	KeepRecent         int `yaml:"keep_recent"`           // tail that survives a trim
	MaxToolOutputChars int `yaml:"max_tool_output_chars"` // 0 disables truncation
}

// DefaultPolicy returns the default bounds.
func DefaultPolicy() Policy {
	return Policy{
		MaxEntries:         DefaultMaxEntries,
		KeepRecent:         DefaultKeepRecent,
		MaxToolOutputChars: DefaultMaxToolOutputChars,
	}
}

// Validate checks the policy is coherent.
func (p Policy) Validate() error {
	if p.MaxEntries < 0 || p.KeepRecent < 0 || p.MaxToolOutputChars < 0 {
		return fmt.Errorf("context policy values must be non-negative")
	}
	if p.MaxEntries > 0 && p.KeepRecent > p.MaxEntries {
		return fmt.Errorf("keep_recent (%d) must not exceed max_entries (%d)", p.KeepRecent, p.MaxEntries)
	}
	return nil
}

// Trimmed returns entries with the oldest removed so that the last
// KeepRecent survive. The cut is moved back to the most recent UserMessage
// when needed, so the latest exchange is never split. At or below
// MaxEntries the input is returned unchanged (as a copy), which makes
// trimming idempotent.
func Trimmed(entries []Entry, p Policy) []Entry {
	if p.MaxEntries <= 0 || len(entries) <= p.MaxEntries {
		return clone(entries)
	}

	start := len(entries) - p.KeepRecent
	if start < 0 {
		start = 0
	}
	if last := lastIndex(entries, UserMessage); last >= 0 && last < start {
		start = last
	}
	return clone(entries[start:])
}

// DropOldestAssistant removes the oldest assistant turn that precedes the
// latest user message: the AssistantMessage together with the ToolCall and
// ToolOutput entries that follow it. ok is false when no such turn exists.
func DropOldestAssistant(entries []Entry) (out []Entry, ok bool) {
	limit := lastIndex(entries, UserMessage)
	if limit < 0 {
		limit = len(entries)
	}

	first := -1
	for i := 0; i < limit; i++ {
		if entries[i].Kind == AssistantMessage {
			first = i
			break
		}
	}
	if first < 0 {
		return clone(entries), false
	}

	end := first + 1
	for end < limit && (entries[end].Kind == ToolCall || entries[end].Kind == ToolOutput) {
		end++
	}

	out = make([]Entry, 0, len(entries)-(end-first))
	out = append(out, entries[:first]...)
	out = append(out, entries[end:]...)
	return out, true
}

// Truncate shortens text to at most max runes, keeping the head and the
// tail around a marker. max <= 0 disables truncation.
func Truncate(text string, max int) string {
	n := utf8.RuneCountInString(text)
	if max <= 0 || n <= max {
		return text
	}
	runes := []rune(text)
	marker := fmt.Sprintf("\n... [%d chars truncated] ...\n", n-max)
	head := max / 2
	tail := max - head
	return string(runes[:head]) + marker + string(runes[n-tail:])
}

func lastIndex(entries []Entry, kind Kind) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Kind == kind {
			return i
		}
	}
	return -1
}

func clone(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
