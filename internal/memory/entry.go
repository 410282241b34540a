// Package memory keeps the bounded, ordered conversation log a session uses
// to build each prompt.
//
// DESIGN: A Context is an explicit handle owned by one session; there is no
// process-wide chat memory. All mutation goes through one mutex, so turns
// and tool batches append in a single order. Trimming and retry-driven
// pruning are pure functions over []Entry that return a new slice; the
// Context only swaps the result in.
//
// FLOW:
//  1. Append(entry): tool output is truncated, then the entry is added
//  2. If the count exceeds Policy.MaxEntries, Trimmed keeps the recent tail
//  3. Transcript() renders "[Kind]: text" lines as the next prompt
package memory

import (
	"strings"
	"time"
)

// Kind classifies an entry.
type Kind string

const (
	UserMessage      Kind = "UserMessage"
	AssistantMessage Kind = "AssistantMessage"
	ToolCall         Kind = "ToolCall"
	ToolOutput       Kind = "ToolOutput"
	SystemNote       Kind = "SystemNote"
)

// Entry is one item of the conversation log.
type Entry struct {
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// NewEntry stamps an entry with the current time.
func NewEntry(kind Kind, text string) Entry {
	return Entry{Kind: kind, Text: text, At: time.Now()}
}

// Line renders the entry as it appears in a transcript.
func (e Entry) Line() string {
	return "[" + string(e.Kind) + "]: " + e.Text
}

// Render joins entry lines with newlines.
func Render(entries []Entry) string {
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(e.Line())
	}
	return sb.String()
}
