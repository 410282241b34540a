package adapters

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	ssePrefix = []byte("data:")
	sseDone   = []byte("[DONE]")
)

// readSSE calls fn for every `data:` payload until [DONE] or EOF.
// Comment lines, event names and blank separators are skipped.
func readSSE(r io.Reader, fn func(data []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)

	for scanner.Scan() {
		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if !bytes.HasPrefix(line, ssePrefix) {
			continue
		}
		data := bytes.TrimSpace(bytes.TrimPrefix(line, ssePrefix))
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, sseDone) {
			return nil
		}
		if err := fn(data); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// streamState accumulates a streamed response. Tool calls are keyed by the
// provider's block/call index and emitted in index order, which matches the
// order of the equivalent non-streamed body.
type streamState struct {
	id      string
	model   string
	text    strings.Builder
	finish  FinishReason
	usage   TokenUsage
	calls   map[int]*ToolCallRequest
	args    map[int]*strings.Builder
	lastRaw []byte
}

func newStreamState() *streamState {
	return &streamState{
		calls: make(map[int]*ToolCallRequest),
		args:  make(map[int]*strings.Builder),
	}
}

func (s *streamState) appendText(delta string) string {
	s.text.WriteString(delta)
	return delta
}

// toolDelta merges a fragment into the call at index. Empty fields leave the
// accumulated value untouched.
func (s *streamState) toolDelta(index int, id, name, args string) {
	call, ok := s.calls[index]
	if !ok {
		call = &ToolCallRequest{}
		s.calls[index] = call
		s.args[index] = &strings.Builder{}
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	s.args[index].WriteString(args)
}

// setUsage keeps the most recent non-zero value of each counter. Providers
// that split usage across events (input first, output last) still yield a
// complete total.
func (s *streamState) setUsage(input, output, total int64) {
	if input > 0 {
		s.usage.Input = int(input)
	}
	if output > 0 {
		s.usage.Output = int(output)
	}
	if total > 0 {
		s.usage.Total = int(total)
	}
}

func (s *streamState) setFinish(reason FinishReason) {
	if reason != "" {
		s.finish = reason
	}
}

func (s *streamState) setIdentity(id, model string) {
	if id != "" && s.id == "" {
		s.id = id
	}
	if model != "" && s.model == "" {
		s.model = model
	}
}

func (s *streamState) result() *NormalizedResponse {
	resp := &NormalizedResponse{
		ID:           s.id,
		Model:        s.model,
		FinishReason: s.finish,
		Content:      s.text.String(),
		Usage:        s.usage,
		Raw:          s.lastRaw,
	}

	indexes := make([]int, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		call := *s.calls[i]
		call.Arguments = []byte(s.args[i].String())
		resp.ToolCalls = append(resp.ToolCalls, call)
	}
	return resp
}

// streamErr turns an in-band error event into the error taxonomy.
func streamErr(provider Provider, data []byte) error {
	msg := gjson.GetBytes(data, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(data, "error").String()
	}
	return classifyStatus(provider, 0, []byte(msg))
}
