package adapters

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// fencedBlock matches ```json ... ``` and bare ``` ... ``` blocks.
var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n?(.*?)```")

// shellMeta are characters that make a command list meaningful only as one
// shell string.
const shellMeta = "|&;<>()$`*?[]{}~!\\\"'"

// finalize is applied to both streamed and non-streamed responses so the two
// paths produce identical values.
func finalize(resp *NormalizedResponse, req *Request) {
	if resp.Model == "" {
		resp.Model = req.Model
	}
	if len(resp.ToolCalls) == 0 {
		resp.ToolCalls = ExtractFencedToolCalls(resp.Content)
	}
	for i := range resp.ToolCalls {
		resp.ToolCalls[i].Arguments = normalizeArguments(resp.ToolCalls[i].Arguments)
	}
	if resp.FinishReason == "" {
		resp.FinishReason = FinishStop
	}
	if resp.FinishReason == FinishStop && len(resp.ToolCalls) > 0 {
		resp.FinishReason = FinishToolCalls
	}
	resp.Usage.fill()
}

// ExtractFencedToolCalls scans every fenced block in text for objects that
// carry both "tool" and "arguments". A block holding an array contributes
// every matching element. All matches are returned in order of appearance.
func ExtractFencedToolCalls(text string) []ToolCallRequest {
	if !strings.Contains(text, "```") {
		return nil
	}

	var calls []ToolCallRequest
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		block := strings.TrimSpace(m[1])
		if !gjson.Valid(block) {
			continue
		}
		parsed := gjson.Parse(block)
		if parsed.IsArray() {
			parsed.ForEach(func(_, item gjson.Result) bool {
				if call, ok := fencedCall(item); ok {
					calls = append(calls, call)
				}
				return true
			})
			continue
		}
		if call, ok := fencedCall(parsed); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

func fencedCall(obj gjson.Result) (ToolCallRequest, bool) {
	if !obj.IsObject() {
		return ToolCallRequest{}, false
	}
	tool, args := obj.Get("tool"), obj.Get("arguments")
	if !tool.Exists() || !args.Exists() || tool.String() == "" {
		return ToolCallRequest{}, false
	}
	call := ToolCallRequest{Name: tool.String(), Arguments: json.RawMessage(args.Raw)}
	if id := obj.Get("id"); id.Exists() {
		call.ID = id.String()
	}
	return call, true
}

// normalizeArguments compacts the JSON arguments, decodes string-encoded
// objects and applies the command joining heuristic.
func normalizeArguments(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}

	// Some models double-encode: "{\"path\":\"x\"}".
	if trimmed[0] == '"' {
		if inner := gjson.ParseBytes(trimmed).String(); gjson.Valid(inner) {
			trimmed = []byte(inner)
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return json.RawMessage(trimmed)
	}
	return joinCommand(buf.Bytes())
}

// joinCommand collapses a "command" array into one string when it has a
// single element or any element contains shell metacharacters. This can
// merge a legitimate argv list; the behavior is kept for compatibility with
// models that split shell lines.
func joinCommand(args []byte) json.RawMessage {
	cmd := gjson.GetBytes(args, "command")
	if !cmd.IsArray() {
		return args
	}
	parts := cmd.Array()
	if len(parts) == 0 {
		return args
	}

	join := len(parts) == 1
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		s := p.String()
		if strings.ContainsAny(s, shellMeta) {
			join = true
		}
		words = append(words, s)
	}
	if !join {
		return args
	}

	out, err := sjson.SetBytes(args, "command", strings.Join(words, " "))
	if err != nil {
		return args
	}
	return out
}
