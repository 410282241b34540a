package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// anthropicVersion is the Anthropic API version header value.
const anthropicVersion = "2023-06-01"

// AnthropicAdapter handles the Anthropic Messages API.
// Tool calls arrive as content blocks with type:"tool_use".
type AnthropicAdapter struct {
	BaseAdapter
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(name string, cfg Config) *AnthropicAdapter {
	c := &anthropicCodec{
		baseURL: cfg.baseURL("https://api.anthropic.com"),
		apiKey:  cfg.APIKey,
	}
	return &AnthropicAdapter{BaseAdapter: newBaseAdapter(name, ProviderAnthropic, cfg, c)}
}

type anthropicCodec struct {
	baseURL string
	apiKey  string
}

func (c *anthropicCodec) checkAuth() error { return missingKey(ProviderAnthropic, c.apiKey) }

func (c *anthropicCodec) endpoint(_ *Request, _ bool) string { return c.baseURL + "/v1/messages" }

func (c *anthropicCodec) authorize(h http.Header) {
	h.Set("x-api-key", c.apiKey)
	h.Set("anthropic-version", anthropicVersion)
}

func (c *anthropicCodec) streams(req *Request) bool { return req.kind() != KindModeration }

func (c *anthropicCodec) buildBody(req *Request, maxTokens int, stream bool) ([]byte, error) {
	if req.kind() == KindModeration {
		return nil, fmt.Errorf("moderation is not supported by anthropic")
	}
	body := buildAnthropicBody(req, maxTokens)
	body.Model = req.Model
	body.Stream = stream
	return json.Marshal(body)
}

func (c *anthropicCodec) decode(_ *Request, body []byte) (*NormalizedResponse, error) {
	return decodeAnthropic(body)
}

func (c *anthropicCodec) newStream(_ *Request) streamDecoder {
	return &anthropicStream{provider: ProviderAnthropic, state: newStreamState()}
}

// =============================================================================
// BODY (shared with Bedrock)
// =============================================================================

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version,omitempty"` // Bedrock only
	Model            string             `json:"model,omitempty"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
	Stream           bool               `json:"stream,omitempty"`
	Tools            []anthropicTool    `json:"tools,omitempty"`
}

func buildAnthropicBody(req *Request, maxTokens int) *anthropicRequest {
	body := &anthropicRequest{
		MaxTokens: maxTokens,
		System:    req.Instructions,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Content}},
	}
	for _, t := range req.Tools {
		schema := t.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return body
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func decodeAnthropic(body []byte) (*NormalizedResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &NormalizedResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		FinishReason: anthropicFinish(resp.StopReason),
		Usage:        TokenUsage{Input: resp.Usage.InputTokens, Output: resp.Usage.OutputTokens},
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCallRequest{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	out.Content = text.String()
	return out, nil
}

func anthropicFinish(reason string) FinishReason {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return ""
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishLength
	case "refusal":
		return FinishContentFilter
	default:
		return FinishReason(reason)
	}
}

// =============================================================================
// STREAM
// =============================================================================

// anthropicStream folds message_start / content_block_* / message_delta events.
type anthropicStream struct {
	provider Provider
	state    *streamState
}

func (s *anthropicStream) event(data []byte) (string, error) {
	st := s.state
	st.lastRaw = data

	switch gjson.GetBytes(data, "type").String() {
	case "error":
		return "", streamErr(s.provider, data)
	case "message_start":
		msg := gjson.GetBytes(data, "message")
		st.setIdentity(msg.Get("id").String(), msg.Get("model").String())
		st.setUsage(msg.Get("usage.input_tokens").Int(), msg.Get("usage.output_tokens").Int(), 0)
	case "content_block_start":
		block := gjson.GetBytes(data, "content_block")
		if block.Get("type").String() == "tool_use" {
			st.toolDelta(int(gjson.GetBytes(data, "index").Int()), block.Get("id").String(), block.Get("name").String(), "")
		}
		if text := block.Get("text").String(); text != "" {
			return st.appendText(text), nil
		}
	case "content_block_delta":
		delta := gjson.GetBytes(data, "delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return st.appendText(delta.Get("text").String()), nil
		case "input_json_delta":
			st.toolDelta(int(gjson.GetBytes(data, "index").Int()), "", "", delta.Get("partial_json").String())
		}
	case "message_delta":
		st.setFinish(anthropicFinish(gjson.GetBytes(data, "delta.stop_reason").String()))
		st.setUsage(gjson.GetBytes(data, "usage.input_tokens").Int(), gjson.GetBytes(data, "usage.output_tokens").Int(), 0)
	}
	return "", nil
}

func (s *anthropicStream) finish() *NormalizedResponse { return s.state.result() }

var (
	_ Adapter = (*AnthropicAdapter)(nil)
	_ codec   = (*anthropicCodec)(nil)
)
