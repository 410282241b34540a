package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// OpenAIAdapter handles the OpenAI API. The request kind selects:
//   - deprecated: Chat Completions (messages[])
//   - response:   Responses API (input + previous_response_id)
//   - moderation: Moderations (classification, never streamed)
type OpenAIAdapter struct {
	BaseAdapter
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(name string, cfg Config) *OpenAIAdapter {
	c := &openAICodec{
		provider:       ProviderOpenAI,
		baseURL:        cfg.baseURL("https://api.openai.com"),
		apiKey:         cfg.APIKey,
		requireKey:     true,
		maxTokensField: "max_completion_tokens",
	}
	return &OpenAIAdapter{BaseAdapter: newBaseAdapter(name, ProviderOpenAI, cfg, c)}
}

// openAICodec is shared with Ollama, whose OpenAI-compatible endpoint
// differs only in auth, the max tokens field and usage fields.
type openAICodec struct {
	provider       Provider
	baseURL        string
	apiKey         string
	requireKey     bool
	maxTokensField string
	chatOnly       bool
}

func (c *openAICodec) checkAuth() error {
	if !c.requireKey {
		return nil
	}
	return missingKey(c.provider, c.apiKey)
}

func (c *openAICodec) kind(req *Request) RequestKind {
	if c.chatOnly {
		return KindDeprecated
	}
	return req.kind()
}

func (c *openAICodec) endpoint(req *Request, _ bool) string {
	switch c.kind(req) {
	case KindResponse:
		return c.baseURL + "/v1/responses"
	case KindModeration:
		return c.baseURL + "/v1/moderations"
	default:
		return c.baseURL + "/v1/chat/completions"
	}
}

func (c *openAICodec) authorize(h http.Header) {
	if c.apiKey != "" {
		h.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
}

func (c *openAICodec) streams(req *Request) bool {
	return c.kind(req) != KindModeration
}

// =============================================================================
// REQUEST BODIES
// =============================================================================

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type openAIChatTool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIChatRequest struct {
	Model               string           `json:"model"`
	Messages            []openAIMessage  `json:"messages"`
	MaxCompletionTokens int              `json:"max_completion_tokens,omitempty"`
	MaxTokens           int              `json:"max_tokens,omitempty"`
	Stream              bool             `json:"stream,omitempty"`
	StreamOptions       map[string]bool  `json:"stream_options,omitempty"`
	Tools               []openAIChatTool `json:"tools,omitempty"`
}

type openAIResponsesTool struct {
	Type string `json:"type"`
	openAIFunction
}

type openAIResponsesRequest struct {
	Model              string                `json:"model"`
	Input              string                `json:"input"`
	Instructions       string                `json:"instructions,omitempty"`
	PreviousResponseID string                `json:"previous_response_id,omitempty"`
	MaxOutputTokens    int                   `json:"max_output_tokens,omitempty"`
	Stream             bool                  `json:"stream,omitempty"`
	Tools              []openAIResponsesTool `json:"tools,omitempty"`
}

type openAIModerationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

func (c *openAICodec) buildBody(req *Request, maxTokens int, stream bool) ([]byte, error) {
	switch c.kind(req) {
	case KindModeration:
		return json.Marshal(&openAIModerationRequest{Model: req.Model, Input: req.Content})

	case KindResponse:
		body := &openAIResponsesRequest{
			Model:              req.Model,
			Input:              req.Content,
			Instructions:       req.Instructions,
			PreviousResponseID: req.PreviousTurnID,
			MaxOutputTokens:    maxTokens,
			Stream:             stream,
		}
		for _, t := range req.Tools {
			body.Tools = append(body.Tools, openAIResponsesTool{
				Type:           "function",
				openAIFunction: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
			})
		}
		return json.Marshal(body)

	default:
		body := &openAIChatRequest{Model: req.Model, Stream: stream}
		if req.Instructions != "" {
			body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.Instructions})
		}
		body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Content})
		if c.maxTokensField == "max_tokens" {
			body.MaxTokens = maxTokens
		} else {
			body.MaxCompletionTokens = maxTokens
		}
		if stream {
			body.StreamOptions = map[string]bool{"include_usage": true}
		}
		for _, t := range req.Tools {
			body.Tools = append(body.Tools, openAIChatTool{
				Type:     "function",
				Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
			})
		}
		return json.Marshal(body)
	}
}

// =============================================================================
// FULL BODY DECODING
// =============================================================================

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	// Ollama native counters, used when usage is absent.
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}

type openAIResponsesResponse struct {
	ID     string `json:"id"`
	Model  string `json:"model"`
	Status string `json:"status"`
	Output []struct {
		Type      string `json:"type"`
		CallID    string `json:"call_id"`
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIModerationResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Results []struct {
		Flagged    bool            `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

func (c *openAICodec) decode(req *Request, body []byte) (*NormalizedResponse, error) {
	switch c.kind(req) {
	case KindModeration:
		return decodeOpenAIModeration(body)
	case KindResponse:
		return decodeOpenAIResponses(body)
	default:
		return decodeOpenAIChat(body)
	}
}

func decodeOpenAIChat(body []byte) (*NormalizedResponse, error) {
	var resp openAIChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	out := &NormalizedResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: openAIFinish(choice.FinishReason),
		Usage: TokenUsage{
			Input:  resp.Usage.PromptTokens,
			Output: resp.Usage.CompletionTokens,
			Total:  resp.Usage.TotalTokens,
		},
	}
	if out.Usage.Input == 0 && out.Usage.Output == 0 {
		out.Usage.Input, out.Usage.Output = resp.PromptEvalCount, resp.EvalCount
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCallRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out, nil
}

func decodeOpenAIResponses(body []byte) (*NormalizedResponse, error) {
	var resp openAIResponsesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &NormalizedResponse{
		ID:    resp.ID,
		Model: resp.Model,
		Usage: TokenUsage{
			Input:  resp.Usage.InputTokens,
			Output: resp.Usage.OutputTokens,
			Total:  resp.Usage.TotalTokens,
		},
	}
	var text strings.Builder
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, ToolCallRequest{
				ID:        item.CallID,
				Name:      item.Name,
				Arguments: json.RawMessage(item.Arguments),
			})
		}
	}
	out.Content = text.String()

	reason := ""
	if resp.IncompleteDetails != nil {
		reason = resp.IncompleteDetails.Reason
	}
	out.FinishReason = responsesFinish(resp.Status, reason)
	return out, nil
}

func decodeOpenAIModeration(body []byte) (*NormalizedResponse, error) {
	var resp openAIModerationResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no moderation results")
	}

	result := resp.Results[0]
	out := &NormalizedResponse{ID: resp.ID, Model: resp.Model, FinishReason: FinishStop}
	if !result.Flagged {
		out.Content = "not flagged"
		return out, nil
	}

	var flagged []string
	for name, hit := range result.Categories {
		if hit {
			flagged = append(flagged, name)
		}
	}
	sort.Strings(flagged)
	out.Content = "flagged: " + strings.Join(flagged, ", ")
	out.FinishReason = FinishContentFilter
	return out, nil
}

func openAIFinish(reason string) FinishReason {
	switch reason {
	case "stop", "":
		return ""
	case "tool_calls", "function_call":
		return FinishToolCalls
	case "length":
		return FinishLength
	case "content_filter":
		return FinishContentFilter
	default:
		return FinishReason(reason)
	}
}

func responsesFinish(status, incompleteReason string) FinishReason {
	switch status {
	case "incomplete":
		if incompleteReason == "content_filter" {
			return FinishContentFilter
		}
		return FinishLength
	case "failed", "cancelled":
		return FinishError
	default:
		return ""
	}
}

// =============================================================================
// STREAM DECODING
// =============================================================================

func (c *openAICodec) newStream(req *Request) streamDecoder {
	if c.kind(req) == KindResponse {
		return &openAIResponsesStream{provider: c.provider, state: newStreamState()}
	}
	return &openAIChatStream{provider: c.provider, state: newStreamState()}
}

// openAIChatStream folds chat.completion.chunk events.
type openAIChatStream struct {
	provider Provider
	state    *streamState
}

func (s *openAIChatStream) event(data []byte) (string, error) {
	if gjson.GetBytes(data, "error").Exists() {
		return "", streamErr(s.provider, data)
	}
	st := s.state
	st.lastRaw = data
	st.setIdentity(gjson.GetBytes(data, "id").String(), gjson.GetBytes(data, "model").String())

	if usage := gjson.GetBytes(data, "usage"); usage.IsObject() {
		st.setUsage(usage.Get("prompt_tokens").Int(), usage.Get("completion_tokens").Int(), usage.Get("total_tokens").Int())
	}
	if n := gjson.GetBytes(data, "prompt_eval_count"); n.Exists() {
		st.setUsage(n.Int(), gjson.GetBytes(data, "eval_count").Int(), 0)
	}

	choice := gjson.GetBytes(data, "choices.0")
	if !choice.Exists() {
		return "", nil
	}
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String {
		st.setFinish(openAIFinish(fr.String()))
	}
	choice.Get("delta.tool_calls").ForEach(func(_, tc gjson.Result) bool {
		st.toolDelta(int(tc.Get("index").Int()), tc.Get("id").String(),
			tc.Get("function.name").String(), tc.Get("function.arguments").String())
		return true
	})
	return st.appendText(choice.Get("delta.content").String()), nil
}

func (s *openAIChatStream) finish() *NormalizedResponse { return s.state.result() }

// openAIResponsesStream folds Responses API events, keyed on "type".
type openAIResponsesStream struct {
	provider Provider
	state    *streamState
}

func (s *openAIResponsesStream) event(data []byte) (string, error) {
	st := s.state
	st.lastRaw = data

	switch gjson.GetBytes(data, "type").String() {
	case "error", "response.failed":
		return "", streamErr(s.provider, data)
	case "response.created":
		st.setIdentity(gjson.GetBytes(data, "response.id").String(), gjson.GetBytes(data, "response.model").String())
	case "response.output_text.delta":
		return st.appendText(gjson.GetBytes(data, "delta").String()), nil
	case "response.output_item.added":
		item := gjson.GetBytes(data, "item")
		if item.Get("type").String() == "function_call" {
			st.toolDelta(int(gjson.GetBytes(data, "output_index").Int()),
				item.Get("call_id").String(), item.Get("name").String(), "")
		}
	case "response.function_call_arguments.delta":
		st.toolDelta(int(gjson.GetBytes(data, "output_index").Int()), "", "", gjson.GetBytes(data, "delta").String())
	case "response.completed", "response.incomplete":
		r := gjson.GetBytes(data, "response")
		st.setIdentity(r.Get("id").String(), r.Get("model").String())
		st.setUsage(r.Get("usage.input_tokens").Int(), r.Get("usage.output_tokens").Int(), r.Get("usage.total_tokens").Int())
		st.setFinish(responsesFinish(r.Get("status").String(), r.Get("incomplete_details.reason").String()))
	}
	return "", nil
}

func (s *openAIResponsesStream) finish() *NormalizedResponse { return s.state.result() }

var (
	_ Adapter = (*OpenAIAdapter)(nil)
	_ codec   = (*openAICodec)(nil)
)
