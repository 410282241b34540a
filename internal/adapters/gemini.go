package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GeminiAdapter handles the Gemini generateContent API.
// Tool calls arrive as parts carrying functionCall{name, args}.
type GeminiAdapter struct {
	BaseAdapter
}

// NewGeminiAdapter creates a new Gemini adapter.
func NewGeminiAdapter(name string, cfg Config) *GeminiAdapter {
	c := &geminiCodec{
		baseURL: cfg.baseURL("https://generativelanguage.googleapis.com"),
		apiKey:  cfg.APIKey,
	}
	return &GeminiAdapter{BaseAdapter: newBaseAdapter(name, ProviderGemini, cfg, c)}
}

type geminiCodec struct {
	baseURL string
	apiKey  string
}

func (c *geminiCodec) checkAuth() error { return missingKey(ProviderGemini, c.apiKey) }

func (c *geminiCodec) endpoint(req *Request, stream bool) string {
	model := url.PathEscape(strings.TrimPrefix(req.Model, "models/"))
	if stream {
		return fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", c.baseURL, model)
	}
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
}

func (c *geminiCodec) authorize(h http.Header) { h.Set("x-goog-api-key", c.apiKey) }

func (c *geminiCodec) streams(req *Request) bool { return req.kind() != KindModeration }

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
	Tools []geminiTool `json:"tools,omitempty"`
}

func (c *geminiCodec) buildBody(req *Request, maxTokens int, _ bool) ([]byte, error) {
	if req.kind() == KindModeration {
		return nil, fmt.Errorf("moderation is not supported by gemini")
	}
	body := &geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Content}}}},
	}
	body.GenerationConfig.MaxOutputTokens = maxTokens
	if req.Instructions != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.Instructions}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  geminiSchema(t.InputSchema),
			})
		}
		body.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	return json.Marshal(body)
}

// geminiSchema drops JSON-Schema keywords the Gemini schema subset rejects.
func geminiSchema(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return nil
	}
	out := []byte(schema)
	for _, key := range []string{"additionalProperties", "$schema", "$id"} {
		if gjson.GetBytes(out, key).Exists() {
			if trimmed, err := sjson.DeleteBytes(out, key); err == nil {
				out = trimmed
			}
		}
	}
	return out
}

// =============================================================================
// DECODING
// =============================================================================

type geminiResponse struct {
	ResponseID   string `json:"responseId"`
	ModelVersion string `json:"modelVersion"`
	Candidates   []struct {
		Content struct {
			Parts []struct {
				Text         string `json:"text"`
				FunctionCall *struct {
					Name string          `json:"name"`
					Args json.RawMessage `json:"args"`
				} `json:"functionCall"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (c *geminiCodec) decode(_ *Request, body []byte) (*NormalizedResponse, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &NormalizedResponse{
		ID:    resp.ResponseID,
		Model: resp.ModelVersion,
		Usage: TokenUsage{
			Input:  resp.UsageMetadata.PromptTokenCount,
			Output: resp.UsageMetadata.CandidatesTokenCount,
			Total:  resp.UsageMetadata.TotalTokenCount,
		},
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			out.FinishReason = FinishContentFilter
			return out, nil
		}
		return nil, fmt.Errorf("no candidates in response")
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, ToolCallRequest{Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args})
			continue
		}
		text.WriteString(part.Text)
	}
	out.Content = text.String()
	out.FinishReason = geminiFinish(cand.FinishReason)
	return out, nil
}

func geminiFinish(reason string) FinishReason {
	switch reason {
	case "STOP", "":
		return ""
	case "MAX_TOKENS":
		return FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT", "SPII", "IMAGE_SAFETY":
		return FinishContentFilter
	case "MALFORMED_FUNCTION_CALL", "UNEXPECTED_TOOL_CALL":
		return FinishMalformedFunctionCall
	default:
		return FinishReason(strings.ToLower(reason))
	}
}

// geminiStream folds streamGenerateContent chunks. Each chunk has the full
// response shape; function calls arrive whole and are numbered in arrival
// order.
type geminiStream struct {
	state *streamState
	calls int
}

func (c *geminiCodec) newStream(_ *Request) streamDecoder {
	return &geminiStream{state: newStreamState()}
}

func (s *geminiStream) event(data []byte) (string, error) {
	if gjson.GetBytes(data, "error").Exists() {
		return "", streamErr(ProviderGemini, data)
	}
	st := s.state
	st.lastRaw = data
	st.setIdentity(gjson.GetBytes(data, "responseId").String(), gjson.GetBytes(data, "modelVersion").String())

	if usage := gjson.GetBytes(data, "usageMetadata"); usage.IsObject() {
		st.setUsage(usage.Get("promptTokenCount").Int(), usage.Get("candidatesTokenCount").Int(), usage.Get("totalTokenCount").Int())
	}
	if gjson.GetBytes(data, "promptFeedback.blockReason").String() != "" {
		st.setFinish(FinishContentFilter)
	}

	cand := gjson.GetBytes(data, "candidates.0")
	if !cand.Exists() {
		return "", nil
	}
	st.setFinish(geminiFinish(cand.Get("finishReason").String()))

	var delta strings.Builder
	cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
		if fc := part.Get("functionCall"); fc.Exists() {
			st.toolDelta(s.calls, "", fc.Get("name").String(), fc.Get("args").Raw)
			s.calls++
			return true
		}
		delta.WriteString(part.Get("text").String())
		return true
	})
	return st.appendText(delta.String()), nil
}

func (s *geminiStream) finish() *NormalizedResponse { return s.state.result() }

var (
	_ Adapter = (*GeminiAdapter)(nil)
	_ codec   = (*geminiCodec)(nil)
)
