package adapters

import (
	"encoding/json"
	"fmt"
)

// Provider identifies an LLM backend family.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderBedrock   Provider = "bedrock"
)

// String returns the provider name.
func (p Provider) String() string { return string(p) }

// RequestKind selects the provider endpoint family.
type RequestKind string

const (
	// KindDeprecated is the chat-completions style endpoint.
	KindDeprecated RequestKind = "deprecated"
	// KindResponse is the structured responses endpoint.
	KindResponse RequestKind = "response"
	// KindModeration classifies content instead of generating it.
	KindModeration RequestKind = "moderation"
)

// =============================================================================
// REQUEST
// =============================================================================

// ToolDefinition describes a callable tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Request is the canonical, provider-agnostic request.
type Request struct {
	Content        string           // Prompt text (usually the rendered transcript)
	PreviousTurnID string           // ID of the previous response, when the provider chains turns
	Model          string           // Model identifier
	Kind           RequestKind      // Endpoint family; empty means KindDeprecated
	Instructions   string           // System instructions
	Stream         bool             // Request an SSE stream
	Tools          []ToolDefinition // Native function-calling tools
}

func (r *Request) kind() RequestKind {
	if r.Kind == "" {
		return KindDeprecated
	}
	return r.Kind
}

func (r *Request) validate() error {
	if r == nil {
		return fmt.Errorf("request is nil")
	}
	if r.Model == "" {
		return fmt.Errorf("model required")
	}
	switch r.kind() {
	case KindDeprecated, KindResponse, KindModeration:
	default:
		return fmt.Errorf("unknown request kind %q", r.Kind)
	}
	return nil
}

// =============================================================================
// NORMALIZED RESPONSE
// =============================================================================

// FinishReason is the normalized stop reason.
type FinishReason string

const (
	FinishStop                  FinishReason = "stop"
	FinishToolCalls             FinishReason = "tool_calls"
	FinishLength                FinishReason = "length"
	FinishContentFilter         FinishReason = "content_filter"
	FinishMalformedFunctionCall FinishReason = "malformed_function_call"
	FinishError                 FinishReason = "error"
)

// Abnormal reports whether the reason signals that the model did not
// complete normally. Empty content is only legal for abnormal reasons.
func (f FinishReason) Abnormal() bool {
	switch f {
	case FinishLength, FinishContentFilter, FinishMalformedFunctionCall, FinishError:
		return true
	}
	return false
}

// ToolCallRequest is a model-requested tool invocation.
type ToolCallRequest struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// TokenUsage holds token counts for one response.
type TokenUsage struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// NormalizedResponse is the shape every adapter produces.
type NormalizedResponse struct {
	ID           string            `json:"id"`
	Model        string            `json:"model"`
	FinishReason FinishReason      `json:"finish_reason"`
	Content      string            `json:"content"`
	ToolCalls    []ToolCallRequest `json:"tool_calls,omitempty"`
	Usage        TokenUsage        `json:"usage"`
	Raw          json.RawMessage   `json:"-"`
}

// Validate checks the content/tool-call invariant.
func (r *NormalizedResponse) Validate(provider Provider) error {
	if r.Content == "" && len(r.ToolCalls) == 0 && !r.FinishReason.Abnormal() {
		return &UpstreamError{Provider: provider, Message: "no content received"}
	}
	return nil
}

// HasToolCalls reports whether the response requests tool execution.
func (r *NormalizedResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

func (u *TokenUsage) fill() {
	if u.Total == 0 {
		u.Total = u.Input + u.Output
	}
}
