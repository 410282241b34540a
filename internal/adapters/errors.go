package adapters

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError is a network failure or timeout. Retryable.
type TransportError struct {
	Provider Provider
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: transport error: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError is a missing or rejected credential. Never retried.
type AuthError struct {
	Provider Provider
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication error: %s", e.Provider, e.Message)
}

// UpstreamError is a non-2xx status or an unusable body.
type UpstreamError struct {
	Provider   Provider
	StatusCode int
	Body       string
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API returned status %d: %s", e.Provider, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ContextOverflowError means the prompt or response exceeded the model's
// token budget. The orchestrator trims context and retries.
type ContextOverflowError struct {
	Provider Provider
	Message  string
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("%s: context overflow: %s", e.Provider, e.Message)
}

// IsRetryable reports whether a failed send may be attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var te *TransportError
	var ue *UpstreamError
	var ce *ContextOverflowError
	return errors.As(err, &te) || errors.As(err, &ue) || errors.As(err, &ce)
}

// IsContextPressure reports whether err should shrink the context before a
// retry: transport failures, timeouts and overflow.
func IsContextPressure(err error) bool {
	var te *TransportError
	var ce *ContextOverflowError
	return errors.As(err, &te) || errors.As(err, &ce)
}

var overflowMarkers = []string{
	"context_length_exceeded",
	"context length",
	"maximum context",
	"prompt is too long",
	"too many tokens",
	"input is too long",
}

// classifyStatus maps a non-2xx response into the error taxonomy.
func classifyStatus(provider Provider, status int, body []byte) error {
	text := string(body)
	if len(text) > maxErrorBodyLen {
		text = text[:maxErrorBodyLen] + "... (truncated)"
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Provider: provider, Message: fmt.Sprintf("status %d: %s", status, text)}
	case http.StatusRequestEntityTooLarge:
		return &ContextOverflowError{Provider: provider, Message: text}
	}
	lower := strings.ToLower(string(body))
	for _, marker := range overflowMarkers {
		if strings.Contains(lower, marker) {
			return &ContextOverflowError{Provider: provider, Message: text}
		}
	}
	if status == 0 {
		return &UpstreamError{Provider: provider, Message: "stream error: " + text}
	}
	return &UpstreamError{Provider: provider, StatusCode: status, Body: text}
}
