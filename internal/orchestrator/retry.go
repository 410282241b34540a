package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/compresr/agent-runtime/internal/adapters"
	"github.com/compresr/agent-runtime/internal/memory"
)

// Outcome is what the retry policy decided for a failed attempt.
type Outcome string

const (
	// OutcomeRetryTrimmed retries with the oldest assistant turn removed.
	OutcomeRetryTrimmed Outcome = "retry_trimmed"
	// OutcomeRetry retries with the context unchanged.
	OutcomeRetry Outcome = "retry"
	// OutcomePartial accepts the partial response as the turn's result.
	OutcomePartial Outcome = "partial"
	// OutcomeFail ends the exchange with the error.
	OutcomeFail Outcome = "fail"
)

// Decision is the result of Plan. Entries is the context to continue with;
// for OutcomeRetryTrimmed it differs from the input.
type Decision struct {
	Outcome Outcome
	Entries []memory.Entry
	Partial *adapters.NormalizedResponse
	Delay   time.Duration
	Reason  string
}

// RetryPolicy bounds retries per provider request.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// MalformedCallError wraps a response whose function call the provider
// could not form. The response text is still usable.
type MalformedCallError struct {
	Provider adapters.Provider
	Response *adapters.NormalizedResponse
}

func (e *MalformedCallError) Error() string {
	return fmt.Sprintf("%s: malformed function call", e.Provider)
}

// Plan decides what to do after attempt (0-based) failed with err. It is a
// pure function of its inputs: the caller applies Entries.
//
// Order matters: a malformed function call is accepted before anything
// else, auth failures are never retried, and exhaustion is checked before
// any retry is granted.
func (p RetryPolicy) Plan(entries []memory.Entry, attempt int, err error) Decision {
	var malformed *MalformedCallError
	if errors.As(err, &malformed) {
		return Decision{Outcome: OutcomePartial, Entries: entries, Partial: malformed.Response, Reason: "malformed function call"}
	}
	var authErr *adapters.AuthError
	if errors.As(err, &authErr) {
		return Decision{Outcome: OutcomeFail, Entries: entries, Reason: "authentication failed"}
	}
	if !adapters.IsRetryable(err) {
		return Decision{Outcome: OutcomeFail, Entries: entries, Reason: "not retryable"}
	}
	if attempt >= p.MaxRetries {
		return Decision{Outcome: OutcomeFail, Entries: entries, Reason: "retries exhausted"}
	}

	if adapters.IsContextPressure(err) {
		if trimmed, ok := memory.DropOldestAssistant(entries); ok {
			return Decision{Outcome: OutcomeRetryTrimmed, Entries: trimmed, Delay: p.Delay, Reason: "context pressure"}
		}
	}
	return Decision{Outcome: OutcomeRetry, Entries: entries, Delay: p.Delay, Reason: "retryable upstream error"}
}

// checkResponse turns a successful send into an error when the response
// cannot be used as-is: truncated output or a token ceiling breach is a
// context overflow, a malformed function call is partial, and a model-side
// error is an upstream failure.
func checkResponse(resp *adapters.NormalizedResponse, provider adapters.Provider, tokenCeiling int) error {
	switch resp.FinishReason {
	case adapters.FinishMalformedFunctionCall:
		return &MalformedCallError{Provider: provider, Response: resp}
	case adapters.FinishLength:
		return &adapters.ContextOverflowError{Provider: provider, Message: "response truncated at the output limit"}
	case adapters.FinishError:
		return &adapters.UpstreamError{Provider: provider, Message: "model reported an error"}
	}
	if tokenCeiling > 0 && resp.Usage.Total > tokenCeiling {
		return &adapters.ContextOverflowError{
			Provider: provider,
			Message:  fmt.Sprintf("response used %d tokens, ceiling is %d", resp.Usage.Total, tokenCeiling),
		}
	}
	return nil
}
