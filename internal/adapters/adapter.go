// Package adapters translates canonical requests into provider HTTP calls and
// normalizes every provider's reply into one NormalizedResponse.
//
// DESIGN: Each backend family (OpenAI, Anthropic, Gemini, Ollama, Bedrock)
// contributes a codec: endpoint, auth headers, body builder, full-body
// decoder and SSE event decoder. The shared exchange owns the HTTP round
// trip, timeouts, error classification and stream folding, so every adapter
// honors the same contract:
//
//   - missing credential → AuthError before any network call
//   - network failure / timeout → TransportError
//   - non-2xx → UpstreamError (body attached) or ContextOverflowError
//   - streamed and non-streamed replies normalize to identical values
//
// FLOW:
//  1. Orchestrator picks an adapter from the Registry
//  2. Send(ctx, req, deltas) builds and executes the request
//  3. Text deltas are pushed on the channel as they arrive; the channel is
//     closed when Send returns
//  4. Tool calls come from structured fields, else fenced ```json blocks
//
// To add a new provider: implement codec and register in NewRegistry.
package adapters

import "context"

// Adapter sends canonical requests to one provider.
// Adapters are stateless and safe for concurrent use.
type Adapter interface {
	// Name returns the adapter identifier (the config key, e.g. "openai").
	Name() string

	// Provider returns the backend family.
	Provider() Provider

	// Send executes req. When deltas is non-nil every text delta is sent on
	// it and it is closed before Send returns. Cancel ctx to abort.
	Send(ctx context.Context, req *Request, deltas chan<- string) (*NormalizedResponse, error)
}

// BaseAdapter provides common functionality for all adapters.
type BaseAdapter struct {
	name     string
	provider Provider
	x        *exchange
}

func newBaseAdapter(name string, provider Provider, cfg Config, c codec) BaseAdapter {
	if name == "" {
		name = provider.String()
	}
	return BaseAdapter{
		name:     name,
		provider: provider,
		x:        &exchange{provider: provider, cfg: cfg, codec: c},
	}
}

// Name returns the adapter name.
func (a *BaseAdapter) Name() string {
	return a.name
}

// Provider returns the provider type.
func (a *BaseAdapter) Provider() Provider {
	return a.provider
}

// Send implements Adapter.
func (a *BaseAdapter) Send(ctx context.Context, req *Request, deltas chan<- string) (*NormalizedResponse, error) {
	return a.x.send(ctx, req, deltas)
}
