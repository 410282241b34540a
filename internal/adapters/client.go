package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"
)

const (
	// DefaultTimeout for one provider call.
	DefaultTimeout = 60 * time.Second

	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error body in error messages to avoid log bloat.
	maxErrorBodyLen = 500
)

// Config holds the connection settings of one provider adapter.
type Config struct {
	BaseURL    string
	APIKey     string
	Region     string            // Bedrock only
	Timeout    time.Duration     // Per-call timeout, DefaultTimeout when zero
	Extra      map[string]any    // Extra body fields, keys are sjson paths
	Headers    map[string]string // Extra request headers
	HTTPClient *http.Client
	Tokens     TokenCounter
}

func (c Config) baseURL(def string) string {
	if c.BaseURL == "" {
		return def
	}
	return strings.TrimRight(c.BaseURL, "/")
}

// codec is the provider-specific half of an adapter: body shape, endpoint,
// auth headers and response decoding.
type codec interface {
	checkAuth() error
	endpoint(req *Request, stream bool) string
	authorize(h http.Header)
	buildBody(req *Request, maxTokens int, stream bool) ([]byte, error)
	decode(req *Request, body []byte) (*NormalizedResponse, error)
	streams(req *Request) bool
	newStream(req *Request) streamDecoder
}

// streamDecoder folds SSE payloads into a streamState.
type streamDecoder interface {
	// event consumes one data payload and returns the text delta it carries.
	event(data []byte) (string, error)
	finish() *NormalizedResponse
}

// exchange executes a canonical request through a codec.
//
// FLOW:
//  1. Validate request, check credential (AuthError before any network call)
//  2. Count prompt tokens, compute the output budget
//  3. Build body, merge configured extra fields
//  4. POST with per-call timeout
//  5. Non-2xx → classified error; stream → SSE fold; else decode body
//  6. Finalize tool calls, validate content invariant
type exchange struct {
	provider Provider
	cfg      Config
	codec    codec
}

func (x *exchange) client() *http.Client {
	if x.cfg.HTTPClient != nil {
		return x.cfg.HTTPClient
	}
	return &http.Client{} // timeout via context, not client
}

func (x *exchange) tokens() TokenCounter {
	if x.cfg.Tokens != nil {
		return x.cfg.Tokens
	}
	return EstimateCounter{}
}

// send performs one request. deltas, when non-nil, receives every text delta
// and is closed before send returns.
func (x *exchange) send(ctx context.Context, req *Request, deltas chan<- string) (*NormalizedResponse, error) {
	if deltas != nil {
		defer close(deltas)
	}
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s request: %w", x.provider, err)
	}
	if err := x.codec.checkAuth(); err != nil {
		return nil, err
	}

	promptTokens := x.tokens().Count(req.Model, req.Instructions+"\n"+req.Content)
	maxTokens := OutputBudget(req.Model, promptTokens)
	stream := req.Stream && deltas != nil && x.codec.streams(req)

	body, err := x.codec.buildBody(req, maxTokens, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", x.provider, err)
	}
	if body, err = mergeExtra(body, x.cfg.Extra); err != nil {
		return nil, fmt.Errorf("failed to merge %s extra fields: %w", x.provider, err)
	}

	timeout := x.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, x.codec.endpoint(req, stream), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", x.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	x.codec.authorize(httpReq.Header)
	for k, v := range x.cfg.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := x.client().Do(httpReq)
	if err != nil {
		return nil, x.transportErr(ctx, callCtx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
		return nil, classifyStatus(x.provider, httpResp.StatusCode, errBody)
	}

	var resp *NormalizedResponse
	if stream {
		resp, err = x.readStream(ctx, callCtx, req, httpResp.Body, deltas)
	} else {
		resp, err = x.readBody(ctx, callCtx, req, httpResp.Body, deltas)
	}
	if err != nil {
		return nil, err
	}

	if err := resp.Validate(x.provider); err != nil {
		return nil, err
	}

	log.Debug().
		Str("provider", x.provider.String()).
		Str("model", resp.Model).
		Bool("stream", stream).
		Str("finish", string(resp.FinishReason)).
		Int("tool_calls", len(resp.ToolCalls)).
		Int("max_tokens", maxTokens).
		Int("total_tokens", resp.Usage.Total).
		Dur("latency", time.Since(start)).
		Msg("provider response")

	return resp, nil
}

func (x *exchange) readBody(ctx, callCtx context.Context, req *Request, r io.Reader, deltas chan<- string) (*NormalizedResponse, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxResponseSize))
	if err != nil {
		return nil, x.transportErr(ctx, callCtx, err)
	}
	resp, err := x.codec.decode(req, raw)
	if err != nil {
		var ce *ContextOverflowError
		var ue *UpstreamError
		if errors.As(err, &ce) || errors.As(err, &ue) {
			return nil, err
		}
		return nil, &UpstreamError{Provider: x.provider, Message: fmt.Sprintf("malformed response body: %v", err)}
	}
	resp.Raw = raw
	finalize(resp, req)

	// Non-streamed content is delivered as one delta when a consumer listens.
	if deltas != nil && resp.Content != "" {
		if err := emit(ctx, deltas, resp.Content); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func (x *exchange) readStream(ctx, callCtx context.Context, req *Request, r io.Reader, deltas chan<- string) (*NormalizedResponse, error) {
	dec := x.codec.newStream(req)
	events := 0

	err := readSSE(r, func(data []byte) error {
		events++
		delta, err := dec.event(data)
		if err != nil {
			return err
		}
		if delta != "" {
			return emit(ctx, deltas, delta)
		}
		return nil
	})
	if err != nil {
		var ce *ContextOverflowError
		var ue *UpstreamError
		if errors.As(err, &ce) || errors.As(err, &ue) {
			return nil, err
		}
		return nil, x.transportErr(ctx, callCtx, err)
	}
	if events == 0 {
		return nil, &UpstreamError{Provider: x.provider, Message: "no content received"}
	}

	resp := dec.finish()
	finalize(resp, req)
	return resp, nil
}

// transportErr keeps caller cancellation distinct from our own timeout.
func (x *exchange) transportErr(ctx, callCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return &TransportError{Provider: x.provider, Timeout: true, Err: err}
	}
	return &TransportError{Provider: x.provider, Err: err}
}

func emit(ctx context.Context, deltas chan<- string, s string) error {
	select {
	case deltas <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mergeExtra sets configured fields on the built body. Keys are applied in
// sorted order so nested paths are deterministic.
func mergeExtra(body []byte, extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return body, nil
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		body, err = sjson.SetBytes(body, k, extra[k])
		if err != nil {
			return nil, fmt.Errorf("extra field %q: %w", k, err)
		}
	}
	return body, nil
}

func missingKey(provider Provider, key string) error {
	if key == "" {
		return &AuthError{Provider: provider, Message: "API key not configured"}
	}
	return nil
}
