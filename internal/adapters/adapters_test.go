package adapters_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/compresr/agent-runtime/internal/adapters"
)

// =============================================================================
// HELPERS
// =============================================================================

// fakeProvider serves one JSON body for plain requests and an SSE body for
// requests whose JSON has "stream": true (or whose path asks for alt=sse).
type fakeProvider struct {
	full   string
	events []string
	status int
	hits   atomic.Int32
	last   atomic.Value // last request body
	header atomic.Value // last request headers
}

func (f *fakeProvider) handler(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	body, _ := io.ReadAll(r.Body)
	f.last.Store(body)
	f.header.Store(r.Header.Clone())

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(f.full))
		return
	}

	stream := gjson.GetBytes(body, "stream").Bool() || r.URL.Query().Get("alt") == "sse"
	if !stream {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(f.full))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, ev := range f.events {
		_, _ = w.Write([]byte(ev + "\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (f *fakeProvider) lastBody() []byte {
	b, _ := f.last.Load().([]byte)
	return b
}

func newFake(t *testing.T, f *fakeProvider) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return srv
}

// sendStreaming sends with a draining consumer and returns the deltas seen.
func sendStreaming(t *testing.T, a adapters.Adapter, req *adapters.Request) (*adapters.NormalizedResponse, []string, error) {
	t.Helper()
	deltas := make(chan string)
	var got []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range deltas {
			got = append(got, d)
		}
	}()
	resp, err := a.Send(context.Background(), req, deltas)
	<-done
	return resp, got, err
}

func stripRaw(r *adapters.NormalizedResponse) adapters.NormalizedResponse {
	out := *r
	out.Raw = nil
	return out
}

// =============================================================================
// STREAMING / NON-STREAMING EQUIVALENCE
// =============================================================================

func TestOpenAIChat_StreamMatchesFullBody(t *testing.T) {
	f := &fakeProvider{
		full: `{"id":"c1","model":"gpt-4o","choices":[{"message":{"role":"assistant","content":"Hello world"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		events: []string{
			`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"},"finish_reason":null}]}`,
			`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"lo wo"},"finish_reason":null}]}`,
			`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{"content":"rld"},"finish_reason":null}]}`,
			`data: {"id":"c1","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			`data: {"id":"c1","model":"gpt-4o","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
			`data: [DONE]`,
		},
	}
	srv := newFake(t, f)
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "sk-test"})

	full, err := a.Send(context.Background(), &adapters.Request{Content: "hi", Model: "gpt-4o"}, nil)
	require.NoError(t, err)

	streamed, deltas, err := sendStreaming(t, a, &adapters.Request{Content: "hi", Model: "gpt-4o", Stream: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo wo", "rld"}, deltas)
	assert.Equal(t, "Hello world", streamed.Content)
	assert.Equal(t, stripRaw(full), stripRaw(streamed))
	assert.Equal(t, adapters.FinishStop, streamed.FinishReason)
	assert.Equal(t, adapters.TokenUsage{Input: 5, Output: 2, Total: 7}, streamed.Usage)
}

func TestOpenAIChat_StreamedToolCallsAssembled(t *testing.T) {
	f := &fakeProvider{
		full: `{"id":"c2","model":"gpt-4o","choices":[{"message":{"content":null,"tool_calls":[` +
			`{"id":"call_a","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.go\"}"}},` +
			`{"id":"call_b","type":"function","function":{"name":"search_files","arguments":"{\"pattern\":\"TODO\"}"}}]},` +
			`"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`,
		events: []string{
			`data: {"id":"c2","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","function":{"name":"read_file","arguments":""}}]}}]}`,
			`data: {"id":"c2","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"path\":"}}]}}]}`,
			`data: {"id":"c2","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","function":{"name":"search_files","arguments":"{\"pattern\":\"TODO\"}"}}]}}]}`,
			`data: {"id":"c2","model":"gpt-4o","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"a.go\"}"}}]}}]}`,
			`data: {"id":"c2","model":"gpt-4o","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}],"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`,
			`data: [DONE]`,
		},
	}
	srv := newFake(t, f)
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "sk-test"})

	full, err := a.Send(context.Background(), &adapters.Request{Content: "go", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	streamed, _, err := sendStreaming(t, a, &adapters.Request{Content: "go", Model: "gpt-4o", Stream: true})
	require.NoError(t, err)

	require.Len(t, streamed.ToolCalls, 2)
	assert.Equal(t, "read_file", streamed.ToolCalls[0].Name)
	assert.JSONEq(t, `{"path":"a.go"}`, string(streamed.ToolCalls[0].Arguments))
	assert.Equal(t, "search_files", streamed.ToolCalls[1].Name)
	assert.Equal(t, adapters.FinishToolCalls, streamed.FinishReason)
	assert.Equal(t, stripRaw(full), stripRaw(streamed))
}

func TestAnthropic_StreamMatchesFullBody(t *testing.T) {
	f := &fakeProvider{
		full: `{"id":"msg_1","model":"claude-sonnet-4-5","content":[{"type":"text","text":"Reading file"},` +
			`{"type":"tool_use","id":"tu_1","name":"read_file","input":{"path":"a.txt"}}],` +
			`"stop_reason":"tool_use","usage":{"input_tokens":10,"output_tokens":12}}`,
		events: []string{
			"event: message_start\n" + `data: {"type":"message_start","message":{"id":"msg_1","model":"claude-sonnet-4-5","usage":{"input_tokens":10,"output_tokens":1}}}`,
			`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Reading "}}`,
			`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"file"}}`,
			`data: {"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"tu_1","name":"read_file","input":{}}}`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`,
			`data: {"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"a.txt\"}"}}`,
			`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":12}}`,
			`data: {"type":"message_stop"}`,
		},
	}
	srv := newFake(t, f)
	a := adapters.NewAnthropicAdapter("anthropic", adapters.Config{BaseURL: srv.URL, APIKey: "key"})

	full, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "claude-sonnet-4-5"}, nil)
	require.NoError(t, err)
	streamed, deltas, err := sendStreaming(t, a, &adapters.Request{Content: "x", Model: "claude-sonnet-4-5", Stream: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"Reading ", "file"}, deltas)
	assert.Equal(t, stripRaw(full), stripRaw(streamed))
	assert.Equal(t, adapters.TokenUsage{Input: 10, Output: 12, Total: 22}, streamed.Usage)

	hdr := f.header.Load().(http.Header)
	assert.Equal(t, "key", hdr.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", hdr.Get("anthropic-version"))
}

func TestGemini_StreamMatchesFullBody(t *testing.T) {
	f := &fakeProvider{
		full: `{"candidates":[{"content":{"parts":[{"text":"Hi there"}],"role":"model"},"finishReason":"STOP"}],` +
			`"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5},"modelVersion":"gemini-2.5-flash","responseId":"r1"}`,
		events: []string{
			`data: {"candidates":[{"content":{"parts":[{"text":"Hi "}],"role":"model"}}],"modelVersion":"gemini-2.5-flash","responseId":"r1"}`,
			`data: {"candidates":[{"content":{"parts":[{"text":"there"}],"role":"model"},"finishReason":"STOP"}],` +
				`"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":2,"totalTokenCount":5},"modelVersion":"gemini-2.5-flash","responseId":"r1"}`,
		},
	}
	srv := newFake(t, f)
	a := adapters.NewGeminiAdapter("gemini", adapters.Config{BaseURL: srv.URL, APIKey: "g"})

	full, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "gemini-2.5-flash"}, nil)
	require.NoError(t, err)
	streamed, _, err := sendStreaming(t, a, &adapters.Request{Content: "x", Model: "gemini-2.5-flash", Stream: true})
	require.NoError(t, err)

	assert.Equal(t, "Hi there", streamed.Content)
	assert.Equal(t, stripRaw(full), stripRaw(streamed))
}

func TestGemini_MalformedFunctionCallIsNotAnError(t *testing.T) {
	f := &fakeProvider{full: `{"candidates":[{"content":{"parts":[]},"finishReason":"MALFORMED_FUNCTION_CALL"}]}`}
	srv := newFake(t, f)
	a := adapters.NewGeminiAdapter("gemini", adapters.Config{BaseURL: srv.URL, APIKey: "g"})

	resp, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "gemini-2.5-pro"}, nil)
	require.NoError(t, err)
	assert.Equal(t, adapters.FinishMalformedFunctionCall, resp.FinishReason)
	assert.Empty(t, resp.Content)
	assert.Equal(t, "gemini-2.5-pro", resp.Model)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestSend_MissingKeyFailsBeforeNetwork(t *testing.T) {
	f := &fakeProvider{full: `{}`}
	srv := newFake(t, f)

	for _, a := range []adapters.Adapter{
		adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL}),
		adapters.NewAnthropicAdapter("anthropic", adapters.Config{BaseURL: srv.URL}),
		adapters.NewGeminiAdapter("gemini", adapters.Config{BaseURL: srv.URL}),
	} {
		_, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "m"}, nil)
		var authErr *adapters.AuthError
		require.ErrorAs(t, err, &authErr, a.Name())
		assert.False(t, adapters.IsRetryable(err))
	}
	assert.Equal(t, int32(0), f.hits.Load())
}

func TestSend_ClosesDeltasOnError(t *testing.T) {
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: "http://127.0.0.1:1"})
	deltas := make(chan string, 1)
	_, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "m", Stream: true}, deltas)
	require.Error(t, err)

	_, open := <-deltas
	assert.False(t, open)
}

func TestSend_StatusClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"server error", 500, `{"error":"boom"}`, func(t *testing.T, err error) {
			var ue *adapters.UpstreamError
			require.ErrorAs(t, err, &ue)
			assert.Equal(t, 500, ue.StatusCode)
			assert.Contains(t, ue.Body, "boom")
			assert.True(t, adapters.IsRetryable(err))
		}},
		{"unauthorized", 401, `bad key`, func(t *testing.T, err error) {
			var ae *adapters.AuthError
			require.ErrorAs(t, err, &ae)
		}},
		{"too large", 413, `payload`, func(t *testing.T, err error) {
			var ce *adapters.ContextOverflowError
			require.ErrorAs(t, err, &ce)
			assert.True(t, adapters.IsContextPressure(err))
		}},
		{"context length", 400, `{"error":{"code":"context_length_exceeded"}}`, func(t *testing.T, err error) {
			var ce *adapters.ContextOverflowError
			require.ErrorAs(t, err, &ce)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newFake(t, &fakeProvider{status: tt.status, full: tt.body})
			a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "k"})
			_, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "gpt-4o"}, nil)
			tt.check(t, err)
		})
	}
}

func TestSend_TimeoutIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "k", Timeout: 30 * time.Millisecond})
	_, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "gpt-4o"}, nil)

	var te *adapters.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Timeout)
	assert.True(t, adapters.IsRetryable(err))
}

func TestSend_CallerCancellationIsNotTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request context only ends on client disconnect once the body is consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := a.Send(ctx, &adapters.Request{Content: "x", Model: "gpt-4o"}, nil)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestStream_ZeroEventsIsUpstreamError(t *testing.T) {
	f := &fakeProvider{events: []string{": keep-alive", "data: [DONE]"}}
	srv := newFake(t, f)
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "k"})

	_, _, err := sendStreaming(t, a, &adapters.Request{Content: "x", Model: "gpt-4o", Stream: true})
	var ue *adapters.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Error(), "no content received")
}

func TestStream_InBandErrorEvent(t *testing.T) {
	f := &fakeProvider{events: []string{
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`,
	}}
	srv := newFake(t, f)
	a := adapters.NewAnthropicAdapter("anthropic", adapters.Config{BaseURL: srv.URL, APIKey: "k"})

	_, _, err := sendStreaming(t, a, &adapters.Request{Content: "x", Model: "claude-haiku-4-5", Stream: true})
	var ue *adapters.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Error(), "Overloaded")
}

// =============================================================================
// REQUEST BODIES
// =============================================================================

func TestOpenAIResponses_ChainsPreviousTurn(t *testing.T) {
	f := &fakeProvider{full: `{"id":"resp_2","model":"gpt-4.1","status":"completed",` +
		`"output":[{"type":"message","content":[{"type":"output_text","text":"done"}]}],` +
		`"usage":{"input_tokens":4,"output_tokens":1,"total_tokens":5}}`}
	srv := newFake(t, f)
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "k"})

	resp, err := a.Send(context.Background(), &adapters.Request{
		Content:        "next",
		Model:          "gpt-4.1",
		Kind:           adapters.KindResponse,
		Instructions:   "be brief",
		PreviousTurnID: "resp_1",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, "resp_2", resp.ID)

	body := f.lastBody()
	assert.Equal(t, "resp_1", gjson.GetBytes(body, "previous_response_id").String())
	assert.Equal(t, "be brief", gjson.GetBytes(body, "instructions").String())
	assert.Equal(t, "next", gjson.GetBytes(body, "input").String())
	assert.Positive(t, gjson.GetBytes(body, "max_output_tokens").Int())
}

func TestOpenAIModeration(t *testing.T) {
	f := &fakeProvider{full: `{"id":"modr-1","model":"omni-moderation-latest","results":[{"flagged":true,"categories":{"violence":true,"harassment":true,"sexual":false}}]}`}
	srv := newFake(t, f)
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "k"})

	resp, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "omni-moderation-latest", Kind: adapters.KindModeration}, nil)
	require.NoError(t, err)
	assert.Equal(t, "flagged: harassment, violence", resp.Content)
	assert.Equal(t, adapters.FinishContentFilter, resp.FinishReason)
}

func TestSend_ExtraFieldsMerged(t *testing.T) {
	f := &fakeProvider{full: `{"id":"c","model":"m","choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`}
	srv := newFake(t, f)
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{
		BaseURL: srv.URL,
		APIKey:  "k",
		Extra:   map[string]any{"temperature": 0.2, "metadata.team": "core"},
	})

	_, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	body := f.lastBody()
	assert.Equal(t, 0.2, gjson.GetBytes(body, "temperature").Float())
	assert.Equal(t, "core", gjson.GetBytes(body, "metadata.team").String())
}

func TestSend_OutputBudgetInBody(t *testing.T) {
	f := &fakeProvider{full: `{"id":"m","model":"claude-3-5-haiku","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn"}`}
	srv := newFake(t, f)
	a := adapters.NewAnthropicAdapter("anthropic", adapters.Config{BaseURL: srv.URL, APIKey: "k", Tokens: adapters.EstimateCounter{}})

	prompt := strings.Repeat("abcd", 1000) // 1000 tokens by estimate
	_, err := a.Send(context.Background(), &adapters.Request{Content: prompt, Model: "claude-3-5-haiku-latest"}, nil)
	require.NoError(t, err)

	want := adapters.OutputBudget("claude-3-5-haiku-latest", adapters.EstimateTokens("\n"+prompt))
	assert.Equal(t, int64(want), gjson.GetBytes(f.lastBody(), "max_tokens").Int())
}

func TestOllama_NoKeyAndNativeUsage(t *testing.T) {
	f := &fakeProvider{full: `{"id":"o1","model":"llama3","choices":[{"message":{"content":"hey"},"finish_reason":"stop"}],"prompt_eval_count":8,"eval_count":3}`}
	srv := newFake(t, f)
	a := adapters.NewOllamaAdapter("ollama", adapters.Config{BaseURL: srv.URL})

	resp, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "llama3", Kind: adapters.KindResponse}, nil)
	require.NoError(t, err)
	assert.Equal(t, adapters.TokenUsage{Input: 8, Output: 3, Total: 11}, resp.Usage)
	assert.True(t, gjson.GetBytes(f.lastBody(), "max_tokens").Exists())
	assert.Equal(t, adapters.ProviderOllama, a.Provider())
}

func TestBedrock_SignsRequest(t *testing.T) {
	f := &fakeProvider{full: `{"id":"msg_b","model":"claude","content":[{"type":"text","text":"signed"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`}
	srv := newFake(t, f)

	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIDTEST", SecretAccessKey: "secret", Source: "test"}, nil
	})
	a := adapters.NewBedrockAdapterWithCredentials("bedrock", adapters.Config{BaseURL: srv.URL, Region: "us-west-2"}, creds)

	resp, _, err := sendStreaming(t, a, &adapters.Request{Content: "x", Model: "anthropic.claude-3-5-sonnet-20241022-v2:0", Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "signed", resp.Content)

	hdr := f.header.Load().(http.Header)
	assert.True(t, strings.HasPrefix(hdr.Get("Authorization"), "AWS4-HMAC-SHA256"))
	assert.Contains(t, hdr.Get("Authorization"), "us-west-2/bedrock")
	assert.Equal(t, "bedrock-2023-05-31", gjson.GetBytes(f.lastBody(), "anthropic_version").String())
	assert.False(t, gjson.GetBytes(f.lastBody(), "model").Exists())
}

func TestBedrock_MissingCredentialsIsAuthError(t *testing.T) {
	f := &fakeProvider{full: `{}`}
	srv := newFake(t, f)
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{}, errors.New("no credentials")
	})
	a := adapters.NewBedrockAdapterWithCredentials("bedrock", adapters.Config{BaseURL: srv.URL}, creds)

	_, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "anthropic.claude"}, nil)
	var ae *adapters.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, int32(0), f.hits.Load())
}

// =============================================================================
// TOOL CALL EXTRACTION
// =============================================================================

func TestExtractFencedToolCalls_CollectsEveryBlock(t *testing.T) {
	text := "I will do two things.\n" +
		"```json\n{\"tool\":\"read_file\",\"arguments\":{\"path\":\"a.go\"}}\n```\n" +
		"then\n" +
		"```json\n[{\"tool\":\"search_files\",\"arguments\":{\"pattern\":\"x\"}},{\"note\":\"ignored\"}]\n```\n" +
		"```\n{\"not\":\"a call\"}\n```"

	calls := adapters.ExtractFencedToolCalls(text)
	require.Len(t, calls, 2)
	assert.Equal(t, "read_file", calls[0].Name)
	assert.JSONEq(t, `{"path":"a.go"}`, string(calls[0].Arguments))
	assert.Equal(t, "search_files", calls[1].Name)
}

func TestFencedToolCallsFromTextResponse(t *testing.T) {
	content := "Running it.\n```json\n{\"tool\":\"shell\",\"arguments\":{\"command\":[\"ls -la | wc -l\"]}}\n```"
	raw, _ := json.Marshal(content)
	f := &fakeProvider{full: `{"id":"c","model":"gpt-4o","choices":[{"message":{"content":` + string(raw) + `},"finish_reason":"stop"}]}`}
	srv := newFake(t, f)
	a := adapters.NewOpenAIAdapter("openai", adapters.Config{BaseURL: srv.URL, APIKey: "k"})

	resp, err := a.Send(context.Background(), &adapters.Request{Content: "x", Model: "gpt-4o"}, nil)
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "shell", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"command":"ls -la | wc -l"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, adapters.FinishToolCalls, resp.FinishReason)
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := adapters.NewRegistry()
	first, err := adapters.New(adapters.ProviderOpenAI, "main", adapters.Config{})
	require.NoError(t, err)
	second, err := adapters.New(adapters.ProviderAnthropic, "main", adapters.Config{})
	require.NoError(t, err)

	r.Register(first)
	r.Register(second)

	got, ok := r.Get("main")
	require.True(t, ok)
	assert.Equal(t, adapters.ProviderAnthropic, got.Provider())
	assert.Equal(t, []string{"main"}, r.Names())

	_, err = adapters.New("nope", "x", adapters.Config{})
	assert.Error(t, err)
}
