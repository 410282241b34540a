package adapters

// OllamaAdapter talks to Ollama's OpenAI-compatible chat endpoint.
//
// DESIGN: Reuses the OpenAI codec. Ollama needs no credential, accepts
// max_tokens instead of max_completion_tokens, has no Responses or
// Moderations endpoint, and may report usage as prompt_eval_count /
// eval_count instead of an OpenAI usage object.
type OllamaAdapter struct {
	BaseAdapter
}

// NewOllamaAdapter creates a new Ollama adapter.
func NewOllamaAdapter(name string, cfg Config) *OllamaAdapter {
	c := &openAICodec{
		provider:       ProviderOllama,
		baseURL:        cfg.baseURL("http://localhost:11434"),
		apiKey:         cfg.APIKey,
		requireKey:     false,
		maxTokensField: "max_tokens",
		chatOnly:       true,
	}
	return &OllamaAdapter{BaseAdapter: newBaseAdapter(name, ProviderOllama, cfg, c)}
}

var _ Adapter = (*OllamaAdapter)(nil)
