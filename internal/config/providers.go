// Provider configuration.
//
// DESIGN: Providers are keyed by name. The name doubles as the provider
// family unless type says otherwise, so two entries can point at the same
// backend family (e.g. "ollama" and "ollama-gpu"). Credentials may be empty
// here; a missing credential surfaces as an AuthError on first use.
package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/compresr/agent-runtime/internal/adapters"
)

// ProviderConfig holds one provider's connection settings.
type ProviderConfig struct {
	Type    string            `yaml:"type"`     // openai, anthropic, gemini, ollama, bedrock; defaults to the key
	BaseURL string            `yaml:"base_url"` // Override the provider's default base URL
	APIKey  string            `yaml:"api_key"`  // Usually ${ENV_VAR}
	Model   string            `yaml:"model"`    // Model used when this provider is selected
	Region  string            `yaml:"region"`   // Bedrock only
	Timeout time.Duration     `yaml:"timeout"`  // Per-call timeout
	Extra   map[string]any    `yaml:"extra"`    // Extra body fields (sjson paths)
	Headers map[string]string `yaml:"headers"`  // Extra request headers
}

// ProvidersConfig maps provider names to their settings.
type ProvidersConfig map[string]ProviderConfig

// Family resolves the backend family of the entry called name.
func (p ProviderConfig) Family(name string) adapters.Provider {
	if p.Type != "" {
		return adapters.Provider(p.Type)
	}
	return adapters.Provider(name)
}

// AdapterConfig converts the entry into adapter connection settings.
func (p ProviderConfig) AdapterConfig() adapters.Config {
	return adapters.Config{
		BaseURL: p.BaseURL,
		APIKey:  p.APIKey,
		Region:  p.Region,
		Timeout: p.Timeout,
		Extra:   p.Extra,
		Headers: p.Headers,
	}
}

// Validate checks every provider entry.
func (pc ProvidersConfig) Validate() error {
	for _, name := range pc.Names() {
		p := pc[name]
		switch p.Family(name) {
		case adapters.ProviderOpenAI, adapters.ProviderAnthropic, adapters.ProviderGemini,
			adapters.ProviderOllama, adapters.ProviderBedrock:
		default:
			return fmt.Errorf("providers.%s: unknown type %q", name, p.Family(name))
		}
		if p.Timeout < 0 {
			return fmt.Errorf("providers.%s.timeout must be >= 0", name)
		}
	}
	return nil
}

// Names returns the configured provider names, sorted.
func (pc ProvidersConfig) Names() []string {
	names := make([]string, 0, len(pc))
	for name := range pc {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry creates one adapter per provider entry. The adapters share
// one tiktoken counter, so each encoding is loaded once per process.
func (pc ProvidersConfig) BuildRegistry() (*adapters.Registry, error) {
	reg := adapters.NewRegistry()
	tokens := adapters.NewTiktokenCounter()
	for _, name := range pc.Names() {
		p := pc[name]
		ac := p.AdapterConfig()
		ac.Tokens = tokens
		a, err := adapters.New(p.Family(name), name, ac)
		if err != nil {
			return nil, fmt.Errorf("providers.%s: %w", name, err)
		}
		reg.Register(a)
	}
	return reg, nil
}
