// Package config loads and validates the runtime configuration.
//
// DESIGN: Configuration comes from one YAML file (the embedded default or
// --config). Server and provider settings are required and validated up
// front; loop tuning left at zero falls back to the orchestrator defaults.
//
// FILES:
//   - config.go:       Root Config struct, Load(), Validate()
//   - providers.go:    Provider entries and the adapter registry built from them
//   - runtime.go:      Orchestrator, context, tools and session settings
//   - monitoring.go:   Logging, telemetry, audit and alert settings
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the agent runtime.
type Config struct {
	Server       ServerConfig       `yaml:"server"`       // WebSocket gateway settings
	Providers    ProvidersConfig    `yaml:"providers"`    // LLM provider configurations
	Defaults     DefaultsConfig     `yaml:"defaults"`     // Provider/model for new callers
	Orchestrator OrchestratorConfig `yaml:"orchestrator"` // Agent loop tuning
	Context      ContextConfig      `yaml:"context"`      // Conversation log bounds
	Tools        ToolsConfig        `yaml:"tools"`        // Tool pool and workspace
	Sessions     SessionsConfig     `yaml:"sessions"`     // Session and settings lifetime
	Monitoring   MonitoringConfig   `yaml:"monitoring"`   // Logging, telemetry, audit
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`             // Port to listen on
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Max time to read request
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Max time to write response
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Grace period on shutdown
	RateLimit       int           `yaml:"rate_limit"`       // Requests per second per IP, 0 disables
}

// DefaultsConfig selects the provider and model new callers start with.
type DefaultsConfig struct {
	Provider string `yaml:"provider"` // Key in providers
	Model    string `yaml:"model"`    // Falls back to the provider's model
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for default values.
// Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// ExpandEnvWithDefaults expands ${VAR} and ${VAR:-default} references in s.
func ExpandEnvWithDefaults(s string) string {
	return expandEnvWithDefaults(s)
}

// Load reads configuration from a YAML file.
// Returns an error if the file doesn't exist or is invalid.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, env overrides, and validation.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployments redirect output files without editing
// the config.
func (c *Config) applyEnvOverrides() {
	if envPath := os.Getenv("AGENT_RUNTIME_TELEMETRY_LOG"); envPath != "" {
		c.Monitoring.TelemetryPath = envPath
		c.Monitoring.TelemetryEnabled = true
	}
	if envPath := os.Getenv("AGENT_RUNTIME_AUDIT_DB"); envPath != "" {
		c.Monitoring.AuditPath = envPath
		c.Monitoring.AuditEnabled = true
	}
	if level := os.Getenv("AGENT_RUNTIME_LOG_LEVEL"); level != "" {
		c.Monitoring.LogLevel = level
	}
}

func (c *Config) applyFallbacks() {
	if c.Defaults.Model == "" {
		if p, ok := c.Providers[c.Defaults.Provider]; ok {
			c.Defaults.Model = p.Model
		}
	}
	if c.Tools.Workspace == "" {
		c.Tools.Workspace = "."
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout == 0 {
		return fmt.Errorf("server.write_timeout is required")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be >= 0")
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	if err := c.Providers.Validate(); err != nil {
		return err
	}

	if c.Defaults.Provider == "" {
		return fmt.Errorf("defaults.provider is required")
	}
	if _, ok := c.Providers[c.Defaults.Provider]; !ok {
		return fmt.Errorf("defaults.provider %q is not configured under providers", c.Defaults.Provider)
	}
	if c.Defaults.Model == "" {
		return fmt.Errorf("defaults.model is required (or set providers.%s.model)", c.Defaults.Provider)
	}

	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.Context.Validate(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := c.Tools.Validate(); err != nil {
		return err
	}
	if c.Sessions.IdleTTL < 0 || c.Sessions.SettingsTTL < 0 {
		return fmt.Errorf("sessions ttl values must be >= 0")
	}

	return c.Monitoring.Validate()
}
