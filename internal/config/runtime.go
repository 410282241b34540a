// Runtime configuration: the agent loop, the conversation log, the tool
// pool and session lifetimes.
package config

import (
	"fmt"
	"time"

	"github.com/compresr/agent-runtime/internal/adapters"
	"github.com/compresr/agent-runtime/internal/memory"
	"github.com/compresr/agent-runtime/internal/orchestrator"
	"github.com/compresr/agent-runtime/internal/tools"
)

// ContextConfig is memory.Policy for use in the main Config struct.
type ContextConfig = memory.Policy

// OrchestratorConfig tunes the agent loop. Zero values take the
// orchestrator defaults.
type OrchestratorConfig struct {
	Instructions  string        `yaml:"instructions"`    // System instructions for every request
	Kind          string        `yaml:"kind"`            // deprecated, response, moderation
	Stream        bool          `yaml:"stream"`          // Request SSE streams
	NativeTools   *bool         `yaml:"native_tools"`    // Offer tool definitions (default true)
	MaxRetries    *int          `yaml:"max_retries"`     // Per request (default 2)
	RetryDelay    time.Duration `yaml:"retry_delay"`     // Between attempts
	MaxToolRounds int           `yaml:"max_tool_rounds"` // Per exchange
	TurnTimeout   time.Duration `yaml:"turn_timeout"`    // Per exchange
	TokenCeiling  int           `yaml:"token_ceiling"`   // Total tokens per response, 0 disables
}

// Validate checks the loop settings.
func (o OrchestratorConfig) Validate() error {
	switch adapters.RequestKind(o.Kind) {
	case "", adapters.KindDeprecated, adapters.KindResponse, adapters.KindModeration:
	default:
		return fmt.Errorf("orchestrator.kind: unknown request kind %q", o.Kind)
	}
	if o.MaxRetries != nil && *o.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be >= 0")
	}
	if o.RetryDelay < 0 || o.TurnTimeout < 0 {
		return fmt.Errorf("orchestrator durations must be >= 0")
	}
	if o.MaxToolRounds < 0 || o.TokenCeiling < 0 {
		return fmt.Errorf("orchestrator.max_tool_rounds and token_ceiling must be >= 0")
	}
	return nil
}

// ToolsConfig configures the tool invoker and the built-in tools.
type ToolsConfig struct {
	Workspace   string        `yaml:"workspace"`    // Root of the built-in file tools
	Builtin     *bool         `yaml:"builtin"`      // Register read_file/search_files (default true)
	Workers     int           `yaml:"workers"`      // Concurrent tool calls
	QueueSize   int           `yaml:"queue_size"`   // Pending calls before Invoke blocks
	CallTimeout time.Duration `yaml:"call_timeout"` // Per tool call, 0 disables
}

// Validate checks the tool settings.
func (t ToolsConfig) Validate() error {
	if t.Workers < 0 || t.QueueSize < 0 {
		return fmt.Errorf("tools.workers and tools.queue_size must be >= 0")
	}
	if t.CallTimeout < 0 {
		return fmt.Errorf("tools.call_timeout must be >= 0")
	}
	return nil
}

// BuiltinEnabled reports whether the workspace file tools are registered.
func (t ToolsConfig) BuiltinEnabled() bool {
	return t.Builtin == nil || *t.Builtin
}

// InvokerConfig converts the settings for tools.NewInvoker.
func (t ToolsConfig) InvokerConfig(observer tools.Observer) tools.InvokerConfig {
	return tools.InvokerConfig{
		Workers:     t.Workers,
		QueueSize:   t.QueueSize,
		CallTimeout: t.CallTimeout,
		Observer:    observer,
	}
}

// SessionsConfig bounds how long idle state is kept.
type SessionsConfig struct {
	IdleTTL     time.Duration `yaml:"idle_ttl"`     // Close sessions idle this long, 0 keeps them
	SettingsTTL time.Duration `yaml:"settings_ttl"` // Forget caller settings idle this long, 0 keeps them
}

// LoopConfig builds the orchestrator settings shared by every session.
func (c *Config) LoopConfig() orchestrator.Config {
	lc := orchestrator.DefaultConfig()
	o := c.Orchestrator

	lc.Instructions = o.Instructions
	if o.Kind != "" {
		lc.Kind = adapters.RequestKind(o.Kind)
	}
	lc.Stream = o.Stream
	if o.NativeTools != nil {
		lc.NativeTools = *o.NativeTools
	}
	if o.MaxRetries != nil {
		lc.Retry.MaxRetries = *o.MaxRetries
	}
	if o.RetryDelay > 0 {
		lc.Retry.Delay = o.RetryDelay
	}
	if o.MaxToolRounds > 0 {
		lc.MaxToolRounds = o.MaxToolRounds
	}
	if o.TurnTimeout > 0 {
		lc.TurnTimeout = o.TurnTimeout
	}
	lc.TokenCeiling = o.TokenCeiling
	if c.Context != (ContextConfig{}) {
		lc.Context = c.Context
	}
	return lc
}
