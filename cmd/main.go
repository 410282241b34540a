// Package main is the entry point for the agent runtime.
//
// COMMANDS:
//   - chat (default): interactive REPL driving the orchestrator
//   - serve:          JSON-RPC tool server over stdio
//   - serve-ws:       JSON-RPC tool server over WebSocket
//   - version, help
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-runtime/internal/config"
	"github.com/compresr/agent-runtime/internal/gateway"
	"github.com/compresr/agent-runtime/internal/monitoring"
)

const appName = "agent-runtime"

// loadEnvFiles loads .env from standard locations
func loadEnvFiles() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		_ = godotenv.Load()
		return
	}

	// Try loading from ~/.config/agent-runtime/.env first
	configEnv := filepath.Join(homeDir, ".config", appName, ".env")
	if _, err := os.Stat(configEnv); err == nil {
		_ = godotenv.Load(configEnv)
	}

	// Also load local .env; godotenv never overrides variables already set
	_ = godotenv.Load()
}

func main() {
	cmd, args := "chat", os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "chat", "serve", "serve-ws":
			cmd, args = args[0], args[1:]
		case "version", "-v", "--version":
			PrintVersion()
			return
		case "help", "-h", "--help":
			printHelp(os.Stdout)
			return
		}
	}

	if err := run(cmd, args); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s: %v\n", appName, cmd, err)
		os.Exit(1)
	}
}

// options are the flags shared by every command.
type options struct {
	configPath string
	debug      bool
	workspace  string
}

func parseFlags(cmd string, args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to config file or embedded config name")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	fs.StringVar(&opts.workspace, "workspace", "", "root directory for the file tools")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}
	return opts, nil
}

func run(cmd string, args []string) error {
	opts, err := parseFlags(cmd, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	loadEnvFiles()

	cfg, source, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Monitoring.LoggerConfig(), opts.debug, cmd == "chat")
	logger.Info().
		Str("version", Version).
		Str("config", source).
		Str("command", cmd).
		Msg("agent runtime starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		rt, err := newRuntime(cfg, logger, false)
		if err != nil {
			return err
		}
		defer rt.Close()
		return ignoreCanceled(runServe(ctx, rt, os.Stdin, os.Stdout))

	case "serve-ws":
		rt, err := newRuntime(cfg, logger, false)
		if err != nil {
			return err
		}
		defer rt.Close()
		return runGateway(ctx, rt)

	default:
		rt, err := newRuntime(cfg, logger, true)
		if err != nil {
			return err
		}
		defer rt.Close()
		return ignoreCanceled(runChat(ctx, rt, os.Stdin, os.Stdout))
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// =============================================================================
// CONFIG
// =============================================================================

// resolveConfig resolves the config to load.
// Checks: user flag -> filesystem locations -> embedded default.
// Returns raw bytes and source description.
func resolveConfig(userConfig string) ([]byte, string, error) {
	// A user flag is a file path or the name of an embedded config
	if userConfig != "" {
		if data, err := os.ReadFile(userConfig); err == nil {
			return data, userConfig, nil
		}
		if names, err := listEmbeddedConfigs(); err == nil && slices.Contains(names, userConfig) {
			data, err := getEmbeddedConfig(userConfig)
			if err != nil {
				return nil, "", err
			}
			return data, "(embedded) " + userConfig + ".yaml", nil
		}
		return nil, "", fmt.Errorf("config file not found: %s", userConfig)
	}

	homeDir, _ := os.UserHomeDir()

	// Search filesystem in order of preference
	searchPaths := []string{}
	if homeDir != "" {
		searchPaths = append(searchPaths, filepath.Join(homeDir, ".config", appName, "config.yaml"))
	}
	searchPaths = append(searchPaths, filepath.Join("configs", "config.yaml"))

	for _, path := range searchPaths {
		if data, err := os.ReadFile(path); err == nil {
			return data, path, nil
		}
	}

	// Fall back to embedded config
	data, err := getEmbeddedConfig("default")
	if err != nil {
		return nil, "", fmt.Errorf("no config file found. Specify --config path")
	}
	return data, "(embedded) default.yaml", nil
}

// loadConfig resolves, parses and validates the config, then applies the
// command-line overrides.
func loadConfig(opts options) (*config.Config, string, error) {
	data, source, err := resolveConfig(opts.configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadFromBytes(data)
	if err != nil {
		return nil, source, fmt.Errorf("load %s: %w", source, err)
	}
	if opts.workspace != "" {
		cfg.Tools.Workspace = opts.workspace
	}
	if opts.debug {
		cfg.Monitoring.LogLevel = "debug"
	}
	return cfg, source, nil
}

// =============================================================================
// LOGGING
// =============================================================================

// setupLogging configures the global zerolog logger. stdout belongs to the
// REPL or the stdio protocol, so logs that would go there go to stderr.
// quiet keeps only warnings and errors, so the REPL stays readable.
func setupLogging(cfg monitoring.LoggerConfig, debug, quiet bool) *monitoring.Logger {
	if cfg.Output == "" || cfg.Output == "stdout" {
		cfg.Output = "stderr"
	}
	if cfg.Format == "" {
		cfg.Format = "console"
	}
	logger := monitoring.Global(cfg)

	// Set log level
	switch {
	case debug:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case quiet:
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	}
	return logger
}

// =============================================================================
// SERVERS
// =============================================================================

// runServe serves the tool registry over line-delimited JSON-RPC until in
// is exhausted or ctx ends.
func runServe(ctx context.Context, rt *agentRuntime, in io.Reader, out io.Writer) error {
	log.Info().Strs("tools", rt.invoker.Registry().Names()).Msg("serving JSON-RPC on stdio")
	return rt.dispatcher.Serve(ctx, in, out)
}

// runGateway serves the tool registry over WebSocket until ctx ends.
func runGateway(ctx context.Context, rt *agentRuntime) error {
	gw := gateway.New(rt.cfg.Server, rt.dispatcher, rt.monitor)

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	timeout := rt.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = gateway.DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown error")
		return err
	}
	if err := <-errCh; err != nil {
		return err
	}
	log.Info().Dur("grace", timeout).Msg("agent runtime stopped")
	return nil
}

// printHelp prints usage information
func printHelp(w io.Writer) {
	fmt.Fprintf(w, `%[1]s %[2]s - LLM agent runtime with a local tool server

Usage:
  %[1]s [command] [options]

Commands:
  chat         Interactive agent session (default)
  serve        Serve tools as JSON-RPC over stdio
  serve-ws     Serve tools as JSON-RPC over WebSocket (/mcp)
  version      Print version information
  help         Show this help message

Options:
  --config FILE     Config file or embedded config name (default: search, then embedded)
  --workspace DIR   Root directory for the file tools
  --debug           Enable debug logging

Chat commands:
  /model NAME       Use another model
  /provider [NAME]  Use another provider (menu when NAME is omitted)
  /settings         Show the current provider and model
  /quit             Leave the session

Config is searched in ~/.config/%[1]s/config.yaml and ./configs/config.yaml.
Credentials are read from the environment, ~/.config/%[1]s/.env and ./.env.
`, appName, Version)
}
