package main

import (
	"fmt"

	"github.com/compresr/agent-runtime/internal/adapters"
	"github.com/compresr/agent-runtime/internal/config"
	"github.com/compresr/agent-runtime/internal/mcp"
	"github.com/compresr/agent-runtime/internal/monitoring"
	"github.com/compresr/agent-runtime/internal/orchestrator"
	"github.com/compresr/agent-runtime/internal/store"
	"github.com/compresr/agent-runtime/internal/tools"
	"github.com/compresr/agent-runtime/internal/tools/builtin"
)

// agentRuntime holds the components one command runs on. The agent half
// (adapters, settings, sessions) is only built for chat.
type agentRuntime struct {
	cfg        *config.Config
	monitor    *monitoring.Monitor
	invoker    *tools.Invoker
	dispatcher *mcp.Dispatcher

	adapters *adapters.Registry
	settings *store.MemoryStore
	manager  *orchestrator.Manager
}

// newRuntime wires the tool server and, when withAgent is set, the
// orchestrator on top of it.
func newRuntime(cfg *config.Config, logger *monitoring.Logger, withAgent bool) (*agentRuntime, error) {
	mon, err := monitoring.NewMonitor(logger,
		cfg.Monitoring.TelemetryConfig(),
		cfg.Monitoring.AuditConfig(),
		cfg.Monitoring.AlertConfig())
	if err != nil {
		return nil, fmt.Errorf("monitoring: %w", err)
	}

	registry := tools.NewRegistry()
	if cfg.Tools.BuiltinEnabled() {
		if err := builtin.Register(registry, cfg.Tools.Workspace); err != nil {
			mon.Close()
			return nil, fmt.Errorf("builtin tools: %w", err)
		}
	}
	invoker := tools.NewInvoker(registry, cfg.Tools.InvokerConfig(mon))
	invoker.Start()

	rt := &agentRuntime{
		cfg:        cfg,
		monitor:    mon,
		invoker:    invoker,
		dispatcher: mcp.NewDispatcher(invoker, mcp.ServerInfo{Name: appName, Version: Version}),
	}
	if !withAgent {
		return rt, nil
	}

	if rt.adapters, err = cfg.Providers.BuildRegistry(); err != nil {
		rt.Close()
		return nil, err
	}
	rt.settings = store.NewMemoryStore(store.Settings{
		PreferredProvider: cfg.Defaults.Provider,
		PreferredModel:    cfg.Defaults.Model,
	}, cfg.Sessions.SettingsTTL)

	// The agent calls tools in-process, so it completes the handshake itself.
	rt.dispatcher.Initialize()
	rt.manager = orchestrator.NewManager(cfg.LoopConfig(), rt.settings, orchestrator.Deps{
		Adapters: rt.adapters,
		Tools:    rt.dispatcher,
		Observer: mon,
	}, cfg.Sessions.IdleTTL)
	return rt, nil
}

// Close stops sessions before the tool pool they call into.
func (rt *agentRuntime) Close() {
	if rt.manager != nil {
		rt.manager.Close()
	}
	if rt.settings != nil {
		rt.settings.Close()
	}
	rt.invoker.Stop()
	rt.monitor.Close()
}
