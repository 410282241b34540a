// Package gateway exposes the tool dispatcher over WebSocket.
//
// DESIGN: One HTTP server, three routes:
//
//	GET /mcp     upgrade to WebSocket, then line-delimited JSON-RPC
//	GET /health  liveness
//	GET /stats   runtime counters
//
// Every WebSocket connection gets its own dispatcher clone, so each client
// runs its own initialize handshake. Text messages are treated as lines:
// one request per message in, one response per message out.
//
// FILES:
//   - gateway.go:    Server lifecycle and HTTP handlers
//   - websocket.go:  Message/line adapters between coder/websocket and the dispatcher
//   - middleware.go: Recovery, request IDs, rate limiting, logging, headers
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-runtime/internal/config"
	"github.com/compresr/agent-runtime/internal/mcp"
	"github.com/compresr/agent-runtime/internal/monitoring"
)

const (
	// HeaderRequestID carries the request ID in both directions.
	HeaderRequestID = "X-Request-ID"

	// MaxRateLimitBuckets caps the number of tracked client IPs.
	MaxRateLimitBuckets = 10000

	// DefaultShutdownTimeout bounds Shutdown when the config sets none.
	DefaultShutdownTimeout = 10 * time.Second
)

// Gateway is the WebSocket server.
type Gateway struct {
	cfg         config.ServerConfig
	dispatcher  *mcp.Dispatcher
	monitor     *monitoring.Monitor
	rateLimiter *rateLimiter
	server      *http.Server
	handler     http.Handler
	started     time.Time

	// ctx ends every open WebSocket session on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

// New creates a gateway serving d. mon must not be nil.
func New(cfg config.ServerConfig, d *mcp.Dispatcher, mon *monitoring.Monitor) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:        cfg,
		dispatcher: d,
		monitor:    mon,
		started:    time.Now(),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.RateLimit > 0 {
		g.rateLimiter = newRateLimiter(cfg.RateLimit)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /mcp", g.handleMCP)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /stats", g.handleStats)

	g.handler = g.panicRecovery(g.requestID(g.rateLimit(g.loggingMiddleware(g.security(mux)))))
	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      g.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return g
}

// Handler returns the full middleware chain, for embedding and tests.
func (g *Gateway) Handler() http.Handler { return g.handler }

// Start listens on the configured port and blocks until Shutdown.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.server.Addr, err)
	}
	return g.Serve(ln)
}

// Serve accepts connections on ln and blocks until Shutdown.
func (g *Gateway) Serve(ln net.Listener) error {
	log.Info().Str("addr", ln.Addr().String()).Msg("gateway listening")
	if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown closes open WebSocket sessions, stops accepting requests and
// waits for handlers to return or ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		timeout := g.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	g.cancel()
	if g.rateLimiter != nil {
		g.rateLimiter.stop()
	}
	err := g.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		g.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	log.Info().Msg("gateway stopped")
	return err
}

// =============================================================================
// HANDLERS
// =============================================================================

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(g.started).Seconds()),
		"tools":          len(g.dispatcher.ListTools()),
		"metrics":        g.monitor.Metrics.Stats(),
	})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": msg, "code": status},
	})
}
