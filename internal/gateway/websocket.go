package gateway

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-runtime/internal/monitoring"
)

// maxMessageSize matches the dispatcher's line limit.
const maxMessageSize = 10 * 1024 * 1024

func (g *Gateway) handleMCP(w http.ResponseWriter, r *http.Request) {
	// Server timeouts must not apply to a long-lived session.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	// Registered before the upgrade so Shutdown cannot miss a session in flight.
	g.conns.Add(1)
	defer g.conns.Done()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		// Accept has already written the error response.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageSize)

	g.monitor.Metrics.RecordConnection()

	requestID := monitoring.RequestIDFromContext(r.Context())
	ctx, cancel := context.WithCancel(g.ctx)
	defer cancel()
	ctx = monitoring.WithRequestIDContext(ctx, requestID)

	log.Info().Str("id", requestID).Str("remote", r.RemoteAddr).Msg("websocket session opened")

	err = g.dispatcher.Clone().Serve(ctx, &messageReader{ctx: ctx, conn: conn}, &messageWriter{ctx: ctx, conn: conn})
	switch {
	case err == nil, ctx.Err() != nil, errors.Is(err, context.Canceled):
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway:
	default:
		log.Warn().Err(err).Str("id", requestID).Msg("websocket session ended with error")
	}

	conn.Close(websocket.StatusNormalClosure, "")
	log.Info().Str("id", requestID).Msg("websocket session closed")
}

// messageReader presents incoming text messages as newline-terminated
// lines.
type messageReader struct {
	ctx  context.Context
	conn *websocket.Conn
	buf  []byte
}

func (m *messageReader) Read(p []byte) (int, error) {
	for len(m.buf) == 0 {
		_, data, err := m.conn.Read(m.ctx)
		if err != nil {
			return 0, err
		}
		m.buf = append(data, '\n')
	}
	n := copy(p, m.buf)
	m.buf = m.buf[n:]
	return n, nil
}

// messageWriter sends each written line as one text message.
type messageWriter struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (m *messageWriter) Write(p []byte) (int, error) {
	if err := m.conn.Write(m.ctx, websocket.MessageText, bytes.TrimRight(p, "\n")); err != nil {
		return 0, err
	}
	return len(p), nil
}
