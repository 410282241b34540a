package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

const maxLineSize = 10 * 1024 * 1024

// Serve reads requests from r line by line and writes responses to w until
// r is exhausted or ctx ends. tools/call requests run concurrently; every
// other method is handled in arrival order. Writes are serialized, one
// response per line. Serve waits for in-flight calls before returning.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	out := &lineWriter{w: w}
	var inflight sync.WaitGroup
	defer inflight.Wait()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		req, perr := decodeRequest(line)
		if perr != nil {
			log.Debug().Int("code", perr.Code).Msg("rejected jsonrpc line")
			if req != nil && req.IsNotification() && perr.Code != CodeParseError {
				continue
			}
			out.write(encode(errorResponse(idOf(req), perr)))
			continue
		}

		if req.Method == MethodToolsCall && d.Initialized() {
			inflight.Add(1)
			go func(req *Request) {
				defer inflight.Done()
				if resp := d.HandleRequest(ctx, req); resp != nil {
					out.write(encode(resp))
				}
			}(req)
			continue
		}

		if resp := d.HandleRequest(ctx, req); resp != nil {
			out.write(encode(resp))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return ctx.Err()
}

type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) write(data []byte) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if _, err := lw.w.Write(append(data, '\n')); err != nil {
		log.Warn().Err(err).Msg("failed to write jsonrpc response")
	}
}
