package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/compresr/agent-runtime/internal/orchestrator"
	"github.com/compresr/agent-runtime/internal/tui"
)

// localCaller is the caller ID of the terminal user.
const localCaller = "local"

const chatPrompt = "you> "

// chat is one REPL for the local caller. The session is looked up per
// exchange: the manager may have evicted an idle one in between.
type chat struct {
	rt        *agentRuntime
	sessionID string
	p         *tui.Printer
	in        tui.LineReader
}

type submitResult struct {
	reply *orchestrator.Reply
	err   error
}

// runChat reads user lines from in until /quit, EOF or ctx ends. Replies,
// streamed deltas and tool activity are written to out.
func runChat(ctx context.Context, rt *agentRuntime, in io.Reader, out io.Writer) error {
	session, err := rt.manager.Session(localCaller)
	if err != nil {
		return err
	}
	c := &chat{
		rt:        rt,
		sessionID: session.ID,
		p:         tui.NewPrinter(out),
		in:        tui.NewLineReader(in, out, chatPrompt),
	}

	c.p.Header(fmt.Sprintf("%s %s", appName, Version))
	c.printSettings()
	c.p.Info("Type /help for commands, /quit to leave.")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := c.in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if cmd, ok := tui.ParseCommand(line); ok {
			if quit := c.command(cmd); quit {
				return nil
			}
			continue
		}
		if err := c.exchange(ctx, line); err != nil {
			return err
		}
	}
}

// exchange submits one message and renders session events until the reply
// arrives. Only a stopped manager or a canceled ctx end the REPL; exchange
// failures are printed and the conversation continues.
func (c *chat) exchange(ctx context.Context, text string) error {
	res, streamed, err := c.submit(ctx, text)
	if err != nil {
		return err
	}
	if errors.Is(res.err, orchestrator.ErrSessionClosed) && ctx.Err() == nil {
		// Evicted between lookup and submit; the manager hands out a fresh one.
		if res, streamed, err = c.submit(ctx, text); err != nil {
			return err
		}
	}
	return c.finish(ctx, res, streamed)
}

// submit sends text to the caller's current session, starting a new one
// when the previous session was evicted.
func (c *chat) submit(ctx context.Context, text string) (submitResult, bool, error) {
	session, err := c.rt.manager.Session(localCaller)
	if err != nil {
		return submitResult{}, false, err
	}
	if session.ID != c.sessionID {
		c.p.Info("previous session expired after inactivity, starting a new conversation")
		c.sessionID = session.ID
	}

	done := make(chan submitResult, 1)
	go func() {
		reply, err := session.Submit(ctx, text)
		done <- submitResult{reply: reply, err: err}
	}()

	streamed := false
	events := session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			streamed = c.render(ev) || streamed

		case res := <-done:
			// Events emitted before the reply are already buffered.
			for drained := false; !drained && events != nil; {
				select {
				case ev, ok := <-events:
					if !ok {
						drained = true
						continue
					}
					streamed = c.render(ev) || streamed
				default:
					drained = true
				}
			}
			return res, streamed, nil
		}
	}
}

// render prints one event and reports whether it was streamed text.
func (c *chat) render(ev orchestrator.Event) bool {
	switch ev.Type {
	case orchestrator.EventDelta:
		c.p.Dim(ev.Text)
		return true
	case orchestrator.EventToolCall:
		c.p.Step(fmt.Sprintf("%s %s", ev.Tool, ev.Text))
	case orchestrator.EventToolOutput:
		if !ev.Success {
			c.p.Warn(fmt.Sprintf("%s failed: %s", ev.Tool, ev.Text))
		}
	}
	return false
}

func (c *chat) finish(ctx context.Context, res submitResult, streamed bool) error {
	if streamed {
		c.p.Plain("")
	}
	if res.err != nil {
		switch {
		case errors.Is(res.err, orchestrator.ErrSessionClosed):
			return res.err
		case ctx.Err() != nil:
			return ctx.Err()
		}
		c.p.Error(res.err.Error())
		return nil
	}
	if !streamed {
		c.p.Plain(res.reply.Text)
	}
	if res.reply.Partial {
		c.p.Warn("reply is partial: the model produced a malformed tool call")
	}
	return nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// command runs a slash command and reports whether the REPL should end.
func (c *chat) command(cmd tui.Command) bool {
	switch cmd.Name {
	case "quit", "exit", "q":
		return true

	case "model":
		if cmd.Arg == "" {
			c.printSettings()
			return false
		}
		st := c.rt.manager.SetPreferredModel(localCaller, cmd.Arg)
		c.p.Success("model set to " + st.PreferredModel)

	case "provider":
		name := cmd.Arg
		if name == "" {
			name = c.pickProvider()
			if name == "" {
				return false
			}
		}
		c.setProvider(name)

	case "settings":
		c.printSettings()

	case "help":
		c.p.Plain("/model NAME  /provider [NAME]  /settings  /quit")

	default:
		c.p.Warn(fmt.Sprintf("unknown command /%s, try /help", cmd.Name))
	}
	return false
}

// setProvider switches provider and, when the provider has a configured
// model, that model too.
func (c *chat) setProvider(name string) {
	st, err := c.rt.manager.SetPreferredProvider(localCaller, name)
	if err != nil {
		c.p.Error(err.Error())
		return
	}
	if model := c.rt.cfg.Providers[name].Model; model != "" {
		st = c.rt.manager.SetPreferredModel(localCaller, model)
	}
	c.p.Success(fmt.Sprintf("provider set to %s (model %s)", st.PreferredProvider, st.PreferredModel))
}

func (c *chat) pickProvider() string {
	names := c.rt.adapters.Names()
	items := make([]tui.MenuItem, len(names))
	for i, name := range names {
		items[i] = tui.MenuItem{Label: name, Description: c.rt.cfg.Providers[name].Model}
	}
	idx, err := tui.SelectMenu(c.p, c.in, "Select a provider (empty to cancel):", items)
	if err != nil || idx < 0 {
		return ""
	}
	return names[idx]
}

func (c *chat) printSettings() {
	st := c.rt.manager.Settings(localCaller)
	c.p.Info(fmt.Sprintf("provider %s, model %s, workspace %s", st.PreferredProvider, st.PreferredModel, c.rt.cfg.Tools.Workspace))
}
