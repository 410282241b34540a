// Package tui provides the terminal pieces of the chat REPL:
//   - Styled status lines
//   - Line input with history on a TTY, plain line reads otherwise
//   - Slash-command parsing
//   - Numbered selection menus
package tui

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// =============================================================================
// COLORS
// =============================================================================

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorGreen  = "\033[0;32m"
	ColorBlue   = "\033[0;34m"
	ColorCyan   = "\033[0;36m"
	ColorYellow = "\033[1;33m"
	ColorRed    = "\033[0;31m"
)

// =============================================================================
// PRINTER
// =============================================================================

// Printer writes styled status lines. Colors are used only on a terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{w: w, color: color}
}

func (p *Printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + ColorReset
}

// Header prints a styled section header.
func (p *Printer) Header(title string) {
	rule := strings.Repeat("=", 40)
	fmt.Fprintf(p.w, "\n%s\n%s\n%s\n\n", p.paint(ColorCyan, rule), p.paint(ColorBold, "       "+title), p.paint(ColorCyan, rule))
}

// Success prints a message with a green [OK] prefix.
func (p *Printer) Success(msg string) { fmt.Fprintf(p.w, "%s %s\n", p.paint(ColorGreen, "[OK]"), msg) }

// Info prints a message with a blue [INFO] prefix.
func (p *Printer) Info(msg string) { fmt.Fprintf(p.w, "%s %s\n", p.paint(ColorBlue, "[INFO]"), msg) }

// Warn prints a message with a yellow [WARN] prefix.
func (p *Printer) Warn(msg string) { fmt.Fprintf(p.w, "%s %s\n", p.paint(ColorYellow, "[WARN]"), msg) }

// Error prints a message with a red [ERROR] prefix.
func (p *Printer) Error(msg string) { fmt.Fprintf(p.w, "%s %s\n", p.paint(ColorRed, "[ERROR]"), msg) }

// Step prints an action with a cyan >>> prefix.
func (p *Printer) Step(msg string) { fmt.Fprintf(p.w, "%s %s\n", p.paint(ColorCyan, ">>>"), msg) }

// Dim prints s without a newline, dimmed. Used for streamed text.
func (p *Printer) Dim(s string) { fmt.Fprint(p.w, p.paint(ColorDim, s)) }

// Plain prints s followed by a newline.
func (p *Printer) Plain(s string) { fmt.Fprintln(p.w, s) }

// =============================================================================
// LINE INPUT
// =============================================================================

// LineReader reads one line of user input at a time. io.EOF ends input.
type LineReader interface {
	ReadLine() (string, error)
}

// NewLineReader returns a history-aware reader when in is a terminal and a
// plain line scanner otherwise.
func NewLineReader(in io.Reader, out io.Writer, prompt string) LineReader {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		rw := struct {
			io.Reader
			io.Writer
		}{in, out}
		return &terminalReader{fd: int(f.Fd()), t: term.NewTerminal(rw, prompt)}
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanReader{scanner: scanner, out: out, prompt: prompt}
}

// terminalReader switches to raw mode only while a line is being edited,
// so streamed output between prompts renders normally.
type terminalReader struct {
	fd int
	t  *term.Terminal
}

func (r *terminalReader) ReadLine() (string, error) {
	state, err := term.MakeRaw(r.fd)
	if err != nil {
		return "", fmt.Errorf("enter raw mode: %w", err)
	}
	defer term.Restore(r.fd, state)
	return r.t.ReadLine()
}

type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func (r *scanReader) ReadLine() (string, error) {
	fmt.Fprint(r.out, r.prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

// =============================================================================
// COMMANDS
// =============================================================================

// Command is a parsed slash command such as "/model gpt-4o".
type Command struct {
	Name string
	Arg  string
}

// ParseCommand parses line as a slash command. ok is false for ordinary
// messages.
func ParseCommand(line string) (cmd Command, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") || len(line) == 1 {
		return Command{}, false
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return Command{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}, true
}

// =============================================================================
// MENU SELECTION
// =============================================================================

// MenuItem represents an item in a menu.
type MenuItem struct {
	Label       string // Display label
	Description string // Optional description
}

// SelectMenu prints a numbered menu and reads the choice from r. An empty
// answer cancels with index -1.
func SelectMenu(p *Printer, r LineReader, prompt string, items []MenuItem) (int, error) {
	if len(items) == 0 {
		return -1, fmt.Errorf("no items to select")
	}

	p.Plain(p.paint(ColorBold, prompt))
	for i, item := range items {
		line := fmt.Sprintf("  %d) %s", i+1, item.Label)
		if item.Description != "" {
			line += " " + p.paint(ColorDim, "- "+item.Description)
		}
		p.Plain(line)
	}

	for {
		answer, err := r.ReadLine()
		if err != nil {
			return -1, err
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			return -1, nil
		}
		n, err := strconv.Atoi(answer)
		if err == nil && n >= 1 && n <= len(items) {
			return n - 1, nil
		}
		p.Warn(fmt.Sprintf("enter a number between 1 and %d", len(items)))
	}
}
