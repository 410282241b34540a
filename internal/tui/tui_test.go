package tui_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/agent-runtime/internal/tui"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line   string
		want   tui.Command
		wantOK bool
	}{
		{line: "/model gpt-4o", want: tui.Command{Name: "model", Arg: "gpt-4o"}, wantOK: true},
		{line: "  /Provider   anthropic  ", want: tui.Command{Name: "provider", Arg: "anthropic"}, wantOK: true},
		{line: "/quit", want: tui.Command{Name: "quit"}, wantOK: true},
		{line: "/", wantOK: false},
		{line: "hello /model", wantOK: false},
		{line: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := tui.ParseCommand(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineReader_NonTerminal(t *testing.T) {
	var out bytes.Buffer
	r := tui.NewLineReader(strings.NewReader("first\nsecond\n"), &out, "> ")

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = r.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	_, err = r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "> > > ", out.String())
}

func TestPrinter_PlainOutput(t *testing.T) {
	var out bytes.Buffer
	p := tui.NewPrinter(&out)

	p.Success("saved")
	p.Error("failed")
	p.Step("next")

	assert.Equal(t, "[OK] saved\n[ERROR] failed\n>>> next\n", out.String())
	assert.NotContains(t, out.String(), "\033[")
}

func TestSelectMenu(t *testing.T) {
	var out bytes.Buffer
	p := tui.NewPrinter(&out)
	items := []tui.MenuItem{{Label: "openai", Description: "gpt-4o-mini"}, {Label: "anthropic"}}

	r := tui.NewLineReader(strings.NewReader("7\nx\n2\n"), io.Discard, "")
	idx, err := tui.SelectMenu(p, r, "Pick a provider", items)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Contains(t, out.String(), "1) openai - gpt-4o-mini")
	assert.Contains(t, out.String(), "enter a number between 1 and 2")

	r = tui.NewLineReader(strings.NewReader("\n"), io.Discard, "")
	idx, err = tui.SelectMenu(p, r, "Pick", items)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)

	_, err = tui.SelectMenu(p, r, "Pick", nil)
	require.Error(t, err)
}
