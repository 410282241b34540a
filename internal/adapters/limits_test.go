package adapters

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutputLimit_LongestPrefixWins(t *testing.T) {
	assert.Equal(t, 16384, OutputLimit("gpt-4o-mini-2024-07-18"))
	assert.Equal(t, 8192, OutputLimit("gpt-4-0613"))
	assert.Equal(t, 4096, OutputLimit("gpt-4-turbo-preview"))
	assert.Equal(t, 8192, OutputLimit("us.anthropic.claude-3-5-sonnet-20241022-v2:0"))
	assert.Equal(t, 65536, OutputLimit("models/gemini-2.5-pro"))
	assert.Equal(t, DefaultOutputLimit, OutputLimit("some-unknown-model"))
}

func TestOutputBudget_Floor(t *testing.T) {
	assert.Equal(t, DefaultOutputLimit-100-SafetyMargin, OutputBudget("unknown", 100))
	assert.Equal(t, MinOutputTokens, OutputBudget("unknown", 1_000_000))
}

func TestNormalizeArguments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", ``, `{}`},
		{"compacts", `{ "path" : "a" }`, `{"path":"a"}`},
		{"double encoded", `"{\"path\":\"a\"}"`, `{"path":"a"}`},
		{"single command joined", `{"command":["ls -la"]}`, `{"command":"ls -la"}`},
		{"shell metachar joined", `{"command":["grep","-r","x","|","wc"]}`, `{"command":"grep -r x | wc"}`},
		{"plain argv kept", `{"command":["git","status"]}`, `{"command":["git","status"]}`},
		{"string command kept", `{"command":"make test"}`, `{"command":"make test"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalizeArguments(json.RawMessage(tt.in))
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
