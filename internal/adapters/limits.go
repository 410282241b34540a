package adapters

import "strings"

const (
	// DefaultOutputLimit applies to models missing from the table.
	DefaultOutputLimit = 4096

	// SafetyMargin is reserved between prompt and output budget.
	SafetyMargin = 256

	// MinOutputTokens is the floor of any computed budget.
	MinOutputTokens = 16
)

// outputLimits maps model prefixes to their maximum output tokens.
// Lookup picks the longest matching prefix.
var outputLimits = map[string]int{
	"gpt-3.5-turbo":     4096,
	"gpt-4":             8192,
	"gpt-4-turbo":       4096,
	"gpt-4o":            16384,
	"gpt-4o-mini":       16384,
	"gpt-4.1":           32768,
	"gpt-5":             128000,
	"o1":                100000,
	"o3":                100000,
	"o4-mini":           100000,
	"claude-3-haiku":    4096,
	"claude-3-opus":     4096,
	"claude-3-5-haiku":  8192,
	"claude-3-5-sonnet": 8192,
	"claude-3-7-sonnet": 64000,
	"claude-sonnet-4":   64000,
	"claude-opus-4":     32000,
	"claude-haiku-4":    64000,
	"gemini-1.5":        8192,
	"gemini-2.0":        8192,
	"gemini-2.5":        65536,
	"llama3":            2048,
	"qwen":              8192,
	"omni-moderation":   MinOutputTokens,
	"text-moderation":   MinOutputTokens,
}

// normalizeModel strips routing prefixes such as "models/" (Gemini) or
// "us.anthropic." (Bedrock inference profiles).
func normalizeModel(model string) string {
	model = strings.ToLower(strings.TrimPrefix(model, "models/"))
	if i := strings.LastIndex(model, "anthropic."); i >= 0 {
		model = model[i+len("anthropic."):]
	}
	return model
}

// OutputLimit returns the output token ceiling for model.
func OutputLimit(model string) int {
	model = normalizeModel(model)
	best, limit := 0, DefaultOutputLimit
	for prefix, l := range outputLimits {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best, limit = len(prefix), l
		}
	}
	return limit
}

// OutputBudget computes max output tokens for a prompt of promptTokens.
func OutputBudget(model string, promptTokens int) int {
	budget := OutputLimit(model) - promptTokens - SafetyMargin
	if budget < MinOutputTokens {
		return MinOutputTokens
	}
	return budget
}
