// Package tokenest implements the three-tier token estimation fallback
// chain the Execution Dispatcher uses before reserving rate-limit capacity
// (spec §4.7 step 1): a provider-native counter when the resolved client
// exposes one, a tiktoken-like heuristic for OpenAI-compatible providers,
// and a plain char/4 fallback otherwise.
package tokenest

import (
	"strings"

	"github.com/logqs/atlas2/internal/engine"
)

// NativeCounter is implemented by LLM clients that can report an exact
// provider-side token count. Most clients don't; the estimator falls
// through to the next tier when a client doesn't satisfy this interface or
// returns an error.
type NativeCounter interface {
	CountTokens(text, model string) (int, error)
}

// openAICompatible mirrors internal/engine/limits.go's GetModelLimits
// model-name pattern-matching idiom, but keyed on provider name since the
// estimator runs before any model-specific budget lookup.
var openAICompatible = map[string]bool{
	"openai":   true,
	"kimi":     true,
	"groq":     true,
	"deepseek": true,
	"ollama":   true,
	"lmstudio": true,
	"glm":      true,
	"minimax":  true,
}

// Estimate returns a token count for a single piece of text, trying client
// (if non-nil and it implements NativeCounter) first, then the
// whitespace-aware heuristic for OpenAI-compatible providers, then char/4.
func Estimate(client engine.LLMClient, provider, model, text string) int {
	if nc, ok := client.(NativeCounter); ok {
		if n, err := nc.CountTokens(text, model); err == nil {
			return n
		}
	}
	if openAICompatible[strings.ToLower(provider)] {
		return engine.EstimateTokens(text)
	}
	return charFallback(text)
}

// EstimateMessages sums Estimate over every message's content plus the user
// message about to be submitted.
func EstimateMessages(client engine.LLMClient, provider, model string, history []engine.ChatMessage, userMessage string) int {
	total := Estimate(client, provider, model, userMessage)
	for _, m := range history {
		total += Estimate(client, provider, model, m.Content)
	}
	return total
}

func charFallback(text string) int {
	n := len(text) / 4
	if n < 1 && text != "" {
		return 1
	}
	return n
}
