package providers

import (
	"context"
	"fmt"
	"os"

	"github.com/logqs/atlas2/internal/engine"
)

// ResolveLLMClient builds an engine.LLMClient for an explicit provider/model
// pair, the way NewLLMClientFromEnv does for the single process-wide
// LLM_PROVIDER env var -- generalized so a turn can pick its provider
// per-call instead of once at process start, without ever mutating the
// environment (safe for concurrently running turns in the same process).
// An empty provider falls back to LLM_PROVIDER; an empty model falls back
// to that provider's usual env-configured default.
func ResolveLLMClient(ctx context.Context, provider, model string) (engine.LLMClient, string, error) {
	if provider == "" {
		provider = os.Getenv("LLM_PROVIDER")
	}
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		if model == "" {
			model = envOr("OPENAI_MODEL", "gpt-4o-mini")
		}
		client, err := NewOpenAIClient(apiKey, model, os.Getenv("OPENAI_BASE_URL"))
		if err != nil {
			return nil, "", fmt.Errorf("create openai client: %w", err)
		}
		return client, model, nil

	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		if model == "" {
			model = envOr("ANTHROPIC_MODEL", "claude-3-sonnet-20240229")
		}
		client, err := NewAnthropicClient(apiKey, model)
		if err != nil {
			return nil, "", fmt.Errorf("create anthropic client: %w", err)
		}
		return client, model, nil

	case "kimi":
		apiKey := os.Getenv("KIMI_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("KIMI_API_KEY not set")
		}
		if model == "" {
			model = envOr("KIMI_MODEL", "kimi-k2-250711")
		}
		baseURL := envOr("KIMI_BASE_URL", "https://ark.ap-southeast.bytepluses.com/api/v3")
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("create kimi client: %w", err)
		}
		return client, model, nil

	case "gemini":
		apiKey := os.Getenv("GEMINI_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("GEMINI_API_KEY not set")
		}
		if model == "" {
			model = envOr("GEMINI_MODEL", "gemini-1.5-flash")
		}
		client, err := NewOpenAIClient(apiKey, model, "https://generativelanguage.googleapis.com/v1beta/openai")
		if err != nil {
			return nil, "", fmt.Errorf("create gemini client: %w", err)
		}
		return client, model, nil

	case "lmstudio":
		baseURL := envOr("LMSTUDIO_BASE_URL", "http://localhost:1234/v1")
		if model == "" {
			model = envOr("LMSTUDIO_MODEL", "local-model")
		}
		apiKey := envOr("LMSTUDIO_API_KEY", "lm-studio")
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("create lmstudio client: %w", err)
		}
		return client, model, nil

	case "ollama":
		baseURL := envOr("OLLAMA_BASE_URL", "http://localhost:11434/v1")
		if model == "" {
			model = envOr("OLLAMA_MODEL", "llama3.1")
		}
		apiKey := envOr("OLLAMA_API_KEY", "ollama")
		client, err := NewOpenAIClient(apiKey, model, baseURL)
		if err != nil {
			return nil, "", fmt.Errorf("create ollama client: %w", err)
		}
		return client, model, nil

	case "glm":
		apiKey := os.Getenv("GLM_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("GLM_API_KEY not set")
		}
		if model == "" {
			model = envOr("GLM_MODEL", "glm-4-plus")
		}
		client, err := NewOpenAIClient(apiKey, model, "https://open.bigmodel.cn/api/paas/v4")
		if err != nil {
			return nil, "", fmt.Errorf("create glm client: %w", err)
		}
		return client, model, nil

	case "minimax":
		apiKey := os.Getenv("MINIMAX_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("MINIMAX_API_KEY not set")
		}
		if model == "" {
			model = envOr("MINIMAX_MODEL", "abab6.5s-chat")
		}
		client, err := NewOpenAIClient(apiKey, model, "https://api.minimax.chat/v1")
		if err != nil {
			return nil, "", fmt.Errorf("create minimax client: %w", err)
		}
		return client, model, nil

	case "deepseek":
		apiKey := os.Getenv("DEEPSEEK_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("DEEPSEEK_API_KEY not set")
		}
		if model == "" {
			model = envOr("DEEPSEEK_MODEL", "deepseek-chat")
		}
		client, err := NewOpenAIClient(apiKey, model, "https://api.deepseek.com/v1")
		if err != nil {
			return nil, "", fmt.Errorf("create deepseek client: %w", err)
		}
		return client, model, nil

	case "groq":
		apiKey := os.Getenv("GROQ_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("GROQ_API_KEY not set")
		}
		if model == "" {
			model = envOr("GROQ_MODEL", "llama-3.1-70b-versatile")
		}
		client, err := NewOpenAIClient(apiKey, model, "https://api.groq.com/openai/v1")
		if err != nil {
			return nil, "", fmt.Errorf("create groq client: %w", err)
		}
		return client, model, nil

	default:
		return nil, "", fmt.Errorf("unknown provider: %s (supported: openai, anthropic, kimi, gemini, lmstudio, ollama, glm, minimax, deepseek, groq)", provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SupportedProviders lists the provider names ResolveLLMClient accepts, for
// the /chat/providers endpoint.
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "kimi", "gemini", "lmstudio", "ollama", "glm", "minimax", "deepseek", "groq"}
}
