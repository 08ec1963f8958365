package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/logqs/atlas2/internal/engine"
)

// openAICompatProvider describes one of the many providers this package
// reaches through NewOpenAIClient because they speak the OpenAI chat
// completions wire format.
type openAICompatProvider struct {
	apiKeyEnv      string
	modelEnv       string
	defaultModel   string
	baseURLEnv     string // empty if the base URL is fixed
	defaultBaseURL string
	apiKeyOptional bool // local servers (lmstudio, ollama) accept any key
	defaultAPIKey  string
}

var openAICompatProviders = map[string]openAICompatProvider{
	"openai": {
		apiKeyEnv: "OPENAI_API_KEY", modelEnv: "OPENAI_MODEL", defaultModel: "gpt-4o-mini",
		baseURLEnv: "OPENAI_BASE_URL", // empty default: use the SDK's own default
	},
	"kimi": {
		apiKeyEnv: "KIMI_API_KEY", modelEnv: "KIMI_MODEL", defaultModel: "kimi-k2-250711",
		baseURLEnv: "KIMI_BASE_URL", defaultBaseURL: "https://ark.ap-southeast.bytepluses.com/api/v3",
	},
	"gemini": {
		apiKeyEnv: "GEMINI_API_KEY", modelEnv: "GEMINI_MODEL", defaultModel: "gemini-1.5-flash",
		defaultBaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
	},
	"lmstudio": {
		apiKeyEnv: "LMSTUDIO_API_KEY", modelEnv: "LMSTUDIO_MODEL", defaultModel: "local-model",
		baseURLEnv: "LMSTUDIO_BASE_URL", defaultBaseURL: "http://localhost:1234/v1",
		apiKeyOptional: true, defaultAPIKey: "lm-studio",
	},
	"ollama": {
		apiKeyEnv: "OLLAMA_API_KEY", modelEnv: "OLLAMA_MODEL", defaultModel: "llama3.1",
		baseURLEnv: "OLLAMA_BASE_URL", defaultBaseURL: "http://localhost:11434/v1",
		apiKeyOptional: true, defaultAPIKey: "ollama",
	},
	"glm": {
		apiKeyEnv: "GLM_API_KEY", modelEnv: "GLM_MODEL", defaultModel: "glm-4-plus",
		defaultBaseURL: "https://open.bigmodel.cn/api/paas/v4",
	},
	"minimax": {
		apiKeyEnv: "MINIMAX_API_KEY", modelEnv: "MINIMAX_MODEL", defaultModel: "abab6.5s-chat",
		defaultBaseURL: "https://api.minimax.chat/v1",
	},
	"deepseek": {
		apiKeyEnv: "DEEPSEEK_API_KEY", modelEnv: "DEEPSEEK_MODEL", defaultModel: "deepseek-chat",
		defaultBaseURL: "https://api.deepseek.com/v1",
	},
	"groq": {
		apiKeyEnv: "GROQ_API_KEY", modelEnv: "GROQ_MODEL", defaultModel: "llama-3.1-70b-versatile",
		defaultBaseURL: "https://api.groq.com/openai/v1",
	},
}

func (p openAICompatProvider) resolve(label string) (apiKey, modelName, baseURL string, err error) {
	apiKey = os.Getenv(p.apiKeyEnv)
	if apiKey == "" {
		if p.apiKeyOptional {
			apiKey = p.defaultAPIKey
		} else {
			return "", "", "", fmt.Errorf("%s not set", p.apiKeyEnv)
		}
	}

	modelName = os.Getenv(p.modelEnv)
	if modelName == "" {
		modelName = p.defaultModel
	}

	baseURL = p.defaultBaseURL
	if p.baseURLEnv != "" {
		if v := os.Getenv(p.baseURLEnv); v != "" {
			baseURL = v
		}
	}
	return apiKey, modelName, baseURL, nil
}

// NewLLMClientFromEnv creates an engine.LLMClient based on the LLM_PROVIDER
// environment variable, reading provider-specific credentials and defaults
// from the environment. Anthropic gets its own client; every other
// supported provider speaks the OpenAI-compatible wire format and is
// resolved from the openAICompatProviders table.
func NewLLMClientFromEnv(ctx context.Context) (engine.LLMClient, string, error) {
	provider := strings.ToLower(os.Getenv("LLM_PROVIDER"))
	if provider == "" {
		provider = "openai"
	}

	if provider == "anthropic" {
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		modelName := os.Getenv("ANTHROPIC_MODEL")
		if modelName == "" {
			modelName = "claude-3-sonnet-20240229"
		}
		client, err := NewAnthropicClient(apiKey, modelName)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Anthropic client: %w", err)
		}
		return client, modelName, nil
	}

	cfg, ok := openAICompatProviders[provider]
	if !ok {
		names := make([]string, 0, len(openAICompatProviders)+1)
		names = append(names, "anthropic")
		for name := range openAICompatProviders {
			names = append(names, name)
		}
		return nil, "", fmt.Errorf("unknown LLM_PROVIDER: %s (supported: %s)", provider, strings.Join(names, ", "))
	}

	apiKey, modelName, baseURL, err := cfg.resolve(provider)
	if err != nil {
		return nil, "", err
	}

	client, err := NewOpenAIClient(apiKey, modelName, baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s client: %w", provider, err)
	}
	return client, modelName, nil
}
