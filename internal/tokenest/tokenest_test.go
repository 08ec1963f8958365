package tokenest

import (
	"context"
	"testing"

	"github.com/logqs/atlas2/internal/engine"
)

type fakeNativeClient struct{ count int }

func (f *fakeNativeClient) Chat(ctx context.Context, model string, msgs []engine.ChatMessage, tools []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	return engine.LLMResponse{}, nil
}
func (f *fakeNativeClient) Stream(ctx context.Context, model string, msgs []engine.ChatMessage, tools []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	return nil, nil
}
func (f *fakeNativeClient) CountTokens(text, model string) (int, error) { return f.count, nil }

func TestEstimatePrefersNativeCounter(t *testing.T) {
	client := &fakeNativeClient{count: 42}
	if got := Estimate(client, "openai", "gpt-4o", "hello world"); got != 42 {
		t.Fatalf("expected native count 42, got %d", got)
	}
}

func TestEstimateFallsBackForOpenAICompatible(t *testing.T) {
	got := Estimate(nil, "deepseek", "deepseek-chat", "hello world this is a test")
	want := engine.EstimateTokens("hello world this is a test")
	if got != want {
		t.Fatalf("expected whitespace-aware estimate %d, got %d", want, got)
	}
}

func TestEstimateCharFallbackForOtherProviders(t *testing.T) {
	text := "abcdefgh"
	got := Estimate(nil, "anthropic", "claude-3-opus", text)
	if got != len(text)/4 {
		t.Fatalf("expected char/4 fallback %d, got %d", len(text)/4, got)
	}
}

func TestEstimateMessagesSumsHistoryAndUserMessage(t *testing.T) {
	history := []engine.ChatMessage{
		{Role: engine.RoleUser, Content: "abcd"},
		{Role: engine.RoleAssistant, Content: "efgh"},
	}
	got := EstimateMessages(nil, "anthropic", "claude-3-opus", history, "ijkl")
	if got != 3 { // three 4-char strings, each char/4 == 1
		t.Fatalf("expected 3, got %d", got)
	}
}
