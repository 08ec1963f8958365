package coder

import (
	"context"
	"testing"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/prompts"
)

// fakeChatClient answers every Chat call with a fixed final response and no
// tool calls, so engine.Run finishes in exactly one step.
type fakeChatClient struct {
	text string
}

func (f *fakeChatClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	return engine.LLMResponse{
		Assistant:    engine.ChatMessage{Role: engine.RoleAssistant, Content: f.text},
		FinishReason: "stop",
	}, nil
}

func (f *fakeChatClient) Stream(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	out := make(chan engine.StreamEvent)
	errCh := make(chan error)
	close(out)
	close(errCh)
	return out, errCh
}

// newFakeCoderAgent builds a CoderAgent around a fake LLM client and an
// empty tool registry, bypassing NewAgent's real provider/tool-registry
// construction so the executor can be tested without network access.
func newFakeCoderAgent(t *testing.T, client engine.LLMClient, hooks []engine.Hook) *CoderAgent {
	t.Helper()
	builder := engine.NewAgentBuilder().
		WithLLM(client).
		WithModel("test-model").
		WithToolRegistry(engine.ToolRegistry{}, "", engine.ToolSet{}).
		WithHooks(hooks)
	builder, err := builder.WithPrompt("interactive", prompts.PromptV2)
	if err != nil {
		t.Fatalf("WithPrompt: %v", err)
	}
	agent, err := builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return &CoderAgent{Agent: agent}
}

func TestDomainExecutor_ExecuteRunsToCompletion(t *testing.T) {
	exe := NewDomainExecutor()
	exe.newAgentFn = func(ctx context.Context, root string, hooks []engine.Hook) (*CoderAgent, error) {
		return newFakeCoderAgent(t, &fakeChatClient{text: "done editing"}, hooks), nil
	}

	var events []asyncengine.DomainEvent
	emit := func(ev asyncengine.DomainEvent) { events = append(events, ev) }

	result, err := exe.Execute(context.Background(), asyncengine.DomainTask{
		ChatID: "c1", Domain: "coder", RootPath: t.TempDir(), Message: "fix the bug",
	}, emit)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != asyncengine.OutcomeCompleted {
		t.Fatalf("outcome = %v, want completed", result.Outcome)
	}
	if result.FinalText != "done editing" {
		t.Fatalf("final text = %q", result.FinalText)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one translated domain event")
	}
}

func TestDomainExecutor_ExecuteRequiresWorkspace(t *testing.T) {
	exe := NewDomainExecutor()
	result, err := exe.Execute(context.Background(), asyncengine.DomainTask{ChatID: "c1", Domain: "coder"}, func(asyncengine.DomainEvent) {})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Outcome != asyncengine.OutcomeError {
		t.Fatalf("outcome = %v, want error", result.Outcome)
	}
}

func TestDomainExecutor_ResumeWithNoSessionErrors(t *testing.T) {
	exe := NewDomainExecutor()
	_, err := exe.Resume(context.Background(), "missing-task", asyncengine.ToolDecisionInput{Decision: "accept"}, func(asyncengine.DomainEvent) {})
	if err == nil {
		t.Fatal("expected error resuming an unknown task")
	}
}
