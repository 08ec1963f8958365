package asyncengine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/ratelimit"
	"github.com/logqs/atlas2/internal/store"
)

func newTestStore(t *testing.T, chatID string) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if _, err := st.CreateChat(context.Background(), chatID, ""); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	return st
}

// fakeLLMClient streams a fixed sequence of deltas, optionally failing the
// first N attempts with a retryable error before succeeding.
type fakeLLMClient struct {
	deltas     []string
	failBefore int
	calls      int
}

func (f *fakeLLMClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	return engine.LLMResponse{}, nil
}

func (f *fakeLLMClient) Stream(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	out := make(chan engine.StreamEvent, len(f.deltas)+1)
	errCh := make(chan error, 1)
	f.calls++
	if f.calls <= f.failBefore {
		close(out)
		errCh <- &engine.EngineError{Class: engine.RetryClassRetryable, Err: context.DeadlineExceeded}
		close(errCh)
		return out, errCh
	}
	for _, d := range f.deltas {
		out <- engine.StreamEvent{Type: "text_delta", Text: d}
	}
	out <- engine.StreamEvent{Type: "usage", Usage: engine.Usage{Total: 42, Prompt: 30, Completion: 12}}
	close(out)
	close(errCh)
	return out, errCh
}

func llmFactory(client engine.LLMClient) func(string) (engine.LLMClient, error) {
	return func(string) (engine.LLMClient, error) { return client, nil }
}

func newTestEngine(t *testing.T, st *store.Store, client engine.LLMClient, domains map[string]DomainExecutor) *Engine {
	t.Helper()
	bus := eventbus.New(nil, 100)
	limiter := ratelimit.New(ratelimit.Config{})
	router := NewStaticRouter("openai", "gpt-4o")
	return New(st, bus, limiter, router, llmFactory(client), domains, nil)
}

func drainUntilTerminal(t *testing.T, q *eventbus.Queue, timeout time.Duration) []eventbus.Event {
	t.Helper()
	var got []eventbus.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-q.C():
			got = append(got, ev)
			if ev.IsTerminal() {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal event, got %d events", len(got))
		}
	}
}

func TestEngineDirectRouteStreamsToCompletion(t *testing.T) {
	chatID := "chat1"
	st := newTestStore(t, chatID)
	client := &fakeLLMClient{deltas: []string{"hello ", "world"}}
	eng := newTestEngine(t, st, client, nil)

	q := eng.bus.Subscribe()
	defer eng.bus.Unsubscribe(q)

	h, ok := eng.Submit(context.Background(), chatID, "hi there", "openai", "gpt-4o", nil, false, false)
	if !ok {
		t.Fatalf("submit rejected")
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	events := drainUntilTerminal(t, q, 2*time.Second)
	if events[len(events)-1].Type != eventbus.TypeComplete {
		t.Fatalf("expected terminal complete event, got %v", events[len(events)-1].Type)
	}

	history, err := st.GetChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello world" {
		t.Fatalf("expected one assistant message with accumulated content, got %+v", history)
	}
}

func TestEngineRetriesOnRetryableError(t *testing.T) {
	chatID := "chat2"
	st := newTestStore(t, chatID)
	client := &fakeLLMClient{deltas: []string{"ok"}, failBefore: 1}
	eng := newTestEngine(t, st, client, nil)

	q := eng.bus.Subscribe()
	defer eng.bus.Unsubscribe(q)

	h, ok := eng.Submit(context.Background(), chatID, "retry please", "openai", "gpt-4o", nil, false, false)
	if !ok {
		t.Fatalf("submit rejected")
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	var sawRetry bool
	events := drainUntilTerminal(t, q, 3*time.Second)
	for _, e := range events {
		if e.Type == eventbus.TypeModelRetry {
			sawRetry = true
		}
	}
	if !sawRetry {
		t.Fatalf("expected a model_retry event, got %+v", events)
	}
	if client.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", client.calls)
	}
}

func TestEngineRejectsDuplicateLiveTurn(t *testing.T) {
	chatID := "chat3"
	st := newTestStore(t, chatID)
	client := &fakeLLMClient{deltas: []string{"slow"}}
	eng := newTestEngine(t, st, client, nil)

	eng.regs.registerTask(chatID)
	_, ok := eng.Submit(context.Background(), chatID, "hi", "openai", "gpt-4o", nil, false, false)
	if ok {
		t.Fatalf("expected submit to be rejected while a turn is already live")
	}
}

// fakeDomainExecutor pauses once for a tool decision, then completes on Resume.
type fakeDomainExecutor struct{}

func (f *fakeDomainExecutor) Execute(ctx context.Context, task DomainTask, emit func(DomainEvent)) (DomainResult, error) {
	emit(DomainEvent{Kind: DomainEventState, Content: "planning"})
	return DomainResult{Outcome: OutcomeWaitingUser, TaskID: "task-1"}, nil
}

func (f *fakeDomainExecutor) Resume(ctx context.Context, taskID string, decision ToolDecisionInput, emit func(DomainEvent)) (DomainResult, error) {
	emit(DomainEvent{Kind: DomainEventToolExecution, Content: "file.write applied"})
	return DomainResult{Outcome: OutcomeCompleted, FinalText: "done editing"}, nil
}

func TestEngineDomainRouteParksForWorkspaceThenResumes(t *testing.T) {
	chatID := "chat4"
	st := newTestStore(t, chatID)
	client := &fakeLLMClient{deltas: []string{"unused"}}
	eng := newTestEngine(t, st, client, map[string]DomainExecutor{"coder": &fakeDomainExecutor{}})

	q := eng.bus.Subscribe()
	defer eng.bus.Unsubscribe(q)

	h, ok := eng.Submit(context.Background(), chatID, "edit the file main.go", "openai", "gpt-4o", nil, true, false)
	if !ok {
		t.Fatalf("submit rejected")
	}
	if err := h.Wait(); err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	sawPrompt := false
	for _, e := range drainSome(q, 500*time.Millisecond) {
		if e.Type == eventbus.TypeCoderWorkspacePrompt {
			sawPrompt = true
		}
	}
	if !sawPrompt {
		t.Fatalf("expected a coder_workspace_prompt event before a workspace is bound")
	}

	if err := st.UpsertCoderWorkspace(context.Background(), chatID, "ws-1", "/tmp/ws-1"); err != nil {
		t.Fatalf("upsert workspace: %v", err)
	}

	if !eng.ResumeAfterWorkspaceSelection(context.Background(), chatID) {
		t.Fatalf("expected a parked turn to resume")
	}
	// Give the resumed goroutine a moment to reach the waiting_user pause.
	deadline := time.After(2 * time.Second)
	for {
		if eng.RouteToolDecision(chatID) == RouteResumedHere {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("domain session never opened")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := eng.ResumeDomainToolDecision(context.Background(), chatID, ToolDecisionInput{CallID: "c1", Decision: "accept"}); err != nil {
		t.Fatalf("resume tool decision: %v", err)
	}

	if route := eng.RouteToolDecision(chatID); route != RouteStale && route != RouteForwardToPool {
		t.Fatalf("expected session to be cleared after completion, got route %v", route)
	}
}

func drainSome(q *eventbus.Queue, window time.Duration) []eventbus.Event {
	var got []eventbus.Event
	deadline := time.After(window)
	for {
		select {
		case ev := <-q.C():
			got = append(got, ev)
		case <-deadline:
			return got
		}
	}
}
