package dispatcher

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/ratelimit"
	"github.com/logqs/atlas2/internal/store"
)

type fakeLLMClient struct{ deltas []string }

func (f *fakeLLMClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	return engine.LLMResponse{}, nil
}

func (f *fakeLLMClient) Stream(ctx context.Context, model string, messages []engine.ChatMessage, schemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	out := make(chan engine.StreamEvent, len(f.deltas)+1)
	errCh := make(chan error, 1)
	for _, d := range f.deltas {
		out <- engine.StreamEvent{Type: "text_delta", Text: d}
	}
	out <- engine.StreamEvent{Type: "usage", Usage: engine.Usage{Total: 10}}
	close(out)
	close(errCh)
	return out, errCh
}

func newHarness(t *testing.T) (*Dispatcher, *store.Store, *eventbus.Bus) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	bus := eventbus.New(nil, 100)
	limiter := ratelimit.New(ratelimit.Config{})
	router := asyncengine.NewStaticRouter("openai", "gpt-4o")
	client := &fakeLLMClient{deltas: []string{"hi"}}
	async := asyncengine.New(st, bus, limiter, router, func(string) (engine.LLMClient, error) { return client, nil }, nil, nil)

	d := New(st, bus, limiter, async, nil, Config{}, nil)
	return d, st, bus
}

func TestStartChatProcessing_StraightLine(t *testing.T) {
	d, st, bus := newHarness(t)
	q := bus.Subscribe()
	defer bus.Unsubscribe(q)

	ctx := context.Background()
	if err := d.StartChatProcessing(ctx, Request{ChatID: "x", Message: "hi", Provider: "openai", Model: "gpt-4o"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	sawComplete := false
	for !sawComplete {
		select {
		case ev := <-q.C():
			if ev.Type == eventbus.TypeComplete {
				sawComplete = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for complete")
		}
	}

	history, err := st.GetChatHistory(ctx, "x")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != store.RoleUser || history[0].Content != "hi" {
		t.Fatalf("unexpected user message: %+v", history[0])
	}
}

func TestStartChatProcessing_DuplicateRequest(t *testing.T) {
	d, _, bus := newHarness(t)
	q := bus.Subscribe()
	defer bus.Unsubscribe(q)

	ctx := context.Background()
	if err := d.StartChatProcessing(ctx, Request{ChatID: "y", Message: "hi", Provider: "openai", Model: "gpt-4o"}); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := d.StartChatProcessing(ctx, Request{ChatID: "y", Message: "hi", Provider: "openai", Model: "gpt-4o"}); err != ErrDuplicateRequest {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
}

func TestStartChatProcessing_MaxConcurrentChats(t *testing.T) {
	d, _, _ := newHarness(t)
	d.cfg.MaxAsyncConcurrentChats = 0 // force the ceiling to bite immediately after accounting quirks
	ctx := context.Background()
	// Drain naturally via small sleep isn't reliable; instead assert the
	// ceiling check path compiles and returns the documented error when
	// artificially forced to zero live-task budget.
	if d.async.LiveTaskCount() < d.cfg.MaxAsyncConcurrentChats {
		t.Skip("live task count already below zero ceiling is impossible; nothing to assert")
	}
	err := d.StartChatProcessing(ctx, Request{ChatID: "z", Message: "hi", Provider: "openai", Model: "gpt-4o"})
	if err != ErrTooManyConcurrentChats {
		t.Fatalf("expected ErrTooManyConcurrentChats, got %v", err)
	}
}
