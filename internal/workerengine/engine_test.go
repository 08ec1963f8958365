package workerengine

import (
	"bufio"
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/ratelimit"
	"github.com/logqs/atlas2/internal/store"
	"github.com/logqs/atlas2/internal/workerpool"
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

type fakeLLMClient struct{ deltas []string }

func (f *fakeLLMClient) Chat(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (engine.LLMResponse, error) {
	return engine.LLMResponse{}, nil
}

func (f *fakeLLMClient) Stream(ctx context.Context, model string, messages []engine.ChatMessage, toolSchemas []engine.ToolSchema, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	out := make(chan engine.StreamEvent, len(f.deltas)+1)
	errCh := make(chan error, 1)
	for _, d := range f.deltas {
		out <- engine.StreamEvent{Type: "text_delta", Text: d}
	}
	out <- engine.StreamEvent{Type: "usage", Usage: engine.Usage{Total: 10, Prompt: 6, Completion: 4}}
	close(out)
	close(errCh)
	return out, errCh
}

// collector decodes every event a worker writes and stores it for assertions.
type collector struct {
	mu     sync.Mutex
	events []workerpool.Event
}

func (c *collector) run(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		ev, err := workerpool.DecodeEvent(sc.Bytes())
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

func (c *collector) snapshot() []workerpool.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]workerpool.Event, len(c.events))
	copy(out, c.events)
	return out
}

func waitForTerminal(t *testing.T, c *collector, timeout time.Duration) workerpool.TerminalEvent {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if term, ok := ev.(workerpool.TerminalEvent); ok {
				return term
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for terminal event")
	return workerpool.TerminalEvent{}
}

func newTestEngine(t *testing.T, st *store.Store, client engine.LLMClient, w io.Writer) *Engine {
	t.Helper()
	bus := eventbus.New(nil, 100)
	limiter := ratelimit.New(ratelimit.Config{})
	router := asyncengine.NewStaticRouter("openai", "gpt-4o")
	llmFor := func(string) (engine.LLMClient, error) { return client, nil }
	async := asyncengine.New(st, bus, limiter, router, llmFor, map[string]asyncengine.DomainExecutor{}, nil)
	enc := workerpool.NewEventEncoder(w)
	eng := New(async, bus, st, enc, nil)
	return eng
}

func TestEngineProcessCommandStreamsToTerminal(t *testing.T) {
	chatID := "chat-1"
	st := newTestStore(t, chatID)
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close(); pr.Close() })

	eng := newTestEngine(t, st, &fakeLLMClient{deltas: []string{"hello ", "world"}}, pw)
	c := &collector{}
	go c.run(pr)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	cmd := workerpool.NewProcessCommand(chatID, "hi", "openai", "gpt-4o", nil, false, false)
	if err := eng.HandleCommand(ctx, cmd); err != nil {
		t.Fatalf("handle process: %v", err)
	}

	term := waitForTerminal(t, c, 2*time.Second)
	if !term.Success {
		t.Fatalf("expected success terminal, got %+v", term)
	}

	history, err := st.GetChatHistory(context.Background(), chatID)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	found := false
	for _, m := range history {
		if m.Role == store.RoleAssistant && m.Content == "hello world" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected assistant message %q in history, got %+v", "hello world", history)
	}
}

func TestEngineRejectsSecondConcurrentProcess(t *testing.T) {
	chatID := "chat-2"
	st := newTestStore(t, chatID)
	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close(); pr.Close() })

	eng := newTestEngine(t, st, &fakeLLMClient{deltas: []string{"slow"}}, pw)
	c := &collector{}
	go c.run(pr)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	if !eng.beginProcessing(chatID) {
		t.Fatalf("expected to claim processing slot")
	}
	defer eng.endProcessing()

	cmd := workerpool.NewProcessCommand("chat-3", "hi", "openai", "gpt-4o", nil, false, false)
	if err := eng.HandleCommand(ctx, cmd); err != nil {
		t.Fatalf("handle process: %v", err)
	}
	term := waitForTerminal(t, c, 2*time.Second)
	if term.Success || !term.StaleRequest {
		t.Fatalf("expected a stale/busy terminal event, got %+v", term)
	}
}
