package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/dispatcher"
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

func newTestServer(t *testing.T) (*Server, *store.Store, *eventbus.Bus) {
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
	disp := dispatcher.New(st, bus, limiter, async, nil, dispatcher.Config{}, nil)

	srv := New(Config{Store: st, Bus: bus, Dispatcher: disp, Async: async})
	return srv, st, bus
}

func TestHandleChatSend_AcceptsAndPersistsUserMessage(t *testing.T) {
	srv, st, _ := newTestServer(t)

	mux := http.NewServeMux()
	srv.routes(mux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body := `{"chat_id":"c1","message":"hello","provider":"openai","model":"gpt-4o"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/send", strings.NewReader(body)).WithContext(ctx)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp sendResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ChatID != "c1" || resp.Response.Text != "hi" {
		t.Fatalf("unexpected response body: %+v", resp)
	}

	history, err := st.GetChatHistory(context.Background(), "c1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) == 0 || history[0].Content != "hello" {
		t.Fatalf("expected persisted user message, got %+v", history)
	}
}

func TestHandleChatStream_DispatchesAndStreamsTurnToCompletion(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body := `{"chat_id":"c-stream","message":"hi","provider":"openai","model":"gpt-4o"}`
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body)).WithContext(ctx)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	out := rw.Body.String()
	if !strings.HasPrefix(out, "retry: 1500\n\n") {
		t.Fatalf("expected leading retry hint, got: %q", out)
	}
	if !strings.Contains(out, `"type":"chat_id"`) || !strings.Contains(out, `"content":"c-stream"`) {
		t.Fatalf("expected a chat_id frame naming the dispatched chat, got: %s", out)
	}
	if !strings.Contains(out, `"type":"complete"`) {
		t.Fatalf("expected the stream to end with a complete event, got: %s", out)
	}
	if strings.Count(out, `"type":"complete"`)+strings.Count(out, `"type":"error"`) != 1 {
		t.Fatalf("expected exactly one terminal event, got: %s", out)
	}
}

func TestHandleChatStream_GeneratesChatIDWhenOmitted(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(`{"message":"hi"}`)).WithContext(ctx)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	out := rw.Body.String()
	if !strings.Contains(out, `"type":"chat_id"`) {
		t.Fatalf("expected a generated chat_id frame, got: %s", out)
	}
}

func TestHandleChatSend_RejectsMissingMessage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/chat/send", strings.NewReader(`{"chat_id":"c1"}`))
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing message, got %d", rw.Code)
	}
}

func TestHandleChatSend_GeneratesChatIDWhenOmitted(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodPost, "/chat/send", strings.NewReader(`{"message":"hi"}`)).WithContext(ctx)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp sendResponse
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ChatID == "" {
		t.Fatalf("expected a generated chat_id, got empty")
	}
}

func TestHandleProviders_ListsSupportedProviders(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/chat/providers", nil)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}
	var resp struct {
		Providers []string `json:"providers"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Providers) == 0 {
		t.Fatal("expected at least one supported provider")
	}
}

func TestHandleModels_DefaultsToOpenAI(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/chat/models", nil)
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp struct {
		Provider     string `json:"provider"`
		DefaultModel string `json:"default_model"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Provider != "openai" || resp.DefaultModel == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleWebSession_UnavailableWhenNotConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t)
	mux := http.NewServeMux()
	srv.routes(mux)

	req := httptest.NewRequest(http.MethodPost, "/web/session", strings.NewReader(`{"chat_id":"c1"}`))
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)

	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when web session manager is disabled, got %d", rw.Code)
	}
}
