package terminal

import (
	"testing"
	"time"
)

// newTestSession builds a Session with no real PTY/process attached, to
// exercise the subscriber fan-out logic in isolation.
func newTestSession() *Session {
	return &Session{
		ID:          "sess-test",
		ChatID:      "chat-test",
		subscribers: make(map[chan OutputChunk]struct{}),
		done:        make(chan struct{}),
	}
}

func TestSession_BroadcastDeliversToAllSubscribers(t *testing.T) {
	s := newTestSession()
	a := s.Subscribe()
	b := s.Subscribe()

	s.broadcast(OutputChunk{SessionID: s.ID, Data: []byte("hello")})

	select {
	case chunk := <-a:
		if string(chunk.Data) != "hello" {
			t.Fatalf("subscriber a got %q", chunk.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber a did not receive broadcast")
	}
	select {
	case chunk := <-b:
		if string(chunk.Data) != "hello" {
			t.Fatalf("subscriber b got %q", chunk.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber b did not receive broadcast")
	}
}

func TestSession_UnsubscribeClosesChannel(t *testing.T) {
	s := newTestSession()
	ch := s.Subscribe()
	s.Unsubscribe(ch)

	if _, open := <-ch; open {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}

	// Broadcasting after unsubscribe must not panic or re-deliver.
	s.broadcast(OutputChunk{SessionID: s.ID, Data: []byte("x")})
}

func TestSession_BroadcastDropsOnFullBuffer(t *testing.T) {
	s := newTestSession()
	ch := s.Subscribe()

	// Fill the buffered channel past capacity; broadcast must not block.
	for i := 0; i < cap(ch)+10; i++ {
		s.broadcast(OutputChunk{SessionID: s.ID, Data: []byte("x")})
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected channel to be full at capacity %d, got len %d", cap(ch), len(ch))
	}
}

func TestManager_NewManager_DefaultsShell(t *testing.T) {
	m := NewManager("", nil)
	if m.shell == "" {
		t.Fatal("expected a non-empty default shell")
	}
}

func TestManager_GetMissingSession(t *testing.T) {
	m := NewManager("/bin/sh", nil)
	if _, ok := m.Get("nonexistent"); ok {
		t.Fatal("expected no session for an unknown chat ID")
	}
}
