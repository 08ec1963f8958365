package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "atlas.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessageOrderingIsNumericNotLexicographic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateChat(ctx, "c1", ""); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	// Insert 15 messages; the position column grows 1..15 so a naive string
	// sort of "c1_10" before "c1_2" would fail this test if GetChatHistory
	// didn't sort numerically.
	for i := 0; i < 15; i++ {
		if _, err := s.SaveMessage(ctx, "c1", RoleUser, "m", "", "", "", nil, false, ""); err != nil {
			t.Fatalf("save message %d: %v", i, err)
		}
	}

	history, err := s.GetChatHistory(ctx, "c1")
	if err != nil {
		t.Fatalf("get chat history: %v", err)
	}
	if len(history) != 15 {
		t.Fatalf("expected 15 messages, got %d", len(history))
	}
	for i, m := range history {
		if m.Position != i+1 {
			t.Fatalf("message %d out of order: got position %d", i, m.Position)
		}
	}
}

func TestSaveMessageRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateChat(ctx, "c2", "sys"); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	id, err := s.SaveMessage(ctx, "c2", RoleUser, "hi", "", "openai", "gpt", []string{"f1"}, true, `{"route":"direct"}`)
	if err != nil {
		t.Fatalf("save message: %v", err)
	}
	if id != "c2_1" {
		t.Fatalf("expected id c2_1, got %s", id)
	}

	history, err := s.GetChatHistory(ctx, "c2")
	if err != nil {
		t.Fatalf("get chat history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	got := history[0]
	if got.Role != RoleUser || got.Content != "hi" || got.Provider != "openai" || got.Model != "gpt" || !got.RouterEnabled {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestChatStateTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateChat(ctx, "c3", ""); err != nil {
		t.Fatalf("create chat: %v", err)
	}

	if err := s.UpdateChatState(ctx, "c3", StateThinking); err != nil {
		t.Fatalf("static->thinking should be legal: %v", err)
	}
	if err := s.UpdateChatState(ctx, "c3", StateResponding); err != nil {
		t.Fatalf("thinking->responding should be legal: %v", err)
	}
	if err := s.UpdateChatState(ctx, "c3", StateStatic); err != nil {
		t.Fatalf("responding->static should be legal: %v", err)
	}

	if err := s.UpdateChatState(ctx, "c3", StateResponding); err != nil {
		t.Fatalf("static->responding should be legal: %v", err)
	}
	if err := s.UpdateChatState(ctx, "c3", StateThinking); err == nil {
		t.Fatalf("responding->thinking should be illegal")
	}
}

func TestCascadeDeleteMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateChat(ctx, "c4", ""); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.SaveMessage(ctx, "c4", RoleUser, "m", "", "", "", nil, false, ""); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}
	n, err := s.CascadeDeleteMessage(ctx, "c4_3", "c4")
	if err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows removed (positions 3,4,5), got %d", n)
	}
	history, _ := s.GetChatHistory(ctx, "c4")
	if len(history) != 2 {
		t.Fatalf("expected 2 remaining messages, got %d", len(history))
	}
}

func TestFileStateTransitionsAreMonotone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SaveFileRecord(ctx, FileRecord{ID: "f1", OriginalName: "a.txt", StoredFilename: "a.txt", FileSize: 10}); err != nil {
		t.Fatalf("save file: %v", err)
	}
	if err := s.UpdateFileAPIInfo(ctx, "f1", FileUploading, "openai", ""); err != nil {
		t.Fatalf("local->uploading should be legal: %v", err)
	}
	if err := s.UpdateFileAPIInfo(ctx, "f1", FileReady, "openai", "file-abc"); err == nil {
		t.Fatalf("uploading->ready should skip processing and be illegal")
	}
	if err := s.UpdateFileAPIInfo(ctx, "f1", FileProcessing, "openai", ""); err != nil {
		t.Fatalf("uploading->processing should be legal: %v", err)
	}
	if err := s.UpdateFileAPIInfo(ctx, "f1", FileError, "openai", ""); err != nil {
		t.Fatalf("*->error should always be legal: %v", err)
	}
}

func TestFindMainChatWalksBelongsTo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.CreateChat(ctx, "root", ""); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if err := s.CreateVersionChat(ctx, "v1", "edit_1", "", "root"); err != nil {
		t.Fatalf("create version chat: %v", err)
	}
	if err := s.CreateVersionChat(ctx, "v2", "edit_1", "", "v1"); err != nil {
		t.Fatalf("create version chat: %v", err)
	}
	main, err := s.FindMainChat(ctx, "v2")
	if err != nil {
		t.Fatalf("find main chat: %v", err)
	}
	if main != "root" {
		t.Fatalf("expected root, got %s", main)
	}
}
