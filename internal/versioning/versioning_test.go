package versioning

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/logqs/atlas2/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(dir, "atlas.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedFiveMessageChat(t *testing.T, st *store.Store, chatID string) []string {
	t.Helper()
	ctx := context.Background()
	if _, err := st.CreateChat(ctx, chatID, "sys"); err != nil {
		t.Fatalf("create chat: %v", err)
	}
	roles := []store.MessageRole{store.RoleUser, store.RoleAssistant, store.RoleUser, store.RoleAssistant, store.RoleUser}
	ids := make([]string, 0, 5)
	for i, r := range roles {
		id, err := st.SaveMessage(ctx, chatID, r, "msg"+string(rune('1'+i)), "", "", "", nil, false, "")
		if err != nil {
			t.Fatalf("save message: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestApplyOperationEditUserMessage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ids := seedFiveMessageChat(t, st, "X")

	res, err := ApplyOperation(ctx, st, "X", ids[2], OpEdit, "edited")
	if err != nil {
		t.Fatalf("ApplyOperation: %v", err)
	}
	if res.MessagesCopied != 3 {
		t.Fatalf("expected 3 messages copied, got %d", res.MessagesCopied)
	}
	if !res.NeedsStreaming || res.StreamMessage != "edited" {
		t.Fatalf("expected streaming needed with edited content, got %+v", res)
	}
	if res.TargetMessageID == "" {
		t.Fatal("expected a target message id for edit on a user message")
	}

	history, err := st.GetChatHistory(ctx, res.VersionChatID)
	if err != nil {
		t.Fatalf("get chat history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages in version chat, got %d", len(history))
	}
	last := history[len(history)-1]
	if last.Role != store.RoleUser || last.Content != "edited" {
		t.Fatalf("expected last message to be the edited user message, got %+v", last)
	}

	versions, err := GetMessageVersions(ctx, st, res.TargetMessageID)
	if err != nil {
		t.Fatalf("GetMessageVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions (original+edit), got %d", len(versions))
	}
	if versions[0].Operation != "original" || versions[0].ChatVersionID != "X" {
		t.Fatalf("expected first version to be the original, got %+v", versions[0])
	}
	if versions[1].Operation != "edit" || versions[1].ChatVersionID != res.VersionChatID {
		t.Fatalf("expected second version to be the edit, got %+v", versions[1])
	}
}

func TestApplyOperationEditAssistantMessage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ids := seedFiveMessageChat(t, st, "X")

	res, err := ApplyOperation(ctx, st, "X", ids[1], OpEdit, "corrected answer")
	if err != nil {
		t.Fatalf("ApplyOperation: %v", err)
	}
	if res.NeedsStreaming {
		t.Fatal("editing an assistant message should not need streaming")
	}
	if res.MessagesCopied != 5 {
		t.Fatalf("expected all 5 messages copied, got %d", res.MessagesCopied)
	}

	history, err := st.GetChatHistory(ctx, res.VersionChatID)
	if err != nil {
		t.Fatalf("get chat history: %v", err)
	}
	if len(history) != 5 || history[1].Content != "corrected answer" {
		t.Fatalf("expected the second slot replaced, got %+v", history)
	}
}

func TestApplyOperationRetryDoesNotPrePersistUserMessage(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ids := seedFiveMessageChat(t, st, "X")

	res, err := ApplyOperation(ctx, st, "X", ids[3], OpRetry, "")
	if err != nil {
		t.Fatalf("ApplyOperation: %v", err)
	}
	if res.MessagesCopied != 2 {
		t.Fatalf("expected 2 messages copied (before the preceding user message), got %d", res.MessagesCopied)
	}
	if !res.NeedsStreaming || res.StreamMessage != "msg3" {
		t.Fatalf("expected streaming of the preceding user message content, got %+v", res)
	}
	if res.TargetMessageID != "" {
		t.Fatalf("retry must not pre-persist the retried user message, got target id %q", res.TargetMessageID)
	}

	history, err := st.GetChatHistory(ctx, res.VersionChatID)
	if err != nil {
		t.Fatalf("get chat history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected only 2 copied messages, got %d", len(history))
	}
}

func TestApplyOperationDelete(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ids := seedFiveMessageChat(t, st, "X")

	res, err := ApplyOperation(ctx, st, "X", ids[2], OpDelete, "")
	if err != nil {
		t.Fatalf("ApplyOperation: %v", err)
	}
	if res.NeedsStreaming {
		t.Fatal("delete should not need streaming")
	}
	if res.MessagesCopied != 2 {
		t.Fatalf("expected 2 messages copied, got %d", res.MessagesCopied)
	}

	name, err := func() (string, error) {
		c, err := st.GetChat(ctx, res.VersionChatID)
		if err != nil {
			return "", err
		}
		return c.Name, nil
	}()
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if name != "delete_1" {
		t.Fatalf("expected name delete_1, got %q", name)
	}
}

func TestApplyOperationNumbersBranchesByExistingChildren(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	ids := seedFiveMessageChat(t, st, "X")

	first, err := ApplyOperation(ctx, st, "X", ids[2], OpEdit, "v1")
	if err != nil {
		t.Fatalf("ApplyOperation: %v", err)
	}
	second, err := ApplyOperation(ctx, st, "X", ids[2], OpEdit, "v2")
	if err != nil {
		t.Fatalf("ApplyOperation: %v", err)
	}
	if first.VersionChatID == second.VersionChatID {
		t.Fatal("expected distinct version chats")
	}

	c1, err := st.GetChat(ctx, first.VersionChatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	c2, err := st.GetChat(ctx, second.VersionChatID)
	if err != nil {
		t.Fatalf("get chat: %v", err)
	}
	if c1.Name != "edit_1" || c2.Name != "edit_2" {
		t.Fatalf("expected sequential edit names, got %q and %q", c1.Name, c2.Name)
	}
}
