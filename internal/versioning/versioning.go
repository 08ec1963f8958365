// Package versioning implements the message/chat branch-tree model (spec
// §4.8): applying an edit/retry/delete operation to a transcript creates a
// new chat, branched off the source via belongs_to, carrying only the
// portion of history the operation calls for.
package versioning

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/logqs/atlas2/internal/store"
)

// Operation is one of the three transcript-branching operations.
type Operation string

const (
	OpEdit   Operation = "edit"
	OpRetry  Operation = "retry"
	OpDelete Operation = "delete"
)

// Result is the outcome of ApplyOperation, mirroring the
// /db/versioning/notify response shape (spec §6).
type Result struct {
	VersionChatID   string
	BelongsTo       string
	MessagesCopied  int
	NeedsStreaming  bool
	StreamMessage   string
	AttachedFileIDs []string
	// TargetMessageID is set only when the operation persists a concrete
	// message synchronously (edit), not when the next turn will persist it
	// itself (retry never pre-persists the retried user message).
	TargetMessageID string
}

// ApplyOperation implements apply_operation (spec §4.8). chatID is the
// source chat the operation is applied against; messageID identifies the
// message within it.
func ApplyOperation(ctx context.Context, st *store.Store, chatID, messageID string, op Operation, newContent string) (*Result, error) {
	history, err := st.GetChatHistory(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("versioning: load history: %w", err)
	}
	targetIdx := -1
	for i, m := range history {
		if m.ID == messageID {
			targetIdx = i
			break
		}
	}
	if targetIdx < 0 {
		return nil, fmt.Errorf("versioning: message %s not found in chat %s", messageID, chatID)
	}
	target := history[targetIdx]

	rootChatID, err := st.FindMainChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("versioning: find main chat: %w", err)
	}

	n, err := st.CountChildrenWithPrefix(ctx, chatID, string(op))
	if err != nil {
		return nil, fmt.Errorf("versioning: count children: %w", err)
	}
	name := fmt.Sprintf("%s_%d", op, n+1)

	source, err := st.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("versioning: load source chat: %w", err)
	}

	versionChatID := uuid.NewString()
	if err := st.CreateVersionChat(ctx, versionChatID, name, source.SystemPrompt, chatID); err != nil {
		return nil, fmt.Errorf("versioning: create version chat: %w", err)
	}

	res := &Result{VersionChatID: versionChatID, BelongsTo: chatID}

	switch op {
	case OpDelete:
		if err := copyPrefix(ctx, st, history, target.Position-1, versionChatID); err != nil {
			return nil, err
		}
		res.MessagesCopied = target.Position - 1
		if err := recordSlotVersion(ctx, st, rootChatID, chatID, versionChatID, target.Position, string(op), target.Content); err != nil {
			return nil, err
		}

	case OpRetry:
		userPos := target.Position
		streamMessage := target.Content
		attachedFileIDs := target.AttachedFileIDs
		if target.Role != store.RoleUser {
			userPos, streamMessage, attachedFileIDs = 0, "", nil
			for i := targetIdx; i >= 0; i-- {
				if history[i].Role == store.RoleUser {
					userPos = history[i].Position
					streamMessage = history[i].Content
					attachedFileIDs = history[i].AttachedFileIDs
					break
				}
			}
			if userPos == 0 {
				return nil, fmt.Errorf("versioning: retry: no preceding user message before %s", messageID)
			}
		}
		if err := copyPrefix(ctx, st, history, userPos-1, versionChatID); err != nil {
			return nil, err
		}
		res.MessagesCopied = userPos - 1
		res.NeedsStreaming = true
		res.StreamMessage = streamMessage
		res.AttachedFileIDs = attachedFileIDs
		if err := recordSlotVersion(ctx, st, rootChatID, chatID, versionChatID, userPos, string(op), streamMessage); err != nil {
			return nil, err
		}

	case OpEdit:
		if target.Role == store.RoleUser {
			if err := copyPrefix(ctx, st, history, target.Position-1, versionChatID); err != nil {
				return nil, err
			}
			newID, err := st.SaveMessage(ctx, versionChatID, store.RoleUser, newContent, "", "", "", target.AttachedFileIDs, target.RouterEnabled, "")
			if err != nil {
				return nil, fmt.Errorf("versioning: save edited message: %w", err)
			}
			if err := st.RecordLineage(ctx, newID, target.ID, versionChatID, target.Position); err != nil {
				return nil, fmt.Errorf("versioning: record lineage: %w", err)
			}
			res.MessagesCopied = target.Position
			res.NeedsStreaming = true
			res.StreamMessage = newContent
			res.AttachedFileIDs = target.AttachedFileIDs
			res.TargetMessageID = newID
		} else {
			targetMessageID := ""
			for _, m := range history {
				content := m.Content
				if m.Position == target.Position {
					content = newContent
				}
				newID, err := st.SaveMessage(ctx, versionChatID, m.Role, content, m.Thoughts, m.Provider, m.Model, m.AttachedFileIDs, m.RouterEnabled, m.RouterDecision)
				if err != nil {
					return nil, fmt.Errorf("versioning: copy message: %w", err)
				}
				if err := st.RecordLineage(ctx, newID, m.ID, versionChatID, m.Position); err != nil {
					return nil, fmt.Errorf("versioning: record lineage: %w", err)
				}
				if m.Position == target.Position {
					targetMessageID = newID
				}
			}
			res.MessagesCopied = len(history)
			res.TargetMessageID = targetMessageID
		}
		if err := recordSlotVersion(ctx, st, rootChatID, chatID, versionChatID, target.Position, string(op), newContent); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// copyPrefix copies the messages of history whose position is <= upto into
// versionChatID, recording lineage for each.
func copyPrefix(ctx context.Context, st *store.Store, history []store.Message, upto int, versionChatID string) error {
	for _, m := range history {
		if m.Position > upto {
			break
		}
		newID, err := st.SaveMessage(ctx, versionChatID, m.Role, m.Content, m.Thoughts, m.Provider, m.Model, m.AttachedFileIDs, m.RouterEnabled, m.RouterDecision)
		if err != nil {
			return fmt.Errorf("versioning: copy message: %w", err)
		}
		if err := st.RecordLineage(ctx, newID, m.ID, versionChatID, m.Position); err != nil {
			return fmt.Errorf("versioning: record lineage: %w", err)
		}
	}
	return nil
}

// recordSlotVersion appends an entry to message_versions for the family at
// (rootChatID, position), first recording an "original" entry sourced from
// the root chat if this is the first version ever taken of that slot.
func recordSlotVersion(ctx context.Context, st *store.Store, rootChatID, sourceChatID, versionChatID string, position int, op, content string) error {
	canonical := canonicalID(rootChatID, position)
	existing, err := st.GetLineageVersions(ctx, canonical)
	if err != nil {
		return fmt.Errorf("recordSlotVersion: %w", err)
	}
	if len(existing) == 0 {
		rootHistory, err := st.GetChatHistory(ctx, rootChatID)
		if err != nil {
			return fmt.Errorf("recordSlotVersion: load root history: %w", err)
		}
		rootContent := content
		for _, m := range rootHistory {
			if m.Position == position {
				rootContent = m.Content
				break
			}
		}
		if err := st.RecordVersion(ctx, store.MessageVersion{
			OriginalMessageID: canonical, VersionNumber: 1,
			ChatVersionID: rootChatID, Operation: "original", Content: rootContent,
		}); err != nil {
			return fmt.Errorf("recordSlotVersion: record original: %w", err)
		}
		existing = append(existing, store.MessageVersion{})
	}
	return st.RecordVersion(ctx, store.MessageVersion{
		OriginalMessageID: canonical, VersionNumber: len(existing) + 1,
		ChatVersionID: versionChatID, Operation: op, Content: content,
	})
}

func canonicalID(rootChatID string, position int) string {
	return fmt.Sprintf("%s_%d", rootChatID, position)
}

// GetMessageVersions implements get_message_versions (spec §4.8): prefers
// the recorded message_versions rows, falling back to synthesizing the list
// by walking the branch tree and matching positions when lineage wasn't
// populated (e.g. a family created before versioning was wired up).
func GetMessageVersions(ctx context.Context, st *store.Store, messageID string) ([]store.MessageVersion, error) {
	position, chatID, err := parseMessageID(messageID)
	if err != nil {
		return nil, err
	}
	rootChatID, err := st.FindMainChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get message versions: %w", err)
	}
	canonical := canonicalID(rootChatID, position)

	versions, err := st.GetLineageVersions(ctx, canonical)
	if err != nil {
		return nil, fmt.Errorf("get message versions: %w", err)
	}
	if len(versions) > 0 {
		return versions, nil
	}
	return synthesizeVersions(ctx, st, rootChatID, canonical, position)
}

// synthesizeVersions walks every chat in the root's version family and, for
// each one that has a message at position, builds a synthetic version row
// ordered by the chat's creation time (the root chat first, as "original").
func synthesizeVersions(ctx context.Context, st *store.Store, rootChatID, canonical string, position int) ([]store.MessageVersion, error) {
	type familyMember struct {
		chat store.Chat
		op   string
	}
	root, err := st.GetChat(ctx, rootChatID)
	if err != nil {
		return nil, fmt.Errorf("synthesize versions: %w", err)
	}
	members := []familyMember{{chat: *root, op: "original"}}

	queue := []string{rootChatID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := st.ListChatsBelongingTo(ctx, cur)
		if err != nil {
			return nil, fmt.Errorf("synthesize versions: %w", err)
		}
		for _, c := range children {
			members = append(members, familyMember{chat: c, op: operationFromName(c.Name)})
			queue = append(queue, c.ID)
		}
	}

	sort.SliceStable(members, func(i, j int) bool {
		return members[i].chat.CreatedAt.Before(members[j].chat.CreatedAt)
	})

	var out []store.MessageVersion
	for _, fm := range members {
		history, err := st.GetChatHistory(ctx, fm.chat.ID)
		if err != nil {
			return nil, fmt.Errorf("synthesize versions: %w", err)
		}
		for _, m := range history {
			if m.Position == position {
				out = append(out, store.MessageVersion{
					OriginalMessageID: canonical,
					VersionNumber:     len(out) + 1,
					ChatVersionID:     fm.chat.ID,
					Operation:         fm.op,
					Content:           m.Content,
					CreatedAt:         fm.chat.CreatedAt,
				})
				break
			}
		}
	}
	return out, nil
}

func operationFromName(name string) string {
	if i := strings.IndexByte(name, '_'); i >= 0 {
		return name[:i]
	}
	return name
}

// parseMessageID splits "<chat_id>_<position>" the same way the store's own
// id.rsplit('_',1) invariant does (spec §9).
func parseMessageID(id string) (position int, chatID string, err error) {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return 0, "", fmt.Errorf("malformed message id %q", id)
	}
	pos, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return 0, "", fmt.Errorf("malformed message id %q: %w", id, err)
	}
	return pos, id[:idx], nil
}
