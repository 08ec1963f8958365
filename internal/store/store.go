// Package store is the durable relational store for chats, messages, file
// references, versioning lineage, and token usage.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ChatState is the per-chat lifecycle state.
type ChatState string

const (
	StateStatic    ChatState = "static"
	StateThinking  ChatState = "thinking"
	StateResponding ChatState = "responding"
)

// legal transitions out of each state; any state may always go to static.
var chatTransitions = map[ChatState]map[ChatState]bool{
	StateStatic:    {StateThinking: true, StateResponding: true},
	StateThinking:  {StateResponding: true, StateStatic: true},
	StateResponding: {StateStatic: true},
}

// MessageRole mirrors the role enum used by the chat engine.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// FileAPIState is the lifecycle of an uploaded file reference at the provider.
type FileAPIState string

const (
	FileLocal         FileAPIState = "local"
	FileProcessingMD  FileAPIState = "processing_md"
	FileUploading     FileAPIState = "uploading"
	FileProcessing    FileAPIState = "processing"
	FileReady         FileAPIState = "ready"
	FileError         FileAPIState = "error"
)

var fileTransitions = map[FileAPIState][]FileAPIState{
	FileLocal:        {FileProcessingMD, FileUploading, FileError},
	FileProcessingMD: {FileUploading, FileError},
	FileUploading:    {FileProcessing, FileError},
	FileProcessing:   {FileReady, FileError},
	FileReady:        {FileError},
}

// Chat is a single conversation thread.
type Chat struct {
	ID           string
	Name         string
	SystemPrompt string
	State        ChatState
	CreatedAt    time.Time
	IsVersion    bool
	BelongsTo    string // empty if root
}

// Message is one entry in a chat's linear transcript.
type Message struct {
	ID              string // "<chat_id>_<position>"
	ChatID          string
	Position        int
	Role            MessageRole
	Content         string
	Thoughts        string
	Provider        string
	Model           string
	RouterEnabled   bool
	RouterDecision  string // raw JSON
	DomainExecution string // raw JSON
	AttachedFileIDs []string
	Timestamp       time.Time
}

// FileRecord is an uploaded file reference attached to messages.
type FileRecord struct {
	ID             string
	OriginalName   string
	StoredFilename string
	FileSize       int64
	APIState       FileAPIState
	Provider       string
	APIFileName    string
}

// TokenUsageRecord is the per-message token accounting row.
type TokenUsageRecord struct {
	MessageID       string
	ChatID          string
	EstimatedTokens int
	ActualTokens    int
	Provider        string
	Model           string
	Role            MessageRole
}

// MessageVersion is one row of the message_versions table.
type MessageVersion struct {
	OriginalMessageID string
	VersionNumber     int
	ChatVersionID     string
	Operation         string // original | edit | retry | delete
	Content           string
	CreatedAt         time.Time
}

// ErrInvalidTransition is returned when a chat/file state change is illegal.
type ErrInvalidTransition struct {
	From, To string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// Store wraps a single-writer SQLite connection.
//
// Grounded on the teacher's WAL + SetMaxOpenConns(1) pattern and ON CONFLICT
// upsert idiom; the schema is new (chats/messages/files instead of
// repos/symbols/chunks/embeddings).
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite-backed store at path.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping store db: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		chat_id       TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		system_prompt TEXT NOT NULL DEFAULT '',
		state         TEXT NOT NULL DEFAULT 'static',
		created_at    INTEGER NOT NULL,
		is_version    INTEGER NOT NULL DEFAULT 0,
		belongs_to    TEXT
	);

	CREATE TABLE IF NOT EXISTS messages (
		id               TEXT PRIMARY KEY,
		chat_id          TEXT NOT NULL,
		position         INTEGER NOT NULL,
		role             TEXT NOT NULL,
		content          TEXT NOT NULL DEFAULT '',
		thoughts         TEXT NOT NULL DEFAULT '',
		provider         TEXT,
		model            TEXT,
		router_enabled   INTEGER NOT NULL DEFAULT 0,
		router_decision  TEXT,
		domain_execution TEXT,
		timestamp        INTEGER NOT NULL,
		UNIQUE (chat_id, position),
		FOREIGN KEY (chat_id) REFERENCES chats(chat_id)
	);

	CREATE TABLE IF NOT EXISTS files (
		file_id         TEXT PRIMARY KEY,
		original_name   TEXT NOT NULL,
		stored_filename TEXT NOT NULL,
		file_size       INTEGER NOT NULL,
		api_state       TEXT NOT NULL DEFAULT 'local',
		provider        TEXT,
		api_file_name   TEXT
	);

	CREATE TABLE IF NOT EXISTS message_files (
		message_id TEXT NOT NULL,
		file_id    TEXT NOT NULL,
		PRIMARY KEY (message_id, file_id)
	);

	CREATE TABLE IF NOT EXISTS message_versions (
		original_message_id TEXT NOT NULL,
		version_number       INTEGER NOT NULL,
		chat_version_id       TEXT NOT NULL,
		operation             TEXT NOT NULL,
		content               TEXT NOT NULL DEFAULT '',
		created_at            INTEGER NOT NULL,
		PRIMARY KEY (original_message_id, version_number)
	);

	CREATE TABLE IF NOT EXISTS message_lineage (
		message_id  TEXT PRIMARY KEY,
		parent_id   TEXT,
		chat_id     TEXT NOT NULL,
		position    INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS token_usage (
		message_id       TEXT PRIMARY KEY,
		chat_id          TEXT NOT NULL,
		estimated_tokens INTEGER NOT NULL,
		actual_tokens    INTEGER NOT NULL,
		provider         TEXT,
		model            TEXT,
		role             TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coder_workspaces (
		chat_id      TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		root_path    TEXT NOT NULL,
		updated_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
	CREATE INDEX IF NOT EXISTS idx_chats_belongs_to ON chats(belongs_to);
	CREATE INDEX IF NOT EXISTS idx_versions_original ON message_versions(original_message_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateChat creates a new chat row. Returns false if the chat already exists.
func (s *Store) CreateChat(ctx context.Context, chatID, systemPrompt string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, name, system_prompt, state, created_at, is_version, belongs_to)
		VALUES (?, '', ?, 'static', ?, 0, NULL)
		ON CONFLICT(chat_id) DO NOTHING
	`, chatID, systemPrompt, time.Now().Unix())
	if err != nil {
		return false, fmt.Errorf("create chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateVersionChat creates a new chat that is a branch of source, with the
// given name (e.g. "edit_1").
func (s *Store) CreateVersionChat(ctx context.Context, chatID, name, systemPrompt, belongsTo string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, name, system_prompt, state, created_at, is_version, belongs_to)
		VALUES (?, ?, ?, 'static', ?, 1, ?)
	`, chatID, name, systemPrompt, time.Now().Unix(), belongsTo)
	if err != nil {
		return fmt.Errorf("create version chat: %w", err)
	}
	return nil
}

// CountChildrenWithPrefix counts chats whose belongs_to = source and whose
// name starts with opPrefix + "_" -- used to number new version branches.
func (s *Store) CountChildrenWithPrefix(ctx context.Context, source, opPrefix string) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM chats WHERE belongs_to = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("count children: %w", err)
	}
	defer rows.Close()
	count := 0
	prefix := opPrefix + "_"
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return 0, err
		}
		if strings.HasPrefix(name, prefix) {
			count++
		}
	}
	return count, rows.Err()
}

// GetChat retrieves a chat row by id.
func (s *Store) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var c Chat
	var belongsTo sql.NullString
	var createdAt int64
	var isVersion int
	err := s.db.QueryRowContext(ctx, `
		SELECT chat_id, name, system_prompt, state, created_at, is_version, belongs_to
		FROM chats WHERE chat_id = ?
	`, chatID).Scan(&c.ID, &c.Name, &c.SystemPrompt, &c.State, &createdAt, &isVersion, &belongsTo)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	c.IsVersion = isVersion == 1
	if belongsTo.Valid {
		c.BelongsTo = belongsTo.String
	}
	return &c, nil
}

// UpdateChatState validates and applies a chat state transition.
func (s *Store) UpdateChatState(ctx context.Context, chatID string, newState ChatState) error {
	var cur ChatState
	err := s.db.QueryRowContext(ctx, `SELECT state FROM chats WHERE chat_id = ?`, chatID).Scan(&cur)
	if err != nil {
		return fmt.Errorf("update chat state: %w", err)
	}
	if cur == newState {
		return nil
	}
	if newState != StateStatic && !chatTransitions[cur][newState] {
		return &ErrInvalidTransition{From: string(cur), To: string(newState)}
	}
	_, err = s.db.ExecContext(ctx, `UPDATE chats SET state = ? WHERE chat_id = ?`, newState, chatID)
	if err != nil {
		return fmt.Errorf("update chat state: %w", err)
	}
	return nil
}

// SaveMessage assigns the next ordinal position atomically and inserts the row.
func (s *Store) SaveMessage(ctx context.Context, chatID string, role MessageRole, content, thoughts, provider, model string, attachedFileIDs []string, routerEnabled bool, routerDecision string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}
	defer tx.Rollback()

	var maxPos sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(position) FROM messages WHERE chat_id = ?`, chatID).Scan(&maxPos); err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}
	position := 1
	if maxPos.Valid {
		position = int(maxPos.Int64) + 1
	}
	id := fmt.Sprintf("%s_%d", chatID, position)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, position, role, content, thoughts, provider, model, router_enabled, router_decision, domain_execution, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?)
	`, id, chatID, position, role, content, thoughts, nullIfEmpty(provider), nullIfEmpty(model), boolToInt(routerEnabled), nullIfEmpty(routerDecision), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}

	for _, fid := range attachedFileIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO message_files (message_id, file_id) VALUES (?, ?)`, id, fid); err != nil {
			return "", fmt.Errorf("save message file ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("save message: %w", err)
	}
	return id, nil
}

// UpdateMessage overwrites content/thoughts/domain_execution on an assistant
// message. Idempotent: repeated calls with identical content are no-ops at
// the row level.
func (s *Store) UpdateMessage(ctx context.Context, id, content, thoughts, domainExecution string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET content = ?, thoughts = ?, domain_execution = ? WHERE id = ?
	`, content, thoughts, domainExecution, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

// CascadeDeleteMessage removes the target message and all later messages in
// the same chat (by position), returning the number of rows removed.
func (s *Store) CascadeDeleteMessage(ctx context.Context, id, chatID string) (int, error) {
	pos, err := positionOf(id)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ? AND position >= ?`, chatID, pos)
	if err != nil {
		return 0, fmt.Errorf("cascade delete message: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetChatHistory returns a chat's messages sorted by numeric position
// (never lexicographic -- see id.rsplit('_',1) invariant in spec §9).
func (s *Store) GetChatHistory(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat_id, position, role, content, thoughts, provider, model, router_enabled, router_decision, domain_execution, timestamp
		FROM messages WHERE chat_id = ?
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat history: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var provider, model, routerDecision, domainExecution sql.NullString
		var routerEnabled int
		var ts int64
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Position, &m.Role, &m.Content, &m.Thoughts, &provider, &model, &routerEnabled, &routerDecision, &domainExecution, &ts); err != nil {
			return nil, fmt.Errorf("get chat history: %w", err)
		}
		m.Provider = provider.String
		m.Model = model.String
		m.RouterEnabled = routerEnabled == 1
		m.RouterDecision = routerDecision.String
		m.DomainExecution = domainExecution.String
		m.Timestamp = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Defense in depth: always re-sort by numeric position, never trust
	// whatever order the driver happened to return.
	sortMessagesByPosition(msgs)
	return msgs, nil
}

func sortMessagesByPosition(msgs []Message) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && msgs[j].Position < msgs[j-1].Position; j-- {
			msgs[j], msgs[j-1] = msgs[j-1], msgs[j]
		}
	}
}

// positionOf parses the trailing "_<n>" ordinal from a message id.
func positionOf(id string) (int, error) {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return 0, fmt.Errorf("malformed message id %q", id)
	}
	n, err := strconv.Atoi(id[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("malformed message id %q: %w", id, err)
	}
	return n, nil
}

// SaveFileRecord inserts a file reference, in state "local" unless APIState is
// set. For an existing file_id it updates only the name, stored filename and
// size.
func (s *Store) SaveFileRecord(ctx context.Context, f FileRecord) error {
	state := f.APIState
	if state == "" {
		state = FileLocal
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (file_id, original_name, stored_filename, file_size, api_state, provider, api_file_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			original_name = excluded.original_name,
			stored_filename = excluded.stored_filename,
			file_size = excluded.file_size
	`, f.ID, f.OriginalName, f.StoredFilename, f.FileSize, state, nullIfEmpty(f.Provider), nullIfEmpty(f.APIFileName))
	if err != nil {
		return fmt.Errorf("save file record: %w", err)
	}
	return nil
}

// UpdateFileAPIInfo transitions a file's api_state, validating monotonicity
// (anything -> error is always allowed; forward transitions otherwise).
func (s *Store) UpdateFileAPIInfo(ctx context.Context, fileID string, newState FileAPIState, provider, apiFileName string) error {
	f, err := s.GetFileRecord(ctx, fileID)
	if err != nil {
		return fmt.Errorf("update file api info: %w", err)
	}
	if newState != FileError && newState != f.APIState {
		allowed := false
		for _, s := range fileTransitions[f.APIState] {
			if s == newState {
				allowed = true
				break
			}
		}
		if !allowed {
			return &ErrInvalidTransition{From: string(f.APIState), To: string(newState)}
		}
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE files SET api_state = ?, provider = ?, api_file_name = ? WHERE file_id = ?
	`, newState, nullIfEmpty(provider), nullIfEmpty(apiFileName), fileID)
	if err != nil {
		return fmt.Errorf("update file api info: %w", err)
	}
	return nil
}

// GetFileRecord retrieves a file reference by id.
func (s *Store) GetFileRecord(ctx context.Context, fileID string) (*FileRecord, error) {
	var f FileRecord
	var provider, apiFileName sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT file_id, original_name, stored_filename, file_size, api_state, provider, api_file_name
		FROM files WHERE file_id = ?
	`, fileID).Scan(&f.ID, &f.OriginalName, &f.StoredFilename, &f.FileSize, &f.APIState, &provider, &apiFileName)
	if err != nil {
		return nil, err
	}
	f.Provider = provider.String
	f.APIFileName = apiFileName.String
	return &f, nil
}

// SaveTokenUsage inserts/overwrites the token accounting row for a message.
func (s *Store) SaveTokenUsage(ctx context.Context, u TokenUsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_usage (message_id, chat_id, estimated_tokens, actual_tokens, provider, model, role)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			estimated_tokens = excluded.estimated_tokens,
			actual_tokens = excluded.actual_tokens
	`, u.MessageID, u.ChatID, u.EstimatedTokens, u.ActualTokens, nullIfEmpty(u.Provider), nullIfEmpty(u.Model), u.Role)
	if err != nil {
		return fmt.Errorf("save token usage: %w", err)
	}
	return nil
}

// RecordLineage records a message_lineage row linking a message to its
// parent (the message it was derived from across a version operation).
func (s *Store) RecordLineage(ctx context.Context, messageID, parentID, chatID string, position int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_lineage (message_id, parent_id, chat_id, position)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET parent_id = excluded.parent_id
	`, messageID, nullIfEmpty(parentID), chatID, position)
	if err != nil {
		return fmt.Errorf("record lineage: %w", err)
	}
	return nil
}

// RecordVersion appends a row to message_versions for a family identified by
// originalMessageID (always scoped to the root main chat).
func (s *Store) RecordVersion(ctx context.Context, v MessageVersion) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_versions (original_message_id, version_number, chat_version_id, operation, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.OriginalMessageID, v.VersionNumber, v.ChatVersionID, v.Operation, v.Content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return nil
}

// GetLineageVersions returns the recorded version rows for a family, ordered
// by version_number ascending.
func (s *Store) GetLineageVersions(ctx context.Context, originalMessageID string) ([]MessageVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT original_message_id, version_number, chat_version_id, operation, content, created_at
		FROM message_versions WHERE original_message_id = ? ORDER BY version_number ASC
	`, originalMessageID)
	if err != nil {
		return nil, fmt.Errorf("get lineage versions: %w", err)
	}
	defer rows.Close()

	var out []MessageVersion
	for rows.Next() {
		var v MessageVersion
		var createdAt int64
		if err := rows.Scan(&v.OriginalMessageID, &v.VersionNumber, &v.ChatVersionID, &v.Operation, &v.Content, &createdAt); err != nil {
			return nil, err
		}
		v.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListChatsBelongingTo returns the direct version-branch children of source
// (chats with belongs_to = source), ordered by creation time.
func (s *Store) ListChatsBelongingTo(ctx context.Context, source string) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, name, system_prompt, state, created_at, is_version, belongs_to
		FROM chats WHERE belongs_to = ? ORDER BY created_at ASC
	`, source)
	if err != nil {
		return nil, fmt.Errorf("list chats belonging to %s: %w", source, err)
	}
	defer rows.Close()

	var out []Chat
	for rows.Next() {
		var c Chat
		var belongsTo sql.NullString
		var createdAt int64
		var isVersion int
		if err := rows.Scan(&c.ID, &c.Name, &c.SystemPrompt, &c.State, &createdAt, &isVersion, &belongsTo); err != nil {
			return nil, err
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		c.IsVersion = isVersion == 1
		if belongsTo.Valid {
			c.BelongsTo = belongsTo.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindMainChat walks belongs_to to the root of a version family.
func (s *Store) FindMainChat(ctx context.Context, chatID string) (string, error) {
	cur := chatID
	seen := map[string]bool{}
	for {
		if seen[cur] {
			return "", fmt.Errorf("find main chat: cycle detected at %s", cur)
		}
		seen[cur] = true
		c, err := s.GetChat(ctx, cur)
		if err != nil {
			return "", fmt.Errorf("find main chat: %w", err)
		}
		if c.BelongsTo == "" {
			return cur, nil
		}
		cur = c.BelongsTo
	}
}

// UpsertCoderWorkspace records the workspace bound to a chat for the coder domain.
func (s *Store) UpsertCoderWorkspace(ctx context.Context, chatID, workspaceID, rootPath string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coder_workspaces (chat_id, workspace_id, root_path, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			workspace_id = excluded.workspace_id,
			root_path = excluded.root_path,
			updated_at = excluded.updated_at
	`, chatID, workspaceID, rootPath, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert coder workspace: %w", err)
	}
	return nil
}

// GetCoderWorkspace retrieves the workspace bound to a chat, if any.
func (s *Store) GetCoderWorkspace(ctx context.Context, chatID string) (workspaceID, rootPath string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT workspace_id, root_path FROM coder_workspaces WHERE chat_id = ?`, chatID).Scan(&workspaceID, &rootPath)
	if err == sql.ErrNoRows {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("get coder workspace: %w", err)
	}
	return workspaceID, rootPath, true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
