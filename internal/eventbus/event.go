package eventbus

// Type enumerates the event kinds the core publishes. Unknown fields on any
// event must be treated as opaque by downstream consumers (spec §9,
// "coder_file_revert").
type Type string

const (
	TypeChatState              Type = "chat_state"
	TypeThoughtsStart          Type = "thoughts_start"
	TypeThoughts               Type = "thoughts"
	TypeAnswerStart            Type = "answer_start"
	TypeAnswer                 Type = "answer"
	TypeComplete               Type = "complete"
	TypeError                  Type = "error"
	TypeUsage                  Type = "usage"
	TypeModelRetry             Type = "model_retry"
	TypeMessageIDs             Type = "message_ids"
	TypeRouterDecision         Type = "router_decision"
	TypeDomainExecution        Type = "domain_execution"
	TypeDomainExecutionUpdate  Type = "domain_execution_update"
	TypeCoderOperation         Type = "coder_operation"
	TypeCoderFileChange        Type = "coder_file_change"
	TypeCoderStream            Type = "coder_stream"
	TypeCoderFileOperation     Type = "coder_file_operation"
	TypeCoderFileRevert        Type = "coder_file_revert"
	TypeFileState              Type = "file_state"
	TypeCoderWorkspacePrompt   Type = "coder_workspace_prompt"
	TypeWebWindowPrompt        Type = "web_window_prompt"
)

// Event is the envelope fanned out to subscribers. ChatID is empty for
// events not scoped to a single chat (none currently, but kept optional per
// spec §4.3's "{chat_id?, type, content?, ...metadata}").
type Event struct {
	ChatID   string
	Type     Type
	Content  string
	Metadata map[string]any
	Seq      int64
}

// IsTerminal reports whether this event ends a turn. Terminal events must be
// emitted exactly once and last (spec §8).
func (e Event) IsTerminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}
