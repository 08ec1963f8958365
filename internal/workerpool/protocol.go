// Package workerpool maintains a fixed-size pool of long-lived OS processes,
// each running one chat turn at a time, and exchanges framed JSON commands
// and events with them over stdin/stdout pipes.
//
// The command/event tagged-sum-type shape is grounded on
// internal/engine/protocol/protocol.go's CommandType/EventType +
// DecodeCommand type switch; the spec's command and event vocabularies
// differ (process/stop/cancel/domain_tool_decision/workspace_selected
// instead of start_session/user_message/...), so the types here are new,
// but the decode pattern and eventBase-style embedding are kept.
package workerpool

import (
	"encoding/json"
	"fmt"
)

// CommandType enumerates parent -> child commands (spec §4.4).
type CommandType string

const (
	CommandProcess            CommandType = "process"
	CommandStop               CommandType = "stop"
	CommandCancel             CommandType = "cancel"
	CommandDomainToolDecision CommandType = "domain_tool_decision"
	CommandWorkspaceSelected  CommandType = "workspace_selected"
)

// Command is a marker interface implemented by every command sent to a worker.
type Command interface {
	GetCommandType() CommandType
}

type commandBase struct {
	Type CommandType `json:"type"`
}

// ProcessCommand starts a chat turn on the assigned worker.
type ProcessCommand struct {
	commandBase
	ChatID          string   `json:"chat_id"`
	Message         string   `json:"message"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	AttachedFileIDs []string `json:"attached_file_ids,omitempty"`
	RouterEnabled   bool     `json:"router_enabled,omitempty"`
	IncludeReasoning bool    `json:"include_reasoning,omitempty"`
}

// NewProcessCommand builds a process command.
func NewProcessCommand(chatID, message, provider, model string, attachedFileIDs []string, routerEnabled, includeReasoning bool) ProcessCommand {
	return ProcessCommand{
		commandBase:      commandBase{Type: CommandProcess},
		ChatID:           chatID,
		Message:          message,
		Provider:         provider,
		Model:            model,
		AttachedFileIDs:  attachedFileIDs,
		RouterEnabled:    routerEnabled,
		IncludeReasoning: includeReasoning,
	}
}

// GetCommandType implements Command.
func (c ProcessCommand) GetCommandType() CommandType { return c.Type }

// StopCommand requests graceful termination with partial persistence.
type StopCommand struct {
	commandBase
	ChatID string `json:"chat_id"`
}

// NewStopCommand builds a stop command.
func NewStopCommand(chatID string) StopCommand {
	return StopCommand{commandBase: commandBase{Type: CommandStop}, ChatID: chatID}
}

// GetCommandType implements Command.
func (c StopCommand) GetCommandType() CommandType { return c.Type }

// CancelCommand requests immediate termination with discard.
type CancelCommand struct {
	commandBase
	ChatID string `json:"chat_id"`
}

// NewCancelCommand builds a cancel command.
func NewCancelCommand(chatID string) CancelCommand {
	return CancelCommand{commandBase: commandBase{Type: CommandCancel}, ChatID: chatID}
}

// GetCommandType implements Command.
func (c CancelCommand) GetCommandType() CommandType { return c.Type }

// DomainToolDecisionCommand resumes a domain session paused awaiting
// tool-call approval.
type DomainToolDecisionCommand struct {
	commandBase
	ChatID             string         `json:"chat_id"`
	TaskID             string         `json:"task_id"`
	CallID             string         `json:"call_id"`
	Decision           string         `json:"decision"` // accept | reject
	BatchMode          bool           `json:"batch_mode,omitempty"`
	PreExecutedCalls   []string       `json:"pre_executed_calls,omitempty"`
	PreExecutionState  map[string]any `json:"pre_execution_state,omitempty"`
}

// NewDomainToolDecisionCommand builds a domain_tool_decision command.
func NewDomainToolDecisionCommand(chatID, taskID, callID, decision string, batchMode bool, preExecuted []string, preExecState map[string]any) DomainToolDecisionCommand {
	return DomainToolDecisionCommand{
		commandBase:       commandBase{Type: CommandDomainToolDecision},
		ChatID:            chatID,
		TaskID:            taskID,
		CallID:            callID,
		Decision:          decision,
		BatchMode:         batchMode,
		PreExecutedCalls:  preExecuted,
		PreExecutionState: preExecState,
	}
}

// GetCommandType implements Command.
func (c DomainToolDecisionCommand) GetCommandType() CommandType { return c.Type }

// WorkspaceSelectedCommand informs a parked worker that a workspace is now bound.
type WorkspaceSelectedCommand struct {
	commandBase
	ChatID      string `json:"chat_id"`
	WorkspaceID string `json:"workspace_id"`
	RootPath    string `json:"root_path"`
}

// NewWorkspaceSelectedCommand builds a workspace_selected command.
func NewWorkspaceSelectedCommand(chatID, workspaceID, rootPath string) WorkspaceSelectedCommand {
	return WorkspaceSelectedCommand{
		commandBase: commandBase{Type: CommandWorkspaceSelected},
		ChatID:      chatID,
		WorkspaceID: workspaceID,
		RootPath:    rootPath,
	}
}

// GetCommandType implements Command.
func (c WorkspaceSelectedCommand) GetCommandType() CommandType { return c.Type }

type rawCommand struct {
	Type CommandType `json:"type"`
}

// DecodeCommand converts a framed JSON line into a typed Command.
func DecodeCommand(data []byte) (Command, error) {
	var base rawCommand
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode worker command: %w", err)
	}
	switch base.Type {
	case CommandProcess:
		var c ProcessCommand
		err := json.Unmarshal(data, &c)
		return c, err
	case CommandStop:
		var c StopCommand
		err := json.Unmarshal(data, &c)
		return c, err
	case CommandCancel:
		var c CancelCommand
		err := json.Unmarshal(data, &c)
		return c, err
	case CommandDomainToolDecision:
		var c DomainToolDecisionCommand
		err := json.Unmarshal(data, &c)
		return c, err
	case CommandWorkspaceSelected:
		var c WorkspaceSelectedCommand
		err := json.Unmarshal(data, &c)
		return c, err
	default:
		return nil, fmt.Errorf("unknown worker command type: %s", base.Type)
	}
}

// EventKind enumerates child -> parent event kinds (spec §4.4 step 2).
type EventKind string

const (
	EventSpawned        EventKind = "spawned"
	EventStateUpdate    EventKind = "state_update"
	EventContent        EventKind = "content"
	EventRouterDecision EventKind = "router_decision"
	EventTerminal       EventKind = "terminal"
)

// Event is implemented by every message a worker sends to the parent.
type Event interface {
	GetEventKind() EventKind
}

type eventBase struct {
	Kind EventKind `json:"kind"`
}

// SpawnedEvent is the first message a child sends after forking.
type SpawnedEvent struct {
	eventBase
	Success bool   `json:"success"`
	ChatID  string `json:"chat_id,omitempty"`
}

// GetEventKind implements Event.
func (e SpawnedEvent) GetEventKind() EventKind { return e.Kind }

// StateUpdateEvent mirrors a chat_state bus event through the pipe.
type StateUpdateEvent struct {
	eventBase
	ChatID string `json:"chat_id"`
	State  string `json:"state"`
}

// GetEventKind implements Event.
func (e StateUpdateEvent) GetEventKind() EventKind { return e.Kind }

// ContentEvent mirrors a content bus event through the pipe.
type ContentEvent struct {
	eventBase
	ChatID   string         `json:"chat_id"`
	Type     string         `json:"type"`
	Content  string         `json:"content,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GetEventKind implements Event.
func (e ContentEvent) GetEventKind() EventKind { return e.Kind }

// RouterDecisionEvent reports the router's chosen route for a turn.
type RouterDecisionEvent struct {
	eventBase
	ChatID   string `json:"chat_id"`
	Decision string `json:"decision"` // raw JSON blob
}

// GetEventKind implements Event.
func (e RouterDecisionEvent) GetEventKind() EventKind { return e.Kind }

// TerminalEvent closes out a turn (spec §4.4); stop and cancel commands do
// not get a terminal event of their own.
type TerminalEvent struct {
	eventBase
	ChatID       string `json:"chat_id"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	StaleRequest bool   `json:"stale_request,omitempty"`
}

// GetEventKind implements Event.
func (e TerminalEvent) GetEventKind() EventKind { return e.Kind }

// NewStateUpdateEvent builds a state_update event for a worker to emit.
func NewStateUpdateEvent(chatID, state string) StateUpdateEvent {
	return StateUpdateEvent{eventBase: eventBase{Kind: EventStateUpdate}, ChatID: chatID, State: state}
}

// NewContentEvent builds a content event for a worker to emit.
func NewContentEvent(chatID, typ, content string, metadata map[string]any) ContentEvent {
	return ContentEvent{eventBase: eventBase{Kind: EventContent}, ChatID: chatID, Type: typ, Content: content, Metadata: metadata}
}

// NewTerminalEvent builds the single terminal event that closes a turn.
func NewTerminalEvent(chatID string, success bool, errMsg string, stale bool) TerminalEvent {
	return TerminalEvent{eventBase: eventBase{Kind: EventTerminal}, ChatID: chatID, Success: success, ErrorMessage: errMsg, StaleRequest: stale}
}

// NewSpawnedEvent builds the initial handshake event a worker sends on boot.
func NewSpawnedEvent(success bool, chatID string) SpawnedEvent {
	return SpawnedEvent{eventBase: eventBase{Kind: EventSpawned}, Success: success, ChatID: chatID}
}

// NewRouterDecisionEvent builds a router_decision event.
func NewRouterDecisionEvent(chatID, decision string) RouterDecisionEvent {
	return RouterDecisionEvent{eventBase: eventBase{Kind: EventRouterDecision}, ChatID: chatID, Decision: decision}
}

type rawEvent struct {
	Kind EventKind `json:"kind"`
}

// DecodeEvent converts a framed JSON line sent by a worker into a typed Event.
func DecodeEvent(data []byte) (Event, error) {
	var base rawEvent
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("decode worker event: %w", err)
	}
	switch base.Kind {
	case EventSpawned:
		var e SpawnedEvent
		err := json.Unmarshal(data, &e)
		return e, err
	case EventStateUpdate:
		var e StateUpdateEvent
		err := json.Unmarshal(data, &e)
		return e, err
	case EventContent:
		var e ContentEvent
		err := json.Unmarshal(data, &e)
		return e, err
	case EventRouterDecision:
		var e RouterDecisionEvent
		err := json.Unmarshal(data, &e)
		return e, err
	case EventTerminal:
		var e TerminalEvent
		err := json.Unmarshal(data, &e)
		return e, err
	default:
		return nil, fmt.Errorf("unknown worker event kind: %s", base.Kind)
	}
}
