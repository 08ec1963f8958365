package asyncengine

import "context"

// DomainEventKind enumerates the low-level events a domain executor reports
// through its event_callback (spec §4.5 step 2).
type DomainEventKind string

const (
	DomainEventState           DomainEventKind = "state"
	DomainEventToolExecution   DomainEventKind = "tool_execution"
	DomainEventCoderStream     DomainEventKind = "coder_stream"
	DomainEventModelRetry      DomainEventKind = "model_retry"
	DomainEventCoderFileOp     DomainEventKind = "coder_file_operation"
	DomainEventCoderFileRevert DomainEventKind = "coder_file_revert"
)

// DomainEvent is one low-level notification from a running domain task.
type DomainEvent struct {
	Kind     DomainEventKind
	Content  string
	Metadata map[string]any
}

// DomainOutcome classifies how a domain task ended (spec §4.5 step 3).
type DomainOutcome string

const (
	OutcomeWaitingUser DomainOutcome = "waiting_user"
	OutcomeCompleted   DomainOutcome = "completed"
	OutcomeFailed      DomainOutcome = "failed"
	OutcomeAborted     DomainOutcome = "aborted"
	OutcomeError       DomainOutcome = "error"
)

// DomainResult is returned once a domain task suspends or finishes.
type DomainResult struct {
	Outcome      DomainOutcome
	FinalText    string
	ErrorMessage string
	TaskID       string // set for waiting_user, used to correlate a later tool decision
}

// DomainTask is a single invocation of a domain executor, already bound to
// a workspace and a user message.
type DomainTask struct {
	ChatID      string
	Domain      string
	WorkspaceID string
	RootPath    string
	Message     string
	History     []string
}

// DomainExecutor runs one domain task to completion or to its first
// tool-approval pause, translating internal events through emit.
type DomainExecutor interface {
	Execute(ctx context.Context, task DomainTask, emit func(DomainEvent)) (DomainResult, error)
	// Resume continues a paused task after a user tool decision.
	Resume(ctx context.Context, taskID string, decision ToolDecisionInput, emit func(DomainEvent)) (DomainResult, error)
}

// ToolDecisionInput is the user's reply to a paused tool-approval prompt.
type ToolDecisionInput struct {
	CallID            string
	Decision          string // accept | reject
	BatchMode         bool
	PreExecutedCalls  []string
	PreExecutionState map[string]any
}

// RequiresWorkspace reports whether a domain needs a bound workspace before
// it can run (spec §4.5 step 1 -- true for "coder").
func RequiresWorkspace(domain string) bool {
	return domain == "coder"
}
