package coder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/engine"
)

// DomainExecutor adapts CoderAgent to the asyncengine.DomainExecutor contract
// (spec §4.5 step 2 / §4.9) so a turn routed to the "coder" domain can run
// inside the async engine or a worker subprocess.
//
// engine.Agent.Run drives its ReAct loop to completion internally (see
// internal/engine/run.go) and has no mid-tool-call suspend point, so unlike
// the spec's "waiting_user" pause this executor always runs a task to
// completion or failure in one Execute call. Resume exists only to satisfy
// the interface; since Execute never parks a session, there is never
// anything to resume.
type DomainExecutor struct {
	mu       sync.Mutex
	sessions map[string]*CoderAgent // keyed by task id; an entry is removed when its run returns

	// newAgentFn builds the CoderAgent for one Execute call. Defaults to
	// NewAgent; overridden in tests to avoid constructing a real provider
	// client and tool registry.
	newAgentFn func(ctx context.Context, repoRoot string, hooks []engine.Hook) (*CoderAgent, error)
}

// NewDomainExecutor returns a DomainExecutor with no live sessions.
func NewDomainExecutor() *DomainExecutor {
	d := &DomainExecutor{sessions: make(map[string]*CoderAgent)}
	d.newAgentFn = func(ctx context.Context, repoRoot string, hooks []engine.Hook) (*CoderAgent, error) {
		return NewAgent(ctx, repoRoot, "", false, true, hooks)
	}
	return d
}

// Execute builds a fresh CoderAgent rooted at task.RootPath and runs
// task.Message through it to completion, translating tool calls and step
// boundaries into DomainEvents as they happen.
func (d *DomainExecutor) Execute(ctx context.Context, task asyncengine.DomainTask, emit func(asyncengine.DomainEvent)) (asyncengine.DomainResult, error) {
	if task.RootPath == "" {
		return asyncengine.DomainResult{Outcome: asyncengine.OutcomeError, ErrorMessage: "coder domain task has no workspace root path"}, nil
	}

	hook := &translatingHook{emit: emit}
	agent, err := d.newAgentFn(ctx, task.RootPath, []engine.Hook{hook})
	if err != nil {
		return asyncengine.DomainResult{Outcome: asyncengine.OutcomeError, ErrorMessage: fmt.Sprintf("build coder agent: %v", err)}, nil
	}

	taskID := uuid.NewString()
	d.mu.Lock()
	d.sessions[taskID] = agent
	d.mu.Unlock()

	return d.run(ctx, taskID, agent, task.Message, emit), nil
}

// Resume is unreachable in normal operation: Execute never returns
// OutcomeWaitingUser, so the async engine never opens a domain session for
// this executor and RouteToolDecision never forwards here. It is kept so
// DomainExecutor satisfies asyncengine.DomainExecutor in full.
func (d *DomainExecutor) Resume(ctx context.Context, taskID string, decision asyncengine.ToolDecisionInput, emit func(asyncengine.DomainEvent)) (asyncengine.DomainResult, error) {
	d.mu.Lock()
	agent, ok := d.sessions[taskID]
	d.mu.Unlock()
	if !ok {
		return asyncengine.DomainResult{}, fmt.Errorf("coder domain: no session for task %s", taskID)
	}
	// Nothing paused waiting on this decision; the tool it names already ran
	// (or was never gated) during the original Execute call.
	decisionNote := fmt.Sprintf("tool decision %q for call %s received with no paused coder session; ignoring", decision.Decision, decision.CallID)
	emit(asyncengine.DomainEvent{Kind: asyncengine.DomainEventState, Content: decisionNote})
	return d.run(ctx, taskID, agent, "", emit), nil
}

func (d *DomainExecutor) run(ctx context.Context, taskID string, agent *CoderAgent, message string, emit func(asyncengine.DomainEvent)) asyncengine.DomainResult {
	defer func() {
		d.mu.Lock()
		delete(d.sessions, taskID)
		d.mu.Unlock()
	}()

	if message == "" {
		return asyncengine.DomainResult{Outcome: asyncengine.OutcomeCompleted}
	}

	emit(asyncengine.DomainEvent{Kind: asyncengine.DomainEventState, Content: "running", Metadata: map[string]any{"task_id": taskID}})

	if err := agent.Run(ctx, message); err != nil {
		if ctx.Err() != nil {
			return asyncengine.DomainResult{Outcome: asyncengine.OutcomeAborted, FinalText: lastAssistantText(agent)}
		}
		return asyncengine.DomainResult{Outcome: asyncengine.OutcomeError, ErrorMessage: err.Error()}
	}

	return asyncengine.DomainResult{Outcome: asyncengine.OutcomeCompleted, FinalText: lastAssistantText(agent)}
}

func lastAssistantText(agent *CoderAgent) string {
	st := agent.LastState()
	if st == nil {
		return ""
	}
	for i := len(st.History) - 1; i >= 0; i-- {
		if st.History[i].Role == engine.RoleAssistant {
			return st.History[i].Content
		}
	}
	return ""
}

// translatingHook bridges engine.Hook callbacks to DomainEvents, the same
// callback-to-bus-publish bridge asyncengine.translateDomainEvent already
// performs one layer up, and the same pattern internal/coderstream uses for
// the streaming adapter's own tool-call callback.
type translatingHook struct {
	engine.NopHook
	emit func(asyncengine.DomainEvent)
}

func (h *translatingHook) OnToolCall(_ context.Context, _ *engine.State, call engine.ToolCall) {
	h.emit(asyncengine.DomainEvent{
		Kind:     asyncengine.DomainEventToolExecution,
		Content:  call.Name,
		Metadata: map[string]any{"tool": call.Name, "call_id": call.ID, "args": call.Args, "phase": "start"},
	})
}

func (h *translatingHook) OnToolResult(_ context.Context, _ *engine.State, call engine.ToolCall, result string, err error) {
	meta := map[string]any{"tool": call.Name, "call_id": call.ID, "phase": "complete"}
	if err != nil {
		meta["error"] = err.Error()
	}
	h.emit(asyncengine.DomainEvent{Kind: asyncengine.DomainEventToolExecution, Content: result, Metadata: meta})
}

func (h *translatingHook) OnStepStart(_ context.Context, st *engine.State) {
	h.emit(asyncengine.DomainEvent{Kind: asyncengine.DomainEventState, Content: "step", Metadata: map[string]any{"step": st.Step, "phase": string(st.Phase)}})
}

func (h *translatingHook) OnStreamDelta(_ context.Context, _ *engine.State, delta string) {
	h.emit(asyncengine.DomainEvent{Kind: asyncengine.DomainEventCoderStream, Content: delta})
}

func (h *translatingHook) OnRetryAttempt(_ context.Context, _ *engine.State, attempt, maxAttempts int, delay time.Duration, err error) {
	h.emit(asyncengine.DomainEvent{
		Kind: asyncengine.DomainEventModelRetry,
		Metadata: map[string]any{
			"attempt": attempt, "max_attempts": maxAttempts,
			"delay_seconds": delay.Seconds(), "error": err.Error(),
		},
	})
}
