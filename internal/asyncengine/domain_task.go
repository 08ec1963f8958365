package asyncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/store"
)

// executeDomainTask implements _execute_async_domain_task (spec §4.5).
func (e *Engine) executeDomainTask(ctx context.Context, chatID, message string, decision Decision, attachedFileIDs []string, routerEnabled, includeReasoning bool) error {
	executor, ok := e.domains[decision.Domain]
	if !ok {
		return fmt.Errorf("async engine: no domain executor registered for %q", decision.Domain)
	}

	workspaceID, rootPath, haveWorkspace, err := e.store.GetCoderWorkspace(ctx, chatID)
	if err != nil {
		return fmt.Errorf("async engine: load workspace: %w", err)
	}
	if RequiresWorkspace(decision.Domain) && !haveWorkspace {
		if _, err := e.store.SaveMessage(ctx, chatID, store.RoleUser, message, "", decision.Provider, decision.Model, attachedFileIDs, routerEnabled, ""); err != nil {
			return fmt.Errorf("async engine: save prompt message: %w", err)
		}
		e.regs.parkForWorkspace(chatID, pendingDomain{
			message: message, provider: decision.Provider, model: decision.Model,
			attachedFileIDs: attachedFileIDs, routerEnabled: routerEnabled, includeReasoning: includeReasoning,
		})
		e.bus.PublishContent(chatID, eventbus.TypeCoderWorkspacePrompt, "", map[string]any{"domain": decision.Domain})
		e.publishState(chatID, store.StateThinking)
		return nil
	}

	task := DomainTask{ChatID: chatID, Domain: decision.Domain, WorkspaceID: workspaceID, RootPath: rootPath, Message: message}

	emit := func(ev DomainEvent) { e.translateDomainEvent(chatID, ev) }

	result, err := executor.Execute(ctx, task, emit)
	if err != nil {
		e.clearDomainAndError(ctx, chatID, err)
		return err
	}
	return e.handleDomainResult(ctx, chatID, decision.Domain, result)
}

// ToolDecisionRoute is RouteToolDecision's verdict for a tool decision
// (spec §4.5 "tool decision routing"): a live async session resumes here
// through ResumeDomainToolDecision; a
// recently cleared one replies stale; anything else is the caller's cue to
// forward to the worker pool instead.
type ToolDecisionRoute int

const (
	RouteResumedHere ToolDecisionRoute = iota
	RouteStale
	RouteForwardToPool
)

func (e *Engine) RouteToolDecision(chatID string) ToolDecisionRoute {
	if _, ok := e.regs.getDomainSession(chatID); ok {
		return RouteResumedHere
	}
	if e.regs.recentlyCleared(chatID) {
		return RouteStale
	}
	return RouteForwardToPool
}

// ResumeDomainToolDecision continues a paused domain task after the user
// accepted or rejected a tool call.
func (e *Engine) ResumeDomainToolDecision(ctx context.Context, chatID string, decision ToolDecisionInput) error {
	sess, ok := e.regs.getDomainSession(chatID)
	if !ok {
		return fmt.Errorf("async engine: no live domain session for chat %s", chatID)
	}

	executor, ok := e.domains[sess.domain]
	if !ok {
		return fmt.Errorf("async engine: no domain executor registered for %q", sess.domain)
	}

	emit := func(ev DomainEvent) { e.translateDomainEvent(chatID, ev) }
	result, err := executor.Resume(ctx, sess.taskID, decision, emit)
	if err != nil {
		e.clearDomainAndError(ctx, chatID, err)
		return err
	}
	return e.handleDomainResult(ctx, chatID, sess.domain, result)
}

func (e *Engine) handleDomainResult(ctx context.Context, chatID, domain string, result DomainResult) error {
	switch result.Outcome {
	case OutcomeWaitingUser:
		e.regs.openDomainSession(chatID, result.TaskID, domain)
		return nil
	case OutcomeCompleted, OutcomeFailed, OutcomeAborted:
		e.regs.clearDomainSession(chatID)
		if result.FinalText != "" {
			if _, err := e.store.SaveMessage(ctx, chatID, store.RoleAssistant, result.FinalText, "", "", "", nil, false, ""); err != nil {
				e.log.Error("async engine: save domain result failed", "err", err)
			}
		}
		_ = e.store.UpdateChatState(ctx, chatID, store.StateStatic)
		e.bus.PublishTerminal(ctx, chatID, eventbus.TypeComplete, "", map[string]any{"outcome": string(result.Outcome)}, 5*time.Second, 20*time.Millisecond)
		return nil
	default: // OutcomeError
		e.regs.clearDomainSession(chatID)
		e.clearDomainAndError(ctx, chatID, fmt.Errorf("%s", result.ErrorMessage))
		return nil
	}
}

func (e *Engine) clearDomainAndError(ctx context.Context, chatID string, cause error) {
	_ = e.store.UpdateChatState(ctx, chatID, store.StateStatic)
	e.bus.PublishTerminal(ctx, chatID, eventbus.TypeError, cause.Error(), nil, 5*time.Second, 20*time.Millisecond)
}

// translateDomainEvent maps a DomainExecutor's low-level events onto bus
// event types (spec §4.5 event-kind mapping table).
func (e *Engine) translateDomainEvent(chatID string, ev DomainEvent) {
	switch ev.Kind {
	case DomainEventState:
		e.bus.PublishContent(chatID, eventbus.TypeDomainExecutionUpdate, ev.Content, ev.Metadata)
	case DomainEventToolExecution:
		e.bus.PublishContent(chatID, eventbus.TypeCoderOperation, ev.Content, ev.Metadata)
		e.bus.PublishContent(chatID, eventbus.TypeCoderFileChange, ev.Content, ev.Metadata)
	case DomainEventCoderStream:
		e.bus.PublishContent(chatID, eventbus.TypeCoderStream, ev.Content, ev.Metadata)
	case DomainEventModelRetry:
		e.bus.PublishContent(chatID, eventbus.TypeModelRetry, ev.Content, ev.Metadata)
	case DomainEventCoderFileOp:
		e.bus.PublishContent(chatID, eventbus.TypeCoderFileOperation, ev.Content, ev.Metadata)
	case DomainEventCoderFileRevert:
		e.bus.PublishContent(chatID, eventbus.TypeCoderFileRevert, ev.Content, ev.Metadata)
	}
}
