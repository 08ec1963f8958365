// Package workerengine hosts one chat turn at a time inside a worker
// subprocess (spec §4.4), reusing internal/asyncengine's turn algorithm and
// domain-task abstraction instead of reimplementing it, and re-emitting the
// turn's eventbus.Bus traffic as framed workerpool events over stdout.
//
// Grounded on cmd/repl/stdio_runner.go's stdioRunner/sessionState shape: a
// scanner-driven command loop, a buffered event channel drained by a
// separate flush goroutine, and per-session running/cancelFunc bookkeeping
// -- narrowed here to exactly one session, since a worker process serves one
// chat turn at a time (spec §4.4).
package workerengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/store"
	"github.com/logqs/atlas2/internal/workerpool"
)

// Engine drives a single worker process's chat turns.
type Engine struct {
	async *asyncengine.Engine
	bus   *eventbus.Bus
	store *store.Store
	enc   *workerpool.EventEncoder
	log   *slog.Logger

	mu             sync.Mutex
	processingChat string // "" when idle
}

// New wires an Engine whose Run forwards bus traffic for the chat it is
// processing to enc as framed workerpool events. Call Run in its own
// goroutine before dispatching any commands.
func New(async *asyncengine.Engine, bus *eventbus.Bus, st *store.Store, enc *workerpool.EventEncoder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{async: async, bus: bus, store: st, enc: enc, log: log}
}

// Run forwards every bus event for the worker's currently-processing chat to
// the parent until ctx is done. It never returns until then, so callers run
// it in its own goroutine.
func (e *Engine) Run(ctx context.Context) {
	q := e.bus.Subscribe()
	defer e.bus.Unsubscribe(q)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-q.C():
			if !ok {
				return
			}
			e.forward(ev)
		}
	}
}

func (e *Engine) forward(ev eventbus.Event) {
	e.mu.Lock()
	active := e.processingChat
	e.mu.Unlock()
	if active == "" || ev.ChatID != active {
		return
	}
	switch ev.Type {
	case eventbus.TypeChatState:
		e.encode(workerpool.NewStateUpdateEvent(ev.ChatID, ev.Content))
	case eventbus.TypeRouterDecision:
		e.encode(workerpool.NewRouterDecisionEvent(ev.ChatID, ev.Content))
	case eventbus.TypeComplete:
		e.encode(workerpool.NewTerminalEvent(ev.ChatID, true, "", false))
	case eventbus.TypeError:
		e.encode(workerpool.NewTerminalEvent(ev.ChatID, false, ev.Content, false))
	default:
		e.encode(workerpool.NewContentEvent(ev.ChatID, string(ev.Type), ev.Content, ev.Metadata))
	}
}

func (e *Engine) encode(ev workerpool.Event) {
	if err := e.enc.Encode(ev); err != nil {
		e.log.Error("workerengine: encode event failed", "error", err)
	}
}

// beginProcessing claims the worker's single processing slot for chatID.
func (e *Engine) beginProcessing(chatID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.processingChat != "" {
		return false
	}
	e.processingChat = chatID
	return true
}

func (e *Engine) endProcessing() {
	e.mu.Lock()
	e.processingChat = ""
	e.mu.Unlock()
}

// HandleCommand dispatches one command decoded from the parent pipe. Process
// runs synchronously to completion from the caller's point of view (the
// caller is expected to invoke this from its own per-command goroutine, the
// way stdioRunner.Run does, so a later Stop/Cancel for the same chat can
// still be decoded and acted on concurrently).
func (e *Engine) HandleCommand(ctx context.Context, cmd workerpool.Command) error {
	switch c := cmd.(type) {
	case workerpool.ProcessCommand:
		return e.handleProcess(ctx, c)
	case workerpool.StopCommand:
		e.async.RequestStop(c.ChatID, asyncengine.StopStop)
		return nil
	case workerpool.CancelCommand:
		e.async.RequestStop(c.ChatID, asyncengine.StopCancel)
		return nil
	case workerpool.DomainToolDecisionCommand:
		return e.handleDomainToolDecision(ctx, c)
	case workerpool.WorkspaceSelectedCommand:
		return e.handleWorkspaceSelected(ctx, c)
	default:
		return fmt.Errorf("workerengine: unknown command %T", cmd)
	}
}

func (e *Engine) handleProcess(ctx context.Context, c workerpool.ProcessCommand) error {
	if !e.beginProcessing(c.ChatID) {
		e.encode(workerpool.NewTerminalEvent(c.ChatID, false, "worker already processing a chat", true))
		return nil
	}
	defer e.endProcessing()

	handle, ok := e.async.Submit(ctx, c.ChatID, c.Message, c.Provider, c.Model, c.AttachedFileIDs, c.RouterEnabled, c.IncludeReasoning)
	if !ok {
		e.encode(workerpool.NewTerminalEvent(c.ChatID, false, "chat already has a live turn", true))
		return nil
	}
	if err := handle.Wait(); err != nil {
		e.encode(workerpool.NewTerminalEvent(c.ChatID, false, err.Error(), false))
		return err
	}
	return nil
}

func (e *Engine) handleDomainToolDecision(ctx context.Context, c workerpool.DomainToolDecisionCommand) error {
	switch e.async.RouteToolDecision(c.ChatID) {
	case asyncengine.RouteStale:
		e.encode(workerpool.NewTerminalEvent(c.ChatID, true, "", true))
		return nil
	case asyncengine.RouteForwardToPool:
		e.encode(workerpool.NewTerminalEvent(c.ChatID, false, "no live domain session on this worker", true))
		return nil
	}

	decision := asyncengine.ToolDecisionInput{
		CallID:            c.CallID,
		Decision:          c.Decision,
		BatchMode:         c.BatchMode,
		PreExecutedCalls:  c.PreExecutedCalls,
		PreExecutionState: c.PreExecutionState,
	}
	e.beginProcessing(c.ChatID)
	defer e.endProcessing()
	if err := e.async.ResumeDomainToolDecision(ctx, c.ChatID, decision); err != nil {
		e.encode(workerpool.NewTerminalEvent(c.ChatID, false, err.Error(), false))
		return err
	}
	return nil
}

func (e *Engine) handleWorkspaceSelected(ctx context.Context, c workerpool.WorkspaceSelectedCommand) error {
	if err := e.store.UpsertCoderWorkspace(ctx, c.ChatID, c.WorkspaceID, c.RootPath); err != nil {
		e.encode(workerpool.NewTerminalEvent(c.ChatID, false, err.Error(), false))
		return err
	}
	e.beginProcessing(c.ChatID)
	defer e.endProcessing()
	if !e.async.ResumeAfterWorkspaceSelection(ctx, c.ChatID) {
		e.encode(workerpool.NewTerminalEvent(c.ChatID, false, "no parked turn for this chat", true))
	}
	return nil
}
