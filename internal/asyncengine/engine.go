package asyncengine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/fastpath"
	"github.com/logqs/atlas2/internal/observability"
	"github.com/logqs/atlas2/internal/ratelimit"
	"github.com/logqs/atlas2/internal/store"
	"go.opentelemetry.io/otel/trace"
)

const updateThrottle = 250 * time.Millisecond

// Engine is the persistent cooperative scheduler for in-process chat turns
// (spec §4.5). Submit enqueues a turn; the engine itself runs each turn on
// its own goroutine but serializes per-chat work through the registries so
// a chat never has two live turns.
type Engine struct {
	store   *store.Store
	bus     *eventbus.Bus
	limiter *ratelimit.Limiter
	router  Router
	llm     func(provider string) (engine.LLMClient, error)
	domains map[string]DomainExecutor
	log     *slog.Logger
	metrics *observability.Metrics

	regs *registries
}

// New constructs an Engine. llmFor resolves a provider name to an
// engine.LLMClient (mirrors providers.NewLLMClientFromEnv's per-provider
// dispatch, but pluggable so tests can inject a fake).
func New(st *store.Store, bus *eventbus.Bus, limiter *ratelimit.Limiter, router Router, llmFor func(provider string) (engine.LLMClient, error), domains map[string]DomainExecutor, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if domains == nil {
		domains = map[string]DomainExecutor{}
	}
	metrics, err := observability.NewNoop()
	if err != nil {
		metrics = nil
	}
	return &Engine{
		store: st, bus: bus, limiter: limiter, router: router,
		llm: llmFor, domains: domains, log: log, metrics: metrics,
		regs: newRegistries(),
	}
}

// WithMetrics swaps in a Metrics instance built against a real (non-noop)
// tracer/meter provider, e.g. the one returned by observability.Init.
func (e *Engine) WithMetrics(m *observability.Metrics) *Engine {
	e.metrics = m
	return e
}

// Submit registers and launches a turn for chatID, returning a future the
// caller can Wait on. Returns (nil, false) if the chat already has a live
// turn (spec §4.7 step 3's chat-task registry check lives one layer up in
// the dispatcher; this is the lower-level guard the engine itself keeps).
func (e *Engine) Submit(ctx context.Context, chatID, message, provider, model string, attachedFileIDs []string, routerEnabled, includeReasoning bool) (*taskHandle, bool) {
	h, ok := e.registerTask(chatID)
	if !ok {
		return nil, false
	}
	go func() {
		err := e.runTurn(ctx, chatID, message, provider, model, attachedFileIDs, routerEnabled, includeReasoning)
		e.regs.clearTask(chatID)
		h.finish(err)
	}()
	return h, true
}

func (e *Engine) registerTask(chatID string) (*taskHandle, bool) {
	return e.regs.registerTask(chatID)
}

// RequestStop sets the stop flag a running turn checks between chunks.
func (e *Engine) RequestStop(chatID string, f StopFlag) {
	e.regs.setStopFlag(chatID, f)
}

// LiveTaskCount reports the number of in-flight turns.
func (e *Engine) LiveTaskCount() int { return e.regs.liveTaskCount() }

// ResumeAfterWorkspaceSelection replays a domain turn parked waiting for a
// workspace (spec §4.5 step 1).
func (e *Engine) ResumeAfterWorkspaceSelection(ctx context.Context, chatID string) bool {
	p, ok := e.regs.popParkedForWorkspace(chatID)
	if !ok {
		return false
	}
	_, submitted := e.Submit(ctx, chatID, p.message, p.provider, p.model, p.attachedFileIDs, p.routerEnabled, p.includeReasoning)
	return submitted
}

// runTurn implements _execute_async_streaming (spec §4.5).
func (e *Engine) runTurn(ctx context.Context, chatID, message, provider, model string, attachedFileIDs []string, routerEnabled, includeReasoning bool) error {
	if e.metrics != nil {
		var span trace.Span
		ctx, span = e.metrics.Tracer.Start(ctx, "asyncengine.turn")
		defer span.End()
	}

history, err := e.store.GetChatHistory(ctx, chatID)
	if err != nil {
		return fmt.Errorf("async engine: load history: %w", err)
	}

	decision := Decision{Route: RouteDirect, Provider: provider, Model: model}
	if routerEnabled && e.router != nil {
		historyText := make([]string, 0, len(history))
		for _, m := range history {
			historyText = append(historyText, string(m.Role)+": "+m.Content)
		}
		d, derr := e.router.Decide(ctx, chatID, message, historyText)
		if derr == nil {
			if d.Provider == "" {
				d.Provider = provider
			}
			if d.Model == "" {
				d.Model = model
			}
			decision = d
		}
	}

	e.bus.PublishContent(chatID, eventbus.TypeRouterDecision, fmt.Sprintf(`{"route":%q,"domain":%q,"provider":%q,"model":%q}`, decision.Route, decision.Domain, decision.Provider, decision.Model), nil)

	if decision.Route == RouteDomain {
		e.publishState(chatID, store.StateThinking)
		return e.executeDomainTask(ctx, chatID, message, decision, attachedFileIDs, routerEnabled, includeReasoning)
	}

	// spec §4.5 step 1: thinking only when reasoning was requested, else go
	// straight to responding (both satisfy spec §8's allowed state sequence,
	// which treats "thinking" as optional, but this matches the narrative
	// algorithm instead of always inserting it).
	if includeReasoning {
		e.publishState(chatID, store.StateThinking)
	}
	e.publishState(chatID, store.StateResponding)

	placeholderID, err := e.store.SaveMessage(ctx, chatID, store.RoleAssistant, "", "", decision.Provider, decision.Model, nil, routerEnabled, "")
	if err != nil {
		return fmt.Errorf("async engine: create placeholder: %w", err)
	}
	userMessageID := ""
	if n := len(history); n > 0 && history[n-1].Role == store.RoleUser {
		userMessageID = history[n-1].ID
	}
	e.bus.PublishContent(chatID, eventbus.TypeMessageIDs, placeholderID, map[string]any{"user_message_id": userMessageID, "assistant_message_id": placeholderID})

	userMessage := message
	if decision.FastpathTool != "" {
		userMessage = fastpath.FormatToolResult(decision.FastpathTool, toFastpathParams(decision.FastpathParams), message)
	}

	llmClient, err := e.llm(decision.Provider)
	if err != nil {
		e.finishWithError(ctx, chatID, placeholderID, err)
		return err
	}

	msgs := toEngineMessages(history, userMessage)

	if e.metrics != nil {
		e.metrics.LLMRequests.Add(ctx, 1)
	}
	streamStart := time.Now()
	assistantText, assistantThoughts, usage, streamErr := e.streamWithRetry(ctx, chatID, placeholderID, llmClient, decision.Model, msgs, includeReasoning)
	if e.metrics != nil {
		e.metrics.LLMDuration.Record(ctx, float64(time.Since(streamStart).Milliseconds()))
	}

	stopFlag := e.regs.getStopFlag(chatID)
	if streamErr != nil {
		if stopFlag == StopCancel {
			_, _ = e.store.CascadeDeleteMessage(ctx, placeholderID, chatID)
			e.publishState(chatID, store.StateStatic)
			e.bus.PublishTerminal(ctx, chatID, eventbus.TypeComplete, "", nil, 5*time.Second, 20*time.Millisecond)
			return nil
		}
		e.finishWithError(ctx, chatID, placeholderID, streamErr)
		return streamErr
	}

	if stopFlag == StopCancel {
		_, _ = e.store.CascadeDeleteMessage(ctx, placeholderID, chatID)
		e.publishState(chatID, store.StateStatic)
		e.bus.PublishTerminal(ctx, chatID, eventbus.TypeComplete, "", nil, 5*time.Second, 20*time.Millisecond)
		return nil
	}
	// StopStop and no-stop both persist what was generated so far.
	_ = e.store.UpdateMessage(ctx, placeholderID, assistantText, assistantThoughts, "")

	if err := e.store.UpdateChatState(ctx, chatID, store.StateStatic); err != nil {
		e.log.Error("async engine: transition to static failed", "err", err)
	}
	e.bus.PublishTerminal(ctx, chatID, eventbus.TypeComplete, "", nil, 5*time.Second, 20*time.Millisecond)

	estimated := estimateTokens(msgs)
	if e.limiter != nil {
		_ = e.limiter.FinalizeTokens(ctx, decision.Provider, decision.Model, int64(estimated), int64(usage.Total))
	}
	if e.metrics != nil {
		e.metrics.TokensConsumed.Add(ctx, int64(usage.Total))
	}
	_ = e.store.SaveTokenUsage(ctx, store.TokenUsageRecord{
		MessageID: placeholderID, ChatID: chatID,
		EstimatedTokens: estimated, ActualTokens: usage.Total,
		Provider: decision.Provider, Model: decision.Model, Role: store.RoleAssistant,
	})
	return nil
}

// streamWithRetry runs the retry-wrapped stream loop (spec §4.5 step 6-7):
// on retryable errors it emits model_retry and resets accumulated text; on
// exhaustion it returns an error.
func (e *Engine) streamWithRetry(ctx context.Context, chatID, placeholderID string, client engine.LLMClient, model string, msgs []engine.ChatMessage, includeReasoning bool) (string, string, engine.Usage, error) {
	policy := engine.DefaultRetryConfig().LLMPolicy
	attempt := 0
	for {
		text, thoughts, usage, err := e.streamOnce(ctx, chatID, placeholderID, client, model, msgs, includeReasoning)
		if err == nil {
			return text, thoughts, usage, nil
		}
		class := engine.ClassifyLLMError(err)
		if class == engine.RetryClassNonRetryable || attempt >= policy.MaxRetries {
			return "", "", engine.Usage{}, err
		}
		delay := policy.InitialDelay * time.Duration(1<<attempt)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
		e.bus.PublishContent(chatID, eventbus.TypeModelRetry, "", map[string]any{"attempt": attempt + 1, "delay_ms": delay.Milliseconds()})
		select {
		case <-ctx.Done():
			return "", "", engine.Usage{}, ctx.Err()
		case <-time.After(delay):
		}
		attempt++
	}
}

// streamOnce runs a single pass over the provider's stream, throttling the
// store write to once per 250ms with a final forced flush (spec §4.5 step 7).
// When includeReasoning is set, "thinking_delta" events are surfaced as
// thoughts_start/thoughts on the bus and persisted alongside the answer
// text; no provider in this tree emits thinking_delta yet (spec §9's
// supports_reasoning capability is a per-provider opt-in this core doesn't
// have a concrete wire mapping for), but the consuming side is in place.
func (e *Engine) streamOnce(ctx context.Context, chatID, placeholderID string, client engine.LLMClient, model string, msgs []engine.ChatMessage, includeReasoning bool) (string, string, engine.Usage, error) {
	deltaCh, errCh := client.Stream(ctx, model, msgs, nil, engine.ChatOptions{Stream: true, IncludeReasoning: includeReasoning})

	var text, thoughts strings.Builder
	var usage engine.Usage
	lastFlush := time.Time{}
	answerStarted := false
	thoughtsStarted := false

	flush := func(force bool) {
		if !force && time.Since(lastFlush) < updateThrottle {
			return
		}
		_ = e.store.UpdateMessage(ctx, placeholderID, text.String(), thoughts.String(), "")
		lastFlush = time.Now()
	}

	for deltaCh != nil || errCh != nil {
		select {
		case ev, ok := <-deltaCh:
			if !ok {
				deltaCh = nil
				continue
			}
			switch ev.Type {
			case "thinking_delta":
				if !thoughtsStarted {
					thoughtsStarted = true
					e.bus.PublishContent(chatID, eventbus.TypeThoughtsStart, "", nil)
				}
				thoughts.WriteString(ev.Text)
				e.bus.PublishContent(chatID, eventbus.TypeThoughts, ev.Text, nil)
				flush(false)
			case "text_delta":
				if !answerStarted {
					answerStarted = true
					e.bus.PublishContent(chatID, eventbus.TypeAnswerStart, "", nil)
				}
				text.WriteString(ev.Text)
				e.bus.PublishContent(chatID, eventbus.TypeAnswer, ev.Text, nil)
				flush(false)
			case "usage":
				usage = ev.Usage
				e.bus.PublishContent(chatID, eventbus.TypeUsage, "", map[string]any{"total": usage.Total, "prompt": usage.Prompt, "completion": usage.Completion})
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", "", engine.Usage{}, err
			}
			errCh = nil
		case <-ctx.Done():
			flush(true)
			return text.String(), thoughts.String(), usage, ctx.Err()
		}
		if e.regs.getStopFlag(chatID) != StopNone {
			flush(true)
			return text.String(), thoughts.String(), usage, nil
		}
	}
	flush(true)
	return text.String(), thoughts.String(), usage, nil
}

func (e *Engine) finishWithError(ctx context.Context, chatID, placeholderID string, err error) {
	_, _ = e.store.CascadeDeleteMessage(ctx, placeholderID, chatID)
	_ = e.store.UpdateChatState(ctx, chatID, store.StateStatic)
	e.bus.PublishTerminal(ctx, chatID, eventbus.TypeError, err.Error(), nil, 5*time.Second, 20*time.Millisecond)
}

func (e *Engine) publishState(chatID string, s store.ChatState) {
	if err := e.store.UpdateChatState(context.Background(), chatID, s); err != nil {
		e.log.Warn("async engine: state transition rejected", "chat_id", chatID, "state", s, "err", err)
	}
	e.bus.PublishState(chatID, string(s))
}

// toFastpathParams adapts a Router's FastpathParam slice to the fastpath
// package's Param type (spec §4.5 step 5).
func toFastpathParams(ps []FastpathParam) []fastpath.Param {
	out := make([]fastpath.Param, len(ps))
	for i, p := range ps {
		out[i] = fastpath.Param{Name: p.Name, Value: p.Value}
	}
	return out
}

func toEngineMessages(history []store.Message, userMessage string) []engine.ChatMessage {
	msgs := make([]engine.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, engine.ChatMessage{Role: engine.MessageRole(m.Role), Content: m.Content})
	}
	msgs = append(msgs, engine.ChatMessage{Role: engine.RoleUser, Content: userMessage})
	return msgs
}

// estimateTokens is the char/4 fallback estimator (spec §4.7 step 1); real
// deployments should prefer a provider-native counter or tiktoken, applied
// upstream by the dispatcher before reservation.
func estimateTokens(msgs []engine.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content)
	}
	return total / 4
}
