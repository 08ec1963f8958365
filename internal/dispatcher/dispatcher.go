// Package dispatcher implements the Execution Dispatcher (spec §4.7): the
// single public entrypoint for a user turn. It deduplicates within a short
// window, persists the user message, estimates tokens, reserves rate-limit
// capacity, decides Async Engine vs Worker Pool, and submits the turn.
//
// Grounded on the teacher's sha256/hex hashing idiom (previously used for
// repo-identity hashing) repurposed here for the duplicate-request dedup
// key, and on asyncengine.Engine/workerpool.Pool's existing Submit/Acquire
// contracts, which this package orchestrates rather than reimplements.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/logqs/atlas2/internal/asyncengine"
	"github.com/logqs/atlas2/internal/engine"
	"github.com/logqs/atlas2/internal/eventbus"
	"github.com/logqs/atlas2/internal/ratelimit"
	"github.com/logqs/atlas2/internal/store"
	"github.com/logqs/atlas2/internal/tokenest"
	"github.com/logqs/atlas2/internal/workerpool"
)

// ErrDuplicateRequest is returned when the same (chat_id, message) pair was
// submitted within the dedup window (spec §7 "Duplicate request").
var ErrDuplicateRequest = fmt.Errorf("dispatcher: duplicate request within dedup window")

// ErrTooManyConcurrentChats is returned when the async engine is already at
// its concurrency ceiling (spec §4.7 step 3).
var ErrTooManyConcurrentChats = fmt.Errorf("dispatcher: max_async_concurrent_chats exceeded")

// ErrChatBusy is returned when the chat already has a live turn.
var ErrChatBusy = fmt.Errorf("dispatcher: chat already has a live task")

const dedupWindow = 1 * time.Second

// Config tunes dispatcher-level limits (spec §4.7, §5 "Shared resources").
type Config struct {
	MaxAsyncConcurrentChats int
	UseWorkerPoolForDomain  bool // route domain turns to the worker pool instead of the async engine
}

func (c Config) withDefaults() Config {
	if c.MaxAsyncConcurrentChats <= 0 {
		c.MaxAsyncConcurrentChats = 100
	}
	return c
}

// Dispatcher is the single public entrypoint for a user turn (spec §4.7).
type Dispatcher struct {
	store   *store.Store
	bus     *eventbus.Bus
	limiter *ratelimit.Limiter
	async   *asyncengine.Engine
	pool    *workerpool.Pool // optional; nil disables worker-pool routing
	cfg     Config
	log     *slog.Logger

	dedupMu sync.Mutex
	dedup   map[string]time.Time
}

// New constructs a Dispatcher. pool may be nil if no worker pool is wired
// (every turn then runs on the async engine).
func New(st *store.Store, bus *eventbus.Bus, limiter *ratelimit.Limiter, async *asyncengine.Engine, pool *workerpool.Pool, cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		store: st, bus: bus, limiter: limiter, async: async, pool: pool,
		cfg: cfg.withDefaults(), log: log,
		dedup: make(map[string]time.Time),
	}
}

// Request is the input to StartChatProcessing, mirroring the HTTP
// `/chat/stream` body (spec §6).
type Request struct {
	ChatID              string
	Message             string
	Provider            string
	Model               string
	IncludeReasoning    bool
	AttachedFileIDs     []string
	RouterEnabled       bool
	IsRetry             bool
	ExistingMessageID   string
	IsEditRegeneration  bool
	RequiresWorkspace   bool // true for domain routes that need process isolation
}

// StartChatProcessing implements spec §4.7's algorithm. It returns nil and
// "started" semantics on success; callers treat a non-nil error as a
// terminal single-event stream per spec §7's "Duplicate request" row.
func (d *Dispatcher) StartChatProcessing(ctx context.Context, req Request) error {
	if d.isDuplicate(req.ChatID, req.Message) {
		return ErrDuplicateRequest
	}

	if _, err := d.store.CreateChat(ctx, req.ChatID, ""); err != nil {
		return fmt.Errorf("dispatcher: ensure chat: %w", err)
	}

	if !req.IsRetry && !req.IsEditRegeneration {
		if _, err := d.store.SaveMessage(ctx, req.ChatID, store.RoleUser, req.Message, "", req.Provider, req.Model, req.AttachedFileIDs, req.RouterEnabled, ""); err != nil {
			return fmt.Errorf("dispatcher: persist user message: %w", err)
		}
	}

	// Token estimation (spec §4.7 step 1) uses the three-tier fallback
	// chain with no client bound yet -- the dispatcher only needs a
	// provider-shaped estimate to size the rate-limit reservation; the
	// real provider client is resolved lazily inside the engine that
	// actually streams the turn.
	estimated := 0
	history, herr := d.store.GetChatHistory(ctx, req.ChatID)
	if herr == nil {
		estimated = estimateFromHistory(nil, req.Provider, req.Model, history, req.Message)
	}

	// Rate-limit failure must not block the request entirely (spec §4.7
	// step 2 / §7 "Rate-limit timeout"): log and continue, the provider's
	// own 429 is the backstop.
	if d.limiter != nil {
		if rerr := d.limiter.CheckAndReserve(ctx, req.Provider, req.Model, int64(estimated)); rerr != nil {
			d.log.Warn("dispatcher: rate limit reservation failed, continuing anyway", "chat_id", req.ChatID, "err", rerr)
		}
	}

	if d.pool != nil && req.RequiresWorkspace && d.cfg.UseWorkerPoolForDomain {
		return d.submitToWorkerPool(ctx, req)
	}

	if d.async.LiveTaskCount() >= d.cfg.MaxAsyncConcurrentChats {
		d.bus.PublishContent(req.ChatID, eventbus.TypeError, ErrTooManyConcurrentChats.Error(), nil)
		return ErrTooManyConcurrentChats
	}

	_, ok := d.async.Submit(ctx, req.ChatID, req.Message, req.Provider, req.Model, req.AttachedFileIDs, req.RouterEnabled, req.IncludeReasoning)
	if !ok {
		d.bus.PublishContent(req.ChatID, eventbus.TypeError, ErrChatBusy.Error(), nil)
		return ErrChatBusy
	}
	return nil
}

func (d *Dispatcher) submitToWorkerPool(ctx context.Context, req Request) error {
	w, err := d.pool.Acquire(ctx, req.ChatID)
	if err != nil {
		return fmt.Errorf("dispatcher: acquire worker: %w", err)
	}
	cmd := workerpool.NewProcessCommand(req.ChatID, req.Message, req.Provider, req.Model, req.AttachedFileIDs, req.RouterEnabled, req.IncludeReasoning)
	if err := w.SendCommand(cmd); err != nil {
		d.pool.Release(ctx, w)
		return fmt.Errorf("dispatcher: send process command: %w", err)
	}
	go d.pumpWorkerEvents(ctx, req.ChatID, w)
	return nil
}

// pumpWorkerEvents relays a worker's framed events onto the bus until the
// terminal event arrives, then releases the worker back to the pool.
func (d *Dispatcher) pumpWorkerEvents(ctx context.Context, chatID string, w *workerpool.Worker) {
	defer d.pool.Release(ctx, w)
	for {
		ev, err := w.RecvEvent()
		if err != nil {
			d.bus.PublishContent(chatID, eventbus.TypeError, err.Error(), nil)
			return
		}
		d.relay(chatID, ev)
		if t, ok := ev.(workerpool.TerminalEvent); ok {
			_ = t
			return
		}
	}
}

func (d *Dispatcher) relay(chatID string, ev workerpool.Event) {
	switch e := ev.(type) {
	case workerpool.StateUpdateEvent:
		d.bus.PublishState(chatID, e.State)
	case workerpool.ContentEvent:
		d.bus.PublishContent(chatID, eventbus.Type(e.Type), e.Content, e.Metadata)
	case workerpool.RouterDecisionEvent:
		d.bus.PublishContent(chatID, eventbus.TypeRouterDecision, e.Decision, nil)
	case workerpool.TerminalEvent:
		typ := eventbus.TypeComplete
		if !e.Success {
			typ = eventbus.TypeError
		}
		d.bus.PublishTerminal(context.Background(), chatID, typ, e.ErrorMessage, nil, 5*time.Second, 20*time.Millisecond)
	}
}

// isDuplicate checks and records (chat_id, message) against the 1s dedup
// window, evicting stale entries opportunistically (spec §7).
func (d *Dispatcher) isDuplicate(chatID, message string) bool {
	key := dedupKey(chatID, message)
	now := time.Now()
	d.dedupMu.Lock()
	defer d.dedupMu.Unlock()
	if last, ok := d.dedup[key]; ok && now.Sub(last) < dedupWindow {
		return true
	}
	d.dedup[key] = now
	if len(d.dedup) > 4096 {
		for k, t := range d.dedup {
			if now.Sub(t) > dedupWindow {
				delete(d.dedup, k)
			}
		}
	}
	return false
}

func dedupKey(chatID, message string) string {
	h := sha256.Sum256([]byte(chatID + "\x00" + message))
	return hex.EncodeToString(h[:])
}

// estimateFromHistory adapts stored history to engine.ChatMessage and runs
// it through tokenest's three-tier estimator chain (spec §4.7 step 1).
func estimateFromHistory(client engine.LLMClient, provider, model string, history []store.Message, userMessage string) int {
	msgs := make([]engine.ChatMessage, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, engine.ChatMessage{Role: engine.MessageRole(m.Role), Content: m.Content})
	}
	return tokenest.EstimateMessages(client, provider, model, msgs, userMessage)
}
