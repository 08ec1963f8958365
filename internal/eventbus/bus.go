// Package eventbus fans out chat state/content events to per-chat content
// queues and a global subscriber set, with ring-buffered backlog replay for
// subscribers that connect after publication.
//
// Grounded on the distributed-SSE reference handler's NATS-subscription loop
// (try-send to a bounded channel, drop with a log warning when full, no
// producer blocking) adapted from pub/sub-over-a-broker to an in-process
// broadcaster, since the core is explicitly single-host (spec §1 non-goals).
package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultBacklogSize = 500
const defaultQueueDepth = 256

// Queue is a subscriber's bounded mailbox.
type Queue struct {
	ch     chan Event
	closed chan struct{}
	once   sync.Once
}

// C returns the receive-only channel of queued events.
func (q *Queue) C() <-chan Event { return q.ch }

func newQueue(depth int) *Queue {
	return &Queue{ch: make(chan Event, depth), closed: make(chan struct{})}
}

func (q *Queue) close() {
	q.once.Do(func() { close(q.closed) })
}

// trySend attempts a non-blocking send; returns false if the queue is full.
func (q *Queue) trySend(e Event) bool {
	select {
	case q.ch <- e:
		return true
	default:
		return false
	}
}

// perChatQueue tracks the content queue for one chat plus whether it is
// currently idle (empty for wait_for_queue_drain purposes).
type perChatQueue struct {
	mu        sync.Mutex
	pending   int
	idleSince time.Time
}

// Bus is the process-wide publish/subscribe fan-out.
type Bus struct {
	log *slog.Logger

	mu          sync.Mutex
	subscribers map[*Queue]struct{}
	backlog     []Event
	backlogCap  int
	nextSeq     int64

	chatMu    sync.Mutex
	chatQueue map[string]*perChatQueue
}

// New creates an empty Bus. backlogCap <= 0 selects the default of 500
// events (spec §4.3).
func New(log *slog.Logger, backlogCap int) *Bus {
	if backlogCap <= 0 {
		backlogCap = defaultBacklogSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:         log,
		subscribers: make(map[*Queue]struct{}),
		backlogCap:  backlogCap,
		chatQueue:   make(map[string]*perChatQueue),
	}
}

// Subscribe registers a bounded queue and immediately replays any buffered
// backlog into it before returning.
func (b *Bus) Subscribe() *Queue {
	q := newQueue(defaultQueueDepth)
	b.mu.Lock()
	b.subscribers[q] = struct{}{}
	backlog := append([]Event(nil), b.backlog...)
	b.mu.Unlock()

	for _, e := range backlog {
		if !q.trySend(e) {
			b.log.Warn("backlog replay dropped event: subscriber queue full immediately on connect", "type", e.Type, "chat_id", e.ChatID)
			break
		}
	}
	return q
}

// Unsubscribe is idempotent.
func (b *Bus) Unsubscribe(q *Queue) {
	b.mu.Lock()
	_, ok := b.subscribers[q]
	delete(b.subscribers, q)
	b.mu.Unlock()
	if ok {
		q.close()
	}
}

// publish delivers e to every current subscriber (try-send; evict on full),
// or to the backlog if there are no subscribers.
func (b *Bus) publish(e Event) {
	b.mu.Lock()
	b.nextSeq++
	e.Seq = b.nextSeq

	if len(b.subscribers) == 0 {
		b.appendBacklogLocked(e)
		b.mu.Unlock()
		return
	}

	// Snapshot the subscriber set before sending so producers never hold the
	// lock across a channel send (spec §5 "Event bus subscriber list").
	subs := make([]*Queue, 0, len(b.subscribers))
	for q := range b.subscribers {
		subs = append(subs, q)
	}
	b.mu.Unlock()

	var evicted []*Queue
	for _, q := range subs {
		if !q.trySend(e) {
			evicted = append(evicted, q)
		}
	}
	if len(evicted) > 0 {
		b.mu.Lock()
		for _, q := range evicted {
			delete(b.subscribers, q)
		}
		b.appendBacklogLocked(e)
		b.mu.Unlock()
		for _, q := range evicted {
			q.close()
			b.log.Warn("subscriber queue full; evicted and diverted event to backlog", "type", e.Type, "chat_id", e.ChatID)
		}
	}
}

func (b *Bus) appendBacklogLocked(e Event) {
	b.backlog = append(b.backlog, e)
	if len(b.backlog) > b.backlogCap {
		b.backlog = b.backlog[len(b.backlog)-b.backlogCap:]
	}
}

func (b *Bus) chatQueueFor(chatID string) *perChatQueue {
	b.chatMu.Lock()
	defer b.chatMu.Unlock()
	q, ok := b.chatQueue[chatID]
	if !ok {
		q = &perChatQueue{idleSince: time.Now()}
		b.chatQueue[chatID] = q
	}
	return q
}

func (b *Bus) markPending(chatID string, delta int) {
	q := b.chatQueueFor(chatID)
	q.mu.Lock()
	q.pending += delta
	if q.pending <= 0 {
		q.pending = 0
		q.idleSince = time.Now()
	}
	q.mu.Unlock()
}

// PublishState updates the per-chat queue and broadcasts a chat_state event.
func (b *Bus) PublishState(chatID, state string) {
	b.markPending(chatID, 1)
	b.publish(Event{ChatID: chatID, Type: TypeChatState, Content: state})
	b.markPending(chatID, -1)
}

// PublishContent updates the per-chat queue and broadcasts a content event.
func (b *Bus) PublishContent(chatID string, typ Type, content string, metadata map[string]any) {
	b.markPending(chatID, 1)
	b.publish(Event{ChatID: chatID, Type: typ, Content: content, Metadata: metadata})
	b.markPending(chatID, -1)
}

// PublishTerminal publishes complete/error, but only after the chat's
// content queue has drained (spec §4.3 ordering contract). timeout bounds
// the drain wait; idleGrace is how long the queue must stay empty to count
// as drained.
func (b *Bus) PublishTerminal(ctx context.Context, chatID string, typ Type, content string, metadata map[string]any, timeout, idleGrace time.Duration) {
	b.WaitForQueueDrain(ctx, chatID, timeout, idleGrace)
	b.publish(Event{ChatID: chatID, Type: typ, Content: content, Metadata: metadata})
}

// WaitForQueueDrain blocks until the chat's content queue has been idle
// continuously for idleGrace, or until timeout elapses.
func (b *Bus) WaitForQueueDrain(ctx context.Context, chatID string, timeout, idleGrace time.Duration) {
	deadline := time.Now().Add(timeout)
	q := b.chatQueueFor(chatID)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		q.mu.Lock()
		idleFor := time.Since(q.idleSince)
		pending := q.pending
		q.mu.Unlock()

		if pending == 0 && idleFor >= idleGrace {
			return
		}
		if time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
