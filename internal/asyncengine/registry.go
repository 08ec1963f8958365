// Package asyncengine services chat turns in-process, without spawning a
// worker process, for providers whose streaming can run in-process (spec
// §4.5). Each submitted turn runs on its own goroutine; there is no single
// shared scheduler goroutine.
package asyncengine

import (
	"sync"
	"time"
)

// StopFlag records what a caller asked an in-flight turn to do.
type StopFlag string

const (
	StopNone   StopFlag = ""
	StopStop   StopFlag = "stop"
	StopCancel StopFlag = "cancel"
)

// domainSession tracks a paused domain execution awaiting a tool decision.
type domainSession struct {
	taskID string
	domain string
	resume chan toolDecision
}

type toolDecision struct {
	callID            string
	decision          string
	batchMode         bool
	preExecutedCalls  []string
	preExecutionState map[string]any
}

// registries holds every chat-scoped bit of mutable state the engine needs,
// all under one lock (spec §9 "never held across suspension points" --
// every method here returns quickly and does no I/O).
type registries struct {
	mu sync.Mutex

	tasks             map[string]*taskHandle    // chat_id -> in-flight turn
	stopFlags         map[string]StopFlag       // chat_id -> stop/cancel request
	awaitingWorkspace map[string]pendingDomain  // chat_id -> parked domain turn
	domainSessions    map[string]*domainSession // chat_id -> live paused session
	clearedAt         map[string]time.Time      // chat_id -> when its session was cleared
}

// pendingDomain is the saved state of a domain turn parked waiting for
// workspace selection (spec §4.5 step 1 of _execute_async_domain_task).
type pendingDomain struct {
	message          string
	provider, model  string
	attachedFileIDs  []string
	routerEnabled    bool
	includeReasoning bool
}

func newRegistries() *registries {
	return &registries{
		tasks:             make(map[string]*taskHandle),
		stopFlags:         make(map[string]StopFlag),
		awaitingWorkspace: make(map[string]pendingDomain),
		domainSessions:    make(map[string]*domainSession),
		clearedAt:         make(map[string]time.Time),
	}
}

// taskHandle is the future half of a submitted turn.
type taskHandle struct {
	done chan struct{}
	err  error
}

func (h *taskHandle) finish(err error) {
	h.err = err
	close(h.done)
}

// Wait blocks until the turn completes.
func (h *taskHandle) Wait() error {
	<-h.done
	return h.err
}

func (r *registries) registerTask(chatID string) (*taskHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, live := r.tasks[chatID]; live {
		return nil, false
	}
	h := &taskHandle{done: make(chan struct{})}
	r.tasks[chatID] = h
	return h, true
}

func (r *registries) clearTask(chatID string) {
	r.mu.Lock()
	delete(r.tasks, chatID)
	delete(r.stopFlags, chatID)
	r.mu.Unlock()
}

func (r *registries) liveTaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *registries) hasTask(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[chatID]
	return ok
}

func (r *registries) setStopFlag(chatID string, f StopFlag) {
	r.mu.Lock()
	r.stopFlags[chatID] = f
	r.mu.Unlock()
}

func (r *registries) getStopFlag(chatID string) StopFlag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopFlags[chatID]
}

func (r *registries) parkForWorkspace(chatID string, p pendingDomain) {
	r.mu.Lock()
	r.awaitingWorkspace[chatID] = p
	r.mu.Unlock()
}

func (r *registries) popParkedForWorkspace(chatID string) (pendingDomain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.awaitingWorkspace[chatID]
	if ok {
		delete(r.awaitingWorkspace, chatID)
	}
	return p, ok
}

func (r *registries) openDomainSession(chatID, taskID, domain string) *domainSession {
	s := &domainSession{taskID: taskID, domain: domain, resume: make(chan toolDecision, 1)}
	r.mu.Lock()
	r.domainSessions[chatID] = s
	delete(r.clearedAt, chatID)
	r.mu.Unlock()
	return s
}

func (r *registries) getDomainSession(chatID string) (*domainSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.domainSessions[chatID]
	return s, ok
}

// clearDomainSession drops the live session and starts the 10s grace window
// during which duplicate tool-decision replies are absorbed as stale
// rather than erroring (spec §4.5 "recently cleared sessions").
func (r *registries) clearDomainSession(chatID string) {
	r.mu.Lock()
	delete(r.domainSessions, chatID)
	r.clearedAt[chatID] = time.Now()
	r.mu.Unlock()
}

const clearedGrace = 10 * time.Second

func (r *registries) recentlyCleared(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.clearedAt[chatID]
	return ok && time.Since(t) < clearedGrace
}
