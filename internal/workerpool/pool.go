package workerpool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ProcHandle is the minimal surface pool needs from a spawned child process.
// The real implementation wraps os/exec.Cmd (mirrors sandbox.HostRunner's use
// of exec.Command); tests inject an in-memory fake so acquire/release/crash
// behavior can be exercised without ever forking cmd/atlasworker.
type ProcHandle interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the process exits and reports its result. It must be
	// safe to call exactly once and must unblock if Kill is called.
	Wait() error
	Kill() error
	Pid() int
}

// Spawner launches one worker process.
type Spawner interface {
	Spawn(ctx context.Context) (ProcHandle, error)
}

// Config holds spawn-policy and timeout parameters (spec §4.4).
type Config struct {
	PoolSize           int
	MaxParallelSpawn   int
	SpawnRetryDelay    time.Duration
	SpawnRetryDelayMax time.Duration
	SlowStartThreshold time.Duration
	WorkerInitTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.MaxParallelSpawn <= 0 {
		c.MaxParallelSpawn = 2
	}
	if c.SpawnRetryDelay <= 0 {
		c.SpawnRetryDelay = 200 * time.Millisecond
	}
	if c.SpawnRetryDelayMax <= 0 {
		c.SpawnRetryDelayMax = 5 * time.Second
	}
	if c.SlowStartThreshold <= 0 {
		c.SlowStartThreshold = 10 * time.Second
	}
	if c.WorkerInitTimeout <= 0 {
		c.WorkerInitTimeout = 40 * time.Second
	}
	return c
}

// Worker wraps one live child process and its framed pipes.
type Worker struct {
	id     int
	proc   ProcHandle
	writer *frameWriter
	reader *frameReader

	mu      sync.Mutex
	chatID  string
	exited  bool
	exitErr error
}

func (w *Worker) ID() int { return w.id }

// SendCommand frames and writes cmd to the worker's stdin.
func (w *Worker) SendCommand(cmd Command) error {
	return w.writer.WriteJSON(cmd)
}

// RecvEvent blocks for the worker's next framed event.
func (w *Worker) RecvEvent() (Event, error) {
	line, err := w.reader.Next()
	if err != nil {
		return nil, err
	}
	return DecodeEvent(line)
}

func (w *Worker) markExited(err error) {
	w.mu.Lock()
	w.exited = true
	w.exitErr = err
	w.mu.Unlock()
}

func (w *Worker) hasExited() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exited, w.exitErr
}

// Pool maintains a fixed-size set of long-lived worker processes, one chat
// turn per worker at a time (spec §4.4).
type Pool struct {
	spawner Spawner
	cfg     Config
	log     *slog.Logger

	mu       sync.Mutex
	idle     []*Worker
	assigned map[string]*Worker // chat_id -> worker
	all      map[int]*Worker
	nextID   int
	closed   bool

	// freed is signaled (non-blocking) whenever a worker becomes idle, so
	// Acquire can wake without polling.
	freed chan struct{}
}

// New constructs a Pool. Call Start to perform eager warmup.
func New(spawner Spawner, cfg Config, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		spawner:  spawner,
		cfg:      cfg.withDefaults(),
		log:      log,
		assigned: make(map[string]*Worker),
		all:      make(map[int]*Worker),
		freed:    make(chan struct{}, 1),
	}
}

// signalFreed wakes one blocked Acquire call, if any.
func (p *Pool) signalFreed() {
	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Start eagerly warms the pool up to PoolSize, spawning up to
// MaxParallelSpawn workers concurrently. Spawn failures are retried with
// exponential backoff; a warmup that exceeds SlowStartThreshold is logged
// but is not an error.
func (p *Pool) Start(ctx context.Context) error {
	start := time.Now()

	sem := make(chan struct{}, p.cfg.MaxParallelSpawn)
	var wg sync.WaitGroup
	errs := make([]error, p.cfg.PoolSize)

	for i := 0; i < p.cfg.PoolSize; i++ {
		i := i
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w, err := p.spawnWithRetry(ctx)
			if err != nil {
				errs[i] = err
				return
			}
			p.mu.Lock()
			p.all[w.id] = w
			p.idle = append(p.idle, w)
			p.mu.Unlock()
			p.signalFreed()
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed > p.cfg.SlowStartThreshold {
		p.log.Warn("worker pool slow start", "elapsed", elapsed, "threshold", p.cfg.SlowStartThreshold)
	}

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == p.cfg.PoolSize && p.cfg.PoolSize > 0 {
		return fmt.Errorf("worker pool: all %d warmup spawns failed: %w", failed, errs[0])
	}
	if failed > 0 {
		p.log.Error("worker pool: partial warmup failure", "failed", failed, "pool_size", p.cfg.PoolSize)
	}
	return nil
}

func (p *Pool) spawnWithRetry(ctx context.Context) (*Worker, error) {
	delay := p.cfg.SpawnRetryDelay
	for {
		w, err := p.spawnOne(ctx)
		if err == nil {
			return w, nil
		}
		p.log.Warn("worker spawn failed, retrying", "err", err, "delay", delay)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("worker pool: spawn aborted: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > p.cfg.SpawnRetryDelayMax {
			delay = p.cfg.SpawnRetryDelayMax
		}
	}
}

func (p *Pool) spawnOne(ctx context.Context) (*Worker, error) {
	proc, err := p.spawner.Spawn(ctx)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	w := &Worker{
		id:     id,
		proc:   proc,
		writer: newFrameWriter(proc.Stdin()),
		reader: newFrameReader(proc.Stdout()),
	}

	go func() {
		err := proc.Wait()
		w.markExited(err)
	}()

	ev, err := w.RecvEvent()
	if err != nil {
		_ = proc.Kill()
		return nil, fmt.Errorf("worker pool: handshake read failed: %w", err)
	}
	spawned, ok := ev.(SpawnedEvent)
	if !ok || !spawned.Success {
		_ = proc.Kill()
		return nil, fmt.Errorf("worker pool: handshake failed, got %T", ev)
	}
	return w, nil
}

// ErrAcquireTimeout is returned by Acquire when no worker frees up in time.
var ErrAcquireTimeout = errors.New("worker pool: acquire timed out")

// Acquire blocks (up to WorkerInitTimeout) until a free worker is available,
// binds it to chatID, and returns it.
func (p *Pool) Acquire(ctx context.Context, chatID string) (*Worker, error) {
	timer := time.NewTimer(p.cfg.WorkerInitTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errors.New("worker pool: closed")
		}
		if w, ok := p.popIdleLocked(); ok {
			p.assigned[chatID] = w
			w.mu.Lock()
			w.chatID = chatID
			w.mu.Unlock()
			p.mu.Unlock()
			return w, nil
		}
		p.mu.Unlock()

		select {
		case <-p.freed:
			// A worker became idle; loop and try to claim it.
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrAcquireTimeout
		}
	}
}

// popIdleLocked pops a live idle worker, discarding any that have already
// crashed (lazily detected) rather than handing out a dead one.
func (p *Pool) popIdleLocked() (*Worker, bool) {
	for len(p.idle) > 0 {
		w := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if exited, _ := w.hasExited(); exited {
			delete(p.all, w.id)
			continue
		}
		return w, true
	}
	return nil, false
}

// Release returns worker to the idle pool. If its process has exited, with
// any exit status, the worker is dropped and a replacement is spawned in its
// place (spec §4.4 release()).
func (p *Pool) Release(ctx context.Context, w *Worker) {
	p.mu.Lock()
	for chatID, assigned := range p.assigned {
		if assigned == w {
			delete(p.assigned, chatID)
		}
	}
	w.mu.Lock()
	w.chatID = ""
	w.mu.Unlock()
	p.mu.Unlock()

	if exited, _ := w.hasExited(); exited {
		p.respawnReplacing(ctx, w)
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	p.signalFreed()
}

// respawnReplacing drops a dead worker and spawns its replacement into the
// idle set, logging but not failing the release call if the respawn itself
// fails. spawnWithRetry gives up only when ctx is done; the pool then stays
// one worker short, since Acquire does not spawn replacements.
func (p *Pool) respawnReplacing(ctx context.Context, dead *Worker) {
	p.mu.Lock()
	delete(p.all, dead.id)
	p.mu.Unlock()

	w, err := p.spawnWithRetry(ctx)
	if err != nil {
		p.log.Error("worker pool: respawn after crash failed", "err", err)
		return
	}
	p.mu.Lock()
	p.all[w.id] = w
	p.idle = append(p.idle, w)
	p.mu.Unlock()
	p.signalFreed()
}

// WorkerForChat returns the worker currently bound to chatID, if any.
func (p *Pool) WorkerForChat(chatID string) (*Worker, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.assigned[chatID]
	return w, ok
}

// Close kills every live worker and stops accepting new acquisitions.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	workers := make([]*Worker, 0, len(p.all))
	for _, w := range p.all {
		workers = append(workers, w)
	}
	p.mu.Unlock()
	p.signalFreed()

	for _, w := range workers {
		_ = w.proc.Kill()
	}
}
