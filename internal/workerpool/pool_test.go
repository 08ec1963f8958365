package workerpool

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeProc is an in-memory ProcHandle backed by pipes, standing in for a
// real os/exec-spawned cmd/atlasworker child.
type fakeProc struct {
	parentW io.WriteCloser // parent writes commands here; child reads from the other end
	childR  io.ReadCloser

	childW  io.WriteCloser // child writes events here; parent reads from the other end
	parentR io.ReadCloser

	waitCh chan error
	killed chan struct{}
	once   sync.Once
}

func newFakeProc() *fakeProc {
	cr, cw := io.Pipe()   // parent -> child
	pr, pw := io.Pipe()   // child -> parent
	return &fakeProc{
		parentW: cw,
		childR:  cr,
		childW:  pw,
		parentR: pr,
		waitCh:  make(chan error, 1),
		killed:  make(chan struct{}),
	}
}

func (f *fakeProc) Stdin() io.WriteCloser { return f.parentW }
func (f *fakeProc) Stdout() io.Reader     { return f.parentR }
func (f *fakeProc) Pid() int              { return 1 }

func (f *fakeProc) Wait() error {
	return <-f.waitCh
}

func (f *fakeProc) Kill() error {
	f.once.Do(func() {
		close(f.killed)
		f.waitCh <- fmt.Errorf("killed")
		_ = f.childR.Close()
		_ = f.childW.Close()
	})
	return nil
}

// exit simulates the child process terminating on its own.
func (f *fakeProc) exit(err error) {
	f.waitCh <- err
}

type fakeSpawner struct {
	mu      sync.Mutex
	procs   []*fakeProc
	succeed bool
	fail    int // number of upcoming Spawn calls to fail
}

func (s *fakeSpawner) Spawn(ctx context.Context) (ProcHandle, error) {
	s.mu.Lock()
	if s.fail > 0 {
		s.fail--
		s.mu.Unlock()
		return nil, fmt.Errorf("spawn failed")
	}
	s.mu.Unlock()

	fp := newFakeProc()
	go driveFakeChild(fp, s.succeed)
	s.mu.Lock()
	s.procs = append(s.procs, fp)
	s.mu.Unlock()
	return fp, nil
}

func driveFakeChild(fp *fakeProc, succeed bool) {
	w := newFrameWriter(fp.childW)
	r := newFrameReader(fp.childR)
	if err := w.WriteJSON(NewSpawnedEvent(succeed, "")); err != nil || !succeed {
		return
	}
	for {
		line, err := r.Next()
		if err != nil {
			return
		}
		cmd, err := DecodeCommand(line)
		if err != nil {
			continue
		}
		switch c := cmd.(type) {
		case ProcessCommand:
			_ = w.WriteJSON(NewStateUpdateEvent(c.ChatID, "responding"))
			_ = w.WriteJSON(NewTerminalEvent(c.ChatID, true, "", false))
		case StopCommand:
			_ = w.WriteJSON(NewTerminalEvent(c.ChatID, true, "", false))
		case CancelCommand:
			_ = w.WriteJSON(NewTerminalEvent(c.ChatID, true, "", false))
		}
	}
}

func TestPoolAcquireReleaseRoundTrip(t *testing.T) {
	sp := &fakeSpawner{succeed: true}
	p := New(sp, Config{PoolSize: 2, MaxParallelSpawn: 2, WorkerInitTimeout: 2 * time.Second}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	w, err := p.Acquire(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	if err := w.SendCommand(NewProcessCommand("chat-1", "hi", "", "", nil, false, false)); err != nil {
		t.Fatalf("send command: %v", err)
	}

	ev, err := w.RecvEvent()
	if err != nil {
		t.Fatalf("recv event: %v", err)
	}
	if _, ok := ev.(StateUpdateEvent); !ok {
		t.Fatalf("expected state_update, got %T", ev)
	}
	ev, err = w.RecvEvent()
	if err != nil {
		t.Fatalf("recv terminal: %v", err)
	}
	term, ok := ev.(TerminalEvent)
	if !ok || !term.Success {
		t.Fatalf("expected successful terminal event, got %+v", ev)
	}

	p.Release(context.Background(), w)

	if _, ok := p.WorkerForChat("chat-1"); ok {
		t.Fatalf("worker should be unassigned after release")
	}
}

func TestPoolAcquireBlocksWhenExhausted(t *testing.T) {
	sp := &fakeSpawner{succeed: true}
	p := New(sp, Config{PoolSize: 1, MaxParallelSpawn: 1, WorkerInitTimeout: time.Second}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	w1, err := p.Acquire(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx, "chat-2"); err == nil {
		t.Fatalf("expected acquire to time out with no free workers")
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(context.Background(), w1)
		close(released)
	}()

	w2, err := p.Acquire(context.Background(), "chat-2")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	<-released
	if w2.ID() != w1.ID() {
		t.Fatalf("expected the released worker to be reused")
	}
}

func TestPoolRespawnsOnCrash(t *testing.T) {
	sp := &fakeSpawner{succeed: true}
	p := New(sp, Config{PoolSize: 1, MaxParallelSpawn: 1, WorkerInitTimeout: 2 * time.Second}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer p.Close()

	w, err := p.Acquire(context.Background(), "chat-1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	sp.mu.Lock()
	fp := sp.procs[0]
	sp.mu.Unlock()
	fp.exit(fmt.Errorf("exit status 1"))

	time.Sleep(10 * time.Millisecond) // let the Wait goroutine mark it exited
	p.Release(context.Background(), w)

	w2, err := p.Acquire(context.Background(), "chat-2")
	if err != nil {
		t.Fatalf("acquire after crash respawn: %v", err)
	}
	if w2.ID() == w.ID() {
		t.Fatalf("expected a freshly respawned worker, got the crashed one back")
	}
}

func TestPoolStartRetriesOnSpawnFailure(t *testing.T) {
	sp := &fakeSpawner{succeed: true, fail: 2}
	p := New(sp, Config{
		PoolSize:           1,
		MaxParallelSpawn:   1,
		SpawnRetryDelay:    time.Millisecond,
		SpawnRetryDelayMax: 5 * time.Millisecond,
		WorkerInitTimeout:  time.Second,
	}, nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start should eventually succeed after retries: %v", err)
	}
	defer p.Close()

	if _, err := p.Acquire(context.Background(), "chat-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}
