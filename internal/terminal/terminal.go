// Package terminal implements the Terminal Session Manager (spec §4.10): a
// persistent pseudo-terminal per chat workspace, with output streamed to
// subscribers as it arrives.
//
// Grounded on internal/sandbox's HostRunner (process-group ownership via
// syscall.SysProcAttr.Setpgid and a SIGKILL-the-group teardown on cancel),
// generalized from one-shot command execution to a long-lived interactive
// shell, and on creack/pty (already a teacher go.mod dependency, unused by
// any example's code) for the PTY allocation itself.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// OutputChunk is one slice of PTY output delivered to a subscriber.
type OutputChunk struct {
	SessionID string
	Data      []byte
	Closed    bool // true on the final chunk once the shell exits
	Err       error
}

// Session is one persistent PTY-backed shell bound to a chat's workspace.
type Session struct {
	ID     string
	ChatID string

	cmd *exec.Cmd
	pty *os.File

	mu          sync.Mutex
	subscribers map[chan OutputChunk]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// Manager owns all live terminal sessions, one per chat at a time.
type Manager struct {
	shell string
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session // keyed by chat ID
}

// NewManager constructs a Manager. shell is the interactive shell binary to
// launch (e.g. "/bin/bash"); if empty, $SHELL is used, falling back to
// "/bin/sh".
func NewManager(shell string, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Manager{shell: shell, log: log, sessions: make(map[string]*Session)}
}

// Create starts a new PTY session rooted at workDir for chatID, replacing
// any existing session for that chat.
func (m *Manager) Create(chatID, workDir string) (*Session, error) {
	cmd := exec.Command(m.shell)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("terminal: start pty: %w", err)
	}

	s := &Session{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		cmd:         cmd,
		pty:         f,
		subscribers: make(map[chan OutputChunk]struct{}),
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	if old, ok := m.sessions[chatID]; ok {
		old.Close()
	}
	m.sessions[chatID] = s
	m.mu.Unlock()

	go s.pump(m.log)
	return s, nil
}

// Get returns the live session for chatID, if any.
func (m *Manager) Get(chatID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[chatID]
	return s, ok
}

// Send writes data (keystrokes) to the session's PTY.
func (s *Session) Send(data []byte) error {
	_, err := s.pty.Write(data)
	return err
}

// Resize propagates a terminal resize to the PTY.
func (s *Session) Resize(rows, cols uint16) error {
	return pty.Setsize(s.pty, &pty.Winsize{Rows: rows, Cols: cols})
}

// Subscribe registers a channel that receives output chunks until
// Unsubscribe is called or the session closes. The channel is buffered so a
// slow SSE writer cannot stall the PTY reader goroutine.
func (s *Session) Subscribe() chan OutputChunk {
	ch := make(chan OutputChunk, 64)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *Session) Unsubscribe(ch chan OutputChunk) {
	s.mu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
	s.mu.Unlock()
}

// Done reports a channel closed once the shell process exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close kills the session's process group and tears down the PTY.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			syscall.Kill(-s.cmd.Process.Pid, syscall.SIGKILL)
		}
		s.pty.Close()
	})
}

func (s *Session) pump(log *slog.Logger) {
	defer func() {
		s.cmd.Wait()
		s.broadcast(OutputChunk{SessionID: s.ID, Closed: true})
		s.mu.Lock()
		for ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = nil
		s.mu.Unlock()
		close(s.done)
	}()

	r := bufio.NewReaderSize(s.pty, 32*1024)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broadcast(OutputChunk{SessionID: s.ID, Data: chunk})
		}
		if err != nil {
			if err != io.EOF {
				log.Debug("terminal: pty read ended", "session_id", s.ID, "err", err)
			}
			return
		}
	}
}

func (s *Session) broadcast(chunk OutputChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- chunk:
		default:
			// Drop on a full buffer rather than block the PTY reader; the
			// subscriber is an SSE stream and can resync from later output.
		}
	}
}

// Destroy tears down and forgets the session for chatID.
func (m *Manager) Destroy(chatID string) {
	m.mu.Lock()
	s, ok := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

// WaitIdle blocks until the grace period elapses, the session's shell exits,
// or ctx is done, whichever comes first. It does not track subscriber
// activity: the grace period runs from the call, not from the last output.
func WaitIdle(ctx context.Context, s *Session, grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.Done():
	case <-timer.C:
	}
}
