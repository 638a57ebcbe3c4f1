// Package shell implements interactive child-process-backed shell
// sessions. Each session owns a PTY-attached OS process; output is
// accumulated in a buffer and re-emitted on the owning manager's event
// bus as it arrives, so callers can observe a running command without
// blocking on its completion.
package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/spindle-dev/spindle/internal/events"
	"github.com/spindle-dev/spindle/internal/logging"
	"github.com/spindle-dev/spindle/internal/shared/id"
)

// ErrNotActive is returned by Write once a session has terminated,
// whether by explicit Terminate or by the process exiting on its own.
var ErrNotActive = errors.New("shell session not active")

// Options configures a new session.
type Options struct {
	SandboxID  string
	Shell      string // empty: $SHELL, then /bin/bash
	WorkingDir string
	Env        map[string]string
	BufferSize int
	Bus        *events.Bus
	Logger     *logging.Logger
}

// Session is one interactive shell. Lifecycle: created -> active ->
// terminated; the final transition is irreversible.
type Session struct {
	id         string
	sandboxID  string
	shell      string
	workingDir string
	startedAt  time.Time

	cmd  *exec.Cmd
	ptmx *os.File

	buf    *Buffer
	bus    *events.Bus
	logger *logging.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New spawns the shell process under a PTY and starts its reader and
// exit-monitor goroutines.
func New(opts Options) (*Session, error) {
	shellPath := opts.Shell
	if shellPath == "" {
		shellPath = os.Getenv("SHELL")
		if shellPath == "" {
			shellPath = "/bin/bash"
		}
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = os.TempDir()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	sessionID := string(id.NewShellID())

	cmd := exec.Command(shellPath)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 120})
	if err != nil {
		return nil, fmt.Errorf("failed to start shell process: %w", err)
	}

	s := &Session{
		id:         sessionID,
		sandboxID:  opts.SandboxID,
		shell:      shellPath,
		workingDir: workingDir,
		startedAt:  time.Now(),
		cmd:        cmd,
		ptmx:       ptmx,
		buf:        NewBuffer(opts.BufferSize),
		bus:        opts.Bus,
		logger:     logger.Named("shell").With(zap.String("session_id", sessionID)),
		done:       make(chan struct{}),
	}

	go s.readOutput()
	go s.monitorProcess()

	s.publish(events.ShellCreated, map[string]any{
		"shell":       shellPath,
		"working_dir": workingDir,
	})

	return s, nil
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// SandboxID returns the owning sandbox's identifier.
func (s *Session) SandboxID() string { return s.sandboxID }

// Info returns a public snapshot.
func (s *Session) Info() Info {
	return Info{
		ID:         s.id,
		SandboxID:  s.sandboxID,
		Shell:      s.shell,
		WorkingDir: s.workingDir,
		Active:     s.IsActive(),
	}
}

// IsActive reports whether the process is still accepting input.
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// Write sends input to the process's stdin. Callers supply their own
// trailing newline when they want the shell to execute a line.
func (s *Session) Write(input string) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return fmt.Errorf("%w: %s", ErrNotActive, s.id)
	}

	if _, err := s.ptmx.Write([]byte(input)); err != nil {
		s.publish(events.ShellError, map[string]any{"error": err.Error()})
		return fmt.Errorf("failed to write to session %s: %w", s.id, err)
	}
	return nil
}

// Output returns everything accumulated since creation or the last
// ClearOutput. Partial lines are included; there is no line buffering.
func (s *Session) Output() string {
	return s.buf.String()
}

// ClearOutput discards the accumulated buffer.
func (s *Session) ClearOutput() {
	s.buf.Clear()
}

// Terminate kills the process. Idempotent: terminating an already
// inactive session is a no-op.
func (s *Session) Terminate() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.ptmx.Close()

	s.publish(events.ShellClosed, map[string]any{"reason": "terminated"})
	s.logger.Debug("session terminated")
}

// Done returns a channel closed when the underlying process has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// readOutput drains the PTY into the buffer and re-emits each chunk as
// a shell:output event. Chunks arrive in order for this session; no
// ordering holds across sessions.
func (s *Session) readOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.buf.Write(chunk)
			s.publish(events.ShellOutput, map[string]any{"output": string(chunk)})
		}
		if err != nil {
			// PTY reads fail with EIO once the child exits; only
			// unexpected errors are worth surfacing.
			if err != io.EOF && s.IsActive() {
				s.logger.Debug("pty read ended", zap.Error(err))
			}
			return
		}
	}
}

// monitorProcess marks the session terminated when the process exits on
// its own (crash, `exit`, kill from outside).
func (s *Session) monitorProcess() {
	s.cmd.Wait()

	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()

	s.ptmx.Close()
	close(s.done)

	if !alreadyClosed {
		s.publish(events.ShellClosed, map[string]any{"reason": "exited"})
		s.logger.Debug("process exited")
	}
}

func (s *Session) publish(t events.Type, data map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.Event{
		Type:      t,
		SandboxID: s.sandboxID,
		SessionID: s.id,
		Data:      data,
	})
}
