// Package sandbox implements per-task isolated work environments: a
// private home directory plus the shell and browser sessions scoped to
// it, managed by a Manager that owns the storage root and the event bus.
//
// Isolation here is logical, not security-grade: file operations are
// confined to the home tree and processes are grouped per sandbox, but
// there are no namespaces, cgroups, or chroots.
package sandbox

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spindle-dev/spindle/internal/browser"
	"github.com/spindle-dev/spindle/internal/config"
	"github.com/spindle-dev/spindle/internal/credentials"
	"github.com/spindle-dev/spindle/internal/events"
	"github.com/spindle-dev/spindle/internal/logging"
	"github.com/spindle-dev/spindle/internal/metrics"
	"github.com/spindle-dev/spindle/internal/shell"
)

var (
	// ErrClosed is returned when operating on a deleted sandbox.
	ErrClosed = errors.New("sandbox closed")

	// ErrPathEscape is returned when a file operation's path resolves
	// outside the sandbox home.
	ErrPathEscape = errors.New("path escapes sandbox home")
)

// Sandbox is one isolated work environment. Shell sessions are owned
// exclusively by the sandbox; the credential store is borrowed from the
// manager and shared across sandboxes.
type Sandbox struct {
	id        string
	homePath  string
	createdAt time.Time

	cfg     *config.Config
	creds   *credentials.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu      sync.RWMutex
	shells  map[string]*shell.Session
	browser *browser.Session
	closed  bool
}

// ID returns the sandbox's opaque identifier.
func (s *Sandbox) ID() string { return s.id }

// HomePath returns the root of the sandbox's private file tree.
func (s *Sandbox) HomePath() string { return s.homePath }

// CreatedAt returns the creation time.
func (s *Sandbox) CreatedAt() time.Time { return s.createdAt }

// CreateShell opens a new interactive shell session rooted at the
// sandbox home.
func (s *Sandbox) CreateShell() (*shell.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, s.id)
	}

	sess, err := shell.New(shell.Options{
		SandboxID:  s.id,
		Shell:      s.cfg.Shell.Shell,
		WorkingDir: s.homePath,
		BufferSize: s.cfg.Shell.BufferSize,
		Bus:        s.bus,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create shell session in sandbox %s: %w", s.id, err)
	}

	s.shells[sess.ID()] = sess

	if s.metrics != nil {
		s.metrics.ShellSessionsTotal.Inc()
		s.metrics.ShellSessionsActive.Inc()
		// The gauge tracks live processes, and a shell can die without
		// anyone calling TerminateShell (`exit`, crash, external kill).
		// Done closes exactly once per session whichever way it ends, so
		// the decrement pairs with the increment above exactly once.
		go func() {
			<-sess.Done()
			s.metrics.ShellSessionsActive.Dec()
		}()
	}
	s.logger.Info("shell session created", zap.String("session_id", sess.ID()))

	return sess, nil
}

// Shell looks up a session by id.
func (s *Sandbox) Shell(id string) (*shell.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.shells[id]
	return sess, ok
}

// Shells returns all sessions, including ones whose process has already
// exited, sorted by id.
func (s *Sandbox) Shells() []*shell.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*shell.Session, 0, len(s.shells))
	for _, sess := range s.shells {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// TerminateShell terminates and forgets a session. Returns false when
// the id is unknown.
func (s *Sandbox) TerminateShell(id string) bool {
	s.mu.Lock()
	sess, ok := s.shells[id]
	if ok {
		delete(s.shells, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	sess.Terminate()
	return true
}

// Browser returns the sandbox's browser session, creating it on first
// use. At most one session is live: CreateBrowser replaces any
// existing one.
func (s *Sandbox) Browser() (*browser.Session, error) {
	s.mu.RLock()
	existing := s.browser
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, s.id)
	}
	if existing != nil && existing.IsActive() {
		return existing, nil
	}
	return s.CreateBrowser()
}

// CreateBrowser opens a fresh browser session, closing any live one
// first. Session state (cookies) persisted by the old session is picked
// up by the new one since both share the browser_data directory.
func (s *Sandbox) CreateBrowser() (*browser.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: %s", ErrClosed, s.id)
	}

	if s.browser != nil {
		s.browser.Close()
	}

	sess, err := browser.New(browser.Options{
		SandboxID: s.id,
		DataDir:   s.browserDataDir(),
		Client: browser.ClientConfig{
			Timeout:      s.cfg.Browser.Timeout,
			MaxRedirects: s.cfg.Browser.MaxRedirects,
			UserAgent:    s.cfg.Browser.UserAgent,
		},
		Credentials: s.creds,
		Bus:         s.bus,
		Metrics:     s.metrics,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser session in sandbox %s: %w", s.id, err)
	}

	s.browser = sess
	s.logger.Info("browser session created")
	return sess, nil
}

// Close terminates every shell session and the browser session. Files
// under the home directory are left in place.
func (s *Sandbox) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	shells := make([]*shell.Session, 0, len(s.shells))
	for _, sess := range s.shells {
		shells = append(shells, sess)
	}
	s.shells = make(map[string]*shell.Session)
	b := s.browser
	s.browser = nil
	s.mu.Unlock()

	for _, sess := range shells {
		sess.Terminate()
	}
	if b != nil {
		b.Close()
	}

	s.logger.Info("sandbox closed", zap.Int("shells_terminated", len(shells)))
}
