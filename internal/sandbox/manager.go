package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spindle-dev/spindle/internal/config"
	"github.com/spindle-dev/spindle/internal/credentials"
	"github.com/spindle-dev/spindle/internal/events"
	"github.com/spindle-dev/spindle/internal/logging"
	"github.com/spindle-dev/spindle/internal/metrics"
	"github.com/spindle-dev/spindle/internal/shared/id"
	"github.com/spindle-dev/spindle/internal/shell"
)

// skeletonDirs is the canonical directory layout seeded into every new
// sandbox home.
var skeletonDirs = []string{"documents", "downloads", "projects", "temp", "browser_data"}

// validSandboxID constrains caller-supplied ids to names safe as a
// single directory component.
var validSandboxID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Manager is the arena owning all sandboxes, the storage root, the
// event bus they publish on, and the metrics registry. Managers are
// independently constructible and disposable; there is no process-wide
// instance.
type Manager struct {
	root    string
	cfg     *config.Config
	creds   *credentials.Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *logging.Logger

	mu        sync.RWMutex
	sandboxes map[string]*Sandbox
	closed    bool
}

// NewManager creates a manager rooted at cfg.Storage.Root. The
// credential store is shared by reference with every sandbox's browser
// session.
func NewManager(cfg *config.Config, creds *credentials.Store, logger *logging.Logger) *Manager {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := &Manager{
		root:      cfg.Storage.Root,
		cfg:       cfg,
		creds:     creds,
		bus:       events.NewBus(),
		metrics:   metrics.New(),
		logger:    logger.Named("sandbox"),
		sandboxes: make(map[string]*Sandbox),
	}
	m.bus.OnPublish(func(t events.Type) {
		m.metrics.EventsPublished.WithLabelValues(string(t)).Inc()
	})
	return m
}

// Events returns the shared bus carrying every sandbox's shell and
// browser events.
func (m *Manager) Events() *events.Bus { return m.bus }

// Metrics returns the manager's metrics.
func (m *Manager) Metrics() *metrics.Metrics { return m.metrics }

// Create allocates a sandbox. An empty sandboxID generates one; a
// caller-supplied id must be unique and directory-safe. Filesystem
// errors are propagated, not swallowed.
func (m *Manager) Create(sandboxID string) (*Sandbox, error) {
	if sandboxID == "" {
		sandboxID = string(id.NewSandboxID())
	} else if !validSandboxID.MatchString(sandboxID) {
		return nil, fmt.Errorf("invalid sandbox id: %q", sandboxID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("sandbox manager closed")
	}
	if _, exists := m.sandboxes[sandboxID]; exists {
		return nil, fmt.Errorf("sandbox %s already exists", sandboxID)
	}

	homePath := filepath.Join(m.root, "home", sandboxID)
	now := time.Now()

	for _, dir := range skeletonDirs {
		if err := os.MkdirAll(filepath.Join(homePath, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sandbox directory %s: %w", dir, err)
		}
	}

	welcome := fmt.Sprintf("Sandbox %s\nCreated: %s\n", sandboxID, now.Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(homePath, "welcome.txt"), []byte(welcome), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write welcome marker: %w", err)
	}

	sb := &Sandbox{
		id:        sandboxID,
		homePath:  homePath,
		createdAt: now,
		cfg:       m.cfg,
		creds:     m.creds,
		bus:       m.bus,
		metrics:   m.metrics,
		logger:    m.logger.With(zap.String("sandbox_id", sandboxID)),
		shells:    make(map[string]*shell.Session),
	}

	m.sandboxes[sandboxID] = sb

	m.metrics.SandboxesTotal.Inc()
	m.metrics.SandboxesActive.Inc()
	m.logger.Info("sandbox created", zap.String("sandbox_id", sandboxID), zap.String("home", homePath))

	return sb, nil
}

// Get looks up a sandbox by id.
func (m *Manager) Get(sandboxID string) (*Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[sandboxID]
	return sb, ok
}

// List returns all live sandboxes sorted by id.
func (m *Manager) List() []*Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Sandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		out = append(out, sb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Delete terminates a sandbox's sessions and removes it from the
// table. On-disk files are retained: sandbox history survives deletion.
// Returns false for unknown ids.
func (m *Manager) Delete(sandboxID string) bool {
	m.mu.Lock()
	sb, ok := m.sandboxes[sandboxID]
	if ok {
		delete(m.sandboxes, sandboxID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	sb.Close()
	m.metrics.SandboxesActive.Dec()
	m.logger.Info("sandbox deleted", zap.String("sandbox_id", sandboxID))
	return true
}

// Close deletes every sandbox and shuts down the event bus.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sandboxes := make([]*Sandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		sandboxes = append(sandboxes, sb)
	}
	m.sandboxes = make(map[string]*Sandbox)
	m.mu.Unlock()

	for _, sb := range sandboxes {
		sb.Close()
		m.metrics.SandboxesActive.Dec()
	}
	m.bus.Close()
	m.logger.Info("sandbox manager closed", zap.Int("sandboxes", len(sandboxes)))
}
