package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config carries the engine settings the manager needs.
type Config struct {
	SessionDir    string
	MaxRetries    int
	AutoSave      bool
	DebounceDelay time.Duration
}

// Manager is the sole owner of the current session. Every mutation goes
// through it so the on-disk copy stays consistent with memory.
type Manager struct {
	logger *slog.Logger
	clock  func() time.Time

	mu         sync.Mutex
	store      *Store
	current    *Session
	maxRetries int
	autoSave   bool
	debouncer  *Debouncer

	// persistMu orders disk writes so a late debounced write can never land
	// after the terminal write issued by End.
	persistMu sync.Mutex
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// NewManager returns a manager that must be initialized before use.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: slog.New(slog.DiscardHandler),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize applies cfg, ensures the session directory exists and recovers
// a previously active session when none is loaded yet.
func (m *Manager) Initialize(cfg Config) error {
	if strings.TrimSpace(cfg.SessionDir) == "" {
		return fmt.Errorf("session: session dir is required")
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("session: max retries must be >= 0")
	}
	store := NewStore(cfg.SessionDir, m.logger)
	store.clock = m.clock
	if err := store.EnsureDir(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.debouncer != nil {
		m.debouncer.Stop()
	}
	m.store = store
	m.maxRetries = cfg.MaxRetries
	m.autoSave = cfg.AutoSave
	m.debouncer = NewDebouncer(cfg.DebounceDelay, m.writeCurrent, m.logWriteError)
	loaded := m.current != nil
	m.mu.Unlock()

	if loaded {
		return nil
	}
	recovered, err := store.FindActive()
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("session: recovery failed", "error", err)
		}
		return nil
	}
	m.mu.Lock()
	if m.current == nil {
		m.current = recovered
		m.logger.Info("session: recovered active session", "session_id", recovered.ID, "name", recovered.Name)
	}
	m.mu.Unlock()
	return nil
}

// Store exposes the underlying store for read-only inspection.
func (m *Manager) Store() *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

// Start creates a new active session and makes it current. An existing
// current session is flushed and then replaced.
func (m *Manager) Start(goal, name string) (*Session, error) {
	m.mu.Lock()
	if m.store == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("session: manager not initialized")
	}
	previous := m.current
	m.mu.Unlock()
	if previous != nil {
		m.logger.Warn("session: replacing active session", "session_id", previous.ID)
		if err := m.Flush(); err != nil {
			m.logger.Error("session: flush replaced session", "session_id", previous.ID, "error", err)
		}
	}

	now := m.clock().UTC()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Session " + now.Format("2006-01-02 15:04")
	}
	sess := &Session{
		ID:         newID(),
		Name:       name,
		Goal:       goal,
		Status:     StatusActive,
		StartTime:  now,
		Agents:     []AgentResult{},
		Context:    map[string]any{},
		RetryCount: 0,
	}

	m.mu.Lock()
	sess.MaxRetries = m.maxRetries
	m.current = sess
	m.debouncer.Cancel()
	snapshot := sess.Clone()
	store := m.store
	m.mu.Unlock()

	if err := m.persist(store, snapshot); err != nil {
		return snapshot, err
	}
	if err := store.SetActive(snapshot.ID); err != nil {
		return snapshot, err
	}
	m.logger.Info("session: started", "session_id", snapshot.ID, "name", snapshot.Name)
	return snapshot, nil
}

// Current returns a copy of the current session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Clone()
}

// AppendResult appends result to the current session's agent log.
func (m *Manager) AppendResult(result AgentResult) error {
	return m.mutate(func(sess *Session) {
		if result.Status == "" {
			result.Status = ResultPending
		}
		if result.Timestamp.IsZero() {
			result.Timestamp = m.clock().UTC()
		}
		sess.Agents = append(sess.Agents, result)
	})
}

// SetContext stores value under key in the current session's context.
func (m *Manager) SetContext(key string, value any) error {
	return m.mutate(func(sess *Session) {
		sess.Context[key] = value
	})
}

// SetWorkflowType records which workflow the current session is running.
func (m *Manager) SetWorkflowType(name string) error {
	return m.mutate(func(sess *Session) {
		sess.WorkflowType = name
	})
}

// IncrementRetry bumps the retry counter and returns its new value.
func (m *Manager) IncrementRetry() (int, error) {
	var count int
	err := m.mutate(func(sess *Session) {
		sess.RetryCount++
		count = sess.RetryCount
	})
	return count, err
}

// GetContext reads a context value. It reports ok=false when no session is
// current or the key is unset.
func (m *Manager) GetContext(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, false
	}
	value, ok := m.current.Context[key]
	return value, ok
}

// CanRetry reports whether the current session has retries left.
func (m *Manager) CanRetry() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return false
	}
	return m.current.RetryCount < m.current.MaxRetries
}

// End terminates the current session with status. The terminal state is
// written immediately, bypassing the debounce window, and the session is
// detached.
func (m *Manager) End(status Status) (*Session, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("session: end with non-terminal status %q", status)
	}
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	now := m.clock().UTC()
	m.current.Status = status
	m.current.EndTime = &now
	snapshot := m.current.Clone()
	m.current = nil
	m.debouncer.Cancel()
	store := m.store
	m.mu.Unlock()

	if err := m.persist(store, snapshot); err != nil {
		return snapshot, err
	}
	if err := store.SetActive(""); err != nil {
		return snapshot, err
	}
	m.logger.Info("session: ended", "session_id", snapshot.ID, "status", status)
	return snapshot, nil
}

// Load reads a session for inspection. It never becomes current.
func (m *Manager) Load(id string) (*Session, error) {
	store := m.Store()
	if store == nil {
		return nil, fmt.Errorf("session: manager not initialized")
	}
	return store.Read(id)
}

// List returns the session history, newest first.
func (m *Manager) List() ([]*Session, error) {
	store := m.Store()
	if store == nil {
		return nil, fmt.Errorf("session: manager not initialized")
	}
	return store.List()
}

// Summary renders the current session, or a fixed notice when none is loaded.
func (m *Manager) Summary() string {
	m.mu.Lock()
	snapshot := m.current.Clone()
	m.mu.Unlock()
	return Summary(snapshot, m.clock())
}

// Flush synchronously writes the current session, if any, superseding a
// pending debounced write.
func (m *Manager) Flush() error {
	m.mu.Lock()
	debouncer := m.debouncer
	m.mu.Unlock()
	if debouncer == nil {
		return m.writeCurrent()
	}
	return debouncer.FlushNow()
}

// Close flushes the current session and stops the debouncer. The session
// stays active on disk so the next process can recover it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.debouncer != nil {
		m.debouncer.Stop()
	}
	m.mu.Unlock()
	return m.writeCurrent()
}

func (m *Manager) mutate(apply func(*Session)) error {
	m.mu.Lock()
	if m.current == nil {
		m.mu.Unlock()
		return ErrNoActiveSession
	}
	apply(m.current)
	if m.autoSave {
		m.debouncer.Trigger()
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) logWriteError(err error) {
	m.logger.Error("session: debounced write failed", "error", err)
}

func (m *Manager) writeCurrent() error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.mu.Lock()
	snapshot := m.current.Clone()
	store := m.store
	m.mu.Unlock()
	if snapshot == nil || store == nil {
		return nil
	}
	return store.Write(snapshot)
}

func (m *Manager) persist(store *Store, snapshot *Session) error {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	return store.Write(snapshot)
}

// newID returns a time-ordered id so newer sessions sort last on disk.
func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
