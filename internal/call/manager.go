package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ManagerConfig tunes the session registry.
type ManagerConfig struct {
	// Session is applied to every session the manager creates.
	Session SessionConfig

	// HardTimeout is the maximum lifetime of a session measured from
	// creation. Activity does not extend it; a call that exceeds the cap
	// is torn down even mid-conversation. Default: 30m.
	HardTimeout time.Duration

	// SweepInterval is how often Run checks for expired sessions.
	// Default: 1m.
	SweepInterval time.Duration
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.HardTimeout <= 0 {
		c.HardTimeout = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

// Manager owns the live sessions of the gateway, keyed by call ID.
type Manager struct {
	collab Collaborators
	cfg    ManagerConfig
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session registry using the given collaborator set
// for every call it accepts.
func NewManager(collab Collaborators, cfg ManagerConfig, log *slog.Logger) (*Manager, error) {
	if err := collab.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		collab:   collab,
		cfg:      cfg.withDefaults(),
		log:      log,
		sessions: make(map[string]*Session),
	}, nil
}

// Create registers a session for the given call ID and returns it. Creating
// an ID that already exists returns the existing session unchanged, so a
// transport may call Create on every start event without tracking state.
func (m *Manager) Create(id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("call: session id must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("call: manager is closed")
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := newSession(id, m.collab, m.cfg.Session, m.log)
	m.sessions[id] = s
	m.log.Info("session created", "call_id", id, "active", len(m.sessions))
	return s, nil
}

// UpdateSessionConfig replaces the tuning applied to sessions created from
// now on. Calls already in progress keep the configuration they started with.
func (m *Manager) UpdateSessionConfig(cfg SessionConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Session = cfg
}

// Get returns the session for the given call ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// HandleFrame routes one inbound frame to its session.
func (m *Manager) HandleFrame(id string, frame []byte) error {
	s, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("call: session %q: %w", id, ErrSessionNotFound)
	}
	return s.HandleFrame(frame)
}

// Delete closes and removes the session for the given call ID.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	remaining := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("call: session %q: %w", id, ErrSessionNotFound)
	}
	s.Close()
	m.log.Info("session deleted", "call_id", id, "active", remaining)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Stats returns a snapshot of every live session, ordered by call ID.
func (m *Manager) Stats() []SessionStats {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	stats := make([]SessionStats, 0, len(sessions))
	for _, s := range sessions {
		stats = append(stats, s.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].ID < stats[j].ID })
	return stats
}

// Run sweeps expired sessions until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepOnce(now)
		}
	}
}

// sweepOnce closes and removes every session whose age, measured from
// creation, has reached the hard timeout. Returns the swept call IDs.
func (m *Manager) sweepOnce(now time.Time) []string {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if now.Sub(s.createdAt) >= m.cfg.HardTimeout {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, s := range expired {
		s.Close()
		ids = append(ids, s.id)
		m.log.Info("session expired",
			"call_id", s.id,
			"age", now.Sub(s.createdAt).Round(time.Second),
		)
	}
	sort.Strings(ids)
	return ids
}

// Close tears down every live session and rejects further Creates.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
