package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/chatwire/chatwire/internal/common/apperrors"
	"github.com/chatwire/chatwire/internal/hub/config"
	"github.com/chatwire/chatwire/internal/hub/transport"
)

// InstanceStatus is one row of ListInstances.
type InstanceStatus struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Manager owns the mapping from instance id to session. It enforces id
// uniqueness and the optional capacity limit, and aggregates lifecycle
// operations across sessions.
type Manager struct {
	cfg    *config.ConfigParam
	dialer transport.Dialer

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
}

// NewManager creates a manager using cfg for capacity, auth directory
// derivation, and reconnect policy.
func NewManager(cfg *config.ConfigParam, dialer transport.Dialer) *Manager {
	return &Manager{
		cfg:      cfg,
		dialer:   dialer,
		sessions: make(map[string]*Session),
	}
}

// CreateInstance constructs and stores a new session. The session is not
// connected. When authDir is omitted, a default is derived from the instance
// id and the configured prefix.
func (m *Manager) CreateInstance(instanceID string, authDir ...string) (*Session, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[instanceID]; exists {
		return nil, ErrDuplicateInstance.Msg("instance \"" + instanceID + "\" already exists")
	}
	if m.cfg.MaxInstances > 0 && len(m.sessions) >= m.cfg.MaxInstances {
		return nil, ErrCapacityExceeded
	}

	dir := ""
	if len(authDir) > 0 && authDir[0] != "" {
		dir = authDir[0]
	} else {
		dir = m.cfg.AuthDirFor(instanceID)
	}

	s := newSession(instanceID, dir, m.dialer, m.cfg.ReconnectTimeout(), m.cfg.ReconnectMaxAttempts)
	m.sessions[instanceID] = s
	m.order = append(m.order, instanceID)
	log.Info().Str("instance_id", instanceID).Str("auth_dir", dir).Msg("instance created")
	return s, nil
}

// GetInstance returns the session for the given id.
func (m *Manager) GetInstance(instanceID string) (*Session, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, exists := m.sessions[instanceID]; exists {
		return s, nil
	}
	return nil, ErrInstanceNotFound.Msg("instance \"" + instanceID + "\" not found")
}

// ConnectInstance connects a single instance.
func (m *Manager) ConnectInstance(ctx context.Context, instanceID string, opts ConnectOptions) apperrors.Error {
	s, err := m.GetInstance(instanceID)
	if err != nil {
		return err
	}
	return s.Connect(ctx, opts)
}

// DisconnectInstance disconnects an instance and removes it from the
// manager. Disconnect implies deregistration: the manager does not retain
// disconnected sessions for later reconnection.
func (m *Manager) DisconnectInstance(ctx context.Context, instanceID string) apperrors.Error {
	m.mu.Lock()
	s, exists := m.sessions[instanceID]
	if !exists {
		m.mu.Unlock()
		return ErrInstanceNotFound.Msg("instance \"" + instanceID + "\" not found")
	}
	delete(m.sessions, instanceID)
	for i, id := range m.order {
		if id == instanceID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	s.destroy(ctx)
	log.Info().Str("instance_id", instanceID).Msg("instance disconnected and removed")
	return nil
}

// ConnectAll connects every managed session concurrently. Failures are
// collected per instance; one instance's failure never blocks the others.
// The returned map is empty when every connect succeeded.
func (m *Manager) ConnectAll(ctx context.Context) map[string]error {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	return fanOut(snapshot, func(s *Session) error {
		return s.Connect(ctx, ConnectOptions{})
	})
}

// DisconnectAll disconnects and removes every currently managed session
// concurrently, collecting per-instance failures. The sessions come out of
// the map atomically with the snapshot, so an instance created while the
// teardown is in flight stays managed.
func (m *Manager) DisconnectAll(ctx context.Context) map[string]error {
	m.mu.Lock()
	snapshot := m.snapshotLocked()
	for _, s := range snapshot {
		delete(m.sessions, s.instanceID)
	}
	// the snapshot covered every entry of order at this point
	m.order = nil
	m.mu.Unlock()

	return fanOut(snapshot, func(s *Session) error {
		s.destroy(ctx)
		return nil
	})
}

// snapshotLocked returns the managed sessions in creation order. Caller holds
// m.mu.
func (m *Manager) snapshotLocked() []*Session {
	snapshot := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.sessions[id])
	}
	return snapshot
}

// fanOut applies op to every session concurrently and joins, collecting
// per-instance errors rather than failing fast.
func fanOut(snapshot []*Session, op func(*Session) error) map[string]error {
	var (
		wg      sync.WaitGroup
		errMu   sync.Mutex
		results = make(map[string]error)
	)
	for _, s := range snapshot {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := op(s); err != nil {
				errMu.Lock()
				results[s.InstanceID()] = err
				errMu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return results
}

// ListInstances returns an ordered status snapshot of all managed sessions.
func (m *Manager) ListInstances() []InstanceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]InstanceStatus, 0, len(m.order))
	for _, id := range m.order {
		list = append(list, InstanceStatus{ID: id, Status: m.sessions[id].Status()})
	}
	return list
}

// Count returns the number of managed sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
