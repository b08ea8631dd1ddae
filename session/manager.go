// Package session owns the in-flight protocol session records: creation,
// lookup with lazy expiry, and background sweeping.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/twoshard/enclave-signer/errors"
	"github.com/twoshard/enclave-signer/mpc"
)

// sessionIDBytes gives 192 bits of entropy, comfortably past the 128-bit
// collision floor for identifiers that double as capability handles.
const sessionIDBytes = 24

// Session is one in-progress multi-round protocol run. Round and State are
// replaced on every step; Protocol and ExpiresAt are fixed at creation.
type Session struct {
	ID        string
	Protocol  mpc.Protocol
	Round     int
	AccountID string
	State     *mpc.State
	CreatedAt time.Time
	ExpiresAt time.Time

	// stepMu serializes engine steps against this session. Two callers
	// racing on the same session ID would otherwise interleave on State.
	stepMu sync.Mutex
}

// Lock acquires the per-session step lock.
func (s *Session) Lock() { s.stepMu.Lock() }

// Unlock releases the per-session step lock.
func (s *Session) Unlock() { s.stepMu.Unlock() }

// Manager is the owned, lifecycle-scoped session store. Construct one per
// process (or per test) and hand it to the dispatcher; there is no global.
type Manager struct {
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager with the given fixed expiry window.
func NewManager(timeout time.Duration, logger zerolog.Logger) *Manager {
	return &Manager{
		timeout:  timeout,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create registers a new session. The expiry window is fixed at creation and
// never refreshed by activity, bounding total interaction duration.
func (m *Manager) Create(protocol mpc.Protocol, accountID string) (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "generating session id")
	}

	now := m.now()
	s := &Session{
		ID:        id,
		Protocol:  protocol,
		AccountID: accountID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.timeout),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Debug().
		Str("session_id", id).
		Str("protocol", string(protocol)).
		Time("expires_at", s.ExpiresAt).
		Msg("session created")
	return s, nil
}

// Get returns the session if it exists and has not expired. Expiry is
// enforced here on read, not only by the background sweep: an expired
// session is deleted and reported absent.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if m.now().After(s.ExpiresAt) {
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
		m.logger.Debug().Str("session_id", id).Msg("session expired on access")
		return nil, false
	}
	return s, true
}

// Update replaces the stored round and state for an existing session. A
// session deleted concurrently (terminal completion or expiry) stays
// deleted; Update never resurrects.
func (m *Manager) Update(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		m.sessions[s.ID] = s
	}
}

// Delete removes a session. Deleting an absent session is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Sweep removes every expired session and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of stored sessions, expired or not.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func newSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, "reading entropy")
	}
	return hex.EncodeToString(buf), nil
}
