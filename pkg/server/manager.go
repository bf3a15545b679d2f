package server

import (
	"errors"
	"sync"
	"time"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/metrics"
	"github.com/quartzfs/quartz/pkg/protocol"
)

// ErrServerFull is returned when the session cap is reached.
var ErrServerFull = errors.New("server is at capacity")

// Manager tracks live sessions and enforces the concurrent-session cap.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int

	metrics metrics.ServerMetrics
}

// NewManager creates a session manager capping concurrent sessions at max.
// max <= 0 means unlimited.
func NewManager(max int, m metrics.ServerMetrics) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		max:      max,
		metrics:  m,
	}
}

// Add registers a session, failing with ErrServerFull at the cap.
func (m *Manager) Add(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.max > 0 && len(m.sessions) >= m.max {
		return ErrServerFull
	}
	m.sessions[s.ID] = s
	if m.metrics != nil {
		m.metrics.SetActiveSessions(int32(len(m.sessions)))
	}
	return nil
}

// Remove unregisters a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	if m.metrics != nil {
		m.metrics.SetActiveSessions(int32(len(m.sessions)))
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Get returns a session by ID, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// broadcastTimeout bounds the write to any one session during Broadcast.
const broadcastTimeout = 2 * time.Second

// Broadcast sends a packet to every live session, each under a write
// deadline and in its own goroutine. Send failures are logged and
// skipped; a stalled or dying session must not block the rest, and
// Broadcast returns within roughly broadcastTimeout regardless of
// session count.
func (m *Manager) Broadcast(p *protocol.Packet) {
	var wg sync.WaitGroup
	for _, s := range m.snapshot() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.SendWithTimeout(p, broadcastTimeout); err != nil {
				logger.Debug("Broadcast send failed",
					logger.KeySessionID, s.ID,
					logger.KeyError, err)
			}
		}(s)
	}
	wg.Wait()
}

// CloseIdle closes sessions with no activity since the cutoff and returns
// how many were closed. The connection loop notices the closed socket and
// finishes session teardown.
func (m *Manager) CloseIdle(cutoff time.Time) int {
	closed := 0
	for _, s := range m.snapshot() {
		if s.LastActive().Before(cutoff) {
			logger.Info("Closing idle session",
				logger.KeySessionID, s.ID,
				logger.KeyClientIP, s.RemoteAddr(),
				logger.KeyUsername, s.Username())
			s.Close()
			closed++
		}
	}
	return closed
}

// CloseAll force-closes every session during shutdown.
func (m *Manager) CloseAll() {
	for _, s := range m.snapshot() {
		s.Close()
		if m.metrics != nil {
			m.metrics.RecordConnectionForceClosed()
		}
	}
}

// snapshot copies the session list so callers can iterate without holding
// the lock across Send or Close.
func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}
