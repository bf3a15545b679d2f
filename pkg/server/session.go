package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/protocol"
)

// State is the lifecycle state of a session.
type State int32

const (
	// StateConnected means the TCP connection is up but the client has not
	// authenticated. Only LOGIN and CREATE_ACCOUNT are allowed.
	StateConnected State = iota

	// StateAuthenticated means LOGIN succeeded and the full command set is
	// available.
	StateAuthenticated

	// StateClosed means the session is finished; no further packets are
	// read or written.
	StateClosed
)

// String returns the lowercase state name for logging.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is the per-connection state machine.
//
// One goroutine (the server's connection loop) reads packets and dispatches
// them sequentially, so commands on a session are handled in arrival order.
// Send is safe for concurrent use; broadcasts from the session manager
// interleave with responses at frame granularity, never inside a frame.
type Session struct {
	// ID is the server-side session identifier, used only in logs.
	ID string

	conn       net.Conn
	remoteAddr string
	createdAt  time.Time

	mu              sync.RWMutex
	state           State
	userID          string
	username        string
	lastActive      time.Time
	closeAfterWrite bool

	writeMu sync.Mutex

	transferMu sync.Mutex
	uploads    map[string]*Upload
	downloads  map[string]*Download

	closeOnce sync.Once
	closed    chan struct{}
}

// NewSession wraps an accepted connection in a Session in the connected
// state.
func NewSession(conn net.Conn) *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.NewString(),
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		createdAt:  now,
		state:      StateConnected,
		lastActive: now,
		uploads:    make(map[string]*Upload),
		downloads:  make(map[string]*Download),
		closed:     make(chan struct{}),
	}
}

// RemoteAddr returns the client's address.
func (s *Session) RemoteAddr() string {
	return s.remoteAddr
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsAuthenticated reports whether LOGIN has succeeded on this session.
func (s *Session) IsAuthenticated() bool {
	return s.State() == StateAuthenticated
}

// UserID returns the authenticated user's ID, empty before LOGIN.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Username returns the authenticated username, empty before LOGIN.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Authenticate transitions the session to the authenticated state.
func (s *Session) Authenticate(userID, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAuthenticated
	s.userID = userID
	s.username = username
}

// CloseAfterResponse marks the session for closure once the response in
// flight has been written. Used by LOGOUT.
func (s *Session) CloseAfterResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeAfterWrite = true
}

// ShouldClose reports whether a handler requested closure.
func (s *Session) ShouldClose() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closeAfterWrite
}

// Touch records activity for idle-timeout accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// LastActive returns the time of the last packet on this session.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActive
}

// Send marshals and writes a packet to the client. Concurrent calls are
// serialized so frames never interleave.
func (s *Session) Send(p *protocol.Packet) error {
	select {
	case <-s.closed:
		return protocol.ErrConnectionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := protocol.WriteFrame(s.conn, p); err != nil {
		return fmt.Errorf("send %s: %w", protocol.CodeName(p.Code), err)
	}
	return nil
}

// SendWithTimeout is Send with a write deadline, for notices written
// outside the request/response loop (shutdown broadcast, capacity
// refusal) where a client with a full send buffer must not block the
// caller.
func (s *Session) SendWithTimeout(p *protocol.Packet, d time.Duration) error {
	select {
	case <-s.closed:
		return protocol.ErrConnectionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(d))
	defer func() { _ = s.conn.SetWriteDeadline(time.Time{}) }()
	if err := protocol.WriteFrame(s.conn, p); err != nil {
		return fmt.Errorf("send %s: %w", protocol.CodeName(p.Code), err)
	}
	return nil
}

// Close tears the session down. Safe to call multiple times; only the
// first call closes the connection.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.closed)

		if err := s.conn.Close(); err != nil {
			logger.Debug("Error closing session connection",
				logger.KeySessionID, s.ID,
				logger.KeyError, err)
		}
	})
}

// interruptRead unblocks a pending read by expiring the connection's read
// deadline shortly. Used during shutdown so session loops notice promptly.
func (s *Session) interruptRead() {
	_ = s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
}

// Done returns a channel closed when the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// StartUpload registers an in-flight upload. Only one upload per file ID
// may be active on a session.
func (s *Session) StartUpload(u *Upload) error {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()
	if _, ok := s.uploads[u.FileID]; ok {
		return fmt.Errorf("upload already in progress for file %s", u.FileID)
	}
	s.uploads[u.FileID] = u
	return nil
}

// Upload returns the in-flight upload for a file ID, or nil.
func (s *Session) Upload(fileID string) *Upload {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()
	return s.uploads[fileID]
}

// EndUpload removes the in-flight upload for a file ID.
func (s *Session) EndUpload(fileID string) {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()
	delete(s.uploads, fileID)
}

// StartDownload registers an in-flight download. Only one download per
// file ID may be active on a session.
func (s *Session) StartDownload(d *Download) error {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()
	if _, ok := s.downloads[d.FileID]; ok {
		return fmt.Errorf("download already in progress for file %s", d.FileID)
	}
	s.downloads[d.FileID] = d
	return nil
}

// Download returns the in-flight download for a file ID, or nil.
func (s *Session) Download(fileID string) *Download {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()
	return s.downloads[fileID]
}

// EndDownload removes the in-flight download for a file ID.
func (s *Session) EndDownload(fileID string) {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()
	delete(s.downloads, fileID)
}

// ActiveUploads returns a snapshot of the in-flight uploads. Partial
// uploads survive a disconnect in metadata; this is used for logging and
// tests.
func (s *Session) ActiveUploads() []*Upload {
	s.transferMu.Lock()
	defer s.transferMu.Unlock()
	out := make([]*Upload, 0, len(s.uploads))
	for _, u := range s.uploads {
		out = append(out, u)
	}
	return out
}
