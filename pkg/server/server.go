// Package server implements the TCP packet server: connection lifecycle,
// per-session command dispatch, and the background janitors for idle
// sessions and abandoned uploads.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/metrics"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/storage"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// Config holds the packet server configuration.
type Config struct {
	// Host is the address to bind. Empty binds all interfaces.
	Host string

	// Port is the TCP port to listen on. 0 picks an ephemeral port.
	Port int

	// MaxClients caps concurrent sessions. Connections past the cap get an
	// ERROR response and are closed. 0 means unlimited.
	MaxClients int

	// SessionTimeout closes sessions idle longer than this and makes their
	// partial uploads eligible for cleanup. Defaults to 30m.
	SessionTimeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight connections during
	// graceful shutdown. Defaults to 30s.
	ShutdownTimeout time.Duration

	// ReadBufferSize is the per-connection buffered reader size.
	// Defaults to 64KiB.
	ReadBufferSize int

	// MaxFrameSize caps a single wire frame. Defaults to the protocol
	// limit.
	MaxFrameSize uint32

	// LogPackets enables per-packet debug logging.
	LogPackets bool
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = 64 * 1024
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
}

// validate checks that the configuration is usable.
func (c *Config) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.MaxClients < 0 {
		return fmt.Errorf("invalid MaxClients %d: must be >= 0", c.MaxClients)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

// Server accepts connections and runs one session loop per client.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Shutdown notice broadcast to connected clients
//  3. Listener closed (no new connections)
//  4. shutdownCtx cancelled (in-flight handlers abort)
//  5. Wait for session loops to finish, up to ShutdownTimeout
//  6. Force-close remaining sessions after the timeout
type Server struct {
	config   Config
	registry *Registry
	manager  *Manager

	meta metadata.Store
	disk *storage.Disk

	metrics metrics.ServerMetrics

	listener      net.Listener
	listenerMu    sync.RWMutex
	listenerReady chan struct{}

	// activeConns tracks running session loops for graceful shutdown.
	activeConns sync.WaitGroup

	shutdownOnce   sync.Once
	shutdown       chan struct{}
	shutdownCtx    context.Context
	cancelRequests context.CancelFunc
}

// New creates a configured but not yet started Server.
//
// Panics if config validation fails; a bad static config is a programmer
// error, not a runtime condition.
func New(config Config, registry *Registry, meta metadata.Store, disk *storage.Disk, m metrics.ServerMetrics) *Server {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid server config: %v", err))
	}

	shutdownCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		config:         config,
		registry:       registry,
		manager:        NewManager(config.MaxClients, m),
		meta:           meta,
		disk:           disk,
		metrics:        m,
		listenerReady:  make(chan struct{}),
		shutdown:       make(chan struct{}),
		shutdownCtx:    shutdownCtx,
		cancelRequests: cancelRequests,
	}
}

// Manager exposes the session manager, used by tests and the CLI status
// output.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Serve starts the server and blocks until the context is cancelled or an
// unrecoverable error occurs.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()
	close(s.listenerReady)

	logger.Info("Server listening", "addr", listener.Addr().String())
	logger.Debug("Server config",
		"max_clients", s.config.MaxClients,
		"session_timeout", s.config.SessionTimeout,
		"shutdown_timeout", s.config.ShutdownTimeout)

	go func() {
		<-ctx.Done()
		logger.Info("Shutdown signal received", logger.KeyError, ctx.Err())
		s.initiateShutdown()
	}()

	go s.reapIdleSessions()
	go s.cleanStaleUploads()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				logger.Debug("Error accepting connection", logger.KeyError, err)
				continue
			}
		}

		if s.metrics != nil {
			s.metrics.RecordConnectionAccepted()
		}

		sess := NewSession(conn)
		if err := s.manager.Add(sess); err != nil {
			s.refuse(sess)
			continue
		}

		logger.Debug("Connection accepted",
			logger.KeySessionID, sess.ID,
			logger.KeyClientIP, sess.RemoteAddr(),
			"active", s.manager.Count())

		s.activeConns.Add(1)
		go func() {
			defer s.activeConns.Done()
			s.serveSession(sess)
		}()
	}
}

// refuse answers a connection past the session cap with an ERROR packet
// and closes it.
func (s *Server) refuse(sess *Session) {
	logger.Warn("Connection refused: server at capacity",
		logger.KeyClientIP, sess.RemoteAddr(),
		"max_clients", s.config.MaxClients)
	if s.metrics != nil {
		s.metrics.RecordConnectionRefused()
	}

	resp := protocol.New(protocol.CodeError)
	resp.SetMeta(protocol.MetaStatus, protocol.StatusFailed)
	resp.SetMeta(protocol.MetaMessage, "server is at capacity, try again later")
	if err := sess.SendWithTimeout(resp, broadcastTimeout); err != nil {
		logger.Debug("Failed to send capacity error", logger.KeyError, err)
	}
	sess.Close()
}

// serveSession runs the read-dispatch-respond loop for one connection.
// Packets are handled strictly in arrival order.
func (s *Server) serveSession(sess *Session) {
	defer func() {
		sess.Close()
		s.manager.Remove(sess.ID)
		if s.metrics != nil {
			s.metrics.RecordConnectionClosed()
		}
		logger.Debug("Connection closed",
			logger.KeySessionID, sess.ID,
			logger.KeyClientIP, sess.RemoteAddr(),
			"active", s.manager.Count())
	}()

	reader := bufio.NewReaderSize(sess.conn, s.config.ReadBufferSize)

	for {
		select {
		case <-sess.Done():
			return
		case <-s.shutdownCtx.Done():
			return
		default:
		}

		req, err := protocol.ReadFrame(reader, s.config.MaxFrameSize)
		if err != nil {
			s.logReadError(sess, err)
			return
		}

		sess.Touch()
		s.handlePacket(sess, req)

		if sess.ShouldClose() {
			return
		}
	}
}

// handlePacket authenticates, dispatches, and responds to one request.
func (s *Server) handlePacket(sess *Session, req *protocol.Packet) {
	command := protocol.CodeName(req.Code)
	start := time.Now()

	if s.config.LogPackets {
		logger.Debug("Packet received",
			logger.KeySessionID, sess.ID,
			logger.KeyPacketID, req.ID.String(),
			logger.KeyCommand, command,
			logger.KeyBytes, int64(len(req.Payload)))
	}

	if s.metrics != nil {
		s.metrics.RecordRequestStart(command)
		defer s.metrics.RecordRequestEnd(command)
	}

	var resp *protocol.Packet
	if !sess.IsAuthenticated() && requiresAuth(req.Code) {
		resp = protocol.NewResponse(req, protocol.CodeUnauthorized)
		resp.SetMeta(protocol.MetaStatus, protocol.StatusFailed)
		resp.SetMeta(protocol.MetaMessage, "authentication required")
	} else {
		resp = s.registry.Dispatch(s.shutdownCtx, req, sess)
	}

	if s.metrics != nil {
		errCode := ""
		if resp != nil && !resp.IsOK() {
			errCode = protocol.CodeName(resp.Code)
		}
		s.metrics.RecordRequest(command, time.Since(start), errCode)
	}

	if resp == nil {
		return
	}
	if err := sess.Send(resp); err != nil {
		logger.Debug("Failed to send response",
			logger.KeySessionID, sess.ID,
			logger.KeyCommand, command,
			logger.KeyError, err)
		sess.Close()
	}
}

// requiresAuth reports whether a command needs an authenticated session.
// LOGIN and CREATE_ACCOUNT are the only pre-auth commands.
func requiresAuth(code int32) bool {
	switch code {
	case protocol.CodeLoginRequest, protocol.CodeCreateAccountRequest:
		return false
	default:
		return true
	}
}

// logReadError distinguishes clean disconnects from failures.
func (s *Server) logReadError(sess *Session, err error) {
	select {
	case <-s.shutdownCtx.Done():
		return
	case <-sess.Done():
		return
	default:
	}

	if errors.Is(err, protocol.ErrConnectionClosed) || errors.Is(err, io.EOF) {
		logger.Debug("Client disconnected",
			logger.KeySessionID, sess.ID,
			logger.KeyClientIP, sess.RemoteAddr())
		return
	}
	logger.Warn("Read error, closing connection",
		logger.KeySessionID, sess.ID,
		logger.KeyClientIP, sess.RemoteAddr(),
		logger.KeyError, err)
}

// reapIdleSessions periodically closes sessions idle past SessionTimeout.
func (s *Server) reapIdleSessions() {
	interval := s.config.SessionTimeout / 10
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.config.SessionTimeout)
			if n := s.manager.CloseIdle(cutoff); n > 0 {
				logger.Info("Closed idle sessions", "count", n)
			}
		}
	}
}

// cleanStaleUploads deletes partial uploads that have seen no chunk for
// longer than the session timeout, both metadata and bytes.
func (s *Server) cleanStaleUploads() {
	if s.meta == nil {
		return
	}

	interval := s.config.SessionTimeout / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.config.SessionTimeout)
			stale, err := s.meta.ListStaleUploads(s.shutdownCtx, cutoff)
			if err != nil {
				logger.Warn("Failed to list stale uploads", logger.KeyError, err)
				continue
			}
			for _, f := range stale {
				if err := s.meta.DeleteFile(s.shutdownCtx, f.ID); err != nil {
					logger.Warn("Failed to delete stale upload",
						logger.KeyFileID, f.ID,
						logger.KeyError, err)
					continue
				}
				if s.disk != nil {
					if err := s.disk.Delete(f.PhysicalPath); err != nil {
						logger.Warn("Failed to delete stale upload bytes",
							logger.KeyFileID, f.ID,
							logger.KeyError, err)
					}
				}
				logger.Info("Removed abandoned upload",
					logger.KeyFileID, f.ID,
					logger.KeyFilename, f.Name,
					logger.KeyUserID, f.OwnerID)
			}
		}
	}
}

// initiateShutdown begins graceful shutdown: notify clients, stop
// accepting, cancel in-flight handlers. Safe to call multiple times.
func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		logger.Debug("Shutdown initiated")

		// Tell connected clients before tearing anything down, so a
		// client blocked on a response learns why the connection dies.
		notice := protocol.New(protocol.CodeError)
		notice.SetMeta(protocol.MetaStatus, protocol.StatusFailed)
		notice.SetMeta(protocol.MetaMessage, "server shutting down")
		s.manager.Broadcast(notice)

		close(s.shutdown)

		s.listenerMu.Lock()
		if s.listener != nil {
			if err := s.listener.Close(); err != nil {
				logger.Debug("Error closing listener", logger.KeyError, err)
			}
		}
		s.listenerMu.Unlock()

		s.cancelRequests()

		// Session loops blocked in a read would otherwise sit until the
		// client sends something; expire their deadlines so they observe
		// the shutdown.
		for _, sess := range s.manager.snapshot() {
			sess.interruptRead()
		}
	})
}

// gracefulShutdown waits for session loops to finish or force-closes them
// after ShutdownTimeout.
func (s *Server) gracefulShutdown() error {
	active := s.manager.Count()
	logger.Info("Graceful shutdown: waiting for active sessions",
		"active", active,
		"timeout", s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Graceful shutdown complete: all sessions closed")
		return nil

	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.manager.Count()
		logger.Warn("Shutdown timeout exceeded, forcing closure", "active", remaining)
		s.manager.CloseAll()
		s.activeConns.Wait()
		return fmt.Errorf("shutdown timeout: %d sessions force-closed", remaining)
	}
}

// Stop initiates graceful shutdown and waits for completion, bounded by
// ctx when non-nil. Safe to call concurrently with Serve.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	if ctx == nil {
		return s.gracefulShutdown()
	}

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Graceful shutdown complete: all sessions closed")
		return nil
	case <-ctx.Done():
		remaining := s.manager.Count()
		logger.Warn("Shutdown context cancelled", "active", remaining, logger.KeyError, ctx.Err())
		s.manager.CloseAll()
		return ctx.Err()
	}
}

// Addr returns the listener address. It blocks until the listener is
// ready, so tests can dial immediately after starting Serve in a
// goroutine.
func (s *Server) Addr() string {
	<-s.listenerReady

	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
