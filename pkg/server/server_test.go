package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzfs/quartz/pkg/protocol"
)

// stubAuthHandler authenticates any LOGIN and acknowledges FILE_LIST, enough
// to exercise the connection loop without the real stores.
type stubAuthHandler struct{}

func (stubAuthHandler) CanHandle(code int32) bool {
	return code == protocol.CodeLoginRequest || code == protocol.CodeFileListRequest
}

func (stubAuthHandler) Handle(_ context.Context, req *protocol.Packet, sess *Session) *protocol.Packet {
	switch req.Code {
	case protocol.CodeLoginRequest:
		sess.Authenticate("user-1", "alice")
		resp := protocol.NewResponse(req, protocol.CodeLoginResponse)
		resp.SetMeta(protocol.MetaStatus, protocol.StatusOK)
		return resp
	default:
		resp := protocol.NewResponse(req, protocol.CodeFileListResponse)
		resp.SetMeta(protocol.MetaStatus, protocol.StatusOK)
		return resp
	}
}

func startTestServer(t *testing.T, config Config) (*Server, context.CancelFunc) {
	t.Helper()

	registry := NewRegistry()
	registry.Register(stubAuthHandler{})

	config.Host = "127.0.0.1"
	srv := New(config, registry, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down in time")
		}
	})
	return srv, cancel
}

func dialTestServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req *protocol.Packet) *protocol.Packet {
	t.Helper()
	require.NoError(t, protocol.WriteFrame(conn, req))
	resp, err := protocol.ReadFrame(conn, 0)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID, "response must echo the request packet ID")
	return resp
}

func TestServerRejectsUnauthenticatedCommands(t *testing.T) {
	srv, _ := startTestServer(t, Config{})
	conn := dialTestServer(t, srv)

	resp := roundTrip(t, conn, protocol.New(protocol.CodeFileListRequest))
	assert.Equal(t, protocol.CodeUnauthorized, resp.Code)
	assert.Equal(t, protocol.StatusFailed, resp.Meta(protocol.MetaStatus))

	// The connection stays usable: LOGIN still goes through.
	resp = roundTrip(t, conn, protocol.New(protocol.CodeLoginRequest))
	assert.Equal(t, protocol.CodeLoginResponse, resp.Code)
	assert.True(t, resp.IsOK())
}

func TestServerDispatchAfterLogin(t *testing.T) {
	srv, _ := startTestServer(t, Config{})
	conn := dialTestServer(t, srv)

	resp := roundTrip(t, conn, protocol.New(protocol.CodeLoginRequest))
	require.Equal(t, protocol.CodeLoginResponse, resp.Code)

	resp = roundTrip(t, conn, protocol.New(protocol.CodeFileListRequest))
	assert.Equal(t, protocol.CodeFileListResponse, resp.Code)
	assert.True(t, resp.IsOK())
}

func TestServerUnknownCommand(t *testing.T) {
	srv, _ := startTestServer(t, Config{})
	conn := dialTestServer(t, srv)

	roundTrip(t, conn, protocol.New(protocol.CodeLoginRequest))

	resp := roundTrip(t, conn, protocol.New(999))
	assert.Equal(t, protocol.CodeError, resp.Code)
	assert.Equal(t, "unknown command", resp.Meta(protocol.MetaMessage))

	// Unknown commands do not kill the session.
	resp = roundTrip(t, conn, protocol.New(protocol.CodeFileListRequest))
	assert.Equal(t, protocol.CodeFileListResponse, resp.Code)
}

func TestServerRefusesConnectionsPastCap(t *testing.T) {
	srv, _ := startTestServer(t, Config{MaxClients: 1})

	first := dialTestServer(t, srv)
	roundTrip(t, first, protocol.New(protocol.CodeLoginRequest))

	second := dialTestServer(t, srv)
	refusal, err := protocol.ReadFrame(second, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeError, refusal.Code)
	assert.Contains(t, refusal.Meta(protocol.MetaMessage), "capacity")

	// The refused connection is then closed by the server.
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = protocol.ReadFrame(second, 0)
	assert.Error(t, err)

	// The accepted session is unaffected.
	resp := roundTrip(t, first, protocol.New(protocol.CodeFileListRequest))
	assert.Equal(t, protocol.CodeFileListResponse, resp.Code)
}

func TestServerMalformedFrameClosesConnection(t *testing.T) {
	srv, _ := startTestServer(t, Config{})
	conn := dialTestServer(t, srv)

	// A length prefix the server will not accept.
	_, err := conn.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = protocol.ReadFrame(conn, 0)
	assert.Error(t, err)
}

func TestServerShutdownBroadcastsNotice(t *testing.T) {
	srv, cancel := startTestServer(t, Config{ShutdownTimeout: 2 * time.Second})
	conn := dialTestServer(t, srv)

	roundTrip(t, conn, protocol.New(protocol.CodeLoginRequest))

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	notice, err := protocol.ReadFrame(conn, 0)
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeError, notice.Code)
	assert.Equal(t, "server shutting down", notice.Meta(protocol.MetaMessage))
}

func TestServerIdleSessionsAreReaped(t *testing.T) {
	srv, _ := startTestServer(t, Config{SessionTimeout: 200 * time.Millisecond})
	conn := dialTestServer(t, srv)

	roundTrip(t, conn, protocol.New(protocol.CodeLoginRequest))

	// With no traffic the session is closed by the reaper.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := protocol.ReadFrame(conn, 0)
	assert.Error(t, err)

	require.Eventually(t, func() bool {
		return srv.Manager().Count() == 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestRegistryDispatchOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register(stubAuthHandler{})

	sess, _ := newPipeSession(t)
	req := protocol.New(protocol.CodeLoginRequest)
	resp := registry.Dispatch(context.Background(), req, sess)
	require.NotNil(t, resp)
	assert.Equal(t, protocol.CodeLoginResponse, resp.Code)
	assert.True(t, sess.IsAuthenticated())
}
