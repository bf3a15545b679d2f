package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quartzfs/quartz/pkg/protocol"
)

// silentCode marks requests the stub server swallows without responding,
// used to provoke client timeouts.
const silentCode int32 = 9999

// startStubServer answers every frame with a paired success response,
// except silentCode requests which get no response at all.
func startStubServer(t *testing.T) *Client {
	t.Helper()
	serverConn, clientConn := net.Pipe()

	go func() {
		for {
			req, err := protocol.ReadFrame(serverConn, 0)
			if err != nil {
				return
			}
			if req.Code == silentCode {
				continue
			}
			resp := protocol.NewResponse(req, protocol.ResponseCode(req.Code))
			resp.SetMeta(protocol.MetaStatus, protocol.StatusOK)
			resp.Payload = req.Payload
			if err := protocol.WriteFrame(serverConn, resp); err != nil {
				return
			}
		}
	}()

	c := NewClient(clientConn)
	t.Cleanup(func() {
		c.Close()
		serverConn.Close()
	})
	return c
}

func TestSendAndReceive(t *testing.T) {
	c := startStubServer(t)

	req := protocol.New(protocol.CodeFileListRequest)
	req.Payload = []byte("ping")
	resp, err := c.SendAndReceive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.Equal(t, protocol.CodeFileListResponse, resp.Code)
	assert.Equal(t, []byte("ping"), resp.Payload)
}

func TestSendStampsUserID(t *testing.T) {
	c := startStubServer(t)
	c.setUserID("user-42")

	req := protocol.New(protocol.CodeFileListRequest)
	_, err := c.SendAndReceive(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "user-42", req.UserID)
}

func TestSendAndReceiveServerError(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { serverConn.Close(); clientConn.Close() })

	go func() {
		req, err := protocol.ReadFrame(serverConn, 0)
		if err != nil {
			return
		}
		resp := protocol.NewResponse(req, protocol.CodeError)
		resp.SetMeta(protocol.MetaStatus, protocol.StatusFailed)
		resp.SetMeta(protocol.MetaMessage, "file not found")
		protocol.WriteFrame(serverConn, resp)
	}()

	c := NewClient(clientConn)
	resp, err := c.SendAndReceive(context.Background(), protocol.New(protocol.CodeFileDeleteRequest))

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.CodeError, serverErr.Code)
	assert.Equal(t, "file not found", serverErr.Message)
	// The failure packet is still available for metadata inspection.
	require.NotNil(t, resp)
	assert.Equal(t, protocol.CodeError, resp.Code)
}

func TestTimeoutLeavesConnectionUsable(t *testing.T) {
	c := startStubServer(t)
	c.Timeout = 100 * time.Millisecond

	_, err := c.SendAndReceive(context.Background(), protocol.New(silentCode))
	assert.ErrorIs(t, err, ErrTimeout)

	// The next exchange on the same connection succeeds.
	resp, err := c.SendAndReceive(context.Background(), protocol.New(protocol.CodeFileListRequest))
	require.NoError(t, err)
	assert.Equal(t, protocol.CodeFileListResponse, resp.Code)
}

func TestContextDeadlineWins(t *testing.T) {
	c := startStubServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.SendAndReceive(ctx, protocol.New(silentCode))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}
