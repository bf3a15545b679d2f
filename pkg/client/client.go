// Package client is the reference transport for the Quartz packet
// protocol. It mirrors the server's codec with a send/receive lock pair,
// adds deadline handling, and layers typed helpers for every command on
// top of the raw exchange. The end-to-end test suite drives the server
// exclusively through this package.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quartzfs/quartz/pkg/protocol"
)

// DefaultTimeout bounds a SendAndReceive exchange when the context carries
// no deadline of its own.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when an exchange exceeds its deadline. The
// connection stays usable; the response to the timed-out request, if it
// ever arrives, is read by the next Receive.
var ErrTimeout = errors.New("client: request timed out")

// ServerError is a failure response decoded from the wire.
type ServerError struct {
	// Code is the wire response code, typically ERROR or UNAUTHORIZED.
	Code int32

	// Message is the server's human-readable explanation.
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error (%s)", protocol.CodeName(e.Code))
	}
	return e.Message
}

// Client is a packet-protocol connection. Send and Receive are each
// guarded by their own mutex, so one goroutine may stream requests while
// another drains responses; SendAndReceive holds both in sequence for a
// plain request/response exchange.
type Client struct {
	conn net.Conn

	sendMu sync.Mutex
	recvMu sync.Mutex

	// Timeout is the per-exchange deadline used when the caller's context
	// has none. Zero disables the default deadline.
	Timeout time.Duration

	// MaxFrameSize caps inbound frames. Zero means the protocol default.
	MaxFrameSize uint32

	mu     sync.RWMutex
	userID string
}

// Dial connects to a Quartz server.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn) *Client {
	return &Client{
		conn:    conn,
		Timeout: DefaultTimeout,
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// UserID returns the user ID from the last successful login.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) setUserID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = id
}

// deadline resolves the effective deadline for one exchange.
func (c *Client) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	if c.Timeout > 0 {
		return time.Now().Add(c.Timeout)
	}
	return time.Time{}
}

// Send writes one packet. The authenticated user ID is stamped onto the
// packet when the caller left it empty.
func (c *Client) Send(ctx context.Context, p *protocol.Packet) error {
	if p.UserID == "" {
		p.UserID = c.UserID()
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := protocol.WriteFrame(c.conn, p); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %s", ErrTimeout, protocol.CodeName(p.Code))
		}
		return err
	}
	return nil
}

// Receive reads one packet.
func (c *Client) Receive(ctx context.Context) (*protocol.Packet, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline: %w", err)
	}
	p, err := protocol.ReadFrame(c.conn, c.MaxFrameSize)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return p, nil
}

// SendAndReceive performs one request/response exchange. A failure
// response (ERROR, UNAUTHORIZED, or Status=failed) is returned as a
// *ServerError; the packet is returned alongside so callers can inspect
// its metadata.
func (c *Client) SendAndReceive(ctx context.Context, req *protocol.Packet) (*protocol.Packet, error) {
	if err := c.Send(ctx, req); err != nil {
		return nil, err
	}
	resp, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if resp.Code == protocol.CodeError || resp.Code == protocol.CodeUnauthorized || !resp.IsOK() {
		return resp, &ServerError{Code: resp.Code, Message: resp.Meta(protocol.MetaMessage)}
	}
	return resp, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
