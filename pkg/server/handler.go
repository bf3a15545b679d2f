package server

import (
	"context"

	"github.com/quartzfs/quartz/pkg/protocol"
)

// Handler processes one family of commands.
//
// Handle returns the response packet to send, or nil when the handler has
// nothing to say (not used by any current handler, but allowed). Handlers
// never write to the session directly; the connection loop owns the
// response write so ordering is preserved.
type Handler interface {
	// CanHandle reports whether this handler owns the command code.
	CanHandle(code int32) bool

	// Handle processes the request and returns the response.
	Handle(ctx context.Context, req *protocol.Packet, sess *Session) *protocol.Packet
}

// Registry dispatches packets to the first handler claiming their code.
//
// Registration happens once during startup; dispatch is read-only, so no
// locking is needed.
type Registry struct {
	handlers []Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a handler. Handlers are consulted in registration
// order.
func (r *Registry) Register(h Handler) {
	r.handlers = append(r.handlers, h)
}

// Dispatch routes a request to its handler. Unknown command codes get an
// ERROR response; the connection stays usable.
func (r *Registry) Dispatch(ctx context.Context, req *protocol.Packet, sess *Session) *protocol.Packet {
	for _, h := range r.handlers {
		if h.CanHandle(req.Code) {
			return h.Handle(ctx, req, sess)
		}
	}

	resp := protocol.NewResponse(req, protocol.CodeError)
	resp.SetMeta(protocol.MetaMessage, "unknown command")
	resp.SetMeta(protocol.MetaStatus, protocol.StatusFailed)
	return resp
}
