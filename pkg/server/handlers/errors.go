package handlers

import (
	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// okResponse builds a success response with the paired response code.
func okResponse(req *protocol.Packet) *protocol.Packet {
	resp := protocol.NewResponse(req, protocol.ResponseCode(req.Code))
	resp.SetMeta(protocol.MetaStatus, protocol.StatusOK)
	return resp
}

// successResponse builds a terminal SUCCESS response, used by the
// transfer COMPLETE commands.
func successResponse(req *protocol.Packet) *protocol.Packet {
	resp := protocol.NewResponse(req, protocol.CodeSuccess)
	resp.SetMeta(protocol.MetaStatus, protocol.StatusOK)
	return resp
}

// errorResponse builds an ERROR response carrying a human-readable
// message. The session stays open.
func errorResponse(req *protocol.Packet, message string) *protocol.Packet {
	resp := protocol.NewResponse(req, protocol.CodeError)
	resp.SetMeta(protocol.MetaStatus, protocol.StatusFailed)
	resp.SetMeta(protocol.MetaMessage, message)
	return resp
}

// storeErrorResponse translates a store error into an ERROR response.
// StoreError messages are written for clients; anything else is reported
// generically so internal details never reach the wire.
func storeErrorResponse(req *protocol.Packet, err error) *protocol.Packet {
	if _, ok := metadata.CodeOf(err); ok {
		return errorResponse(req, err.Error())
	}
	logger.Warn("Internal error handling command",
		logger.KeyCommand, protocol.CodeName(req.Code),
		logger.KeyPacketID, req.ID.String(),
		logger.KeyError, err)
	return errorResponse(req, "internal error")
}
