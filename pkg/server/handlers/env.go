// Package handlers implements the command handlers behind the packet
// server's dispatch registry: authentication, file listing and management,
// chunked uploads and downloads, and directory operations.
package handlers

import (
	"github.com/quartzfs/quartz/pkg/metrics"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/storage"
	"github.com/quartzfs/quartz/pkg/store/metadata"
	"github.com/quartzfs/quartz/pkg/store/users"
)

// Env bundles the shared dependencies handlers operate on. One Env is
// built at startup and shared by every handler; all fields are safe for
// concurrent use.
type Env struct {
	// Users is the account store backing LOGIN and CREATE_ACCOUNT.
	Users *users.Store

	// Meta is the file and directory metadata store.
	Meta metadata.Store

	// Disk is the physical chunk storage.
	Disk *storage.Disk

	// ChunkSize is the negotiated transfer chunk size in bytes.
	ChunkSize int64

	// Metrics receives transfer and login counters. May be nil.
	Metrics metrics.ServerMetrics
}

// RegisterAll wires every command handler into the registry.
func RegisterAll(reg *server.Registry, env *Env) {
	reg.Register(NewAuthHandler(env))
	reg.Register(NewFileHandler(env))
	reg.Register(NewUploadHandler(env))
	reg.Register(NewDownloadHandler(env))
	reg.Register(NewDirectoryHandler(env))
}

// checkPacketUser verifies that a packet claiming a user ID claims the
// session's user. A mismatch gets an ERROR response; the session stays
// usable.
func checkPacketUser(req *protocol.Packet, sess *server.Session) *protocol.Packet {
	if req.UserID != "" && req.UserID != sess.UserID() {
		return errorResponse(req, "packet user does not match session user")
	}
	return nil
}

// resolveDirToken maps the wire directory token to a store directory ID.
// The literal "root" and the empty string both mean the implicit root.
func resolveDirToken(token string) string {
	if token == protocol.RootDirectoryToken {
		return ""
	}
	return token
}

// dirToken maps a store directory ID back to its wire token.
func dirToken(dirID string) string {
	if dirID == "" {
		return protocol.RootDirectoryToken
	}
	return dirID
}
