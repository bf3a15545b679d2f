package handlers

import (
	"context"
	"encoding/json"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/server"
)

// DirectoryHandler serves DIRECTORY_CREATE, LIST, RENAME, DELETE and
// CONTENTS.
type DirectoryHandler struct {
	env *Env
}

// NewDirectoryHandler creates the directory handler.
func NewDirectoryHandler(env *Env) *DirectoryHandler {
	return &DirectoryHandler{env: env}
}

// CanHandle implements server.Handler.
func (h *DirectoryHandler) CanHandle(code int32) bool {
	switch code {
	case protocol.CodeDirectoryCreateRequest,
		protocol.CodeDirectoryListRequest,
		protocol.CodeDirectoryRenameRequest,
		protocol.CodeDirectoryDeleteRequest,
		protocol.CodeDirectoryContentsRequest:
		return true
	default:
		return false
	}
}

// Handle implements server.Handler.
func (h *DirectoryHandler) Handle(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	if resp := checkPacketUser(req, sess); resp != nil {
		return resp
	}
	switch req.Code {
	case protocol.CodeDirectoryCreateRequest:
		return h.create(ctx, req, sess)
	case protocol.CodeDirectoryListRequest:
		return h.list(ctx, req, sess)
	case protocol.CodeDirectoryRenameRequest:
		return h.rename(ctx, req, sess)
	case protocol.CodeDirectoryDeleteRequest:
		return h.delete(ctx, req, sess)
	case protocol.CodeDirectoryContentsRequest:
		return h.contents(ctx, req, sess)
	default:
		return errorResponse(req, "unknown command")
	}
}

func (h *DirectoryHandler) create(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	name := req.Meta(protocol.MetaDirectoryName)
	if name == "" {
		return errorResponse(req, "DirectoryName is required")
	}
	parentID := resolveDirToken(req.Meta(protocol.MetaParentID))

	dir, err := h.env.Meta.CreateDirectory(ctx, sess.UserID(), name, parentID)
	if err != nil {
		return storeErrorResponse(req, err)
	}

	logger.Info("Directory created",
		logger.KeyUserID, sess.UserID(),
		logger.KeyDirectoryID, dir.ID,
		logger.KeyFilename, dir.Name)

	resp := okResponse(req)
	resp.SetMeta(protocol.MetaDirectoryID, dir.ID)
	resp.SetMeta(protocol.MetaDirectoryName, dir.Name)
	resp.SetMeta(protocol.MetaParentID, dirToken(dir.ParentID))
	return resp
}

func (h *DirectoryHandler) list(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	dirs, err := h.env.Meta.ListDirectories(ctx, sess.UserID())
	if err != nil {
		return storeErrorResponse(req, err)
	}

	payload, err := json.Marshal(dirs)
	if err != nil {
		return storeErrorResponse(req, err)
	}

	resp := okResponse(req)
	resp.Payload = payload
	return resp
}

func (h *DirectoryHandler) rename(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	dirID := req.Meta(protocol.MetaDirectoryID)
	if dirID == "" || dirID == protocol.RootDirectoryToken {
		return errorResponse(req, "DirectoryId must name a non-root directory")
	}
	newName := req.Meta(protocol.MetaNewName)
	if newName == "" {
		return errorResponse(req, "NewName is required")
	}

	dir, err := h.env.Meta.RenameDirectory(ctx, dirID, sess.UserID(), newName)
	if err != nil {
		return storeErrorResponse(req, err)
	}

	logger.Info("Directory renamed",
		logger.KeyUserID, sess.UserID(),
		logger.KeyDirectoryID, dir.ID,
		logger.KeyFilename, dir.Name)

	resp := okResponse(req)
	resp.SetMeta(protocol.MetaDirectoryID, dir.ID)
	resp.SetMeta(protocol.MetaDirectoryName, dir.Name)
	return resp
}

func (h *DirectoryHandler) delete(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	dirID := req.Meta(protocol.MetaDirectoryID)
	if dirID == "" || dirID == protocol.RootDirectoryToken {
		return errorResponse(req, "DirectoryId must name a non-root directory")
	}
	recursive := req.MetaBool(protocol.MetaRecursive)

	deleted, err := h.env.Meta.DeleteDirectory(ctx, dirID, sess.UserID(), recursive)
	// Descendant files already removed from metadata lose their bytes even
	// when a later node failed; their records are gone either way.
	for _, f := range deleted {
		if derr := h.env.Disk.Delete(f.PhysicalPath); derr != nil {
			logger.Warn("Failed to delete file bytes",
				logger.KeyFileID, f.ID,
				logger.KeyError, derr)
		}
	}
	if err != nil {
		return storeErrorResponse(req, err)
	}

	logger.Info("Directory deleted",
		logger.KeyUserID, sess.UserID(),
		logger.KeyDirectoryID, dirID,
		"recursive", recursive,
		"files_removed", len(deleted))

	resp := okResponse(req)
	resp.SetMeta(protocol.MetaDirectoryID, dirID)
	return resp
}

func (h *DirectoryHandler) contents(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	dirID := resolveDirToken(req.Meta(protocol.MetaDirectoryID))

	contents, err := h.env.Meta.GetContents(ctx, sess.UserID(), dirID)
	if err != nil {
		return storeErrorResponse(req, err)
	}

	payload, err := json.Marshal(contents)
	if err != nil {
		return storeErrorResponse(req, err)
	}

	resp := okResponse(req)
	resp.Payload = payload
	resp.SetMeta(protocol.MetaDirectoryID, dirToken(dirID))
	return resp
}
