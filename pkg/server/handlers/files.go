package handlers

import (
	"context"
	"encoding/json"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// FileHandler serves FILE_LIST, FILE_DELETE and FILE_MOVE.
type FileHandler struct {
	env *Env
}

// NewFileHandler creates the file management handler.
func NewFileHandler(env *Env) *FileHandler {
	return &FileHandler{env: env}
}

// CanHandle implements server.Handler.
func (h *FileHandler) CanHandle(code int32) bool {
	switch code {
	case protocol.CodeFileListRequest, protocol.CodeFileDeleteRequest, protocol.CodeFileMoveRequest:
		return true
	default:
		return false
	}
}

// Handle implements server.Handler.
func (h *FileHandler) Handle(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	if resp := checkPacketUser(req, sess); resp != nil {
		return resp
	}
	switch req.Code {
	case protocol.CodeFileListRequest:
		return h.list(ctx, req, sess)
	case protocol.CodeFileDeleteRequest:
		return h.delete(ctx, req, sess)
	case protocol.CodeFileMoveRequest:
		return h.move(ctx, req, sess)
	default:
		return errorResponse(req, "unknown command")
	}
}

// list returns every complete file the user owns, across all directories.
// DIRECTORY_CONTENTS is the per-directory listing; this is the flat one.
func (h *FileHandler) list(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	files, err := h.env.Meta.ListFilesByOwner(ctx, sess.UserID(), false)
	if err != nil {
		return storeErrorResponse(req, err)
	}

	payload, err := json.Marshal(files)
	if err != nil {
		return storeErrorResponse(req, err)
	}

	resp := okResponse(req)
	resp.Payload = payload
	return resp
}

// loadOwnedFile fetches a file and verifies ownership. A foreign file is
// reported as not found.
func (h *FileHandler) loadOwnedFile(ctx context.Context, id, ownerID string) (*metadata.FileMetadata, error) {
	file, err := h.env.Meta.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	if file.OwnerID != ownerID {
		return nil, metadata.NewNotFoundError("file")
	}
	return file, nil
}

func (h *FileHandler) delete(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	fileID := req.Meta(protocol.MetaFileID)
	if fileID == "" {
		return errorResponse(req, "FileId is required")
	}

	file, err := h.loadOwnedFile(ctx, fileID, sess.UserID())
	if err != nil {
		return storeErrorResponse(req, err)
	}

	if err := h.env.Meta.DeleteFile(ctx, file.ID); err != nil {
		return storeErrorResponse(req, err)
	}
	if err := h.env.Disk.Delete(file.PhysicalPath); err != nil {
		// Metadata is gone, so the file is deleted from the client's view;
		// the orphaned bytes are only a cleanup concern.
		logger.Warn("Failed to delete file bytes",
			logger.KeyFileID, file.ID,
			logger.KeyError, err)
	}

	logger.Info("File deleted",
		logger.KeyFileID, file.ID,
		logger.KeyFilename, file.Name,
		logger.KeyUserID, sess.UserID())
	return okResponse(req)
}

func (h *FileHandler) move(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	var fileIDs []string
	if err := json.Unmarshal(req.Payload, &fileIDs); err != nil {
		return errorResponse(req, "malformed file ID list")
	}
	if len(fileIDs) == 0 {
		return errorResponse(req, "no files to move")
	}

	target := resolveDirToken(req.Meta(protocol.MetaDirectoryID))
	if err := h.env.Meta.MoveFiles(ctx, fileIDs, target, sess.UserID()); err != nil {
		return storeErrorResponse(req, err)
	}

	logger.Info("Files moved",
		logger.KeyUserID, sess.UserID(),
		logger.KeyDirectoryID, dirToken(target),
		"count", len(fileIDs))
	return okResponse(req)
}
