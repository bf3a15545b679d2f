package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// UploadHandler serves the chunked upload state machine:
// INIT creates the incomplete metadata record and the empty physical file,
// CHUNK appends bytes strictly in order, COMPLETE verifies counts and
// flips the file to complete.
type UploadHandler struct {
	env *Env
}

// NewUploadHandler creates the upload handler.
func NewUploadHandler(env *Env) *UploadHandler {
	return &UploadHandler{env: env}
}

// CanHandle implements server.Handler.
func (h *UploadHandler) CanHandle(code int32) bool {
	switch code {
	case protocol.CodeFileUploadInitRequest,
		protocol.CodeFileUploadChunkRequest,
		protocol.CodeFileUploadCompleteRequest:
		return true
	default:
		return false
	}
}

// Handle implements server.Handler.
func (h *UploadHandler) Handle(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	if resp := checkPacketUser(req, sess); resp != nil {
		return resp
	}
	switch req.Code {
	case protocol.CodeFileUploadInitRequest:
		return h.init(ctx, req, sess)
	case protocol.CodeFileUploadChunkRequest:
		return h.chunk(ctx, req, sess)
	case protocol.CodeFileUploadCompleteRequest:
		return h.complete(ctx, req, sess)
	default:
		return errorResponse(req, "unknown command")
	}
}

func (h *UploadHandler) init(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	name := req.Meta(protocol.MetaFileName)
	if name == "" {
		return errorResponse(req, "FileName is required")
	}
	size, ok := req.MetaInt(protocol.MetaFileSize)
	if !ok || size < 0 {
		return errorResponse(req, "FileSize must be a non-negative integer")
	}
	contentType := req.Meta(protocol.MetaContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	dirID := resolveDirToken(req.Meta(protocol.MetaDirectoryID))
	if dirID != "" {
		dir, err := h.env.Meta.GetDirectory(ctx, dirID)
		if err != nil {
			return storeErrorResponse(req, err)
		}
		if dir.OwnerID != sess.UserID() {
			return storeErrorResponse(req, metadata.NewNotFoundError("directory"))
		}
	}

	fileID := uuid.NewString()
	path, err := h.env.Disk.CreateEmpty(sess.UserID(), fileID)
	if err != nil {
		return storeErrorResponse(req, metadata.NewIOError("failed to allocate file"))
	}

	now := time.Now().UTC()
	file := &metadata.FileMetadata{
		ID:           fileID,
		OwnerID:      sess.UserID(),
		Name:         name,
		ContentType:  contentType,
		Size:         size,
		DirectoryID:  dirID,
		PhysicalPath: path,
		TotalChunks:  server.ChunkCount(size, h.env.ChunkSize),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.env.Meta.AddFile(ctx, file); err != nil {
		if derr := h.env.Disk.Delete(path); derr != nil {
			logger.Warn("Failed to clean up after rejected upload",
				logger.KeyFileID, fileID,
				logger.KeyError, derr)
		}
		return storeErrorResponse(req, err)
	}

	if err := sess.StartUpload(&server.Upload{
		FileID:      fileID,
		Name:        name,
		Path:        path,
		Size:        size,
		TotalChunks: file.TotalChunks,
	}); err != nil {
		return storeErrorResponse(req, metadata.NewStateViolationError(err.Error()))
	}

	logger.Info("Upload started",
		logger.KeySessionID, sess.ID,
		logger.KeyUserID, sess.UserID(),
		logger.KeyFileID, fileID,
		logger.KeyFilename, name,
		logger.KeySize, size,
		logger.KeyChunks, file.TotalChunks)

	resp := okResponse(req)
	resp.SetMeta(protocol.MetaFileID, fileID)
	resp.SetMetaInt(protocol.MetaChunkSize, h.env.ChunkSize)
	resp.SetMetaInt(protocol.MetaTotalChunks, int64(file.TotalChunks))
	return resp
}

func (h *UploadHandler) chunk(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	fileID := req.Meta(protocol.MetaFileID)
	if fileID == "" {
		return errorResponse(req, "FileId is required")
	}
	index, ok := req.MetaInt(protocol.MetaChunkIndex)
	if !ok || index < 0 {
		return errorResponse(req, "ChunkIndex must be a non-negative integer")
	}

	up := sess.Upload(fileID)
	if up == nil {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			"no upload in progress for this file; send FILE_UPLOAD_INIT first"))
	}

	// Strict in-order delivery: a gap or repeat is a protocol violation and
	// the hint names the index the server will accept.
	if int32(index) != up.NextChunk {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			fmt.Sprintf("chunk %d out of order, expected chunk %d", index, up.NextChunk)))
	}
	if int32(index) >= up.TotalChunks {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			fmt.Sprintf("chunk %d out of range, file has %d chunks", index, up.TotalChunks)))
	}
	if up.Received+int64(len(req.Payload)) > up.Size {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			fmt.Sprintf("chunk overruns declared size %d", up.Size)))
	}

	// IsLastChunk must agree with the chunk count declared at INIT; a
	// mismatch means the client's view of the file has diverged.
	isLast := int32(index) == up.TotalChunks-1
	if req.MetaBool(protocol.MetaIsLastChunk) != isLast {
		if isLast {
			return storeErrorResponse(req, metadata.NewStateViolationError(
				fmt.Sprintf("chunk %d is the final chunk of %d but IsLastChunk is not set", index, up.TotalChunks)))
		}
		return storeErrorResponse(req, metadata.NewStateViolationError(
			fmt.Sprintf("IsLastChunk set on chunk %d of %d", index, up.TotalChunks)))
	}

	if err := h.env.Disk.WriteAt(up.Path, req.Payload, up.Received); err != nil {
		logger.Error("Chunk write failed",
			logger.KeyFileID, fileID,
			logger.KeyChunkIndex, int32(index),
			logger.KeyError, err)
		// Progress does not advance; the client may retry this chunk.
		return storeErrorResponse(req, metadata.NewIOError("failed to write chunk"))
	}

	up.NextChunk++
	up.Received += int64(len(req.Payload))

	// Persist progress so an abandoned upload is visible to the janitor
	// with a fresh UpdatedAt.
	file, err := h.env.Meta.GetFile(ctx, fileID)
	if err == nil {
		file.ChunksReceived = up.NextChunk
		if err := h.env.Meta.UpdateFile(ctx, file); err != nil {
			logger.Warn("Failed to persist upload progress",
				logger.KeyFileID, fileID,
				logger.KeyError, err)
		}
	}

	if h.env.Metrics != nil {
		h.env.Metrics.RecordBytesTransferred("upload", uint64(len(req.Payload)))
	}

	resp := okResponse(req)
	resp.SetMeta(protocol.MetaFileID, fileID)
	resp.SetMetaInt(protocol.MetaChunkIndex, index)
	return resp
}

func (h *UploadHandler) complete(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	fileID := req.Meta(protocol.MetaFileID)
	if fileID == "" {
		return errorResponse(req, "FileId is required")
	}

	up := sess.Upload(fileID)
	if up == nil {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			"no upload in progress for this file"))
	}
	if up.NextChunk != up.TotalChunks {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			fmt.Sprintf("upload incomplete: %d of %d chunks received, expected chunk %d next",
				up.NextChunk, up.TotalChunks, up.NextChunk)))
	}
	if up.Received != up.Size {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			fmt.Sprintf("received %d bytes, declared size is %d", up.Received, up.Size)))
	}

	file, err := h.env.Meta.GetFile(ctx, fileID)
	if err != nil {
		return storeErrorResponse(req, err)
	}
	file.ChunksReceived = up.TotalChunks
	file.IsComplete = true
	if err := h.env.Meta.UpdateFile(ctx, file); err != nil {
		// A name conflict surfaces here: a complete file claimed the name
		// while this upload was in flight.
		return storeErrorResponse(req, err)
	}

	sess.EndUpload(fileID)
	if h.env.Metrics != nil {
		h.env.Metrics.RecordTransferCompleted("upload")
	}
	logger.Info("Upload complete",
		logger.KeySessionID, sess.ID,
		logger.KeyFileID, fileID,
		logger.KeyFilename, up.Name,
		logger.KeySize, up.Size)

	resp := successResponse(req)
	resp.SetMeta(protocol.MetaFileID, fileID)
	return resp
}
