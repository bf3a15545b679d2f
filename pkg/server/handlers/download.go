package handlers

import (
	"context"
	"fmt"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/protocol"
	"github.com/quartzfs/quartz/pkg/server"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// DownloadHandler serves the pull-based chunked download: INIT announces
// the chunk geometry, CHUNK serves exactly one chunk per request, COMPLETE
// tears the transfer down.
type DownloadHandler struct {
	env *Env
}

// NewDownloadHandler creates the download handler.
func NewDownloadHandler(env *Env) *DownloadHandler {
	return &DownloadHandler{env: env}
}

// CanHandle implements server.Handler.
func (h *DownloadHandler) CanHandle(code int32) bool {
	switch code {
	case protocol.CodeFileDownloadInitRequest,
		protocol.CodeFileDownloadChunkRequest,
		protocol.CodeFileDownloadCompleteRequest:
		return true
	default:
		return false
	}
}

// Handle implements server.Handler.
func (h *DownloadHandler) Handle(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	if resp := checkPacketUser(req, sess); resp != nil {
		return resp
	}
	switch req.Code {
	case protocol.CodeFileDownloadInitRequest:
		return h.init(ctx, req, sess)
	case protocol.CodeFileDownloadChunkRequest:
		return h.chunk(req, sess)
	case protocol.CodeFileDownloadCompleteRequest:
		return h.complete(req, sess)
	default:
		return errorResponse(req, "unknown command")
	}
}

func (h *DownloadHandler) init(ctx context.Context, req *protocol.Packet, sess *server.Session) *protocol.Packet {
	fileID := req.Meta(protocol.MetaFileID)
	if fileID == "" {
		return errorResponse(req, "FileId is required")
	}

	file, err := h.env.Meta.GetFile(ctx, fileID)
	if err != nil {
		return storeErrorResponse(req, err)
	}
	// A foreign or still-uploading file does not exist as far as this
	// caller is concerned.
	if file.OwnerID != sess.UserID() || !file.IsComplete {
		return storeErrorResponse(req, metadata.NewNotFoundError("file"))
	}

	totalChunks := server.ChunkCount(file.Size, h.env.ChunkSize)
	if err := sess.StartDownload(&server.Download{
		FileID:      file.ID,
		Name:        file.Name,
		Path:        file.PhysicalPath,
		Size:        file.Size,
		TotalChunks: totalChunks,
		ChunkSize:   h.env.ChunkSize,
	}); err != nil {
		return storeErrorResponse(req, metadata.NewStateViolationError(err.Error()))
	}

	logger.Info("Download started",
		logger.KeySessionID, sess.ID,
		logger.KeyUserID, sess.UserID(),
		logger.KeyFileID, file.ID,
		logger.KeyFilename, file.Name,
		logger.KeySize, file.Size)

	resp := okResponse(req)
	resp.SetMeta(protocol.MetaFileID, file.ID)
	resp.SetMeta(protocol.MetaFileName, file.Name)
	resp.SetMeta(protocol.MetaContentType, file.ContentType)
	resp.SetMetaInt(protocol.MetaFileSize, file.Size)
	resp.SetMetaInt(protocol.MetaTotalChunks, int64(totalChunks))
	resp.SetMetaInt(protocol.MetaChunkSize, h.env.ChunkSize)
	return resp
}

func (h *DownloadHandler) chunk(req *protocol.Packet, sess *server.Session) *protocol.Packet {
	fileID := req.Meta(protocol.MetaFileID)
	if fileID == "" {
		return errorResponse(req, "FileId is required")
	}
	index, ok := req.MetaInt(protocol.MetaChunkIndex)
	if !ok || index < 0 {
		return errorResponse(req, "ChunkIndex must be a non-negative integer")
	}

	dl := sess.Download(fileID)
	if dl == nil {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			"no download in progress for this file; send FILE_DOWNLOAD_INIT first"))
	}
	if int32(index) >= dl.TotalChunks {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			fmt.Sprintf("chunk %d out of range, file has %d chunks", index, dl.TotalChunks)))
	}

	offset := index * dl.ChunkSize
	length := dl.ChunkSize
	if remaining := dl.Size - offset; remaining < length {
		// Only the final chunk may be short.
		length = remaining
	}

	buf := make([]byte, length)
	n, err := h.env.Disk.ReadAt(dl.Path, buf, offset)
	if err != nil {
		logger.Error("Chunk read failed",
			logger.KeyFileID, fileID,
			logger.KeyChunkIndex, int32(index),
			logger.KeyError, err)
		return storeErrorResponse(req, metadata.NewIOError("failed to read chunk"))
	}

	if h.env.Metrics != nil {
		h.env.Metrics.RecordBytesTransferred("download", uint64(n))
	}

	resp := okResponse(req)
	resp.Payload = buf[:n]
	resp.SetMeta(protocol.MetaFileID, fileID)
	resp.SetMetaInt(protocol.MetaChunkIndex, index)
	resp.SetMetaBool(protocol.MetaIsLastChunk, int32(index) == dl.TotalChunks-1)
	return resp
}

func (h *DownloadHandler) complete(req *protocol.Packet, sess *server.Session) *protocol.Packet {
	fileID := req.Meta(protocol.MetaFileID)
	if fileID == "" {
		return errorResponse(req, "FileId is required")
	}
	if sess.Download(fileID) == nil {
		return storeErrorResponse(req, metadata.NewStateViolationError(
			"no download in progress for this file"))
	}

	sess.EndDownload(fileID)
	if h.env.Metrics != nil {
		h.env.Metrics.RecordTransferCompleted("download")
	}
	logger.Info("Download complete",
		logger.KeySessionID, sess.ID,
		logger.KeyFileID, fileID)

	resp := successResponse(req)
	resp.SetMeta(protocol.MetaFileID, fileID)
	return resp
}
