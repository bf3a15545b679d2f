package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried by session, command, or file.
const (
	// Session & connection
	KeySessionID = "session_id" // server-side session UUID
	KeyPacketID  = "packet_id"  // per-packet UUID
	KeyClientIP  = "client_ip"  // remote address of the connection
	KeyState     = "state"      // session state: connected, authenticated, closed

	// Command dispatch
	KeyCommand = "command" // command name, e.g. FILE_UPLOAD_CHUNK_REQUEST
	KeyCode    = "code"    // numeric command code

	// Identity
	KeyUserID   = "user_id"
	KeyUsername = "username"

	// Files & directories
	KeyFileID      = "file_id"
	KeyDirectoryID = "directory_id"
	KeyFilename    = "filename"
	KeySize        = "size"

	// Transfers
	KeyChunkIndex = "chunk_index"
	KeyChunks     = "chunks"
	KeyBytes      = "bytes"
	KeyOffset     = "offset"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
)

// Field constructors for type safety.

// SessionID returns a slog.Attr for the session identifier.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// PacketID returns a slog.Attr for the packet identifier.
func PacketID(id string) slog.Attr {
	return slog.String(KeyPacketID, id)
}

// ClientIP returns a slog.Attr for the client address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Command returns a slog.Attr for the command name.
func Command(name string) slog.Attr {
	return slog.String(KeyCommand, name)
}

// Code returns a slog.Attr for the numeric command code.
func Code(code int32) slog.Attr {
	return slog.Int(KeyCode, int(code))
}

// UserID returns a slog.Attr for the user identifier.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// Username returns a slog.Attr for the username.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// FileID returns a slog.Attr for the file identifier.
func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

// DirectoryID returns a slog.Attr for the directory identifier.
func DirectoryID(id string) slog.Attr {
	return slog.String(KeyDirectoryID, id)
}

// Filename returns a slog.Attr for a file name.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Size returns a slog.Attr for a size in bytes.
func Size(n int64) slog.Attr {
	return slog.Int64(KeySize, n)
}

// ChunkIndex returns a slog.Attr for a chunk index.
func ChunkIndex(i int32) slog.Attr {
	return slog.Int(KeyChunkIndex, int(i))
}

// Chunks returns a slog.Attr for a chunk count.
func Chunks(n int32) slog.Attr {
	return slog.Int(KeyChunks, int(n))
}

// Bytes returns a slog.Attr for a byte count.
func Bytes(n int64) slog.Attr {
	return slog.Int64(KeyBytes, n)
}

// Offset returns a slog.Attr for a file offset.
func Offset(off int64) slog.Attr {
	return slog.Int64(KeyOffset, off)
}

// DurationMs returns a slog.Attr for a duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// State returns a slog.Attr for a session state.
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}
