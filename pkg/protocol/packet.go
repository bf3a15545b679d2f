// Package protocol implements the Quartz wire protocol: the packet model,
// the bit-exact binary codec and the length-prefixed framing layer used on
// every client connection.
//
// A packet is the unit of exchange. On the wire it is framed by a uint32
// length prefix and encoded little-endian with no alignment padding:
//
//	version        uint8  = 1
//	commandCode    int32
//	packetId       16 bytes (UUID)
//	userIdLen      int32 ; userId UTF-8
//	timestampTicks int64  (100-ns ticks since 0001-01-01 UTC)
//	metadataCount  int32 ; repeated length-prefixed UTF-8 key/value pairs
//	payloadLen     int32 ; payload bytes
package protocol

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Version is the only wire format version this implementation speaks.
const Version uint8 = 1

// DefaultMaxFrameSize is the hard cap on a framed packet body: 100 MiB.
// The server can configure a lower cap; it never raises this one.
const DefaultMaxFrameSize uint32 = 100 << 20

// Well-known metadata keys. Values are always strings on the wire; numeric
// values use their decimal representation and booleans use "true"/"false".
const (
	MetaFileID        = "FileId"
	MetaChunkIndex    = "ChunkIndex"
	MetaIsLastChunk   = "IsLastChunk"
	MetaChunkSize     = "ChunkSize"
	MetaTotalChunks   = "TotalChunks"
	MetaFileName      = "FileName"
	MetaFileSize      = "FileSize"
	MetaContentType   = "ContentType"
	MetaDirectoryID   = "DirectoryId"
	MetaDirectoryName = "DirectoryName"
	MetaParentID      = "ParentId"
	MetaNewName       = "NewName"
	MetaRecursive     = "Recursive"
	MetaUserID        = "UserId"
	MetaUsername      = "Username"
	MetaMessage       = "Message"
	MetaStatus        = "Status"
)

// RootDirectoryToken is the literal wire token meaning "the user's implicit
// root directory" in a DirectoryId or ParentId metadata field.
const RootDirectoryToken = "root"

// StatusOK and StatusFailed are the values carried in the Status metadata
// field of response packets.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Packet is the in-memory message carrying a command code, routing metadata
// and an opaque payload.
type Packet struct {
	Code      int32
	ID        uuid.UUID
	UserID    string
	Timestamp time.Time
	Metadata  map[string]string
	Payload   []byte
}

// New creates a request packet with a fresh packet ID and the current time.
func New(code int32) *Packet {
	return &Packet{
		Code:      code,
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
}

// NewResponse creates a response packet paired to a request. The response
// reuses the request's packet ID so the client can correlate it.
func NewResponse(req *Packet, code int32) *Packet {
	return &Packet{
		Code:      code,
		ID:        req.ID,
		Timestamp: time.Now().UTC(),
		Metadata:  make(map[string]string),
	}
}

// Meta returns the metadata value for key, or "" if absent.
func (p *Packet) Meta(key string) string {
	if p.Metadata == nil {
		return ""
	}
	return p.Metadata[key]
}

// SetMeta sets a metadata entry, allocating the map if needed.
func (p *Packet) SetMeta(key, value string) *Packet {
	if p.Metadata == nil {
		p.Metadata = make(map[string]string)
	}
	p.Metadata[key] = value
	return p
}

// MetaInt parses the metadata value for key as a decimal integer.
func (p *Packet) MetaInt(key string) (int64, bool) {
	v := p.Meta(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MetaBool parses the metadata value for key as "true"/"false".
func (p *Packet) MetaBool(key string) bool {
	return p.Meta(key) == "true"
}

// SetMetaInt sets a metadata entry to the decimal representation of n.
func (p *Packet) SetMetaInt(key string, n int64) *Packet {
	return p.SetMeta(key, strconv.FormatInt(n, 10))
}

// SetMetaBool sets a metadata entry to "true" or "false".
func (p *Packet) SetMetaBool(key string, v bool) *Packet {
	return p.SetMeta(key, strconv.FormatBool(v))
}

// IsOK reports whether a response packet carries Status=ok.
func (p *Packet) IsOK() bool {
	return p.Meta(MetaStatus) == StatusOK
}
