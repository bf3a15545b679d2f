package server

// Upload tracks one in-flight chunked upload on a session.
//
// Chunks are accepted strictly in order: a chunk whose index is not
// NextChunk is rejected with a state violation naming the expected index.
// The transfer lives only as long as the session; the persisted
// FileMetadata record carries the durable progress.
type Upload struct {
	// FileID is the server-assigned file identifier.
	FileID string

	// Name is the client-supplied file name, kept for logging.
	Name string

	// Path is the physical file receiving chunk bytes.
	Path string

	// Size is the declared total size in bytes.
	Size int64

	// TotalChunks is the expected chunk count.
	TotalChunks int32

	// NextChunk is the index the server expects next, starting at 0.
	NextChunk int32

	// Received is the byte count written so far.
	Received int64
}

// Download tracks one in-flight chunked download on a session.
//
// The client pulls chunks one at a time; NextChunk is advanced on each
// send so a repeated request is answered with the same chunk again only
// when explicitly asked for by index.
type Download struct {
	// FileID is the file being sent.
	FileID string

	// Name is the file name, kept for logging.
	Name string

	// Path is the physical file chunks are read from.
	Path string

	// Size is the file size in bytes.
	Size int64

	// TotalChunks is the number of chunks the transfer will take.
	TotalChunks int32

	// NextChunk is the next chunk index the server will serve.
	NextChunk int32

	// ChunkSize is the negotiated chunk payload size in bytes.
	ChunkSize int64
}

// ChunkCount returns how many chunks of the given size a file of size
// bytes needs. A zero-byte file still takes one (empty) chunk.
func ChunkCount(size, chunkSize int64) int32 {
	if size <= 0 {
		return 1
	}
	n := size / chunkSize
	if size%chunkSize != 0 {
		n++
	}
	return int32(n)
}
