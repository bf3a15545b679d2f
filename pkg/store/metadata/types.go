// Package metadata defines the file and directory metadata model and the
// store interface persisted by backends such as the BadgerDB store in the
// badger subpackage.
package metadata

import "time"

// FileMetadata describes one stored file, complete or mid-upload.
//
// Invariants maintained by the store:
//   - 0 <= ChunksReceived <= TotalChunks
//   - IsComplete implies ChunksReceived == TotalChunks
//   - incomplete files are visible only to their owner and never appear in
//     directory listings
//   - a file name is unique among complete files within one
//     (owner, directory) pair
type FileMetadata struct {
	// ID is the server-generated file identifier exposed on the wire.
	ID string `json:"id"`

	// OwnerID is the ID of the user who uploaded the file.
	OwnerID string `json:"owner_id"`

	// Name is the client-supplied file name.
	Name string `json:"name"`

	// ContentType is the declared MIME type.
	ContentType string `json:"content_type"`

	// Size is the declared total size in bytes.
	Size int64 `json:"size"`

	// DirectoryID is the containing directory, empty for the owner's root.
	DirectoryID string `json:"directory_id,omitempty"`

	// PhysicalPath is the backing file on disk. Server-internal: it is
	// never sent on the wire and cannot be derived from ID.
	PhysicalPath string `json:"physical_path"`

	// TotalChunks is the expected chunk count for the declared size.
	TotalChunks int32 `json:"total_chunks"`

	// ChunksReceived counts chunks written so far, in order.
	ChunksReceived int32 `json:"chunks_received"`

	// IsComplete is set once every chunk has been received and verified.
	IsComplete bool `json:"is_complete"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DirectoryMetadata describes one directory node in a user's tree.
//
// Invariants maintained by the store:
//   - the parent chain is acyclic and stays within one owner
//   - sibling names under one (owner, parent) are unique
//   - the implicit per-user root has ParentID == "" and no stored node
type DirectoryMetadata struct {
	// ID is the server-generated directory identifier.
	ID string `json:"id"`

	// OwnerID is the ID of the user owning the directory.
	OwnerID string `json:"owner_id"`

	// Name is the directory name, unique among siblings.
	Name string `json:"name"`

	// ParentID is the parent directory, empty for the implicit root.
	ParentID string `json:"parent_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DirectoryContents is the result of a GetContents call: the complete files
// and the subdirectories directly under one directory.
type DirectoryContents struct {
	Files       []*FileMetadata      `json:"files"`
	Directories []*DirectoryMetadata `json:"directories"`
}
