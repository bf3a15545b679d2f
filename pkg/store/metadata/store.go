package metadata

import (
	"context"
	"time"
)

// Store is the persistence interface for file and directory metadata.
//
// Implementations serialize writes per key and allow concurrent reads.
// Transactional semantics are per-operation: callers must not assume
// read-modify-write atomicity across two Store calls.
type Store interface {
	FileStore
	DirectoryStore

	// Close releases the underlying database.
	Close() error
}

// FileStore persists per-file records keyed by file ID, indexed by owner
// and by containing directory.
type FileStore interface {
	// GetFile returns the file with the given ID, regardless of owner.
	// Ownership checks are the caller's responsibility so that "absent"
	// and "not yours" can be reported identically.
	GetFile(ctx context.Context, id string) (*FileMetadata, error)

	// ListFilesByOwner returns every file owned by ownerID. When
	// includeIncomplete is false, mid-upload files are filtered out.
	ListFilesByOwner(ctx context.Context, ownerID string, includeIncomplete bool) ([]*FileMetadata, error)

	// ListFilesByDirectory returns the complete files directly under the
	// directory (dirID empty means the owner's root).
	ListFilesByDirectory(ctx context.Context, ownerID, dirID string) ([]*FileMetadata, error)

	// AddFile stores a new file record. The caller supplies the ID.
	AddFile(ctx context.Context, file *FileMetadata) error

	// UpdateFile overwrites an existing file record.
	UpdateFile(ctx context.Context, file *FileMetadata) error

	// DeleteFile removes a file record.
	DeleteFile(ctx context.Context, id string) error

	// MoveFiles re-parents the given files into newDirID (empty for root).
	// Every ID must resolve to a file owned by ownerID and the target
	// directory, when set, must belong to ownerID too; otherwise nothing
	// is moved.
	MoveFiles(ctx context.Context, ids []string, newDirID, ownerID string) error

	// ListStaleUploads returns incomplete files whose UpdatedAt is older
	// than the cutoff. Used by the partial-upload janitor.
	ListStaleUploads(ctx context.Context, olderThan time.Time) ([]*FileMetadata, error)
}

// DirectoryStore persists directory nodes and enforces the per-owner tree
// invariants.
type DirectoryStore interface {
	// GetDirectory returns the directory with the given ID.
	GetDirectory(ctx context.Context, id string) (*DirectoryMetadata, error)

	// CreateDirectory creates a directory under parentID (empty for root).
	CreateDirectory(ctx context.Context, ownerID, name, parentID string) (*DirectoryMetadata, error)

	// RenameDirectory renames a directory owned by ownerID, keeping
	// sibling names unique.
	RenameDirectory(ctx context.Context, id, ownerID, newName string) (*DirectoryMetadata, error)

	// DeleteDirectory removes a directory owned by ownerID. Without
	// recursive it fails with ErrNotEmpty unless the directory has no
	// files and no subdirectories. Recursive deletion is post-order;
	// on partial failure, successfully deleted descendants stay deleted
	// and the error names the node that failed. The returned slice holds
	// the files whose metadata was removed, so the caller can delete the
	// physical bytes.
	DeleteDirectory(ctx context.Context, id, ownerID string, recursive bool) ([]*FileMetadata, error)

	// ListDirectories returns every directory owned by ownerID.
	ListDirectories(ctx context.Context, ownerID string) ([]*DirectoryMetadata, error)

	// GetContents returns the complete files and the subdirectories
	// directly under dirID (empty for root) for ownerID.
	GetContents(ctx context.Context, ownerID, dirID string) (*DirectoryContents, error)
}
