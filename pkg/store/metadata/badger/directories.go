package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// GetDirectory returns the directory with the given ID.
func (s *Store) GetDirectory(ctx context.Context, id string) (*metadata.DirectoryMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, metadata.NewInvalidArgumentError("directory id must not be empty")
	}

	var dir *metadata.DirectoryMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		d, err := getDirTxn(txn, id)
		if err != nil {
			return err
		}
		dir = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dir, nil
}

// CreateDirectory creates a directory under parentID (empty for the
// implicit root). The parent must exist and belong to the same owner, and
// the name must be unique among siblings.
func (s *Store) CreateDirectory(ctx context.Context, ownerID, name, parentID string) (*metadata.DirectoryMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, metadata.NewInvalidArgumentError("owner id must not be empty")
	}
	if name == "" {
		return nil, metadata.NewInvalidArgumentError("directory name must not be empty")
	}

	now := time.Now().UTC()
	dir := &metadata.DirectoryMetadata{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		ParentID:  parentID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if parentID != "" {
			parent, err := getDirTxn(txn, parentID)
			if err != nil {
				return err
			}
			if parent.OwnerID != ownerID {
				return metadata.NewNotFoundError("directory")
			}
		}

		nameKey := keyDirNameIdx(ownerID, parentID, name)
		if _, err := txn.Get(nameKey); err == nil {
			return metadata.NewConflictError(fmt.Sprintf("a directory named %q already exists here", name))
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		b, err := encodeDir(dir)
		if err != nil {
			return err
		}
		if err := txn.Set(keyDir(dir.ID), b); err != nil {
			return err
		}
		return txn.Set(nameKey, []byte(dir.ID))
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Directory created",
		logger.KeyDirectoryID, dir.ID,
		logger.KeyUserID, ownerID,
		logger.KeyFilename, name)
	return dir, nil
}

// RenameDirectory renames a directory owned by ownerID. The new name must
// be unique among the directory's siblings.
func (s *Store) RenameDirectory(ctx context.Context, id, ownerID, newName string) (*metadata.DirectoryMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if newName == "" {
		return nil, metadata.NewInvalidArgumentError("directory name must not be empty")
	}

	var renamed *metadata.DirectoryMetadata
	err := s.db.Update(func(txn *badger.Txn) error {
		dir, err := getDirTxn(txn, id)
		if err != nil {
			return err
		}
		if dir.OwnerID != ownerID {
			return metadata.NewNotFoundError("directory")
		}
		if dir.Name == newName {
			renamed = dir
			return nil
		}

		newKey := keyDirNameIdx(ownerID, dir.ParentID, newName)
		if _, err := txn.Get(newKey); err == nil {
			return metadata.NewConflictError(fmt.Sprintf("a directory named %q already exists here", newName))
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Delete(keyDirNameIdx(ownerID, dir.ParentID, dir.Name)); err != nil {
			return err
		}

		dir.Name = newName
		dir.UpdatedAt = time.Now().UTC()
		b, err := encodeDir(dir)
		if err != nil {
			return err
		}
		if err := txn.Set(keyDir(dir.ID), b); err != nil {
			return err
		}
		if err := txn.Set(newKey, []byte(dir.ID)); err != nil {
			return err
		}
		renamed = dir
		return nil
	})
	if err != nil {
		return nil, err
	}
	return renamed, nil
}

// listSubdirsTxn returns the direct subdirectories of (ownerID, parentID).
func listSubdirsTxn(txn *badger.Txn, ownerID, parentID string) ([]*metadata.DirectoryMetadata, error) {
	prefix := prefixDirSiblings(ownerID, parentID)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var dirs []*metadata.DirectoryMetadata
	for it.Rewind(); it.Valid(); it.Next() {
		var dirID string
		err := it.Item().Value(func(val []byte) error {
			dirID = string(val)
			return nil
		})
		if err != nil {
			return nil, err
		}
		dir, err := getDirTxn(txn, dirID)
		if err != nil {
			return nil, fmt.Errorf("dangling name index for directory %s: %w", dirID, err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// DeleteDirectory removes a directory owned by ownerID.
//
// Without recursive, the call fails with ErrNotEmpty unless the directory
// has no files and no subdirectories. Recursive deletion is post-order:
// files first, then subdirectories, then the node itself, each node in its
// own transaction so that a partial failure leaves every already-deleted
// descendant deleted. The returned files had their metadata removed; the
// caller deletes the physical bytes.
func (s *Store) DeleteDirectory(ctx context.Context, id, ownerID string, recursive bool) ([]*metadata.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var target *metadata.DirectoryMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		dir, err := getDirTxn(txn, id)
		if err != nil {
			return err
		}
		if dir.OwnerID != ownerID {
			return metadata.NewNotFoundError("directory")
		}
		target = dir
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !recursive {
		var removed []*metadata.FileMetadata
		err := s.db.Update(func(txn *badger.Txn) error {
			files, err := listDirFilesTxn(txn, ownerID, id, true)
			if err != nil {
				return err
			}
			subdirs, err := listSubdirsTxn(txn, ownerID, id)
			if err != nil {
				return err
			}
			if len(files) > 0 || len(subdirs) > 0 {
				return metadata.NewNotEmptyError()
			}
			return deleteDirNodeTxn(txn, target)
		})
		if err != nil {
			return nil, err
		}
		return removed, nil
	}

	var deleted []*metadata.FileMetadata
	if err := s.deleteRecursive(ctx, target, &deleted); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// deleteRecursive removes dir's files, then its subdirectories, then dir
// itself. Each step is its own transaction.
func (s *Store) deleteRecursive(ctx context.Context, dir *metadata.DirectoryMetadata, deleted *[]*metadata.FileMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var files []*metadata.FileMetadata
	var subdirs []*metadata.DirectoryMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		if files, err = listDirFilesTxn(txn, dir.OwnerID, dir.ID, true); err != nil {
			return err
		}
		subdirs, err = listSubdirsTxn(txn, dir.OwnerID, dir.ID)
		return err
	})
	if err != nil {
		return fmt.Errorf("listing directory %s: %w", dir.ID, err)
	}

	for _, file := range files {
		err := s.db.Update(func(txn *badger.Txn) error {
			return deleteFileTxn(txn, file.ID)
		})
		if err != nil {
			return fmt.Errorf("deleting file %s in directory %s: %w", file.ID, dir.ID, err)
		}
		*deleted = append(*deleted, file)
	}

	for _, sub := range subdirs {
		if err := s.deleteRecursive(ctx, sub, deleted); err != nil {
			return err
		}
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return deleteDirNodeTxn(txn, dir)
	})
	if err != nil {
		return fmt.Errorf("deleting directory %s: %w", dir.ID, err)
	}
	return nil
}

// deleteDirNodeTxn removes a directory record and its name-index entry.
func deleteDirNodeTxn(txn *badger.Txn, dir *metadata.DirectoryMetadata) error {
	if err := txn.Delete(keyDir(dir.ID)); err != nil {
		return err
	}
	return txn.Delete(keyDirNameIdx(dir.OwnerID, dir.ParentID, dir.Name))
}

// ListDirectories returns every directory owned by ownerID, sorted by name.
func (s *Store) ListDirectories(ctx context.Context, ownerID string) ([]*metadata.DirectoryMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dirs []*metadata.DirectoryMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("didx/" + ownerID + "/")
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var dirID string
			err := it.Item().Value(func(val []byte) error {
				dirID = string(val)
				return nil
			})
			if err != nil {
				return err
			}
			dir, err := getDirTxn(txn, dirID)
			if err != nil {
				return err
			}
			dirs = append(dirs, dir)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Name < dirs[j].Name })
	return dirs, nil
}

// GetContents returns the complete files and the subdirectories directly
// under dirID (empty for root) for ownerID.
func (s *Store) GetContents(ctx context.Context, ownerID, dirID string) (*metadata.DirectoryContents, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contents := &metadata.DirectoryContents{
		Files:       []*metadata.FileMetadata{},
		Directories: []*metadata.DirectoryMetadata{},
	}
	err := s.db.View(func(txn *badger.Txn) error {
		if dirID != "" {
			dir, err := getDirTxn(txn, dirID)
			if err != nil {
				return err
			}
			if dir.OwnerID != ownerID {
				return metadata.NewNotFoundError("directory")
			}
		}

		files, err := listDirFilesTxn(txn, ownerID, dirID, false)
		if err != nil {
			return err
		}
		subdirs, err := listSubdirsTxn(txn, ownerID, dirID)
		if err != nil {
			return err
		}
		contents.Files = files
		contents.Directories = subdirs
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(contents.Files, func(i, j int) bool { return contents.Files[i].Name < contents.Files[j].Name })
	sort.Slice(contents.Directories, func(i, j int) bool { return contents.Directories[i].Name < contents.Directories[j].Name })

	// Empty listings serialize as [] rather than null.
	if contents.Files == nil {
		contents.Files = []*metadata.FileMetadata{}
	}
	if contents.Directories == nil {
		contents.Directories = []*metadata.DirectoryMetadata{}
	}
	return contents, nil
}
