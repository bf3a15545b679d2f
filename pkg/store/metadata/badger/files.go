package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// GetFile returns the file with the given ID, regardless of owner.
func (s *Store) GetFile(ctx context.Context, id string) (*metadata.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, metadata.NewInvalidArgumentError("file id must not be empty")
	}

	var file *metadata.FileMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		f, err := getFileTxn(txn, id)
		if err != nil {
			return err
		}
		file = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// ListFilesByOwner returns every file owned by ownerID, sorted by name.
func (s *Store) ListFilesByOwner(ctx context.Context, ownerID string, includeIncomplete bool) ([]*metadata.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var files []*metadata.FileMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixFileOwnerIdx(ownerID)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			fileID := string(key[len(prefixFileOwnerIdx(ownerID)):])

			file, err := getFileTxn(txn, fileID)
			if err != nil {
				return fmt.Errorf("dangling owner index for file %s: %w", fileID, err)
			}
			if !file.IsComplete && !includeIncomplete {
				continue
			}
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// ListFilesByDirectory returns the complete files directly under the
// directory (dirID empty means the owner's root), sorted by name.
func (s *Store) ListFilesByDirectory(ctx context.Context, ownerID, dirID string) ([]*metadata.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var files []*metadata.FileMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		fs, err := listDirFilesTxn(txn, ownerID, dirID, false)
		if err != nil {
			return err
		}
		files = fs
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// listDirFilesTxn collects the files under one directory inside a
// transaction. includeIncomplete controls whether mid-upload files appear.
func listDirFilesTxn(txn *badger.Txn, ownerID, dirID string, includeIncomplete bool) ([]*metadata.FileMetadata, error) {
	prefix := prefixFileDirIdx(ownerID, dirID)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()

	var files []*metadata.FileMetadata
	for it.Rewind(); it.Valid(); it.Next() {
		fileID := string(it.Item().Key()[len(prefix):])
		file, err := getFileTxn(txn, fileID)
		if err != nil {
			return nil, fmt.Errorf("dangling directory index for file %s: %w", fileID, err)
		}
		if !file.IsComplete && !includeIncomplete {
			continue
		}
		files = append(files, file)
	}
	return files, nil
}

// fileNameTakenTxn reports whether a complete file named name already exists
// under (ownerID, dirID), excluding excludeID.
func fileNameTakenTxn(txn *badger.Txn, ownerID, dirID, name, excludeID string) (bool, error) {
	files, err := listDirFilesTxn(txn, ownerID, dirID, false)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if f.Name == name && f.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

// AddFile stores a new file record and its indexes. When the record is
// created complete (or will complete under this name), the name must not
// collide with a complete sibling file.
func (s *Store) AddFile(ctx context.Context, file *metadata.FileMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if file.ID == "" || file.OwnerID == "" {
		return metadata.NewInvalidArgumentError("file id and owner are required")
	}
	if file.Name == "" {
		return metadata.NewInvalidArgumentError("file name must not be empty")
	}
	if file.Size < 0 {
		return metadata.NewInvalidArgumentError("file size must not be negative")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(keyFile(file.ID)); err == nil {
			return metadata.NewConflictError("file id already exists")
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		taken, err := fileNameTakenTxn(txn, file.OwnerID, file.DirectoryID, file.Name, file.ID)
		if err != nil {
			return err
		}
		if taken {
			return metadata.NewConflictError(fmt.Sprintf("a file named %q already exists here", file.Name))
		}

		return putFileTxn(txn, file)
	})
}

// UpdateFile overwrites an existing file record, maintaining indexes when
// the containing directory changed and name uniqueness when the file
// becomes complete.
func (s *Store) UpdateFile(ctx context.Context, file *metadata.FileMetadata) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := getFileTxn(txn, file.ID)
		if err != nil {
			return err
		}

		if file.IsComplete && !prev.IsComplete {
			taken, err := fileNameTakenTxn(txn, file.OwnerID, file.DirectoryID, file.Name, file.ID)
			if err != nil {
				return err
			}
			if taken {
				return metadata.NewConflictError(fmt.Sprintf("a file named %q already exists here", file.Name))
			}
		}

		if prev.DirectoryID != file.DirectoryID {
			if err := txn.Delete(keyFileDirIdx(prev.OwnerID, prev.DirectoryID, prev.ID)); err != nil {
				return err
			}
		}
		return putFileTxn(txn, file)
	})
}

// putFileTxn writes the record and both indexes.
func putFileTxn(txn *badger.Txn, file *metadata.FileMetadata) error {
	b, err := encodeFile(file)
	if err != nil {
		return err
	}
	if err := txn.Set(keyFile(file.ID), b); err != nil {
		return err
	}
	if err := txn.Set(keyFileOwnerIdx(file.OwnerID, file.ID), nil); err != nil {
		return err
	}
	return txn.Set(keyFileDirIdx(file.OwnerID, file.DirectoryID, file.ID), nil)
}

// DeleteFile removes a file record and its indexes.
func (s *Store) DeleteFile(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return deleteFileTxn(txn, id)
	})
}

func deleteFileTxn(txn *badger.Txn, id string) error {
	file, err := getFileTxn(txn, id)
	if err != nil {
		return err
	}
	if err := txn.Delete(keyFile(id)); err != nil {
		return err
	}
	if err := txn.Delete(keyFileOwnerIdx(file.OwnerID, id)); err != nil {
		return err
	}
	return txn.Delete(keyFileDirIdx(file.OwnerID, file.DirectoryID, id))
}

// MoveFiles re-parents the given files into newDirID. The operation is
// all-or-nothing: every ID must belong to ownerID, the target directory
// (when set) must belong to ownerID, and no complete file name may collide
// in the target.
func (s *Store) MoveFiles(ctx context.Context, ids []string, newDirID, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return metadata.NewInvalidArgumentError("no file ids given")
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if newDirID != "" {
			dir, err := getDirTxn(txn, newDirID)
			if err != nil {
				return err
			}
			if dir.OwnerID != ownerID {
				return metadata.NewNotFoundError("directory")
			}
		}

		files := make([]*metadata.FileMetadata, 0, len(ids))
		for _, id := range ids {
			file, err := getFileTxn(txn, id)
			if err != nil {
				return err
			}
			if file.OwnerID != ownerID {
				return metadata.NewNotFoundError("file")
			}
			files = append(files, file)
		}

		now := time.Now().UTC()
		for _, file := range files {
			if file.IsComplete {
				taken, err := fileNameTakenTxn(txn, ownerID, newDirID, file.Name, file.ID)
				if err != nil {
					return err
				}
				if taken {
					return metadata.NewConflictError(fmt.Sprintf("a file named %q already exists in the target directory", file.Name))
				}
			}

			if err := txn.Delete(keyFileDirIdx(ownerID, file.DirectoryID, file.ID)); err != nil {
				return err
			}
			file.DirectoryID = newDirID
			file.UpdatedAt = now
			if err := putFileTxn(txn, file); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListStaleUploads returns incomplete files whose UpdatedAt is older than
// the cutoff. Scans the full file keyspace; partial uploads are expected to
// be rare.
func (s *Store) ListStaleUploads(ctx context.Context, olderThan time.Time) ([]*metadata.FileMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var stale []*metadata.FileMetadata
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("file/")})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				file, err := decodeFile(val)
				if err != nil {
					return err
				}
				if !file.IsComplete && file.UpdatedAt.Before(olderThan) {
					stale = append(stale, file)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stale, nil
}
