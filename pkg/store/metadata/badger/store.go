// Package badger implements the metadata.Store interface on BadgerDB.
//
// Key layout:
//
//	file/<fileID>                      -> JSON FileMetadata
//	fidx/owner/<ownerID>/<fileID>      -> nil (owner index)
//	fidx/dir/<ownerID>/<dir>/<fileID>  -> nil (directory index, "-" = root)
//	dir/<dirID>                        -> JSON DirectoryMetadata
//	didx/<ownerID>/<parent>/<name>     -> dirID (sibling-name index, "-" = root)
//
// All mutations run inside db.Update transactions; sibling-name uniqueness
// falls out of the name-keyed directory index.
package badger

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/quartzfs/quartz/internal/logger"
	"github.com/quartzfs/quartz/pkg/store/metadata"
)

// Store is a BadgerDB-backed metadata store.
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the metadata database at path.
// Badger's own logging is routed through the process logger at debug level.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(badgerLogBridge{}).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata store at %s: %w", path, err)
	}

	logger.Debug("Metadata store opened", "path", path)
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(badgerLogBridge{}).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory metadata store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// dirToken maps the empty root directory ID to a printable key segment.
func dirToken(dirID string) string {
	if dirID == "" {
		return "-"
	}
	return dirID
}

func keyFile(id string) []byte {
	return []byte("file/" + id)
}

func keyFileOwnerIdx(ownerID, fileID string) []byte {
	return []byte("fidx/owner/" + ownerID + "/" + fileID)
}

func keyFileDirIdx(ownerID, dirID, fileID string) []byte {
	return []byte("fidx/dir/" + ownerID + "/" + dirToken(dirID) + "/" + fileID)
}

func keyDir(id string) []byte {
	return []byte("dir/" + id)
}

func keyDirNameIdx(ownerID, parentID, name string) []byte {
	return []byte("didx/" + ownerID + "/" + dirToken(parentID) + "/" + name)
}

func prefixFileDirIdx(ownerID, dirID string) []byte {
	return []byte("fidx/dir/" + ownerID + "/" + dirToken(dirID) + "/")
}

func prefixFileOwnerIdx(ownerID string) []byte {
	return []byte("fidx/owner/" + ownerID + "/")
}

func prefixDirSiblings(ownerID, parentID string) []byte {
	return []byte("didx/" + ownerID + "/" + dirToken(parentID) + "/")
}

func encodeFile(f *metadata.FileMetadata) ([]byte, error) {
	return json.Marshal(f)
}

func decodeFile(b []byte) (*metadata.FileMetadata, error) {
	var f metadata.FileMetadata
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("decode file record: %w", err)
	}
	return &f, nil
}

func encodeDir(d *metadata.DirectoryMetadata) ([]byte, error) {
	return json.Marshal(d)
}

func decodeDir(b []byte) (*metadata.DirectoryMetadata, error) {
	var d metadata.DirectoryMetadata
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, fmt.Errorf("decode directory record: %w", err)
	}
	return &d, nil
}

// getFileTxn loads a file record inside a transaction.
func getFileTxn(txn *badger.Txn, id string) (*metadata.FileMetadata, error) {
	item, err := txn.Get(keyFile(id))
	if err == badger.ErrKeyNotFound {
		return nil, metadata.NewNotFoundError("file")
	}
	if err != nil {
		return nil, err
	}

	var file *metadata.FileMetadata
	err = item.Value(func(val []byte) error {
		f, err := decodeFile(val)
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

// getDirTxn loads a directory record inside a transaction.
func getDirTxn(txn *badger.Txn, id string) (*metadata.DirectoryMetadata, error) {
	item, err := txn.Get(keyDir(id))
	if err == badger.ErrKeyNotFound {
		return nil, metadata.NewNotFoundError("directory")
	}
	if err != nil {
		return nil, err
	}

	var dir *metadata.DirectoryMetadata
	err = item.Value(func(val []byte) error {
		d, err := decodeDir(val)
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

// badgerLogBridge routes Badger's internal log lines to the process logger.
type badgerLogBridge struct{}

func (badgerLogBridge) Errorf(format string, args ...any) {
	logger.Errorf("badger: "+format, args...)
}

func (badgerLogBridge) Warningf(format string, args ...any) {
	logger.Warnf("badger: "+format, args...)
}

func (badgerLogBridge) Infof(format string, args ...any) {
	logger.Debugf("badger: "+format, args...)
}

func (badgerLogBridge) Debugf(format string, args ...any) {
	logger.Debugf("badger: "+format, args...)
}
