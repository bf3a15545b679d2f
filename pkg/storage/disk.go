// Package storage writes file content to the local filesystem.
//
// Layout under the configured root:
//
//	<root>/<ownerID>/<fileID>
//
// Path components are server-generated UUIDs, never client-supplied names,
// so traversal through crafted names is structurally impossible. The
// metadata store is the single source of truth for which physical paths
// exist; this package only moves bytes.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/quartzfs/quartz/internal/logger"
)

// ErrOutsideRoot is returned when a resolved path escapes the storage root.
var ErrOutsideRoot = errors.New("path escapes storage root")

// Disk stores file content under a single root directory.
type Disk struct {
	root string
}

// NewDisk creates the storage root if needed and returns a Disk rooted
// there.
func NewDisk(root string) (*Disk, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	logger.Debug("Disk storage initialized", "root", abs)
	return &Disk{root: abs}, nil
}

// Root returns the absolute storage root.
func (d *Disk) Root() string {
	return d.root
}

// resolve joins parts under the root and rejects any escape.
func (d *Disk) resolve(parts ...string) (string, error) {
	p := filepath.Join(append([]string{d.root}, parts...)...)
	if p != d.root && !strings.HasPrefix(p, d.root+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	return p, nil
}

// PathFor returns the physical path for a file owned by ownerID.
func (d *Disk) PathFor(ownerID, fileID string) (string, error) {
	return d.resolve(ownerID, fileID)
}

// CreateEmpty creates a zero-length file for an upload, making the owner
// directory as needed. Fails if the file already exists.
func (d *Disk) CreateEmpty(ownerID, fileID string) (string, error) {
	path, err := d.resolve(ownerID, fileID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create owner directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close file: %w", err)
	}
	return path, nil
}

// WriteAt writes data into the file at the given byte offset. Chunks arrive
// strictly in order, so offset always equals the current file size; O_RDWR
// with WriteAt still keeps retried writes idempotent.
func (d *Disk) WriteAt(path string, data []byte, offset int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o640)
	if err != nil {
		return fmt.Errorf("open file for writing: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("write %d bytes at offset %d: %w", len(data), offset, err)
	}
	return f.Sync()
}

// ReadAt reads up to len(buf) bytes from the file at the given offset. A
// short read at end of file is not an error; n tells the caller how much of
// buf is valid.
func (d *Disk) ReadAt(path string, buf []byte, offset int64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file for reading: %w", err)
	}
	defer f.Close()

	n, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("read at offset %d: %w", offset, err)
	}
	return n, nil
}

// Size returns the current size of the file in bytes.
func (d *Disk) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

// Delete removes the physical file. Deleting a file that is already gone is
// not an error: metadata deletion must stay effective even when the bytes
// disappeared first.
func (d *Disk) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

// DeleteAll removes the physical files for the given paths, logging and
// continuing on individual failures. Used after recursive directory
// deletes, where metadata is already gone and stopping would strand the
// rest.
func (d *Disk) DeleteAll(paths []string) {
	for _, p := range paths {
		if err := d.Delete(p); err != nil {
			logger.Warn("Failed to delete physical file", "path", p, logger.KeyError, err)
		}
	}
}
