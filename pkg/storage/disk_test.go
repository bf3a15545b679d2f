package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDisk(t *testing.T) *Disk {
	t.Helper()
	d, err := NewDisk(t.TempDir())
	require.NoError(t, err)
	return d
}

func TestCreateEmpty(t *testing.T) {
	d := newTestDisk(t)

	path, err := d.CreateEmpty("owner-1", "file-1")
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	// Creating the same file twice fails.
	_, err = d.CreateEmpty("owner-1", "file-1")
	assert.Error(t, err)
}

func TestWriteAndReadAt(t *testing.T) {
	d := newTestDisk(t)

	path, err := d.CreateEmpty("owner-1", "file-1")
	require.NoError(t, err)

	first := []byte("hello, ")
	second := []byte("world")
	require.NoError(t, d.WriteAt(path, first, 0))
	require.NoError(t, d.WriteAt(path, second, int64(len(first))))

	size, err := d.Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(first)+len(second)), size)

	buf := make([]byte, size)
	n, err := d.ReadAt(path, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(buf[:n]))
}

func TestReadAtShortReadAtEOF(t *testing.T) {
	d := newTestDisk(t)

	path, err := d.CreateEmpty("owner-1", "file-1")
	require.NoError(t, err)
	require.NoError(t, d.WriteAt(path, []byte("abc"), 0))

	buf := make([]byte, 10)
	n, err := d.ReadAt(path, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", string(buf[:n]))

	n, err = d.ReadAt(path, buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "c", string(buf[:n]))
}

func TestWriteAtIdempotentRetry(t *testing.T) {
	d := newTestDisk(t)

	path, err := d.CreateEmpty("owner-1", "file-1")
	require.NoError(t, err)

	chunk := []byte("0123456789")
	require.NoError(t, d.WriteAt(path, chunk, 0))
	require.NoError(t, d.WriteAt(path, chunk, 0)) // retry of the same chunk

	size, err := d.Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(chunk)), size)
}

func TestDelete(t *testing.T) {
	d := newTestDisk(t)

	path, err := d.CreateEmpty("owner-1", "file-1")
	require.NoError(t, err)

	require.NoError(t, d.Delete(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Deleting again is not an error.
	require.NoError(t, d.Delete(path))
}

func TestDeleteAllContinuesOnFailure(t *testing.T) {
	d := newTestDisk(t)

	p1, err := d.CreateEmpty("owner-1", "file-1")
	require.NoError(t, err)
	p2, err := d.CreateEmpty("owner-1", "file-2")
	require.NoError(t, err)

	d.DeleteAll([]string{p1, filepath.Join(d.Root(), "owner-1", "missing"), p2})

	_, err = os.Stat(p1)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(p2)
	assert.True(t, os.IsNotExist(err))
}

func TestResolveRejectsEscape(t *testing.T) {
	d := newTestDisk(t)

	_, err := d.PathFor("..", "..")
	assert.ErrorIs(t, err, ErrOutsideRoot)

	_, err = d.CreateEmpty("../evil", "file")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}
