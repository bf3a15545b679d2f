package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	p := New(CodeFileListRequest)
	p.UserID = "u1"
	p.SetMeta(MetaDirectoryID, RootDirectoryToken)
	p.Payload = bytes.Repeat([]byte{0xab}, 1024)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, p))

	got, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, p.Code, got.Code)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.Metadata, got.Metadata)
	assert.Equal(t, p.Payload, got.Payload)
}

func TestFrameConcatenation(t *testing.T) {
	// N concatenated writes must yield exactly N reads, in order.
	const n = 25
	var buf bytes.Buffer
	sent := make([]*Packet, 0, n)
	for i := 0; i < n; i++ {
		p := New(CodeFileUploadChunkRequest)
		p.SetMetaInt(MetaChunkIndex, int64(i))
		require.NoError(t, WriteFrame(&buf, p))
		sent = append(sent, p)
	}

	for i := 0; i < n; i++ {
		got, err := ReadFrame(&buf, 0)
		require.NoError(t, err)
		idx, ok := got.MetaInt(MetaChunkIndex)
		require.True(t, ok)
		assert.Equal(t, int64(i), idx)
		assert.Equal(t, sent[i].ID, got.ID)
	}

	_, err := ReadFrame(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameZeroLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 0})
	_, err := ReadFrame(buf, 0)
	assert.ErrorIs(t, err, ErrFrameEmpty)
}

func TestFrameTooLarge(t *testing.T) {
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], DefaultMaxFrameSize+1)
	_, err := ReadFrame(bytes.NewBuffer(prefix[:]), 0)
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	// A lower configured cap applies too.
	binary.LittleEndian.PutUint32(prefix[:], 2048)
	_, err = ReadFrame(bytes.NewBuffer(prefix[:]), 1024)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFrameMidFrameClose(t *testing.T) {
	p := New(CodeLoginRequest)
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, p))
	full := buf.Bytes()

	// Cut inside the prefix.
	_, err := ReadFrame(bytes.NewReader(full[:2]), 0)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// Cut inside the body.
	_, err = ReadFrame(bytes.NewReader(full[:len(full)-3]), 0)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestFrameOverPipe(t *testing.T) {
	// Frames written to one end of a pipe arrive whole on the other.
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	p := New(CodeFileDownloadInitRequest)
	p.SetMeta(MetaFileID, "f-123")

	errc := make(chan error, 1)
	go func() {
		errc <- WriteFrame(client, p)
	}()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(5*time.Second)))
	got, err := ReadFrame(server, 0)
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Equal(t, "f-123", got.Meta(MetaFileID))
}
