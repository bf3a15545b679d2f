package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ReadFrame reads one length-prefixed packet from the stream.
//
// It reads exactly 4 bytes of length prefix, rejects lengths of zero or
// above max (pass 0 for the default 100 MiB cap), then reads the full body
// with short-read looping. A clean close before the first prefix byte
// returns io.EOF; a close anywhere after that returns ErrConnectionClosed.
func ReadFrame(r io.Reader, max uint32) (*Packet, error) {
	if max == 0 || max > DefaultMaxFrameSize {
		max = DefaultMaxFrameSize
	}

	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("read frame prefix: %w", err)
	}

	length := binary.LittleEndian.Uint32(prefix[:])
	if length == 0 {
		return nil, ErrFrameEmpty
	}
	if length > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, max)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("read frame body: %w", err)
	}

	return Unmarshal(body)
}

// WriteFrame writes one length-prefixed packet to the stream.
//
// The prefix and body are written with a single Write call so that a frame
// is never interleaved with another writer holding the same lock; callers
// serialize concurrent writers with a per-connection send lock.
func WriteFrame(w io.Writer, p *Packet) error {
	body := Marshal(p)
	frame := make([]byte, 0, 4+len(body))
	frame = binary.LittleEndian.AppendUint32(frame, uint32(len(body)))
	frame = append(frame, body...)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
