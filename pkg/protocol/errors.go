package protocol

import (
	"errors"
	"fmt"
)

// Protocol-level sentinel errors. All of them mean the stream can no longer
// be trusted and the connection must be closed.
var (
	// ErrBadVersion is returned when the version byte is not Version.
	ErrBadVersion = errors.New("protocol: unsupported wire version")

	// ErrTruncated is returned when a declared length exceeds the bytes
	// remaining in the buffer, or a scalar field is cut short.
	ErrTruncated = errors.New("protocol: truncated packet")

	// ErrInvalidUTF8 is returned when a string field is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("protocol: malformed UTF-8 string field")

	// ErrNegativeLength is returned when a signed length field is negative.
	ErrNegativeLength = errors.New("protocol: negative length field")

	// ErrFrameTooLarge is returned when the length prefix exceeds the
	// configured frame cap.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

	// ErrFrameEmpty is returned when the length prefix is zero.
	ErrFrameEmpty = errors.New("protocol: zero-length frame")

	// ErrConnectionClosed is returned when the stream ends in the middle of
	// a frame.
	ErrConnectionClosed = errors.New("protocol: connection closed mid-frame")
)

// IsProtocolError reports whether err is one of the protocol sentinel
// errors, possibly wrapped. The session terminates on any of them.
func IsProtocolError(err error) bool {
	for _, sentinel := range []error{
		ErrBadVersion,
		ErrTruncated,
		ErrInvalidUTF8,
		ErrNegativeLength,
		ErrFrameTooLarge,
		ErrFrameEmpty,
		ErrConnectionClosed,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// fieldError wraps a sentinel with the name of the offending field.
func fieldError(sentinel error, field string) error {
	return fmt.Errorf("%w: %s", sentinel, field)
}
