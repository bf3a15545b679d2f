package metrics

import (
	"time"
)

// ServerMetrics provides observability for the packet server.
//
// This interface is optional: pass nil to disable metrics collection with
// zero overhead.
type ServerMetrics interface {
	// RecordRequest records a completed command with its name, duration,
	// and outcome. errorCode is the wire error category for failures,
	// empty on success.
	RecordRequest(command string, duration time.Duration, errorCode string)

	// RecordRequestStart increments the in-flight request counter.
	RecordRequestStart(command string)

	// RecordRequestEnd decrements the in-flight request counter.
	RecordRequestEnd(command string)

	// RecordBytesTransferred records payload bytes moved during chunked
	// transfers. direction is "upload" or "download".
	RecordBytesTransferred(direction string, bytes uint64)

	// RecordTransferCompleted counts a finished transfer. direction is
	// "upload" or "download".
	RecordTransferCompleted(direction string)

	// SetActiveSessions updates the current session count.
	SetActiveSessions(count int32)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionRefused counts a connection turned away at the
	// session cap.
	RecordConnectionRefused()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections forcibly closed after
	// the shutdown timeout.
	RecordConnectionForceClosed()

	// RecordLogin counts an authentication attempt. status is "success" or
	// "failed".
	RecordLogin(status string)
}
