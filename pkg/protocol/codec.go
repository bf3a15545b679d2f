package protocol

import (
	"encoding/binary"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// ticksPerSecond is the number of 100-ns intervals in one second.
	ticksPerSecond = 10_000_000

	// unixEpochTicks is the tick count at 1970-01-01 00:00:00 UTC,
	// measured from the tick zero of 0001-01-01 00:00:00 UTC.
	unixEpochTicks = 621_355_968_000_000_000
)

// timeToTicks converts a time.Time to 100-ns ticks since 0001-01-01 UTC.
// The conversion avoids time.Duration arithmetic because the span since
// year 1 overflows int64 nanoseconds.
func timeToTicks(t time.Time) int64 {
	t = t.UTC()
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond())/100 + unixEpochTicks
}

// ticksToTime converts 100-ns ticks since 0001-01-01 UTC to a time.Time.
func ticksToTime(ticks int64) time.Time {
	rel := ticks - unixEpochTicks
	sec := rel / ticksPerSecond
	rem := rel % ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}

// Marshal encodes a packet body (without the frame length prefix).
// It always succeeds for a well-formed packet; an unset user ID is encoded
// as a zero-length string. Metadata pairs are written in sorted key order so
// the encoding is deterministic, though readers must not rely on order.
func Marshal(p *Packet) []byte {
	size := 1 + 4 + 16 + // version, code, packet id
		4 + len(p.UserID) +
		8 + // timestamp
		4 + // metadata count
		4 + len(p.Payload)

	keys := make([]string, 0, len(p.Metadata))
	for k := range p.Metadata {
		keys = append(keys, k)
		size += 8 + len(k) + len(p.Metadata[k])
	}
	sort.Strings(keys)

	buf := make([]byte, 0, size)
	buf = append(buf, Version)
	buf = appendInt32(buf, p.Code)
	buf = append(buf, p.ID[:]...)
	buf = appendString(buf, p.UserID)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(timeToTicks(p.Timestamp)))
	buf = appendInt32(buf, int32(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendString(buf, p.Metadata[k])
	}
	buf = appendInt32(buf, int32(len(p.Payload)))
	buf = append(buf, p.Payload...)
	return buf
}

// Unmarshal decodes a packet body produced by Marshal. It fails with a
// protocol sentinel error when the version byte is wrong, a length field
// overruns the buffer, or a string field is not valid UTF-8.
func Unmarshal(b []byte) (*Packet, error) {
	d := decoder{buf: b}

	version, err := d.u8()
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, ErrBadVersion
	}

	p := &Packet{}
	if p.Code, err = d.i32(); err != nil {
		return nil, err
	}

	idBytes, err := d.take(16)
	if err != nil {
		return nil, fieldError(ErrTruncated, "packet id")
	}
	p.ID = uuid.UUID(idBytes)

	if p.UserID, err = d.str("user id"); err != nil {
		return nil, err
	}

	ticks, err := d.i64()
	if err != nil {
		return nil, fieldError(ErrTruncated, "timestamp")
	}
	p.Timestamp = ticksToTime(ticks)

	count, err := d.i32()
	if err != nil {
		return nil, fieldError(ErrTruncated, "metadata count")
	}
	if count < 0 {
		return nil, fieldError(ErrNegativeLength, "metadata count")
	}
	// Each pair needs at least two length prefixes; reject counts that
	// cannot possibly fit in the remaining bytes before allocating.
	if int(count) > d.remaining()/8 {
		return nil, fieldError(ErrTruncated, "metadata")
	}
	p.Metadata = make(map[string]string, count)
	for i := int32(0); i < count; i++ {
		key, err := d.str("metadata key")
		if err != nil {
			return nil, err
		}
		value, err := d.str("metadata value")
		if err != nil {
			return nil, err
		}
		p.Metadata[key] = value
	}

	payloadLen, err := d.i32()
	if err != nil {
		return nil, fieldError(ErrTruncated, "payload length")
	}
	if payloadLen < 0 {
		return nil, fieldError(ErrNegativeLength, "payload length")
	}
	if payloadLen > 0 {
		payload, err := d.take(int(payloadLen))
		if err != nil {
			return nil, fieldError(ErrTruncated, "payload")
		}
		p.Payload = append([]byte(nil), payload...)
	}

	return p, nil
}

func appendInt32(buf []byte, v int32) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(v))
}

func appendString(buf []byte, s string) []byte {
	buf = appendInt32(buf, int32(len(s)))
	return append(buf, s...)
}

// decoder is a cursor over an immutable packet body.
type decoder struct {
	buf []byte
	off int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *decoder) u8() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) i32() (int32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (d *decoder) i64() (int64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// str reads a length-prefixed UTF-8 string.
func (d *decoder) str(field string) (string, error) {
	n, err := d.i32()
	if err != nil {
		return "", fieldError(ErrTruncated, field)
	}
	if n < 0 {
		return "", fieldError(ErrNegativeLength, field)
	}
	b, err := d.take(int(n))
	if err != nil {
		return "", fieldError(ErrTruncated, field)
	}
	if !utf8.Valid(b) {
		return "", fieldError(ErrInvalidUTF8, field)
	}
	return string(b), nil
}
