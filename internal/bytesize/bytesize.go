// Package bytesize provides a byte-count type for configuration fields
// such as chunk_size and max_frame_size, parsed from human-readable
// strings.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes parseable from strings like "1Mi", "64Ki",
// "100MB", or a plain byte count. Binary suffixes (Ki/Mi/Gi, optionally
// with a trailing B) scale by 1024; decimal suffixes (K/M/G, KB/MB/GB)
// scale by 1000.
type ByteSize uint64

const (
	B ByteSize = 1

	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
)

// suffixes is checked longest-first so "kib" wins over "k".
var suffixes = []struct {
	text string
	mult ByteSize
}{
	{"kib", KiB}, {"mib", MiB}, {"gib", GiB},
	{"ki", KiB}, {"mi", MiB}, {"gi", GiB},
	{"kb", KB}, {"mb", MB}, {"gb", GB},
	{"k", KB}, {"m", MB}, {"g", GB},
	{"b", B},
}

// ParseByteSize parses a human-readable size such as "1Mi" or "100MB".
// Fractional counts ("1.5Gi") are allowed and truncate to whole bytes.
func ParseByteSize(s string) (ByteSize, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	mult := B
	num := trimmed
	for _, suf := range suffixes {
		if strings.HasSuffix(trimmed, suf.text) {
			mult = suf.mult
			num = strings.TrimSpace(strings.TrimSuffix(trimmed, suf.text))
			break
		}
	}
	if num == "" {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}

	if strings.Contains(num, ".") {
		f, err := strconv.ParseFloat(num, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("invalid byte size: %q", s)
		}
		return ByteSize(f * float64(mult)), nil
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size: %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler so the type works in
// decoded config structs.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// String renders the size with the largest binary unit that divides it
// cleanly enough to read, e.g. "64.00KiB", "1.00MiB", "512B".
func (b ByteSize) String() string {
	switch {
	case b >= GiB:
		return fmt.Sprintf("%.2fGiB", float64(b)/float64(GiB))
	case b >= MiB:
		return fmt.Sprintf("%.2fMiB", float64(b)/float64(MiB))
	case b >= KiB:
		return fmt.Sprintf("%.2fKiB", float64(b)/float64(KiB))
	default:
		return fmt.Sprintf("%dB", b)
	}
}
