package bytesize

import "testing"

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input   string
		want    ByteSize
		wantErr bool
	}{
		{"0", 0, false},
		{"1024", 1024, false},
		{"1024B", 1024, false},

		// binary units, as the default config uses
		{"64Ki", 64 * KiB, false},
		{"64KiB", 64 * KiB, false},
		{"1Mi", MiB, false},
		{"100MiB", 100 * MiB, false},
		{"1Gi", GiB, false},

		// decimal units
		{"1K", KB, false},
		{"100MB", 100 * MB, false},
		{"1GB", GB, false},

		// case and whitespace
		{"1gi", GiB, false},
		{"1GI", GiB, false},
		{"  1Mi  ", MiB, false},
		{"1 Mi", MiB, false},

		// fractional
		{"1.5Mi", ByteSize(1.5 * float64(MiB)), false},
		{"0.5Gi", ByteSize(0.5 * float64(GiB)), false},

		{"", 0, true},
		{"   ", 0, true},
		{"Mi", 0, true},
		{"-1Mi", 0, true},
		{"-1.5Mi", 0, true},
		{"1Xi", 0, true},
		{"garbage", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseByteSize(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	if err := b.UnmarshalText([]byte("64Ki")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if b != 64*KiB {
		t.Errorf("got %d, want %d", b, 64*KiB)
	}

	if err := b.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for bogus input")
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		input ByteSize
		want  string
	}{
		{512, "512B"},
		{64 * KiB, "64.00KiB"},
		{MiB, "1.00MiB"},
		{ByteSize(1.5 * float64(GiB)), "1.50GiB"},
	}
	for _, tt := range tests {
		if got := tt.input.String(); got != tt.want {
			t.Errorf("ByteSize(%d).String() = %q, want %q", tt.input, got, tt.want)
		}
	}
}
