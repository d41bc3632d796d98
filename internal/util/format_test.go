package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		name     string
		size     int64
		expected string
	}{
		{"Zero bytes", 0, "0 B"},
		{"Max bytes", 1023, "1023 B"},
		{"Exact 1 KB", 1024, "1 KB"},
		{"Tiny remainder", 1025, "1.0 KB"},
		{"1.5 KB", 1536, "1.5 KB"},
		{"1.25 KB", 1280, "1.25 KB"},
		{"1.125 KB", 1152, "1.125 KB"},
		{"Max KB", 1048575, "1023.999 KB"},
		{"Default chunk", 65536, "64 KB"},
		{"Spec example blob", 150000, "146.484 KB"},
		{"2.25 MB", 2359296, "2.25 MB"},
		{"2.75 GB", 2952790016, "2.75 GB"},
		{"Exact 1 TB", 1099511627776, "1 TB"},
		{"Exact 1 PB", 1125899906842624, "1 PB"},
		{"Max int64", 9223372036854775807, "8191.999 PB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatSize(tt.size))
		})
	}
}

func BenchmarkFormatSize(b *testing.B) {
	for _, size := range []int64{0, 1024, 150000, 1073741824} {
		b.Run(FormatSize(size), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				FormatSize(size)
			}
		})
	}
}
