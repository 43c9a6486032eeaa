package bucket

import "testing"

func TestRowsPerBucket(t *testing.T) {
	tests := []struct {
		name       string
		totalBytes uint64
		want       int
	}{
		{"tiny host", 2 * giB, 100_000},
		{"just under 8 GiB", 8*giB - 1, 100_000},
		{"8 GiB", 8 * giB, 500_000},
		{"just under 16 GiB", 16*giB - 1, 500_000},
		{"16 GiB", 16 * giB, 1_000_000},
		{"just under 24 GiB", 24*giB - 1, 1_000_000},
		{"24 GiB", 24 * giB, 5_000_000},
		{"large host", 128 * giB, 5_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RowsPerBucket(tt.totalBytes); got != tt.want {
				t.Errorf("RowsPerBucket(%d) = %d, want %d", tt.totalBytes, got, tt.want)
			}
		})
	}
}
