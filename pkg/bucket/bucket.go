// Package bucket chooses how many rows go in each external-join bucket
// used by the way and relation linestring builders, scaling the bucket
// size to how much RAM the host actually has.
package bucket

const (
	defaultRowsPerBucket = 5_000_000

	giB = 1 << 30
)

// RowsPerBucket returns the number of rows per bucket for a host with
// totalMemoryBytes of RAM, following the same thresholds as the reference
// implementation: the default of 5,000,000 is reduced as available memory
// drops below 24, 16, and 8 GiB.
func RowsPerBucket(totalMemoryBytes uint64) int {
	switch {
	case totalMemoryBytes < 8*giB:
		return 100_000
	case totalMemoryBytes < 16*giB:
		return 500_000
	case totalMemoryBytes < 24*giB:
		return 1_000_000
	default:
		return defaultRowsPerBucket
	}
}

// AutoRowsPerBucket detects total system memory and returns the
// appropriate rows-per-bucket value, falling back to a conservative
// default when detection is unavailable on the current platform.
func AutoRowsPerBucket() int {
	total, ok := totalMemory()
	if !ok {
		return 500_000
	}
	return RowsPerBucket(total)
}
