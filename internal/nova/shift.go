package nova

import "math/bits"

const (
	// MinShiftPage is log2 of the smallest hardware page size.
	MinShiftPage = 12
	// MaxShift bounds the alignment search of MinShift.
	MaxShift = 31
)

// MinShift returns the largest shift s such that a naturally aligned block
// of 2^s bytes starts at start and does not exceed size. The result never
// exceeds MaxShift. A zero size yields 0.
func MinShift(start, size uint64) uint {
	return minShiftBounded(start, size, MaxShift)
}

func minShiftBounded(start, size uint64, limit uint) uint {
	shift := uint(bits.TrailingZeros64(start | 1<<limit))
	if shift < limit {
		limit = shift
	}
	shift = uint(bits.Len64(size|1) - 1)
	if shift < limit {
		return shift
	}
	return limit
}
