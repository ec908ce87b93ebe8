// Package buf holds overflow-safe arithmetic and range validation for byte
// offsets shared by devices and the edit overlay.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int64.
func AddOverflowSafe(a, b int64) (int64, bool) {
	switch {
	case b > 0 && a > math.MaxInt64-b:
		return 0, false
	case b < 0 && a < math.MinInt64-b:
		return 0, false
	default:
		return a + b, true
	}
}

// CheckRange validates that [offset, offset+length) lies within [0, size].
// Returns the end offset if valid, or an error describing the specific
// failure (negative input, overflow or out of bounds).
//
//	end, err := buf.CheckRange(doc.Len(), pos, n)
//	if err != nil {
//	    return fmt.Errorf("remove: %w", err)
//	}
func CheckRange(size, offset, length int64) (int64, error) {
	if offset < 0 {
		return 0, fmt.Errorf("negative offset: %d", offset)
	}
	if length < 0 {
		return 0, fmt.Errorf("negative length: %d", length)
	}
	end, ok := AddOverflowSafe(offset, length)
	if !ok {
		return 0, fmt.Errorf("overflow: offset=%d + length=%d", offset, length)
	}
	if end > size {
		return 0, fmt.Errorf("bounds: end=%d > size=%d", end, size)
	}
	return end, nil
}

// Clamp returns the part of [offset, offset+length) that lies within [0, size).
// ok is false when offset is negative or beyond size.
func Clamp(size, offset, length int64) (n int64, ok bool) {
	if offset < 0 || length < 0 || offset > size {
		return 0, false
	}
	if length > size-offset {
		length = size - offset
	}
	return length, true
}

// Intersect returns the overlap of [aOff, aOff+aLen) and [bOff, bOff+bLen).
// ok is false when the ranges do not overlap.
func Intersect(aOff, aLen, bOff, bLen int64) (off, n int64, ok bool) {
	start := max(aOff, bOff)
	end := min(aOff+aLen, bOff+bLen)
	if end <= start {
		return 0, 0, false
	}
	return start, end - start, true
}

// Range is a half-open byte range [Off, Off+Len).
type Range struct {
	Off int64
	Len int64
}

// End returns the exclusive end of r.
func (r Range) End() int64 { return r.Off + r.Len }
