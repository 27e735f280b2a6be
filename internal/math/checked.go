package math

import (
	"errors"
	"math/bits"
)

var (
	ErrOverflow  = errors.New("u64 overflow")
	ErrUnderflow = errors.New("u64 underflow")
)

// CheckedAdd returns a + b, or ErrOverflow if the sum does not fit in 64 bits.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a - b, or ErrUnderflow if b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrUnderflow
	}
	return diff, nil
}

// Magnitude returns |v| as a uint64. Defined for math.MinInt64.
func Magnitude(v int64) uint64 {
	if v >= 0 {
		return uint64(v)
	}
	return uint64(-(v + 1)) + 1
}

// MinU64 returns the smaller of a and b.
func MinU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
