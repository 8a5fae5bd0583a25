// Package safeconv provides integer narrowing helpers that either panic or
// report an error instead of silently truncating.
package safeconv

import (
	"errors"
	"fmt"
	"math"
)

// MaxInt is the maximum value for int type (platform-dependent).
const MaxInt = int(^uint(0) >> 1)

// MaxUint32 is the maximum value for uint32 type.
const MaxUint32 = uint32(math.MaxUint32)

// ErrOverflow is returned when a value does not fit the destination width.
var ErrOverflow = errors.New("safeconv: value overflows destination width")

// MustIntToUint32 converts int to uint32, panics on bounds violation.
// Use only when bounds violations are logically impossible.
func MustIntToUint32(v int) uint32 {
	if v < 0 || v > int(MaxUint32) {
		panic("safeconv: int to uint32 out of bounds")
	}

	return uint32(v)
}

// MustUint32ToInt converts uint32 to int, panics if int is narrower than 33 bits.
func MustUint32ToInt(v uint32) int {
	if uint64(v) > uint64(MaxInt) {
		panic("safeconv: uint32 to int overflow")
	}

	return int(v)
}

// IntToUint32 converts int to uint32 and reports out-of-range values.
func IntToUint32(v int) (uint32, error) {
	if v < 0 || v > int(MaxUint32) {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}

	return uint32(v), nil
}

// Uint64ToUint32 converts uint64 to uint32 and reports out-of-range values.
func Uint64ToUint32(v uint64) (uint32, error) {
	if v > uint64(MaxUint32) {
		return 0, fmt.Errorf("%w: %d does not fit uint32", ErrOverflow, v)
	}

	return uint32(v), nil
}

// MaxBits returns the largest value representable in an unsigned field of the given width.
func MaxBits(bits uint) uint64 {
	if bits >= 64 {
		return math.MaxUint64
	}

	return 1<<bits - 1
}

// Bits checks that v fits in an unsigned field of the given width and returns it as uint32.
// Widths above 32 are clamped to 32.
func Bits(v uint64, bits uint) (uint32, error) {
	if bits > 32 {
		bits = 32
	}

	if v > MaxBits(bits) {
		return 0, fmt.Errorf("%w: %d exceeds %d-bit field", ErrOverflow, v, bits)
	}

	return uint32(v), nil
}

// MulFits reports whether a*b fits in an int without overflow. Both operands must be non-negative.
func MulFits(a, b int) bool {
	if a < 0 || b < 0 {
		return false
	}

	if a == 0 || b == 0 {
		return true
	}

	return a <= MaxInt/b
}
