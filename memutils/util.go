package memutils

import (
	"math/bits"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

func CheckPow2[T constraints.Integer](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

// CheckExponent verifies that exponent lies within [min, max]
func CheckExponent[T constraints.Integer](exponent, min, max T, name string) error {
	if exponent < min || exponent > max {
		return cerrors.Wrapf(ExponentRangeError, "%s is %d, must be between %d and %d", name, exponent, min, max)
	}
	return nil
}

func AlignDown(value int, alignment uint) int {
	return value & int(^(alignment - 1))
}

// CeilLog2 returns the smallest exponent e such that 1<<e >= value. Values of 1 or less
// return 0.
func CeilLog2[T constraints.Unsigned](value T) int {
	if value <= 1 {
		return 0
	}
	return bits.Len64(uint64(value - 1))
}

// SizeClass returns the exponent of the smallest power-of-two multiple of 1<<minExponent
// that can hold extent. Extents of 0 or less occupy a single minimum unit.
func SizeClass(extent int, minExponent int) int {
	if extent <= 1 {
		return 0
	}
	units := (extent + (1 << minExponent) - 1) >> minExponent
	return CeilLog2(uint(units))
}
