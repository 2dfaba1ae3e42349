package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// AlignUp rounds value up to the next multiple of alignment. Alignment must
// be a power of two; zero leaves the value untouched.
func AlignUp[T constraints.Unsigned](value, alignment T) T {
	if alignment == 0 {
		return value
	}
	mask := alignment - 1
	return (value + mask) &^ mask
}

func AlignDown[T constraints.Unsigned](value, alignment T) T {
	if alignment == 0 {
		return value
	}
	return value &^ (alignment - 1)
}

func IsAligned[T constraints.Unsigned](value, alignment T) bool {
	return alignment == 0 || value&(alignment-1) == 0
}

func IsPowerOfTwo[T constraints.Unsigned](value T) bool {
	return value != 0 && value&(value-1) == 0
}
