package engine

import (
	"math"
)

// roundSize rounds a raw base-unit size to the instrument's precision. A
// requested trade never silently rounds to zero: when it would, the smallest
// representable increment is used instead.
func roundSize(raw float64, sizeDecimals int) float64 {
	step := math.Pow(10, float64(sizeDecimals))
	size := math.Round(raw*step) / step
	if size <= 0 {
		size = 1 / step
	}
	return size
}

// roundDownSize truncates toward zero at the instrument's precision. Used for
// partial protective sizes, where rounding up could exceed the open position.
func roundDownSize(raw float64, sizeDecimals int) float64 {
	step := math.Pow(10, float64(sizeDecimals))
	return math.Floor(raw*step) / step
}

// roundSigFigs rounds x to n significant figures, matching exchange tick
// conventions for trigger prices.
func roundSigFigs(x float64, n int) float64 {
	if x == 0 {
		return 0
	}
	magnitude := math.Ceil(math.Log10(math.Abs(x)))
	scale := math.Pow(10, float64(n)-magnitude)
	return math.Round(x*scale) / scale
}
