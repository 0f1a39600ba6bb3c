package util

import "math"

// Clamp01 limits x to [0,1].
func Clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// Round3 rounds half away from zero at the thousandths digit.
func Round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
