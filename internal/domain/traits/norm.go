// Package traits maps behavioral metrics onto psychometric trait
// scores using fixed, documented models with population baselines.
package traits

import "math"

// normCDF maps a z value to [0,1] via the standard normal CDF.
func normCDF(z float64) float64 {
	return 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// zScore normalizes a value against a population mean and standard
// deviation. A degenerate deviation yields zero.
func zScore(value, mean, std float64) float64 {
	if std == 0 {
		return 0
	}
	return (value - mean) / std
}

// minMax rescales value into [0,1] over [lo, hi], clamped.
func minMax(value, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return clamp01((value - lo) / (hi - lo))
}

// sigmoid squashes any real value into (0,1).
func sigmoid(value float64) float64 {
	return 1 / (1 + math.Exp(-value))
}

// robustScale normalizes against a median and median absolute
// deviation, resistant to outliers.
func robustScale(value, median, mad float64) float64 {
	if mad == 0 {
		return 0
	}
	return (value - median) / mad
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
