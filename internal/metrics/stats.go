package metrics

import "math"

// Mean computes the arithmetic mean of a float64 slice.
// Returns 0 for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance computes the population variance of a float64 slice.
// Returns 0 for empty input.
func Variance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	sumSq := 0.0
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

// WeightedMean computes sum(w*v)/sum(w), skipping non-positive weights.
// ok is false when no value carries weight.
func WeightedMean(values, weights []float64) (mean float64, ok bool) {
	var num, den float64
	for i, v := range values {
		if i >= len(weights) || weights[i] <= 0 {
			continue
		}
		num += weights[i] * v
		den += weights[i]
	}
	if den == 0 {
		return 0, false
	}
	return num / den, true
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
