package metrics

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func TestMean(t *testing.T) {
	tests := []struct {
		name   string
		input  []float64
		expect float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5.0}, 5.0},
		{"multiple", []float64{1, 2, 3, 4, 5}, 3.0},
		{"all_same", []float64{7, 7, 7}, 7.0},
		{"negative", []float64{-2, 0, 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mean(tt.input)
			if !approxEqual(got, tt.expect) {
				t.Errorf("Mean(%v) = %f, want %f", tt.input, got, tt.expect)
			}
		})
	}
}

func TestVariance(t *testing.T) {
	tests := []struct {
		name   string
		input  []float64
		expect float64
	}{
		{"empty", nil, 0},
		{"single", []float64{5.0}, 0},
		{"uniform", []float64{3, 3, 3}, 0},
		{"simple", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 4.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Variance(tt.input)
			if !approxEqual(got, tt.expect) {
				t.Errorf("Variance(%v) = %f, want %f", tt.input, got, tt.expect)
			}
		})
	}
}

func TestWeightedMean(t *testing.T) {
	tests := []struct {
		name    string
		values  []float64
		weights []float64
		expect  float64
		ok      bool
	}{
		{"empty", nil, nil, 0, false},
		{"all_zero_weight", []float64{1, 2}, []float64{0, 0}, 0, false},
		{"equal_weights", []float64{1, 3}, []float64{1, 1}, 2, true},
		{"skewed", []float64{1, 0}, []float64{3, 1}, 0.75, true},
		{"skips_zero_weight", []float64{1, 0}, []float64{2, 0}, 1, true},
		{"short_weights", []float64{1, 0}, []float64{1}, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := WeightedMean(tt.values, tt.weights)
			if ok != tt.ok || !approxEqual(got, tt.expect) {
				t.Errorf("WeightedMean(%v, %v) = (%f, %v), want (%f, %v)",
					tt.values, tt.weights, got, ok, tt.expect, tt.ok)
			}
		})
	}
}

func TestClamp01(t *testing.T) {
	for in, want := range map[float64]float64{-0.5: 0, 0: 0, 0.4: 0.4, 1: 1, 1.7: 1} {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%f) = %f, want %f", in, got, want)
		}
	}
}
