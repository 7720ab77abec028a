// Package scoring combines a prompt's measures into one robustness score and
// rolls prompt scores up to the suite.
package scoring

import (
	"math"

	"github.com/promptlint/promptlint/internal/evaluation"
	"github.com/promptlint/promptlint/internal/metrics"
	"github.com/promptlint/promptlint/internal/models"
)

// Reasons recorded on undefined scores.
const (
	ReasonNoSuccesses       = "no successful cells"
	ReasonNoWeightedMeasure = "no weighted measure available"
)

// PenaltyConfig shapes the stability penalty: min(Max, Scale*variance).
type PenaltyConfig struct {
	Scale float64
	Max   float64
}

// DefaultPenaltyConfig returns the default penalty shape.
func DefaultPenaltyConfig() PenaltyConfig {
	return PenaltyConfig{Scale: models.DefaultPenaltyScale, Max: models.DefaultPenaltyMax}
}

// PenaltyFromSettings reads the suite's stability_penalty block. Unset
// fields keep their default; a declared 0 is honoured.
func PenaltyFromSettings(s models.PenaltySettings) PenaltyConfig {
	cfg := DefaultPenaltyConfig()
	if s.Scale != nil {
		cfg.Scale = *s.Scale
	}
	if s.Max != nil {
		cfg.Max = *s.Max
	}
	return cfg
}

// Aggregate scores one prompt with a weighted geometric mean of its
// non-omitted measures, then applies the stability penalty.
//
// A prompt without a single succeeded cell has an undefined score. Any
// weighted measure equal to 0 makes the score exactly 0.
func Aggregate(eval evaluation.PromptEvaluation, cfg PenaltyConfig) models.AggregateScore {
	agg := models.AggregateScore{
		PromptID:   eval.PromptID,
		Weight:     eval.Weight,
		Components: map[string]float64{},
		Weights:    map[string]float64{},
	}
	for _, m := range eval.Measures {
		if m.Omitted || m.Value == nil {
			agg.Omitted = append(agg.Omitted, m.Name)
		}
	}

	if eval.Succeeded == 0 {
		agg.Reason = ReasonNoSuccesses
		return agg
	}

	var logSum, totalWeight float64
	zero := false
	for _, m := range eval.Measures {
		if m.Omitted || m.Value == nil || m.Weight <= 0 {
			continue
		}
		v := metrics.Clamp01(*m.Value)
		agg.Components[m.Name] = v
		agg.Weights[m.Name] = m.Weight
		totalWeight += m.Weight
		if v == 0 {
			zero = true
			continue
		}
		logSum += m.Weight * math.Log(v)
	}

	if totalWeight == 0 {
		agg.Reason = ReasonNoWeightedMeasure
		return agg
	}

	base := 0.0
	if !zero {
		base = math.Exp(logSum / totalWeight)
	}
	agg.BaseScore = metrics.Clamp01(base)
	agg.Penalty = StabilityPenalty(eval, cfg)

	score := metrics.Clamp01(agg.BaseScore * (1 - agg.Penalty))
	agg.Score = &score
	agg.Defined = true
	return agg
}

// StabilityPenalty is derived only from the per-model values of the
// cross-temperature stability measure. It is 0 when fewer than two
// subgroups exist.
func StabilityPenalty(eval evaluation.PromptEvaluation, cfg PenaltyConfig) float64 {
	m, ok := eval.Measure(models.MeasureCrossTemperatureStability)
	if !ok || m.Omitted {
		return 0
	}
	values := subgroupValues(m.Details["subgroups"])
	if len(values) < 2 {
		return 0
	}
	penalty := cfg.Scale * metrics.Variance(values)
	return math.Max(0, math.Min(cfg.Max, math.Min(1, penalty)))
}

// subgroupValues accepts the evaluator's []float64 and the []any a JSON
// round trip produces.
func subgroupValues(v any) []float64 {
	switch vals := v.(type) {
	case []float64:
		return vals
	case []any:
		out := make([]float64, 0, len(vals))
		for _, x := range vals {
			if f, ok := x.(float64); ok {
				out = append(out, f)
			}
		}
		return out
	default:
		return nil
	}
}
