package scoring

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/promptlint/promptlint/internal/evaluation"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func measure(name string, v, w float64) models.Measure {
	return models.NewMeasure(name, v, w, nil)
}

func stability(w float64, subgroups ...float64) models.Measure {
	sum := 0.0
	for _, s := range subgroups {
		sum += s
	}
	return models.NewMeasure(models.MeasureCrossTemperatureStability, sum/float64(len(subgroups)), w,
		map[string]any{"subgroups": subgroups})
}

func promptEval(measures ...models.Measure) evaluation.PromptEvaluation {
	return evaluation.PromptEvaluation{PromptID: "p", Weight: 2, Total: 4, Succeeded: 4, Measures: measures}
}

func TestAggregate_WeightedGeometricMean(t *testing.T) {
	eval := promptEval(
		measure(models.MeasureConstraintAdherence, 0.8, 0.3),
		measure(models.MeasureSuccessRate, 0.5, 0.2),
	)
	agg := Aggregate(eval, DefaultPenaltyConfig())

	want := math.Exp((0.3*math.Log(0.8) + 0.2*math.Log(0.5)) / 0.5)
	require.True(t, agg.Defined)
	require.NotNil(t, agg.Score)
	assert.InDelta(t, want, *agg.Score, 1e-12)
	assert.InDelta(t, want, agg.BaseScore, 1e-12)
	assert.Zero(t, agg.Penalty)
	assert.Equal(t, 2.0, agg.Weight)
	assert.Equal(t, map[string]float64{
		models.MeasureConstraintAdherence: 0.3,
		models.MeasureSuccessRate:         0.2,
	}, agg.Weights)
}

func TestAggregate_ZeroMeasureGivesZero(t *testing.T) {
	eval := promptEval(
		measure(models.MeasureConstraintAdherence, 0, 0.3),
		measure(models.MeasureCrossModelConsistency, 1, 0.3),
		measure(models.MeasureSuccessRate, 1, 0.1),
	)
	agg := Aggregate(eval, DefaultPenaltyConfig())
	require.True(t, agg.Defined)
	assert.Equal(t, 0.0, *agg.Score)
}

func TestAggregate_ZeroWeightMeasureIgnored(t *testing.T) {
	eval := promptEval(
		measure(models.MeasureConstraintAdherence, 0, 0),
		measure(models.MeasureSuccessRate, 0.9, 0.1),
	)
	agg := Aggregate(eval, DefaultPenaltyConfig())
	assert.InDelta(t, 0.9, *agg.Score, 1e-12)
	assert.NotContains(t, agg.Components, models.MeasureConstraintAdherence)
}

func TestAggregate_OmittedMeasuresAreNotDefaulted(t *testing.T) {
	eval := promptEval(
		models.OmittedMeasure(models.MeasureCrossModelConsistency, 0.3, evaluation.ReasonTooFewOutputs),
		measure(models.MeasureSuccessRate, 0.6, 0.1),
	)
	agg := Aggregate(eval, DefaultPenaltyConfig())
	assert.InDelta(t, 0.6, *agg.Score, 1e-12, "an omitted measure neither helps nor hurts")
	assert.Equal(t, []string{models.MeasureCrossModelConsistency}, agg.Omitted)
}

func TestAggregate_UndefinedWithoutSuccesses(t *testing.T) {
	eval := promptEval(
		models.OmittedMeasure(models.MeasureConstraintAdherence, 0.3, evaluation.ReasonNoSuccesses),
		measure(models.MeasureSuccessRate, 0, 0.1),
	)
	eval.Succeeded = 0

	agg := Aggregate(eval, DefaultPenaltyConfig())
	assert.False(t, agg.Defined)
	assert.Nil(t, agg.Score)
	assert.Equal(t, ReasonNoSuccesses, agg.Reason)
	assert.Contains(t, agg.Omitted, models.MeasureConstraintAdherence)
}

func TestAggregate_UndefinedWithoutWeightedMeasures(t *testing.T) {
	eval := promptEval(measure(models.MeasureSuccessRate, 1, 0))
	agg := Aggregate(eval, DefaultPenaltyConfig())
	assert.False(t, agg.Defined)
	assert.Equal(t, ReasonNoWeightedMeasure, agg.Reason)
}

func TestStabilityPenalty(t *testing.T) {
	tests := []struct {
		name      string
		cfg       PenaltyConfig
		subgroups []float64
		want      float64
	}{
		{"single subgroup", DefaultPenaltyConfig(), []float64{0.2}, 0},
		{"stable", DefaultPenaltyConfig(), []float64{0.8, 0.8, 0.8}, 0},
		// variance of {1, 0.5} is 0.0625
		{"scaled variance", DefaultPenaltyConfig(), []float64{1, 0.5}, 0.125},
		// variance of {1, 0} is 0.25, scaled to 0.5, capped at 0.5
		{"capped by max", DefaultPenaltyConfig(), []float64{1, 0}, 0.5},
		{"custom shape", PenaltyConfig{Scale: 10, Max: 0.3}, []float64{1, 0.5}, 0.3},
		{"zero scale", PenaltyConfig{Scale: 0, Max: 0.5}, []float64{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := promptEval(stability(0.2, tt.subgroups...))
			assert.InDelta(t, tt.want, StabilityPenalty(eval, tt.cfg), 1e-12)
		})
	}
}

func TestAggregate_AppliesPenalty(t *testing.T) {
	eval := promptEval(
		stability(0.2, 1, 0.5),
		measure(models.MeasureSuccessRate, 1, 0.1),
	)
	agg := Aggregate(eval, DefaultPenaltyConfig())
	require.True(t, agg.Defined)
	assert.InDelta(t, 0.125, agg.Penalty, 1e-12)
	assert.InDelta(t, agg.BaseScore*0.875, *agg.Score, 1e-12)
}

func TestStabilityPenalty_IgnoresOtherMeasures(t *testing.T) {
	weak := promptEval(
		measure(models.MeasureConstraintAdherence, 0.1, 0.3),
		measure(models.MeasureCrossModelConsistency, 0.1, 0.3),
		stability(0.2, 0.9, 0.9),
	)
	assert.Zero(t, StabilityPenalty(weak, DefaultPenaltyConfig()),
		"low adherence is never turned into a stability penalty")

	omittedStability := promptEval(models.OmittedMeasure(models.MeasureCrossTemperatureStability, 0.2, "x"))
	assert.Zero(t, StabilityPenalty(omittedStability, DefaultPenaltyConfig()))
}

func TestStabilityPenalty_AfterJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(stability(0.2, 1, 0.5))
	require.NoError(t, err)
	var m models.Measure
	require.NoError(t, json.Unmarshal(data, &m))

	assert.InDelta(t, 0.125, StabilityPenalty(promptEval(m), DefaultPenaltyConfig()), 1e-12)
}

func TestAggregate_ScoreAlwaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		var ms []models.Measure
		for _, name := range models.MeasureNames {
			if name == models.MeasureCrossTemperatureStability {
				ms = append(ms, stability(rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()))
				continue
			}
			ms = append(ms, measure(name, rng.Float64(), rng.Float64()))
		}
		agg := Aggregate(promptEval(ms...), PenaltyConfig{Scale: rng.Float64() * 20, Max: rng.Float64()})
		require.True(t, agg.Defined)
		assert.GreaterOrEqual(t, *agg.Score, 0.0)
		assert.LessOrEqual(t, *agg.Score, 1.0)
		assert.GreaterOrEqual(t, agg.Penalty, 0.0)
		assert.LessOrEqual(t, agg.Penalty, 1.0)
	}
}

func TestPenaltyFromSettings(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	assert.Equal(t, DefaultPenaltyConfig(), PenaltyFromSettings(models.PenaltySettings{}))
	assert.Equal(t, PenaltyConfig{Scale: 4, Max: 0.5}, PenaltyFromSettings(models.PenaltySettings{Scale: f(4)}))
	assert.Equal(t, PenaltyConfig{Scale: 2, Max: 0.1}, PenaltyFromSettings(models.PenaltySettings{Max: f(0.1)}))
	assert.Equal(t, PenaltyConfig{Scale: 0, Max: 0}, PenaltyFromSettings(models.PenaltySettings{Scale: f(0), Max: f(0)}),
		"declared zeros turn the penalty off")
}
