package evaluation

import (
	"fmt"
	"testing"

	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/similarity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samplings = []models.SamplingConfig{
	{Temperature: 0, TopP: 1, MaxTokens: 64},
	{Temperature: 0.7, TopP: 1, MaxTokens: 64},
	{Temperature: 1.2, TopP: 1, MaxTokens: 64},
}

func okCell(mi, si int, text string) *models.Cell {
	return &models.Cell{
		ID:       models.CellID{PromptID: "p", ModelIndex: mi, SamplingIndex: si},
		Model:    models.ModelEntry{Provider: "mock", Name: fmt.Sprintf("m%d", mi)},
		Sampling: samplings[si],
		State:    models.CellSucceeded,
		Result:   models.SuccessResult(text, models.Usage{}, 0),
	}
}

func failedCell(mi, si int) *models.Cell {
	c := okCell(mi, si, "")
	c.State = models.CellFailed
	c.Result = models.FailureResult(models.ErrorKindTransient, "timed out", 0)
	return c
}

func bulletPrompt() models.Prompt {
	return models.Prompt{
		ID: "p",
		Constraints: []models.Constraint{{
			Name:   "three bullets",
			Kind:   "count",
			Weight: 1,
			Rules:  map[string]any{"pattern": `^\s*[-*]\s+`, "exact": 3},
		}},
	}
}

func value(t *testing.T, eval PromptEvaluation, name string) float64 {
	t.Helper()
	m, ok := eval.Measure(name)
	require.True(t, ok, name)
	require.False(t, m.Omitted, "%s omitted: %s", name, m.OmitReason)
	require.NotNil(t, m.Value)
	return *m.Value
}

func omitted(t *testing.T, eval PromptEvaluation, name string) string {
	t.Helper()
	m, ok := eval.Measure(name)
	require.True(t, ok, name)
	require.True(t, m.Omitted, name)
	assert.Nil(t, m.Value, "omitted measures carry no value")
	return m.OmitReason
}

func TestEvaluate_BulletCountAdherence(t *testing.T) {
	ev := New(nil, nil)
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"three bullets", "- a\n- b\n- c", 1},
		{"two bullets", "- a\n- b", 0},
		{"four bullets", "- a\n- b\n- c\n- d", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := ev.Evaluate(bulletPrompt(), []*models.Cell{okCell(0, 0, tt.text)}, nil)
			assert.Equal(t, tt.want, value(t, eval, models.MeasureConstraintAdherence))
			require.Len(t, eval.Cells, 1)
			require.NotNil(t, eval.Cells[0].Adherence)
			assert.Equal(t, tt.want, *eval.Cells[0].Adherence)
		})
	}
}

func TestEvaluate_IdenticalOutputsAreConsistent(t *testing.T) {
	ev := New(nil, nil)
	text := "- otters hold hands\n- otters use tools\n- otters eat urchins"
	cells := []*models.Cell{okCell(0, 0, text), okCell(1, 0, text), okCell(2, 0, text)}

	eval := ev.Evaluate(bulletPrompt(), cells, nil)
	assert.Equal(t, 1.0, value(t, eval, models.MeasureCrossModelConsistency))

	m, _ := eval.Measure(models.MeasureCrossModelConsistency)
	assert.Equal(t, 3, m.Details["pairs"])
	assert.Equal(t, 0.3, m.Weight)

	assert.Equal(t, ReasonTooFewOutputs, omitted(t, eval, models.MeasureCrossTemperatureStability),
		"one sampling config per model gives nothing to compare")
}

func TestEvaluate_StabilitySubgroups(t *testing.T) {
	ev := New(nil, nil)
	cells := []*models.Cell{
		okCell(0, 0, "Otters are playful."),
		okCell(0, 1, "Otters are playful."),
		okCell(1, 0, "Otters are playful."),
		okCell(1, 1, `{"otters": ["playful", "social"]}`),
	}

	eval := ev.Evaluate(models.Prompt{ID: "p"}, cells, nil)
	m, ok := eval.Measure(models.MeasureCrossTemperatureStability)
	require.True(t, ok)
	require.False(t, m.Omitted)

	subgroups, ok := m.Details["subgroups"].([]float64)
	require.True(t, ok)
	require.Len(t, subgroups, 2)
	assert.Equal(t, 1.0, subgroups[0])
	assert.Less(t, subgroups[1], 1.0)
	assert.InDelta(t, (subgroups[0]+subgroups[1])/2, *m.Value, 1e-12)

	byGroup := m.Details["by_group"].(map[string]float64)
	assert.Equal(t, 1.0, byGroup["mock/m0"])
}

func TestEvaluate_SuccessRate(t *testing.T) {
	ev := New(nil, nil)

	t.Run("partial", func(t *testing.T) {
		cells := []*models.Cell{
			okCell(0, 0, "- a\n- b\n- c"),
			okCell(1, 0, "- a\n- b\n- c"),
			okCell(2, 0, "- a\n- b"),
			failedCell(0, 1),
		}
		eval := ev.Evaluate(bulletPrompt(), cells, nil)
		assert.Equal(t, 0.75, value(t, eval, models.MeasureSuccessRate))
		assert.InDelta(t, 2.0/3.0, value(t, eval, models.MeasureConstraintAdherence), 1e-12,
			"failed cells are left out of adherence")
		assert.Equal(t, 4, eval.Total)
		assert.Equal(t, 3, eval.Succeeded)
		assert.Nil(t, eval.Cells[3].Adherence)
	})

	t.Run("all failed", func(t *testing.T) {
		cells := []*models.Cell{failedCell(0, 0), failedCell(1, 0)}
		eval := ev.Evaluate(bulletPrompt(), cells, nil)
		assert.Equal(t, 0.0, value(t, eval, models.MeasureSuccessRate))
		assert.Equal(t, ReasonNoSuccesses, omitted(t, eval, models.MeasureConstraintAdherence))
		assert.Equal(t, ReasonTooFewOutputs, omitted(t, eval, models.MeasureCrossModelConsistency))
		assert.Equal(t, ReasonAdherenceOmitted, omitted(t, eval, models.MeasureTaskAlignment))
	})

	t.Run("no cells", func(t *testing.T) {
		eval := ev.Evaluate(bulletPrompt(), nil, nil)
		assert.Equal(t, 0.0, value(t, eval, models.MeasureSuccessRate))
	})
}

func TestEvaluate_TaskAlignment(t *testing.T) {
	ev := New(nil, nil)

	t.Run("expected format", func(t *testing.T) {
		p := bulletPrompt()
		p.Metadata.ExpectedFormat = "bullets"
		cells := []*models.Cell{
			okCell(0, 0, "- a\n- b"),
			okCell(1, 0, "A paragraph about otters."),
		}
		eval := ev.Evaluate(p, cells, nil)
		assert.Equal(t, 0.5, value(t, eval, models.MeasureTaskAlignment))
		m, _ := eval.Measure(models.MeasureTaskAlignment)
		assert.Equal(t, "expected_format", m.Details["source"])
		require.NotNil(t, eval.Cells[0].FormatMatch)
		assert.True(t, *eval.Cells[0].FormatMatch)
	})

	t.Run("json alias", func(t *testing.T) {
		p := models.Prompt{ID: "p", Metadata: models.PromptMetadata{ExpectedFormat: "json_object"}}
		eval := ev.Evaluate(p, []*models.Cell{okCell(0, 0, `{"a": 1}`)}, nil)
		assert.Equal(t, 1.0, value(t, eval, models.MeasureTaskAlignment))
	})

	t.Run("falls back to adherence", func(t *testing.T) {
		eval := ev.Evaluate(bulletPrompt(), []*models.Cell{okCell(0, 0, "- a\n- b\n- c"), okCell(1, 0, "- a")}, nil)
		assert.Equal(t, value(t, eval, models.MeasureConstraintAdherence), value(t, eval, models.MeasureTaskAlignment))
	})

	t.Run("no constraints and no format", func(t *testing.T) {
		eval := ev.Evaluate(models.Prompt{ID: "p"}, []*models.Cell{okCell(0, 0, "hi")}, nil)
		assert.Equal(t, ReasonNoConstraints, omitted(t, eval, models.MeasureConstraintAdherence))
		assert.Equal(t, ReasonAdherenceOmitted, omitted(t, eval, models.MeasureTaskAlignment))
	})
}

func TestEvaluate_ZeroWeightConstraints(t *testing.T) {
	p := bulletPrompt()
	p.Constraints[0].Weight = 0
	eval := New(nil, nil).Evaluate(p, []*models.Cell{okCell(0, 0, "- a")}, nil)
	assert.Equal(t, ReasonNoWeight, omitted(t, eval, models.MeasureConstraintAdherence))
	assert.Equal(t, 1.0, eval.Weight, "a prompt without constraint weight weighs 1")
}

func TestEvaluate_MalformedConstraintScoresZero(t *testing.T) {
	p := models.Prompt{ID: "p", Constraints: []models.Constraint{
		{Name: "broken", Kind: "regex", Weight: 1, Rules: map[string]any{"pattern": "(unclosed"}},
		{Name: "fine", Kind: "contains", Weight: 1, Rules: map[string]any{"term": "otter"}},
	}}
	eval := New(nil, nil).Evaluate(p, []*models.Cell{okCell(0, 0, "an otter")}, nil)

	assert.Equal(t, 0.5, value(t, eval, models.MeasureConstraintAdherence))
	assert.Equal(t, 1, eval.ConstraintErrors)
	assert.True(t, eval.Cells[0].Succeeded, "a malformed rule never fails the cell")
	assert.Equal(t, "error", eval.Cells[0].Constraints[0].Details["status"])
}

type partialEmbeddings map[string][]float64

func (p partialEmbeddings) Lookup(text string) ([]float64, bool) {
	v, ok := p[text]
	return v, ok
}

func TestEvaluate_EmbeddingFallbackPerPair(t *testing.T) {
	a, b, c := "otters are social", "otters live in groups", "sea otters float"
	emb := partialEmbeddings{
		a: {1, 0, 0},
		b: {0.9, 0.1, 0},
		// c has no embedding: its retrieval failed
	}
	cells := []*models.Cell{okCell(0, 0, a), okCell(1, 0, b), okCell(2, 0, c)}

	eval := New(nil, nil).Evaluate(models.Prompt{ID: "p"}, cells, emb)
	m, _ := eval.Measure(models.MeasureCrossModelConsistency)

	want := (similarity.Similarity(a, b, emb[a], emb[b]) +
		similarity.Similarity(a, c, nil, nil) +
		similarity.Similarity(b, c, nil, nil)) / 3
	assert.InDelta(t, want, *m.Value, 1e-12)
	assert.Equal(t, 1, m.Details["embedding_pairs"])
}

func TestEvaluate_Weights(t *testing.T) {
	ev := New(map[string]float64{models.MeasureSuccessRate: 0.5}, nil)
	w := ev.Weights()
	assert.Equal(t, 0.5, w[models.MeasureSuccessRate])
	assert.Equal(t, 0.3, w[models.MeasureConstraintAdherence], "unset weights keep their default")

	eval := ev.Evaluate(bulletPrompt(), []*models.Cell{okCell(0, 0, "x")}, nil)
	m, _ := eval.Measure(models.MeasureSuccessRate)
	assert.Equal(t, 0.5, m.Weight)
}

func TestEvaluate_CellOrderDoesNotMatter(t *testing.T) {
	cells := []*models.Cell{
		okCell(0, 0, "- a\n- b\n- c"),
		okCell(0, 1, "- a\n- b"),
		okCell(1, 0, "- x\n- y\n- z"),
		okCell(1, 1, "plain text"),
	}
	reversed := []*models.Cell{cells[3], cells[2], cells[1], cells[0]}

	ev := New(nil, nil)
	a := ev.Evaluate(bulletPrompt(), cells, nil)
	b := ev.Evaluate(bulletPrompt(), reversed, nil)
	for _, name := range models.MeasureNames {
		assert.InDelta(t, value(t, a, name), value(t, b, name), 1e-12, name)
	}
}
