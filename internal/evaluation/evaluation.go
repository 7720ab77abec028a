// Package evaluation turns the outputs of a prompt's cells into named measures.
package evaluation

import (
	"log/slog"
	"sort"

	"github.com/promptlint/promptlint/internal/constraints"
	"github.com/promptlint/promptlint/internal/metrics"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/similarity"
	"github.com/promptlint/promptlint/internal/textfmt"
)

// Omit reasons recorded on measures that could not be computed.
const (
	ReasonNoSuccesses      = "no_successful_cells"
	ReasonNoConstraints    = "no_constraints"
	ReasonNoWeight         = "no_weighted_constraints"
	ReasonTooFewOutputs    = "fewer_than_two_outputs"
	ReasonAdherenceOmitted = "constraint_adherence_omitted"
)

// EmbeddingLookup returns the embedding of an output text, if one was fetched.
type EmbeddingLookup interface {
	Lookup(text string) ([]float64, bool)
}

// PromptEvaluation holds every measure of one prompt.
type PromptEvaluation struct {
	PromptID  string             `json:"prompt_id"`
	Weight    float64            `json:"weight"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Cells     []models.CellScore `json:"cells"`
	Measures  []models.Measure   `json:"measures"`

	// ConstraintErrors counts malformed constraint rules met while scoring.
	ConstraintErrors int `json:"constraint_errors,omitempty"`
}

// Measure returns the named measure.
func (e PromptEvaluation) Measure(name string) (models.Measure, bool) {
	for _, m := range e.Measures {
		if m.Name == name {
			return m, true
		}
	}
	return models.Measure{}, false
}

// Evaluator scores cells. It holds no state between prompts.
type Evaluator struct {
	weights map[string]float64
	logger  *slog.Logger
}

// New returns an evaluator using weights over the defaults. Names missing
// from weights keep their default.
func New(weights map[string]float64, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	w := models.DefaultMeasureWeights()
	for name, v := range weights {
		w[name] = v
	}
	return &Evaluator{weights: w, logger: logger}
}

// Weights returns the measure weights in effect.
func (ev *Evaluator) Weights() map[string]float64 {
	out := make(map[string]float64, len(ev.weights))
	for k, v := range ev.weights {
		out[k] = v
	}
	return out
}

// Evaluate computes the measures of prompt over its cells. Only succeeded
// cells are scored; the others count toward the success rate. embeddings
// may be nil.
func (ev *Evaluator) Evaluate(prompt models.Prompt, cells []*models.Cell, embeddings EmbeddingLookup) PromptEvaluation {
	eval := PromptEvaluation{
		PromptID: prompt.ID,
		Weight:   prompt.TotalConstraintWeight(),
		Total:    len(cells),
		Cells:    make([]models.CellScore, 0, len(cells)),
	}

	format, hasFormat := textfmt.ParseFormat(prompt.Metadata.ExpectedFormat)
	if prompt.Metadata.ExpectedFormat != "" && !hasFormat {
		ev.logger.Warn("unknown expected_format, falling back to constraint adherence",
			"prompt", prompt.ID, "format", prompt.Metadata.ExpectedFormat)
	}

	var successes []*models.Cell
	for _, c := range cells {
		ce := models.CellScore{Cell: c.ID, Succeeded: c.Succeeded()}
		if ce.Succeeded {
			eval.Succeeded++
			successes = append(successes, c)

			score, ok, results := constraints.Adherence(c.Output(), prompt.Constraints)
			if ok {
				ce.Adherence = &score
			}
			for _, r := range results {
				ce.Constraints = append(ce.Constraints, r.Outcome())
				if r.Err != nil {
					eval.ConstraintErrors++
					ev.logger.Debug("constraint evaluation error",
						"prompt", prompt.ID, "cell", c.ID.String(), "constraint", r.Name, "error", r.Err)
				}
			}

			if hasFormat {
				match := textfmt.Matches(c.Output(), format)
				ce.FormatMatch = &match
			}
		}
		eval.Cells = append(eval.Cells, ce)
	}

	adherence := ev.constraintAdherence(prompt, eval)
	eval.Measures = []models.Measure{
		adherence,
		ev.crossModelConsistency(successes, embeddings),
		ev.crossTemperatureStability(successes, embeddings),
		ev.taskAlignment(eval, format, hasFormat, adherence),
		ev.successRate(eval),
	}
	return eval
}

func (ev *Evaluator) constraintAdherence(prompt models.Prompt, eval PromptEvaluation) models.Measure {
	name := models.MeasureConstraintAdherence
	weight := ev.weights[name]

	if len(prompt.Constraints) == 0 {
		return models.OmittedMeasure(name, weight, ReasonNoConstraints)
	}
	if eval.Succeeded == 0 {
		return models.OmittedMeasure(name, weight, ReasonNoSuccesses)
	}

	var scores []float64
	for _, ce := range eval.Cells {
		if ce.Adherence != nil {
			scores = append(scores, *ce.Adherence)
		}
	}
	if len(scores) == 0 {
		return models.OmittedMeasure(name, weight, ReasonNoWeight)
	}

	return models.NewMeasure(name, metrics.Mean(scores), weight, map[string]any{
		"cells":             len(scores),
		"constraint_errors": eval.ConstraintErrors,
	})
}

// crossModelConsistency compares outputs of different models under the same
// sampling config.
func (ev *Evaluator) crossModelConsistency(successes []*models.Cell, embeddings EmbeddingLookup) models.Measure {
	groups := groupBy(successes, func(c *models.Cell) int { return c.ID.SamplingIndex })
	return ev.pairwiseMeasure(models.MeasureCrossModelConsistency, groups, embeddings, func(c *models.Cell) string {
		return c.Sampling.Key()
	})
}

// crossTemperatureStability compares outputs of the same model across
// sampling configs. Per-model values are kept in details.subgroups for the
// stability penalty.
func (ev *Evaluator) crossTemperatureStability(successes []*models.Cell, embeddings EmbeddingLookup) models.Measure {
	groups := groupBy(successes, func(c *models.Cell) int { return c.ID.ModelIndex })
	return ev.pairwiseMeasure(models.MeasureCrossTemperatureStability, groups, embeddings, func(c *models.Cell) string {
		return c.Model.Label()
	})
}

func (ev *Evaluator) pairwiseMeasure(name string, groups [][]*models.Cell, embeddings EmbeddingLookup, label func(*models.Cell) string) models.Measure {
	weight := ev.weights[name]

	var subgroups []float64
	byLabel := map[string]float64{}
	pairs, embedded := 0, 0
	for _, group := range groups {
		value, n, ok := similarity.MeanPairwise(group, func(a, b *models.Cell) float64 {
			ea, eb := lookup(embeddings, a.Output()), lookup(embeddings, b.Output())
			if len(ea) > 0 && len(eb) > 0 {
				embedded++
			}
			return similarity.Similarity(a.Output(), b.Output(), ea, eb)
		})
		if !ok {
			continue
		}
		subgroups = append(subgroups, value)
		byLabel[label(group[0])] = value
		pairs += n
	}

	if len(subgroups) == 0 {
		return models.OmittedMeasure(name, weight, ReasonTooFewOutputs)
	}
	return models.NewMeasure(name, metrics.Mean(subgroups), weight, map[string]any{
		"subgroups":       subgroups,
		"by_group":        byLabel,
		"pairs":           pairs,
		"embedding_pairs": embedded,
	})
}

func (ev *Evaluator) taskAlignment(eval PromptEvaluation, format textfmt.Format, hasFormat bool, adherence models.Measure) models.Measure {
	name := models.MeasureTaskAlignment
	weight := ev.weights[name]

	if hasFormat {
		if eval.Succeeded == 0 {
			return models.OmittedMeasure(name, weight, ReasonNoSuccesses)
		}
		matched := 0
		for _, ce := range eval.Cells {
			if ce.FormatMatch != nil && *ce.FormatMatch {
				matched++
			}
		}
		return models.NewMeasure(name, float64(matched)/float64(eval.Succeeded), weight, map[string]any{
			"source":  "expected_format",
			"format":  string(format),
			"matched": matched,
			"cells":   eval.Succeeded,
		})
	}

	if adherence.Omitted {
		return models.OmittedMeasure(name, weight, ReasonAdherenceOmitted)
	}
	return models.NewMeasure(name, *adherence.Value, weight, map[string]any{
		"source": models.MeasureConstraintAdherence,
	})
}

func (ev *Evaluator) successRate(eval PromptEvaluation) models.Measure {
	rate := 0.0
	if eval.Total > 0 {
		rate = float64(eval.Succeeded) / float64(eval.Total)
	}
	return models.NewMeasure(models.MeasureSuccessRate, rate, ev.weights[models.MeasureSuccessRate], map[string]any{
		"succeeded": eval.Succeeded,
		"total":     eval.Total,
	})
}

// groupBy buckets cells by key, with buckets in ascending key order.
func groupBy(cells []*models.Cell, key func(*models.Cell) int) [][]*models.Cell {
	buckets := map[int][]*models.Cell{}
	for _, c := range cells {
		k := key(c)
		buckets[k] = append(buckets[k], c)
	}
	keys := make([]int, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	out := make([][]*models.Cell, 0, len(keys))
	for _, k := range keys {
		group := buckets[k]
		sort.Slice(group, func(i, j int) bool { return less(group[i].ID, group[j].ID) })
		out = append(out, group)
	}
	return out
}

func less(a, b models.CellID) bool {
	if a.ModelIndex != b.ModelIndex {
		return a.ModelIndex < b.ModelIndex
	}
	return a.SamplingIndex < b.SamplingIndex
}

func lookup(embeddings EmbeddingLookup, text string) []float64 {
	if embeddings == nil {
		return nil
	}
	vec, _ := embeddings.Lookup(text)
	return vec
}
