package scoring

import (
	"github.com/promptlint/promptlint/internal/evaluation"
	"github.com/promptlint/promptlint/internal/metrics"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/statistics"
)

// SuiteConfidenceLevel is the level of the suite score's bootstrap interval.
const SuiteConfidenceLevel = 0.95

// SuiteRollup is the weighted mean of the defined prompt scores, weighing
// each prompt by its total constraint weight (1 when it has none). Prompts
// with an undefined score are left out; with none defined the suite score is
// undefined too.
func SuiteRollup(scores []models.AggregateScore, costUSD float64) models.SuiteScore {
	return suiteRollup(scores, costUSD, -1)
}

func suiteRollup(scores []models.AggregateScore, costUSD float64, seed int64) models.SuiteScore {
	out := models.SuiteScore{PromptCount: len(scores), CostUSD: costUSD}

	var values, weights []float64
	for _, s := range scores {
		if !s.Defined || s.Score == nil {
			continue
		}
		w := s.Weight
		if w <= 0 {
			w = 1
		}
		values = append(values, *s.Score)
		weights = append(weights, w)
	}
	out.DefinedCount = len(values)
	if len(values) == 0 {
		return out
	}

	mean, _ := metrics.WeightedMean(values, weights)
	mean = metrics.Clamp01(mean)
	out.Score = &mean
	out.Defined = true

	ci := statistics.WeightedBootstrapCIWithSeed(values, weights, SuiteConfidenceLevel, seed)
	out.CI = &ci
	return out
}

// CellSource is a completed cell matrix.
type CellSource interface {
	PromptIDs() []string
	ByPrompt(promptID string) []*models.Cell
	Stats() models.RunStats
}

// ScoreSuite evaluates and aggregates every prompt of suite that has cells
// in source. Run identity and timestamps are left to the caller.
func ScoreSuite(suite *models.Suite, source CellSource, embeddings evaluation.EmbeddingLookup, ev *evaluation.Evaluator) models.SuiteResult {
	cfg := PenaltyFromSettings(suite.Run.StabilityPenalty)
	stats := source.Stats()

	result := models.SuiteResult{
		SuiteName: suite.Name,
		Ladder:    suite.Ladder.Name,
		Stats:     stats,
	}

	scores := make([]models.AggregateScore, 0, len(source.PromptIDs()))
	for _, id := range source.PromptIDs() {
		prompt, ok := suite.Prompt(id)
		if !ok {
			continue
		}
		cells := source.ByPrompt(id)
		eval := ev.Evaluate(prompt, cells, embeddings)
		score := Aggregate(eval, cfg)
		scores = append(scores, score)

		pr := models.PromptResult{
			PromptID:         id,
			Weight:           eval.Weight,
			Cells:            make([]models.Cell, 0, len(cells)),
			CellScores:       eval.Cells,
			Measures:         eval.Measures,
			Score:            score,
			ConstraintErrors: eval.ConstraintErrors,
		}
		for _, c := range cells {
			pr.Cells = append(pr.Cells, *c)
		}
		result.Prompts = append(result.Prompts, pr)
	}

	result.Score = SuiteRollup(scores, stats.CostUSD)
	return result
}
