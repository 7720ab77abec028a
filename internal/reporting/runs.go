package reporting

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/promptlint/promptlint/internal/models"
)

// RunsOutput is the per-cell detail written by --runs-output.
type RunsOutput struct {
	RunID string       `json:"run_id"`
	Suite string       `json:"suite"`
	Cells []CellRecord `json:"cells"`
}

// CellRecord is one cell with its outcome. Constraints is only filled in
// when raw detail is requested.
type CellRecord struct {
	ID          models.CellID              `json:"id"`
	Model       string                     `json:"model"`
	Sampling    models.SamplingConfig      `json:"sampling"`
	CacheKey    string                     `json:"cache_key"`
	State       models.CellState           `json:"state"`
	PromptText  string                     `json:"prompt_text,omitempty"`
	Result      *models.ExecutionResult    `json:"result,omitempty"`
	Adherence   *float64                   `json:"adherence,omitempty"`
	FormatMatch *bool                      `json:"format_match,omitempty"`
	Constraints []models.ConstraintOutcome `json:"constraints,omitempty"`
}

// BuildRunsOutput lists every cell of result in suite order. includeRaw adds
// the rendered prompt and the per-constraint outcomes.
func BuildRunsOutput(result models.SuiteResult, includeRaw bool) *RunsOutput {
	out := &RunsOutput{RunID: result.RunID, Suite: result.SuiteName}
	for _, p := range result.Prompts {
		scores := make(map[models.CellID]models.CellScore, len(p.CellScores))
		for _, cs := range p.CellScores {
			scores[cs.Cell] = cs
		}
		for _, c := range p.Cells {
			rec := CellRecord{
				ID:       c.ID,
				Model:    c.Model.Label(),
				Sampling: c.Sampling,
				CacheKey: c.CacheKey,
				State:    c.State,
				Result:   c.Result,
			}
			if cs, ok := scores[c.ID]; ok {
				rec.Adherence = cs.Adherence
				rec.FormatMatch = cs.FormatMatch
				if includeRaw {
					rec.Constraints = cs.Constraints
				}
			}
			if includeRaw {
				rec.PromptText = c.PromptText
			}
			out.Cells = append(out.Cells, rec)
		}
	}
	return out
}

// WriteRunsOutput writes the per-cell detail as JSON to path.
func WriteRunsOutput(path string, result models.SuiteResult, includeRaw bool) error {
	data, err := json.MarshalIndent(BuildRunsOutput(result, includeRaw), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding runs output: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing runs output: %w", err)
	}
	return nil
}
