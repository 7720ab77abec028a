// Package reporting renders a scored run for people and for CI.
package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/promptlint/promptlint/internal/models"
)

// SchemaVersion is bumped whenever the report layout changes.
const SchemaVersion = 1

// Report is the serializable result tree. Slices follow suite order, so two
// runs of the same suite produce the same tree apart from timings.
type Report struct {
	SchemaVersion int                     `json:"schema_version"`
	RunID         string                  `json:"run_id"`
	Suite         string                  `json:"suite"`
	Ladder        string                  `json:"ladder"`
	StartedAt     time.Time               `json:"started_at"`
	FinishedAt    time.Time               `json:"finished_at"`
	Models        []ModelRef              `json:"models"`
	Sampling      []models.SamplingConfig `json:"sampling"`
	Weights       map[string]float64      `json:"weights"`
	Stats         models.RunStats         `json:"stats"`
	Score         models.SuiteScore       `json:"score"`
	Prompts       []PromptReport          `json:"prompts"`
}

// ModelRef names a ladder rung by the index cells use.
type ModelRef struct {
	Index    int    `json:"index"`
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Tier     int    `json:"tier"`
}

// PromptReport is one prompt's score with the measures behind it.
type PromptReport struct {
	ID               string           `json:"id"`
	Weight           float64          `json:"weight"`
	Score            *float64         `json:"score"`
	Defined          bool             `json:"defined"`
	Reason           string           `json:"reason,omitempty"`
	BaseScore        float64          `json:"base_score"`
	Penalty          float64          `json:"penalty"`
	Measures         []models.Measure `json:"measures"`
	Cells            CellCounts       `json:"cells"`
	Failures         []CellFailure    `json:"failures,omitempty"`
	ConstraintErrors int              `json:"constraint_errors,omitempty"`
}

// CellCounts summarizes how a prompt's cells finished.
type CellCounts struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`
	Shared    int `json:"shared"`
}

// CellFailure describes one failed cell.
type CellFailure struct {
	Cell     string           `json:"cell"`
	Model    string           `json:"model"`
	Sampling string           `json:"sampling"`
	Kind     models.ErrorKind `json:"kind"`
	Message  string           `json:"message"`
}

// BuildReport lays out result for rendering. weights are the measure
// weights the evaluator used.
func BuildReport(suite *models.Suite, result models.SuiteResult, weights map[string]float64) *Report {
	r := &Report{
		SchemaVersion: SchemaVersion,
		RunID:         result.RunID,
		Suite:         result.SuiteName,
		Ladder:        result.Ladder,
		StartedAt:     result.StartedAt,
		FinishedAt:    result.FinishedAt,
		Sampling:      suite.Sampling,
		Weights:       weights,
		Stats:         result.Stats,
		Score:         result.Score,
		Prompts:       make([]PromptReport, 0, len(result.Prompts)),
	}
	for i, m := range suite.Ladder.Models {
		r.Models = append(r.Models, ModelRef{Index: i, Provider: m.Provider, Name: m.Name, Tier: m.Tier})
	}

	for _, p := range result.Prompts {
		pr := PromptReport{
			ID:               p.PromptID,
			Weight:           p.Weight,
			Score:            p.Score.Score,
			Defined:          p.Score.Defined,
			Reason:           p.Score.Reason,
			BaseScore:        p.Score.BaseScore,
			Penalty:          p.Score.Penalty,
			Measures:         p.Measures,
			ConstraintErrors: p.ConstraintErrors,
		}
		for _, c := range p.Cells {
			pr.Cells.Total++
			if c.Succeeded() {
				pr.Cells.Succeeded++
			} else {
				pr.Cells.Failed++
			}
			if c.Result == nil {
				continue
			}
			switch {
			case c.Result.Shared:
				pr.Cells.Shared++
			case c.Result.Cached:
				pr.Cells.Cached++
			}
			if !c.Result.Success {
				pr.Failures = append(pr.Failures, CellFailure{
					Cell:     c.ID.String(),
					Model:    c.Model.Label(),
					Sampling: c.Sampling.Key(),
					Kind:     c.Result.ErrorKind,
					Message:  c.Result.Message,
				})
			}
		}
		r.Prompts = append(r.Prompts, pr)
	}
	return r
}

// Passed reports whether the suite score is defined and reaches threshold.
func (r *Report) Passed(threshold float64) bool {
	return r.Score.Defined && r.Score.Score != nil && *r.Score.Score >= threshold
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}

// Format is an output format of the report file.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatHTML     Format = "html"
	FormatJUnit    Format = "junit"
)

// ParseFormat accepts the names the CLI takes.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatMarkdown, FormatJSON, FormatHTML, FormatJUnit:
		return Format(s), nil
	case "md":
		return FormatMarkdown, nil
	case "xml":
		return FormatJUnit, nil
	}
	return "", fmt.Errorf("unknown report format %q (supported: markdown, json, html, junit)", s)
}

// Write renders r in format. threshold marks failing prompts in JUnit output.
func Write(w io.Writer, r *Report, format Format, threshold float64) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatMarkdown:
		_, err := io.WriteString(w, FormatMarkdownReport(r))
		return err
	case FormatHTML:
		return WriteHTML(w, r)
	case FormatJUnit:
		return WriteJUnit(w, r, threshold)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// WriteFile renders r to path.
func WriteFile(path string, r *Report, format Format, threshold float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := Write(f, r, format, threshold); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
