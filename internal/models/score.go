package models

import "time"

// Measure names produced by the evaluator.
const (
	MeasureConstraintAdherence       = "constraint_adherence"
	MeasureCrossModelConsistency     = "cross_model_consistency"
	MeasureCrossTemperatureStability = "cross_temperature_stability"
	MeasureTaskAlignment             = "task_alignment"
	MeasureSuccessRate               = "success_rate"
)

// MeasureNames lists every measure in report order.
var MeasureNames = []string{
	MeasureConstraintAdherence,
	MeasureCrossModelConsistency,
	MeasureCrossTemperatureStability,
	MeasureTaskAlignment,
	MeasureSuccessRate,
}

// IsMeasureName reports whether name is a known measure.
func IsMeasureName(name string) bool {
	for _, n := range MeasureNames {
		if n == name {
			return true
		}
	}
	return false
}

// DefaultMeasureWeights returns the stock weight for each measure.
func DefaultMeasureWeights() map[string]float64 {
	return map[string]float64{
		MeasureConstraintAdherence:       0.3,
		MeasureCrossModelConsistency:     0.3,
		MeasureCrossTemperatureStability: 0.2,
		MeasureTaskAlignment:             0.1,
		MeasureSuccessRate:               0.1,
	}
}

// Scope says whether a measure describes one prompt or the whole suite.
type Scope string

const (
	ScopePrompt Scope = "prompt"
	ScopeSuite  Scope = "suite"
)

// Measure is one named robustness signal in [0,1]. An omitted measure has a
// nil Value and takes no part in aggregation.
type Measure struct {
	Name       string         `json:"name"`
	Scope      Scope          `json:"scope"`
	Value      *float64       `json:"value"`
	Weight     float64        `json:"weight"`
	Omitted    bool           `json:"omitted,omitempty"`
	OmitReason string         `json:"omit_reason,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// NewMeasure builds a present measure.
func NewMeasure(name string, value, weight float64, details map[string]any) Measure {
	return Measure{
		Name:    name,
		Scope:   ScopePrompt,
		Value:   &value,
		Weight:  weight,
		Details: details,
	}
}

// OmittedMeasure builds a measure that could not be computed.
func OmittedMeasure(name string, weight float64, reason string) Measure {
	return Measure{
		Name:       name,
		Scope:      ScopePrompt,
		Weight:     weight,
		Omitted:    true,
		OmitReason: reason,
	}
}

// AggregateScore is the combined robustness score of one prompt.
// Score is nil when the prompt had no succeeded cells.
type AggregateScore struct {
	PromptID   string             `json:"prompt_id"`
	Score      *float64           `json:"score"`
	Defined    bool               `json:"defined"`
	BaseScore  float64            `json:"base_score"`
	Penalty    float64            `json:"penalty"`
	Components map[string]float64 `json:"components,omitempty"`
	Weights    map[string]float64 `json:"weights,omitempty"`
	Omitted    []string           `json:"omitted,omitempty"`
	Weight     float64            `json:"weight"`
	Reason     string             `json:"reason,omitempty"`
}

// ConfidenceInterval is a bootstrap interval around a score.
type ConfidenceInterval struct {
	Lower           float64 `json:"lower"`
	Upper           float64 `json:"upper"`
	Mean            float64 `json:"mean"`
	ConfidenceLevel float64 `json:"confidence_level"`
	NumBootstraps   int     `json:"num_bootstraps"`
}

// SuiteScore is the weighted rollup of prompt scores.
type SuiteScore struct {
	Score        *float64            `json:"score"`
	Defined      bool                `json:"defined"`
	PromptCount  int                 `json:"prompt_count"`
	DefinedCount int                 `json:"defined_count"`
	CI           *ConfidenceInterval `json:"confidence_interval,omitempty"`
	CostUSD      float64             `json:"cost_usd"`
}

// RunStats counts cells by how they finished.
type RunStats struct {
	Total         int     `json:"total"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	Cached        int     `json:"cached"`
	Shared        int     `json:"shared"`
	ProviderCalls int     `json:"provider_calls"`
	CostUSD       float64 `json:"cost_usd"`
	DurationMs    int64   `json:"duration_ms"`
}

// PromptResult groups everything computed for one prompt.
type PromptResult struct {
	PromptID   string         `json:"prompt_id"`
	Weight     float64        `json:"weight"`
	Cells      []Cell         `json:"cells"`
	CellScores []CellScore    `json:"cell_scores,omitempty"`
	Measures   []Measure      `json:"measures"`
	Score      AggregateScore `json:"score"`

	ConstraintErrors int `json:"constraint_errors,omitempty"`
}

// ConstraintOutcome is one constraint checked against one output.
type ConstraintOutcome struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Passed  bool           `json:"passed"`
	Score   float64        `json:"score"`
	Weight  float64        `json:"weight"`
	Error   string         `json:"error,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// CellScore is what the evaluator found in one cell's output. Only
// succeeded cells carry adherence and format results.
type CellScore struct {
	Cell        CellID              `json:"cell"`
	Succeeded   bool                `json:"succeeded"`
	Adherence   *float64            `json:"adherence,omitempty"`
	FormatMatch *bool               `json:"format_match,omitempty"`
	Constraints []ConstraintOutcome `json:"constraints,omitempty"`
}

// Measure returns the named measure, if present.
func (p PromptResult) Measure(name string) (Measure, bool) {
	for _, m := range p.Measures {
		if m.Name == name {
			return m, true
		}
	}
	return Measure{}, false
}

// SuiteResult is the serializable tree handed to reporters.
type SuiteResult struct {
	RunID      string         `json:"run_id"`
	SuiteName  string         `json:"suite"`
	Ladder     string         `json:"ladder"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Stats      RunStats       `json:"stats"`
	Prompts    []PromptResult `json:"prompts"`
	Score      SuiteScore     `json:"score"`
}
