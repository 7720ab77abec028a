package models

import (
	"fmt"
	"time"
)

// CellID identifies one (prompt, model, sampling) combination within a run.
// ModelIndex and SamplingIndex index the suite's ladder and sampling lists.
type CellID struct {
	PromptID      string `json:"prompt_id"`
	ModelIndex    int    `json:"model_index"`
	SamplingIndex int    `json:"sampling_index"`
}

func (id CellID) String() string {
	return fmt.Sprintf("%s/m%d/s%d", id.PromptID, id.ModelIndex, id.SamplingIndex)
}

// CellState is the position of a cell in its lifecycle.
type CellState string

const (
	CellPending   CellState = "pending"
	CellCached    CellState = "cached"
	CellInFlight  CellState = "in_flight"
	CellSucceeded CellState = "succeeded"
	CellFailed    CellState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s CellState) Terminal() bool {
	return s == CellSucceeded || s == CellFailed
}

var cellTransitions = map[CellState][]CellState{
	// pending -> failed covers cells that never started because the run was cancelled
	CellPending:  {CellCached, CellInFlight, CellFailed},
	CellCached:   {CellSucceeded},
	CellInFlight: {CellSucceeded, CellFailed},
}

// CanTransition reports whether a cell may move from one state to another.
func CanTransition(from, to CellState) bool {
	for _, next := range cellTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Cell is the unit of execution.
type Cell struct {
	ID         CellID           `json:"id"`
	PromptText string           `json:"prompt_text"`
	Model      ModelEntry       `json:"model"`
	Sampling   SamplingConfig   `json:"sampling"`
	CacheKey   string           `json:"cache_key"`
	State      CellState        `json:"state"`
	Result     *ExecutionResult `json:"result,omitempty"`
}

// Transition moves the cell forward. Backward or skipping moves are rejected.
func (c *Cell) Transition(to CellState) error {
	if !CanTransition(c.State, to) {
		return fmt.Errorf("cell %s: invalid transition %s -> %s", c.ID, c.State, to)
	}
	c.State = to
	return nil
}

// Complete attaches the terminal result and moves the cell to its terminal state.
func (c *Cell) Complete(result *ExecutionResult) error {
	if c.Result != nil {
		return fmt.Errorf("cell %s: result already set", c.ID)
	}
	to := CellFailed
	if result.Success {
		to = CellSucceeded
	}
	if err := c.Transition(to); err != nil {
		return err
	}
	c.Result = result
	return nil
}

// Succeeded reports whether the cell ended with usable output.
func (c *Cell) Succeeded() bool {
	return c.State == CellSucceeded && c.Result != nil && c.Result.Success
}

// Output returns the response text of a succeeded cell, or "".
func (c *Cell) Output() string {
	if !c.Succeeded() {
		return ""
	}
	return c.Result.Text
}

// ErrorKind classifies why a cell or an auxiliary call failed.
type ErrorKind string

const (
	ErrorKindTransient            ErrorKind = "transient_provider_error"
	ErrorKindPermanent            ErrorKind = "permanent_provider_error"
	ErrorKindCancelled            ErrorKind = "cancelled"
	ErrorKindConstraint           ErrorKind = "constraint_evaluation_error"
	ErrorKindEmbeddingUnavailable ErrorKind = "embedding_unavailable"
)

// Usage is the token accounting reported by a provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExecutionResult is the outcome of one cell. Success results carry Text and
// Usage, failures carry ErrorKind and Message.
type ExecutionResult struct {
	Success    bool      `json:"success"`
	Text       string    `json:"text,omitempty"`
	Usage      Usage     `json:"usage"`
	CostUSD    *float64  `json:"cost_usd,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Message    string    `json:"message,omitempty"`
	// Cached is set when the result came from the durable cache.
	Cached bool `json:"cached,omitempty"`
	// Shared is set when the result was produced by another cell with the same key.
	Shared     bool      `json:"shared,omitempty"`
	ObtainedAt time.Time `json:"obtained_at"`
}

// SuccessResult builds a successful result.
func SuccessResult(text string, usage Usage, duration time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Success:    true,
		Text:       text,
		Usage:      usage,
		DurationMs: duration.Milliseconds(),
		ObtainedAt: time.Now().UTC(),
	}
}

// FailureResult builds a failed result.
func FailureResult(kind ErrorKind, message string, duration time.Duration) *ExecutionResult {
	return &ExecutionResult{
		Success:    false,
		ErrorKind:  kind,
		Message:    message,
		DurationMs: duration.Milliseconds(),
		ObtainedAt: time.Now().UTC(),
	}
}

// Copy returns a shallow copy so flags can be set without touching a shared result.
func (r *ExecutionResult) Copy() *ExecutionResult {
	out := *r
	return &out
}

// EstimateCost prices a usage record. Model pricing wins over provider pricing;
// nil means no pricing is configured.
func EstimateCost(usage Usage, model ModelEntry, provider ProviderConfig) *float64 {
	var promptPrice, completionPrice *float64
	if provider.PricePer1KPrompt != nil {
		promptPrice = provider.PricePer1KPrompt
	}
	if provider.PricePer1KCompletion != nil {
		completionPrice = provider.PricePer1KCompletion
	}
	if model.Pricing != nil {
		promptPrice = &model.Pricing.PromptPer1K
		completionPrice = &model.Pricing.CompletionPer1K
	}
	if promptPrice == nil && completionPrice == nil {
		return nil
	}

	cost := 0.0
	if promptPrice != nil {
		cost += float64(usage.PromptTokens) / 1000 * *promptPrice
	}
	if completionPrice != nil {
		cost += float64(usage.CompletionTokens) / 1000 * *completionPrice
	}
	return &cost
}
