package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellTransitions(t *testing.T) {
	tests := []struct {
		from, to CellState
		ok       bool
	}{
		{CellPending, CellCached, true},
		{CellPending, CellInFlight, true},
		{CellPending, CellFailed, true},
		{CellPending, CellSucceeded, false},
		{CellCached, CellSucceeded, true},
		{CellCached, CellFailed, false},
		{CellInFlight, CellSucceeded, true},
		{CellInFlight, CellFailed, true},
		{CellInFlight, CellPending, false},
		{CellSucceeded, CellPending, false},
		{CellSucceeded, CellFailed, false},
		{CellFailed, CellInFlight, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCellComplete(t *testing.T) {
	c := &Cell{ID: CellID{PromptID: "p"}, State: CellPending}
	require.NoError(t, c.Transition(CellInFlight))
	require.NoError(t, c.Complete(SuccessResult("ok", Usage{TotalTokens: 3}, time.Millisecond)))

	assert.Equal(t, CellSucceeded, c.State)
	assert.True(t, c.Succeeded())
	assert.Equal(t, "ok", c.Output())

	err := c.Complete(FailureResult(ErrorKindTransient, "late", 0))
	require.Error(t, err, "result is immutable once set")
	assert.Equal(t, "ok", c.Result.Text)
}

func TestCellComplete_FailureFromPending(t *testing.T) {
	c := &Cell{ID: CellID{PromptID: "p", ModelIndex: 1}, State: CellPending}
	require.NoError(t, c.Complete(FailureResult(ErrorKindCancelled, "run cancelled", 0)))
	assert.Equal(t, CellFailed, c.State)
	assert.False(t, c.Succeeded())
	assert.Empty(t, c.Output())
}

func TestCellComplete_SuccessNeedsStart(t *testing.T) {
	c := &Cell{State: CellPending}
	require.Error(t, c.Complete(SuccessResult("x", Usage{}, 0)))
	assert.Nil(t, c.Result)
}

func TestCellIDString(t *testing.T) {
	assert.Equal(t, "facts/m2/s1", CellID{PromptID: "facts", ModelIndex: 2, SamplingIndex: 1}.String())
}

func TestEstimateCost(t *testing.T) {
	usage := Usage{PromptTokens: 2000, CompletionTokens: 500}
	half := 0.5
	two := 2.0

	assert.Nil(t, EstimateCost(usage, ModelEntry{}, ProviderConfig{}))

	cost := EstimateCost(usage, ModelEntry{}, ProviderConfig{PricePer1KPrompt: &half, PricePer1KCompletion: &two})
	require.NotNil(t, cost)
	assert.InDelta(t, 2.0, *cost, 1e-9)

	cost = EstimateCost(usage, ModelEntry{Pricing: &Pricing{PromptPer1K: 1, CompletionPer1K: 1}},
		ProviderConfig{PricePer1KPrompt: &half})
	require.NotNil(t, cost)
	assert.InDelta(t, 2.5, *cost, 1e-9, "model pricing wins")
}
