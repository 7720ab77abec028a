package orchestration

import (
	"time"

	"github.com/promptlint/promptlint/internal/models"
)

// Matrix is a completed run, keyed by cell identity. Its contents never
// depend on the order in which cells finished.
type Matrix struct {
	cells    []*models.Cell
	index    map[models.CellID]*models.Cell
	byPrompt map[string][]*models.Cell
	prompts  []string

	providerCalls int
	duration      time.Duration
}

// NewMatrix indexes cells. The slice order is kept as the expansion order.
func NewMatrix(cells []*models.Cell) *Matrix {
	m := &Matrix{
		cells:    cells,
		index:    make(map[models.CellID]*models.Cell, len(cells)),
		byPrompt: map[string][]*models.Cell{},
	}
	for _, c := range cells {
		m.index[c.ID] = c
		if _, seen := m.byPrompt[c.ID.PromptID]; !seen {
			m.prompts = append(m.prompts, c.ID.PromptID)
		}
		m.byPrompt[c.ID.PromptID] = append(m.byPrompt[c.ID.PromptID], c)
	}
	return m
}

// Cells returns every cell in expansion order.
func (m *Matrix) Cells() []*models.Cell {
	return m.cells
}

func (m *Matrix) Len() int {
	return len(m.cells)
}

func (m *Matrix) Get(id models.CellID) (*models.Cell, bool) {
	c, ok := m.index[id]
	return c, ok
}

// ByPrompt returns the cells of one prompt in expansion order.
func (m *Matrix) ByPrompt(promptID string) []*models.Cell {
	return m.byPrompt[promptID]
}

// PromptIDs lists the prompts present in the matrix, in suite order.
func (m *Matrix) PromptIDs() []string {
	return m.prompts
}

// Stats counts cells by outcome. Cost covers live provider calls only:
// cached and shared results cost nothing in this run.
func (m *Matrix) Stats() models.RunStats {
	stats := models.RunStats{
		Total:         len(m.cells),
		ProviderCalls: m.providerCalls,
		DurationMs:    m.duration.Milliseconds(),
	}
	for _, c := range m.cells {
		res := c.Result
		switch {
		case c.Succeeded():
			stats.Succeeded++
		case c.State == models.CellFailed:
			stats.Failed++
		}
		if res == nil {
			continue
		}
		switch {
		case res.Shared:
			stats.Shared++
		case res.Cached:
			stats.Cached++
		case res.CostUSD != nil:
			stats.CostUSD += *res.CostUSD
		}
	}
	return stats
}
