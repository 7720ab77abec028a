// Package tokens estimates token counts where a provider reports none.
package tokens

import (
	"math"
	"unicode/utf8"

	"github.com/promptlint/promptlint/internal/models"
)

const charsPerToken = 4

// Counter counts tokens in text.
type Counter interface {
	Count(text string) int
}

// EstimatingCounter approximates token count as ~4 characters per token.
type EstimatingCounter struct{}

func NewEstimatingCounter() *EstimatingCounter {
	return &EstimatingCounter{}
}

func (*EstimatingCounter) Count(text string) int {
	return Estimate(text)
}

// Estimate counts runes rather than bytes so non-Latin text is not inflated.
func Estimate(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / float64(charsPerToken)))
}

// EstimateUsage builds a Usage record from the prompt and completion text.
func EstimateUsage(prompt, completion string) models.Usage {
	in, out := Estimate(prompt), Estimate(completion)
	return models.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
}

// FillMissing returns usage unchanged when the provider reported any tokens,
// otherwise an estimate from the texts.
func FillMissing(usage models.Usage, prompt, completion string) (models.Usage, bool) {
	if usage.TotalTokens > 0 || usage.PromptTokens > 0 || usage.CompletionTokens > 0 {
		return usage, false
	}
	return EstimateUsage(prompt, completion), true
}
