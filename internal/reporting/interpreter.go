package reporting

import (
	"fmt"

	"github.com/promptlint/promptlint/internal/models"
)

// InterpretScore returns a plain-language label for a robustness score (0–1).
func InterpretScore(score float64) string {
	pct := score * 100
	switch {
	case pct > 90:
		return "Robust (>90%)"
	case pct >= 70:
		return "Mostly robust (70-90%)"
	case pct >= 50:
		return "Fragile (50-70%)"
	default:
		return "Unreliable (<50%)"
	}
}

// InterpretSuccessRate explains how many cells produced output.
func InterpretSuccessRate(succeeded, total int) string {
	if total == 0 {
		return "No cells ran"
	}
	pct := float64(succeeded) / float64(total) * 100
	switch {
	case succeeded == total:
		return fmt.Sprintf("Every cell answered (%.0f%%)", pct)
	case pct >= 80:
		return fmt.Sprintf("Most cells answered (%.0f%%)", pct)
	case pct >= 50:
		return fmt.Sprintf("About half the cells answered (%.0f%%)", pct)
	default:
		return fmt.Sprintf("Few cells answered (%.0f%%)", pct)
	}
}

// InterpretPenalty says what a stability penalty means for the prompt.
func InterpretPenalty(penalty float64) string {
	if penalty == 0 {
		return "Models agree with themselves across sampling configs."
	}
	return fmt.Sprintf("Some models drift across sampling configs much more than others (score reduced by %.0f%%). "+
		"Consider tightening the prompt or lowering temperature.", penalty*100)
}

// FormatScore prints a score, or "n/a" when it is undefined.
func FormatScore(score *float64) string {
	if score == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", *score)
}

// FormatMeasure prints a measure value, or the omit reason.
func FormatMeasure(m models.Measure) string {
	if m.Omitted || m.Value == nil {
		return "omitted (" + m.OmitReason + ")"
	}
	return fmt.Sprintf("%.2f", *m.Value)
}
