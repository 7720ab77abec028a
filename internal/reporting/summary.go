package reporting

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/promptlint/promptlint/internal/models"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// printer groups digits in counts and costs.
var printer = message.NewPrinter(language.English)

const (
	colScore   = 7
	colPenalty = 8
	colMeasure = 9
	maxNameLen = 32
)

// shortMeasureNames are the terminal column headers.
var shortMeasureNames = map[string]string{
	models.MeasureConstraintAdherence:       "adhere",
	models.MeasureCrossModelConsistency:     "models",
	models.MeasureCrossTemperatureStability: "temps",
	models.MeasureTaskAlignment:             "format",
	models.MeasureSuccessRate:               "success",
}

// PrintSummary writes the terminal summary table.
func PrintSummary(w io.Writer, r *Report) error {
	var b strings.Builder

	b.WriteString("=" + strings.Repeat("=", 60) + "\n")
	b.WriteString(" PROMPT ROBUSTNESS\n")
	b.WriteString("=" + strings.Repeat("=", 60) + "\n\n")

	duration := time.Duration(r.Stats.DurationMs) * time.Millisecond
	score := FormatScore(r.Score.Score)
	if r.Score.Score != nil {
		score += "  " + InterpretScore(*r.Score.Score)
	}

	printer.Fprintf(&b, "Suite:          %s\n", r.Suite)
	printer.Fprintf(&b, "Robustness:     %s\n", score)
	if r.Score.CI != nil {
		printer.Fprintf(&b, "Interval:       [%.2f, %.2f] at %.0f%%\n",
			r.Score.CI.Lower, r.Score.CI.Upper, r.Score.CI.ConfidenceLevel*100)
	}
	printer.Fprintf(&b, "Cells:          %d (%s)\n", r.Stats.Total, InterpretSuccessRate(r.Stats.Succeeded, r.Stats.Total))
	printer.Fprintf(&b, "Cached/shared:  %d / %d\n", r.Stats.Cached, r.Stats.Shared)
	printer.Fprintf(&b, "Provider calls: %d\n", r.Stats.ProviderCalls)
	printer.Fprintf(&b, "Cost:           $%.4f\n", r.Score.CostUSD)
	printer.Fprintf(&b, "Duration:       %s\n\n", formatDuration(duration))

	nameWidth := len("Prompt")
	for _, p := range r.Prompts {
		if n := runewidth.StringWidth(truncateName(p.ID, maxNameLen)); n > nameWidth {
			nameWidth = n
		}
	}

	header := padRight("Prompt", nameWidth) + "  " + padRight("score", colScore) + padRight("penalty", colPenalty)
	for _, name := range models.MeasureNames {
		header += padRight(shortMeasureNames[name], colMeasure)
	}
	b.WriteString(strings.TrimRight(header, " ") + "\n")
	b.WriteString(strings.Repeat("─", runewidth.StringWidth(strings.TrimRight(header, " "))) + "\n")

	for _, p := range r.Prompts {
		line := padRight(truncateName(p.ID, maxNameLen), nameWidth) + "  " +
			padRight(FormatScore(p.Score), colScore) +
			padRight(fmt.Sprintf("%.2f", p.Penalty), colPenalty)
		for _, name := range models.MeasureNames {
			v := "-"
			for _, m := range p.Measures {
				if m.Name == name && !m.Omitted && m.Value != nil {
					v = fmt.Sprintf("%.2f", *m.Value)
				}
			}
			line += padRight(v, colMeasure)
		}
		b.WriteString(strings.TrimRight(line, " ") + "\n")
	}
	b.WriteString("\n")

	for _, p := range r.Prompts {
		if !p.Defined {
			fmt.Fprintf(&b, "⚠ %s: not scored (%s)\n", p.ID, p.Reason)
		}
		if p.ConstraintErrors > 0 {
			fmt.Fprintf(&b, "⚠ %s: %d malformed constraint rule(s) scored as 0\n", p.ID, p.ConstraintErrors)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// truncateName shortens a name to maxLen runes, replacing the last rune with "…" if needed.
func truncateName(name string, maxLen int) string {
	runes := []rune(name)
	if len(runes) <= maxLen {
		return name
	}
	return string(runes[:maxLen-1]) + "…"
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
