package reporting

import (
	"bytes"
	"cmp"
	"fmt"
	"html"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/promptlint/promptlint/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// formatDuration formats a duration in a consistent, human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Round(time.Millisecond).String()
}

// escapeCell keeps a value inside one markdown table cell.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// FormatMarkdownReport renders the report as a markdown document, suitable
// for a PR comment.
func FormatMarkdownReport(r *Report) string {
	var b strings.Builder

	duration := time.Duration(r.Stats.DurationMs) * time.Millisecond

	fmt.Fprintf(&b, "## promptlint: %s\n\n", r.Suite)

	score := FormatScore(r.Score.Score)
	label := "undefined"
	if r.Score.Score != nil {
		label = InterpretScore(*r.Score.Score)
	}
	fmt.Fprintf(&b, "**Robustness:** %s (%s) | **Duration:** %s | **Cost:** $%.4f\n\n",
		score, label, formatDuration(duration), r.Score.CostUSD)

	if r.Score.CI != nil {
		fmt.Fprintf(&b, "- **%.0f%% CI:** [%.2f, %.2f]\n",
			r.Score.CI.ConfidenceLevel*100, r.Score.CI.Lower, r.Score.CI.Upper)
	}
	fmt.Fprintf(&b, "- **Prompts:** %d scored of %d\n", r.Score.DefinedCount, r.Score.PromptCount)
	fmt.Fprintf(&b, "- **Cells:** %d total, %d succeeded, %d failed, %d cached, %d shared\n",
		r.Stats.Total, r.Stats.Succeeded, r.Stats.Failed, r.Stats.Cached, r.Stats.Shared)
	fmt.Fprintf(&b, "- **Provider calls:** %d\n", r.Stats.ProviderCalls)
	fmt.Fprintf(&b, "- **Ladder:** %s (%s)\n\n", r.Ladder, modelList(r.Models))

	b.WriteString("### Prompt Scores\n\n")
	b.WriteString("| Prompt | Score | Penalty |")
	for _, name := range models.MeasureNames {
		fmt.Fprintf(&b, " %s |", name)
	}
	b.WriteString("\n|--------|-------|---------|")
	for range models.MeasureNames {
		b.WriteString("------|")
	}
	b.WriteString("\n")

	for _, p := range r.Prompts {
		fmt.Fprintf(&b, "| %s | %s | %.2f |", escapeCell(p.ID), FormatScore(p.Score), p.Penalty)
		for _, name := range models.MeasureNames {
			cell := "-"
			for _, m := range p.Measures {
				if m.Name == name {
					cell = FormatMeasure(m)
				}
			}
			fmt.Fprintf(&b, " %s |", escapeCell(cell))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	var undefined []PromptReport
	for _, p := range r.Prompts {
		if !p.Defined {
			undefined = append(undefined, p)
		}
	}
	if len(undefined) > 0 {
		b.WriteString("### ⚠️ Unscored Prompts\n\n")
		for _, p := range undefined {
			fmt.Fprintf(&b, "- **%s**: %s\n", p.ID, p.Reason)
		}
		b.WriteString("\n")
	}

	if r.Stats.Failed > 0 {
		b.WriteString("### Failed Cells\n\n")
		b.WriteString("| Cell | Model | Sampling | Kind | Message |\n")
		b.WriteString("|------|-------|----------|------|---------|\n")
		for _, p := range r.Prompts {
			for _, f := range p.Failures {
				fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n",
					escapeCell(f.Cell), escapeCell(f.Model), escapeCell(f.Sampling), f.Kind, escapeCell(f.Message))
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "**Run:** %s | **Started:** %s\n", r.RunID, r.StartedAt.UTC().Format(time.RFC3339))

	return b.String()
}

// modelList names the ladder with higher tiers first. Ties keep declared order.
func modelList(refs []ModelRef) string {
	ordered := slices.Clone(refs)
	slices.SortStableFunc(ordered, func(a, b ModelRef) int { return cmp.Compare(b.Tier, a.Tier) })

	names := make([]string, 0, len(ordered))
	for _, m := range ordered {
		names = append(names, m.Provider+"/"+m.Name)
	}
	return strings.Join(names, ", ")
}

var htmlRenderer = goldmark.New(goldmark.WithExtensions(extension.Table))

// WriteHTML renders the markdown report to a standalone HTML page.
func WriteHTML(w io.Writer, r *Report) error {
	var body bytes.Buffer
	if err := htmlRenderer.Convert([]byte(FormatMarkdownReport(r)), &body); err != nil {
		return fmt.Errorf("rendering HTML report: %w", err)
	}

	_, err := fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>promptlint: %s</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 72rem; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 0.25rem 0.5rem; text-align: left; }
</style>
</head>
<body>
%s</body>
</html>
`, html.EscapeString(r.Suite), body.String())
	return err
}
