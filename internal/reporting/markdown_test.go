package reporting

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "450ms", formatDuration(450*time.Millisecond))
	assert.Equal(t, "1m1.5s", formatDuration(61500*time.Millisecond))
}

func TestFormatMarkdownReport(t *testing.T) {
	md := FormatMarkdownReport(newTestReport())

	assert.Contains(t, md, "## promptlint: support-replies")
	assert.Contains(t, md, "**Robustness:** 0.95 (Robust (>90%))")
	assert.Contains(t, md, "- **95% CI:** [0.95, 0.95]")
	assert.Contains(t, md, "- **Prompts:** 1 scored of 2")
	assert.Contains(t, md, "- **Cells:** 5 total, 3 succeeded, 2 failed, 1 cached, 0 shared")
	assert.Contains(t, md, "- **Ladder:** size (openai/gpt-4o, openai/gpt-4o-mini)")

	assert.Contains(t, md, "| refund | 0.95 | 0.00 | 1.00 | omitted (fewer_than_two_outputs) | 1.00 | 1.00 | 0.75 |")
	assert.Contains(t, md, "| outage | n/a | 0.00 | omitted (no_constraints) | - | - | - | 0.00 |")

	assert.Contains(t, md, "### ⚠️ Unscored Prompts")
	assert.Contains(t, md, "- **outage**: no successful cells")

	assert.Contains(t, md, "### Failed Cells")
	assert.Contains(t, md, `provider call timed out \| 60s`, "pipes are escaped inside table cells")
	assert.Contains(t, md, "**Run:** run-1 | **Started:** 2026-03-02T09:00:00Z")
}

func TestFormatMarkdownReport_NoFailures(t *testing.T) {
	r := newTestReport()
	r.Stats.Failed = 0
	r.Prompts = r.Prompts[:1]
	r.Prompts[0].Defined = true

	md := FormatMarkdownReport(r)
	assert.NotContains(t, md, "### Failed Cells")
	assert.NotContains(t, md, "Unscored Prompts")
}

func TestModelList_TierOrder(t *testing.T) {
	refs := []ModelRef{
		{Index: 0, Provider: "p", Name: "a", Tier: 1},
		{Index: 1, Provider: "p", Name: "b", Tier: 3},
		{Index: 2, Provider: "p", Name: "c", Tier: 1},
		{Index: 3, Provider: "p", Name: "d", Tier: 2},
	}
	assert.Equal(t, "p/b, p/d, p/a, p/c", modelList(refs))
	assert.Equal(t, "a", refs[0].Name, "input order untouched")
}

func TestWriteHTML(t *testing.T) {
	r := newTestReport()
	r.Suite = "<script>alert(1)</script>"

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, r))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	assert.Contains(t, out, "<title>promptlint: &lt;script&gt;alert(1)&lt;/script&gt;</title>")
	assert.NotContains(t, out, "<script>", "raw HTML from suite data is never rendered")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<td>refund</td>")
	assert.Contains(t, out, "<h3>Failed Cells</h3>")
}
