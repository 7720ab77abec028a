package reporting

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/promptlint/promptlint/internal/models"
)

// JUnit XML schema types

// JUnitTestSuites is the top-level container.
type JUnitTestSuites struct {
	XMLName    xml.Name         `xml:"testsuites"`
	Tests      int              `xml:"tests,attr"`
	Failures   int              `xml:"failures,attr"`
	Errors     int              `xml:"errors,attr"`
	Time       float64          `xml:"time,attr"`
	TestSuites []JUnitTestSuite `xml:"testsuite"`
}

// JUnitTestSuite maps to one run of a suite.
type JUnitTestSuite struct {
	XMLName    xml.Name        `xml:"testsuite"`
	Name       string          `xml:"name,attr"`
	Tests      int             `xml:"tests,attr"`
	Failures   int             `xml:"failures,attr"`
	Errors     int             `xml:"errors,attr"`
	Skipped    int             `xml:"skipped,attr"`
	Time       float64         `xml:"time,attr"`
	Timestamp  string          `xml:"timestamp,attr"`
	Properties []JUnitProperty `xml:"properties>property,omitempty"`
	TestCases  []JUnitTestCase `xml:"testcase"`
}

// JUnitTestCase maps to one prompt.
type JUnitTestCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *JUnitFailure `xml:"failure,omitempty"`
	Error     *JUnitError   `xml:"error,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

// JUnitFailure is a prompt scoring below the threshold.
type JUnitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitError is a prompt that could not be scored.
type JUnitError struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Body    string `xml:",chardata"`
}

// JUnitProperty is a key-value metadata entry.
type JUnitProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConvertToJUnit turns each prompt into a test case. A prompt fails when
// its score is below threshold and errors when its score is undefined.
func ConvertToJUnit(r *Report, threshold float64) *JUnitTestSuites {
	durationSec := float64(r.Stats.DurationMs) / 1000.0

	suite := JUnitTestSuite{
		Name:      r.Suite,
		Tests:     len(r.Prompts),
		Time:      durationSec,
		Timestamp: r.StartedAt.UTC().Format(time.RFC3339),
		Properties: []JUnitProperty{
			{Name: "run_id", Value: r.RunID},
			{Name: "ladder", Value: r.Ladder},
			{Name: "models", Value: modelList(r.Models)},
			{Name: "score", Value: FormatScore(r.Score.Score)},
			{Name: "threshold", Value: fmt.Sprintf("%.2f", threshold)},
			{Name: "cost_usd", Value: fmt.Sprintf("%.4f", r.Score.CostUSD)},
		},
	}

	for _, p := range r.Prompts {
		tc := convertPrompt(r.Suite, p, threshold)
		switch {
		case tc.Error != nil:
			suite.Errors++
		case tc.Failure != nil:
			suite.Failures++
		}
		suite.TestCases = append(suite.TestCases, tc)
	}

	return &JUnitTestSuites{
		Tests:      suite.Tests,
		Failures:   suite.Failures,
		Errors:     suite.Errors,
		Time:       durationSec,
		TestSuites: []JUnitTestSuite{suite},
	}
}

func convertPrompt(suiteName string, p PromptReport, threshold float64) JUnitTestCase {
	tc := JUnitTestCase{
		Name:      p.ID,
		Classname: suiteName,
		SystemOut: formatMeasures(p.Measures),
	}

	switch {
	case !p.Defined || p.Score == nil:
		tc.Error = &JUnitError{
			Message: fmt.Sprintf("%s: score undefined: %s", p.ID, p.Reason),
			Type:    "UndefinedScore",
			Body:    formatFailures(p.Failures),
		}
	case *p.Score < threshold:
		tc.Failure = &JUnitFailure{
			Message: fmt.Sprintf("%s: score=%.2f below threshold %.2f", p.ID, *p.Score, threshold),
			Type:    "BelowThreshold",
			Body:    formatFailures(p.Failures),
		}
	}
	return tc
}

func formatMeasures(measures []models.Measure) string {
	var b strings.Builder
	for _, m := range measures {
		fmt.Fprintf(&b, "%s: %s\n", m.Name, FormatMeasure(m))
	}
	return b.String()
}

func formatFailures(failures []CellFailure) string {
	var b strings.Builder
	for _, f := range failures {
		fmt.Fprintf(&b, "[%s] %s (%s): %s\n", f.Kind, f.Cell, f.Model, f.Message)
	}
	return b.String()
}

// WriteJUnit writes JUnit XML for r.
func WriteJUnit(w io.Writer, r *Report, threshold float64) error {
	data, err := xml.MarshalIndent(ConvertToJUnit(r, threshold), "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JUnit XML: %w", err)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}
