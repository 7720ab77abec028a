package constraints

import (
	"errors"
	"testing"

	"github.com/promptlint/promptlint/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(kind string, rules map[string]any) models.Constraint {
	rules["type"] = kind
	return models.Constraint{Name: kind, Weight: 1, Rules: rules}
}

func TestEvaluate_CountBullets(t *testing.T) {
	c := rule("count", map[string]any{"pattern": `^\s*[-*]\s+`, "exact": 3})

	tests := []struct {
		name   string
		text   string
		passed bool
	}{
		{"exactly three", "- a\n- b\n- c", true},
		{"three with prose and blanks", "Facts:\n\n- a\n  * b\n- c\n", true},
		{"two", "- a\n- b", false},
		{"four", "- a\n- b\n- c\n- d", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.text, c)
			require.NoError(t, res.Err)
			assert.Equal(t, tt.passed, res.Passed)
			if tt.passed {
				assert.Equal(t, 1.0, res.Score)
			} else {
				assert.Equal(t, 0.0, res.Score)
			}
		})
	}
}

func TestEvaluate_CountBounds(t *testing.T) {
	text := "x\nx\nx"
	assert.True(t, Evaluate(text, rule("count", map[string]any{"pattern": "x", "min": 2})).Passed)
	assert.False(t, Evaluate(text, rule("count", map[string]any{"pattern": "x", "max": 2})).Passed)
	assert.True(t, Evaluate(text, rule("count", map[string]any{"pattern": "x", "min": 1, "max": 3})).Passed)
	assert.True(t, Evaluate(text, rule("count", map[string]any{"pattern": "x"})).Passed, "no bounds")

	res := Evaluate(text, rule("count", map[string]any{"pattern": "x", "exact": "3"}))
	assert.True(t, res.Passed, "string numbers decode weakly")
	assert.Equal(t, 3, res.Details["count"])
}

func TestEvaluate_AllLinesMatch(t *testing.T) {
	c := rule("all_lines_match", map[string]any{"pattern": `^\d+\.`})

	res := Evaluate("1. a\n\n2. b\n", c)
	assert.True(t, res.Passed)

	res = Evaluate("1. a\nnote\n2. b", c)
	assert.False(t, res.Passed)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 2, res.Details["matched"])
	assert.Equal(t, 3, res.Details["total"])

	res = Evaluate("  \n", c)
	assert.False(t, res.Passed)
	assert.Equal(t, "empty", res.Details["status"])
}

func TestEvaluate_Regex(t *testing.T) {
	c := rule("regex", map[string]any{"pattern": `start.*end`})
	assert.True(t, Evaluate("start\nmiddle\nend", c).Passed, "dot matches newline")
	assert.False(t, Evaluate("end then start", c).Passed)

	lookahead := rule("regex", map[string]any{"pattern": `^(?=.*otter)(?=.*tool)`})
	assert.True(t, Evaluate("otters use a tool", lookahead).Passed)
	assert.False(t, Evaluate("otters swim", lookahead).Passed)
}

func TestEvaluate_JSON(t *testing.T) {
	plain := rule("json", map[string]any{})
	assert.True(t, Evaluate(` [1, 2] `, plain).Passed)
	assert.False(t, Evaluate(`{"a": }`, plain).Passed)
	assert.False(t, Evaluate(``, plain).Passed)

	obj := rule("json", map[string]any{"expect": "object"})
	assert.True(t, Evaluate(`{"a": 1}`, obj).Passed)
	res := Evaluate(`[1]`, obj)
	assert.False(t, res.Passed)
	assert.Equal(t, "not_object", res.Details["status"])

	arr := rule("json", map[string]any{"expect": "array"})
	assert.True(t, Evaluate(`[]`, arr).Passed)
	assert.False(t, Evaluate(`{}`, arr).Passed)

	schema := rule("json", map[string]any{
		"expect": "object",
		"schema": map[string]any{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
				"age":  map[string]any{"type": "integer"},
			},
		},
	})
	assert.True(t, Evaluate(`{"name": "otter", "age": 3}`, schema).Passed)
	res = Evaluate(`{"age": 3}`, schema)
	assert.False(t, res.Passed)
	assert.Equal(t, "schema_mismatch", res.Details["status"])
}

func TestEvaluate_Length(t *testing.T) {
	assert.True(t, Evaluate("héllo", rule("length", map[string]any{"max": 5})).Passed, "chars are runes")
	assert.False(t, Evaluate("hello!", rule("length", map[string]any{"unit": "chars", "max": 5})).Passed)
	assert.True(t, Evaluate("one two, three", rule("length", map[string]any{"unit": "words", "exact": 3})).Passed)
	assert.True(t, Evaluate("a\n\nb\n", rule("length", map[string]any{"unit": "lines", "min": 2, "max": 2})).Passed)
	assert.True(t, Evaluate("twelve chars", rule("length", map[string]any{"unit": "tokens", "max": 3})).Passed)
	assert.False(t, Evaluate("thirteen char", rule("length", map[string]any{"unit": "tokens", "max": 3})).Passed)
}

func TestEvaluate_Contains(t *testing.T) {
	assert.True(t, Evaluate("Otters", rule("contains", map[string]any{"term": "Otter"})).Passed)
	assert.False(t, Evaluate("otters", rule("contains", map[string]any{"term": "Otter"})).Passed, "case sensitive")
	assert.True(t, Evaluate("b", rule("contains", map[string]any{"terms": []any{"a", "b"}})).Passed)

	assert.True(t, Evaluate("clean", rule("not_contains", map[string]any{"terms": []string{"TODO", "FIXME"}})).Passed)
	res := Evaluate("a TODO here", rule("not_contains", map[string]any{"terms": []string{"TODO"}}))
	assert.False(t, res.Passed)
	assert.Equal(t, []string{"TODO"}, res.Details["matches"])
}

func TestEvaluate_MalformedRules(t *testing.T) {
	tests := []struct {
		name string
		c    models.Constraint
	}{
		{"invalid regex", rule("regex", map[string]any{"pattern": "(unclosed"})},
		{"missing pattern", rule("regex", map[string]any{})},
		{"unknown type", rule("sentiment", map[string]any{})},
		{"bad unit", rule("length", map[string]any{"unit": "pages"})},
		{"bad expect", rule("json", map[string]any{"expect": "string"})},
		{"missing terms", rule("contains", map[string]any{})},
		{"bad bound type", rule("count", map[string]any{"exact": "three"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var res Result
			require.NotPanics(t, func() { res = Evaluate("anything", tt.c) })
			assert.False(t, res.Passed)
			assert.Equal(t, 0.0, res.Score)
			require.Error(t, res.Err)
			assert.True(t, errors.Is(res.Err, ErrConstraintEvaluation))
			assert.Equal(t, "error", res.Details["status"])
		})
	}
}

func TestCreate_UnknownKindListsKnown(t *testing.T) {
	_, err := Create("sentiment", nil)
	require.ErrorIs(t, err, ErrConstraintEvaluation)
	assert.Contains(t, err.Error(), "'sentiment' is not a valid rule type")
	assert.Contains(t, err.Error(), "known: all_lines_match, contains, count, json, length, not_contains, regex")
}

func TestEvaluate_KindWithoutRuleType(t *testing.T) {
	c := models.Constraint{Name: "is-json", Kind: "json", Weight: 1}
	assert.True(t, Evaluate(`{}`, c).Passed)
}

func TestEvaluate_Heuristic(t *testing.T) {
	tests := []struct {
		desc  string
		text  string
		score float64
	}{
		{"Respond in JSON", `{"a": 1}`, 1},
		{"Respond in JSON", `[1]`, 0},
		{"Use a bullet list", "- a", 1},
		{"Number each step", "1. a", 1},
		{"Number each step", "a", 0},
		{"Be friendly", "hi", HeuristicDefaultScore},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			res := Evaluate(tt.text, models.Constraint{Name: "h", Kind: "semantic", Description: tt.desc, Weight: 1})
			assert.Equal(t, KindHeuristic, res.Kind)
			assert.Equal(t, tt.score, res.Score)
		})
	}
}

func TestAdherence(t *testing.T) {
	cs := []models.Constraint{
		{Name: "a", Weight: 3, Rules: map[string]any{"type": "contains", "term": "x"}},
		{Name: "b", Weight: 1, Rules: map[string]any{"type": "contains", "term": "y"}},
		{Name: "ignored", Weight: 0, Rules: map[string]any{"type": "contains", "term": "z"}},
	}

	score, ok, results := Adherence("x", cs)
	require.True(t, ok)
	assert.InDelta(t, 0.75, score, 1e-12)
	assert.Len(t, results, 3, "zero-weight constraints still report")

	score, ok, _ = Adherence("xy", cs)
	require.True(t, ok)
	assert.Equal(t, 1.0, score, "a failing zero-weight constraint does not count")

	_, ok, _ = Adherence("x", cs[2:])
	assert.False(t, ok)

	_, ok, results = Adherence("x", nil)
	assert.False(t, ok)
	assert.Empty(t, results)
}

type alwaysRule struct{}

func (alwaysRule) Kind() Kind                          { return "always" }
func (alwaysRule) Check(string) (bool, map[string]any) { return true, map[string]any{} }

func TestRegister(t *testing.T) {
	Register("always", func(map[string]any) (Rule, error) { return alwaysRule{}, nil })
	t.Cleanup(func() {
		registryMu.Lock()
		delete(registry, "always")
		registryMu.Unlock()
	})

	assert.Contains(t, Kinds(), Kind("always"))
	assert.True(t, Evaluate("", rule("always", map[string]any{})).Passed)
}

func TestResult_Outcome(t *testing.T) {
	out := Evaluate("x", rule("regex", map[string]any{"pattern": "(unclosed"})).Outcome()
	assert.Equal(t, "regex", out.Kind)
	assert.False(t, out.Passed)
	assert.Contains(t, out.Error, "invalid pattern")

	out = Evaluate("x", rule("contains", map[string]any{"term": "x"})).Outcome()
	assert.True(t, out.Passed)
	assert.Equal(t, 1.0, out.Score)
	assert.Empty(t, out.Error)
}
