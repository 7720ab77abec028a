package constraints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	"github.com/promptlint/promptlint/internal/textfmt"
	"github.com/promptlint/promptlint/internal/tokens"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// MatchTimeout bounds a single regex evaluation against pathological patterns.
var MatchTimeout = 2 * time.Second

// Bounds is an inclusive range check. Unset bounds are unconstrained.
type Bounds struct {
	Exact *int `mapstructure:"exact"`
	Min   *int `mapstructure:"min"`
	Max   *int `mapstructure:"max"`
}

func (b Bounds) contains(n int) bool {
	if b.Exact != nil && n != *b.Exact {
		return false
	}
	if b.Min != nil && n < *b.Min {
		return false
	}
	if b.Max != nil && n > *b.Max {
		return false
	}
	return true
}

func compile(pattern string, opts regexp2.RegexOptions) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = MatchTimeout
	return re, nil
}

func status(passed bool) string {
	if passed {
		return "ok"
	}
	return "fail"
}

// countRule counts non-empty lines matching a pattern.
type countRule struct {
	re     *regexp2.Regexp
	bounds Bounds
}

func newCountRule(params map[string]any) (Rule, error) {
	var v struct {
		Pattern string `mapstructure:"pattern"`
		Bounds  `mapstructure:",squash"`
	}
	if err := decode(params, &v); err != nil {
		return nil, err
	}
	if v.Pattern == "" {
		v.Pattern = ".*"
	}
	re, err := compile(v.Pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	return &countRule{re: re, bounds: v.Bounds}, nil
}

func (r *countRule) Kind() Kind { return KindCount }

func (r *countRule) Check(text string) (bool, map[string]any) {
	count := 0
	for _, line := range textfmt.NonEmptyLines(text) {
		ok, err := r.re.MatchString(line)
		if err != nil {
			return false, map[string]any{"status": "error", "error": err.Error()}
		}
		if ok {
			count++
		}
	}
	passed := r.bounds.contains(count)
	return passed, map[string]any{"status": status(passed), "count": count}
}

// allLinesMatchRule requires every non-empty line to match.
type allLinesMatchRule struct {
	re *regexp2.Regexp
}

func newAllLinesMatchRule(params map[string]any) (Rule, error) {
	var v struct {
		Pattern string `mapstructure:"pattern"`
	}
	if err := decode(params, &v); err != nil {
		return nil, err
	}
	if v.Pattern == "" {
		v.Pattern = ".*"
	}
	re, err := compile(v.Pattern, regexp2.None)
	if err != nil {
		return nil, err
	}
	return &allLinesMatchRule{re: re}, nil
}

func (r *allLinesMatchRule) Kind() Kind { return KindAllLinesMatch }

func (r *allLinesMatchRule) Check(text string) (bool, map[string]any) {
	lines := textfmt.NonEmptyLines(text)
	if len(lines) == 0 {
		return false, map[string]any{"status": "empty", "matched": 0, "total": 0}
	}
	matched := 0
	for _, line := range lines {
		ok, err := r.re.MatchString(line)
		if err != nil {
			return false, map[string]any{"status": "error", "error": err.Error()}
		}
		if ok {
			matched++
		}
	}
	passed := matched == len(lines)
	return passed, map[string]any{"status": status(passed), "matched": matched, "total": len(lines)}
}

// regexRule passes when the pattern matches anywhere. Dot matches newlines.
type regexRule struct {
	re *regexp2.Regexp
}

func newRegexRule(params map[string]any) (Rule, error) {
	var v struct {
		Pattern string `mapstructure:"pattern"`
	}
	if err := decode(params, &v); err != nil {
		return nil, err
	}
	if v.Pattern == "" {
		return nil, fmt.Errorf("missing pattern")
	}
	re, err := compile(v.Pattern, regexp2.Singleline)
	if err != nil {
		return nil, err
	}
	return &regexRule{re: re}, nil
}

func (r *regexRule) Kind() Kind { return KindRegex }

func (r *regexRule) Check(text string) (bool, map[string]any) {
	ok, err := r.re.MatchString(text)
	if err != nil {
		return false, map[string]any{"status": "error", "error": err.Error()}
	}
	return ok, map[string]any{"status": status(ok)}
}

// jsonRule requires the output to parse as JSON, optionally of a given
// top-level type and conforming to a schema.
type jsonRule struct {
	expect string
	schema *jsonschema.Schema
}

func newJSONRule(params map[string]any) (Rule, error) {
	var v struct {
		Expect string         `mapstructure:"expect"`
		Schema map[string]any `mapstructure:"schema"`
	}
	if err := decode(params, &v); err != nil {
		return nil, err
	}
	switch v.Expect {
	case "", "object", "array":
	default:
		return nil, fmt.Errorf("expect must be 'object' or 'array', got %q", v.Expect)
	}

	rule := &jsonRule{expect: v.Expect}
	if v.Schema != nil {
		schema, err := compileSchema(v.Schema)
		if err != nil {
			return nil, err
		}
		rule.schema = schema
	}
	return rule, nil
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	// round-trip through JSON so YAML-decoded maps become plain JSON values
	schemaJSON, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize schema: %w", err)
	}
	schemaValue, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", schemaValue); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile JSON schema: %w", err)
	}
	return schema, nil
}

func (r *jsonRule) Kind() Kind { return KindJSON }

func (r *jsonRule) Check(text string) (bool, map[string]any) {
	value, err := jsonschema.UnmarshalJSON(strings.NewReader(strings.TrimSpace(text)))
	if err != nil {
		return false, map[string]any{"status": "invalid_json"}
	}

	switch r.expect {
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return false, map[string]any{"status": "not_object"}
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return false, map[string]any{"status": "not_array"}
		}
	}

	if r.schema != nil {
		if err := r.schema.Validate(value); err != nil {
			return false, map[string]any{"status": "schema_mismatch", "error": err.Error()}
		}
	}

	return true, map[string]any{"status": "ok"}
}

// lengthRule bounds the output size in chars, words, lines or estimated tokens.
type lengthRule struct {
	unit   string
	bounds Bounds
}

func newLengthRule(params map[string]any) (Rule, error) {
	var v struct {
		Unit   string `mapstructure:"unit"`
		Bounds `mapstructure:",squash"`
	}
	if err := decode(params, &v); err != nil {
		return nil, err
	}
	switch v.Unit {
	case "":
		v.Unit = "chars"
	case "chars", "words", "lines", "tokens":
	default:
		return nil, fmt.Errorf("unit must be chars, words, lines or tokens, got %q", v.Unit)
	}
	return &lengthRule{unit: v.Unit, bounds: v.Bounds}, nil
}

func (r *lengthRule) Kind() Kind { return KindLength }

func (r *lengthRule) Check(text string) (bool, map[string]any) {
	var value int
	switch r.unit {
	case "words":
		value = len(textfmt.Words(text))
	case "lines":
		value = len(textfmt.NonEmptyLines(text))
	case "tokens":
		value = tokens.Estimate(text)
	default:
		value = utf8.RuneCountInString(text)
	}
	passed := r.bounds.contains(value)
	return passed, map[string]any{"status": status(passed), "unit": r.unit, "value": value}
}

// containsRule checks case-sensitive substring presence, or absence when negated.
type containsRule struct {
	terms  []string
	negate bool
}

func newContainsRule(negate bool) Factory {
	return func(params map[string]any) (Rule, error) {
		var v struct {
			Term  string   `mapstructure:"term"`
			Terms []string `mapstructure:"terms"`
		}
		if err := decode(params, &v); err != nil {
			return nil, err
		}
		terms := v.Terms
		if len(terms) == 0 && v.Term != "" {
			terms = []string{v.Term}
		}
		if len(terms) == 0 {
			return nil, fmt.Errorf("missing term or terms")
		}
		return &containsRule{terms: terms, negate: negate}, nil
	}
}

func (r *containsRule) Kind() Kind {
	if r.negate {
		return KindNotContains
	}
	return KindContains
}

func (r *containsRule) Check(text string) (bool, map[string]any) {
	matches := []string{}
	for _, term := range r.terms {
		if term != "" && strings.Contains(text, term) {
			matches = append(matches, term)
		}
	}
	passed := len(matches) > 0
	if r.negate {
		passed = !passed
	}
	return passed, map[string]any{"status": status(passed), "matches": matches, "negate": r.negate}
}
