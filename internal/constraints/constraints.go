// Package constraints checks a single model output against a declared constraint.
package constraints

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/promptlint/promptlint/internal/models"
)

type Kind string

const (
	KindCount         Kind = "count"
	KindAllLinesMatch Kind = "all_lines_match"
	KindRegex         Kind = "regex"
	KindJSON          Kind = "json"
	KindLength        Kind = "length"
	KindContains      Kind = "contains"
	KindNotContains   Kind = "not_contains"

	// KindHeuristic marks a constraint that declared no rule and was checked
	// from its description.
	KindHeuristic Kind = "heuristic"
)

// HeuristicDefaultScore is given to description-only constraints with no recognizable hint.
const HeuristicDefaultScore = 0.5

// ErrConstraintEvaluation wraps every malformed-rule failure.
var ErrConstraintEvaluation = errors.New("constraint evaluation error")

// Rule checks one output. Implementations are pure.
type Rule interface {
	Kind() Kind
	Check(text string) (passed bool, details map[string]any)
}

// Factory builds a rule from its decoded parameters.
type Factory func(params map[string]any) (Rule, error)

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Factory{}
)

func init() {
	Register(KindCount, newCountRule)
	Register(KindAllLinesMatch, newAllLinesMatchRule)
	Register(KindRegex, newRegexRule)
	Register(KindJSON, newJSONRule)
	Register(KindLength, newLengthRule)
	Register(KindContains, newContainsRule(false))
	Register(KindNotContains, newContainsRule(true))
}

// Register adds or replaces the factory for a rule kind.
func Register(kind Kind, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[kind] = factory
}

// Kinds lists the registered rule kinds.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Create builds a rule of the given kind.
func Create(kind Kind, params map[string]any) (Rule, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		var known []string
		for _, k := range Kinds() {
			known = append(known, string(k))
		}
		return nil, fmt.Errorf("%w: '%s' is not a valid rule type (known: %s)", ErrConstraintEvaluation, kind, strings.Join(known, ", "))
	}

	rule, err := factory(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConstraintEvaluation, kind, err)
	}
	return rule, nil
}

// Result is the outcome of checking one constraint against one output.
type Result struct {
	Name    string         `json:"name"`
	Kind    Kind           `json:"kind"`
	Passed  bool           `json:"passed"`
	Score   float64        `json:"score"`
	Weight  float64        `json:"weight"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

// Outcome is the serializable form of r.
func (r Result) Outcome() models.ConstraintOutcome {
	out := models.ConstraintOutcome{
		Name:    r.Name,
		Kind:    string(r.Kind),
		Passed:  r.Passed,
		Score:   r.Score,
		Weight:  r.Weight,
		Details: r.Details,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// Evaluate checks text against c. A malformed rule never panics or returns
// an error: it scores 0 and records the problem in Details and Err.
func Evaluate(text string, c models.Constraint) Result {
	res := Result{Name: c.Name, Weight: c.Weight}

	kind, params, heuristic := resolve(c)
	if heuristic {
		return evaluateHeuristic(text, c, res)
	}
	res.Kind = kind

	rule, err := Create(kind, params)
	if err != nil {
		res.Err = err
		res.Details = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
		return res
	}

	passed, details := rule.Check(text)
	res.Passed = passed
	if passed {
		res.Score = 1
	}
	res.Details = details
	return res
}

// Adherence is the weighted mean of constraint scores for one output.
// Zero-weight constraints are reported but left out of the mean; ok is false
// when no constraint carries weight.
func Adherence(text string, cs []models.Constraint) (score float64, ok bool, results []Result) {
	results = make([]Result, 0, len(cs))
	var num, den float64
	for _, c := range cs {
		r := Evaluate(text, c)
		results = append(results, r)
		if c.Weight <= 0 {
			continue
		}
		num += c.Weight * r.Score
		den += c.Weight
	}
	if den == 0 {
		return 0, false, results
	}
	return num / den, true, results
}

// resolve picks the rule kind: rules.type first, then the constraint kind
// when it names a registered rule. Without either the constraint is heuristic.
func resolve(c models.Constraint) (Kind, map[string]any, bool) {
	if t, ok := c.Rules["type"].(string); ok && t != "" {
		return Kind(t), c.Rules, false
	}

	registryMu.RLock()
	_, known := registry[Kind(c.Kind)]
	registryMu.RUnlock()
	if known {
		return Kind(c.Kind), c.Rules, false
	}

	if len(c.Rules) > 0 {
		// rules without a type that we can infer
		return Kind(c.Kind), c.Rules, false
	}
	return "", nil, true
}

var (
	bulletPattern   = `^\s*[-*]\s+`
	numberedPattern = `^\s*\d+\.\s+`
)

func evaluateHeuristic(text string, c models.Constraint, res Result) Result {
	desc := strings.ToLower(c.Description)

	var rule Rule
	var err error
	switch {
	case strings.Contains(desc, "json"):
		rule, err = newJSONRule(map[string]any{"expect": "object"})
	case strings.Contains(desc, "bullet") || strings.Contains(desc, "list"):
		rule, err = newCountRule(map[string]any{"pattern": bulletPattern, "min": 1})
	case strings.Contains(desc, "number") || strings.Contains(desc, "step"):
		rule, err = newCountRule(map[string]any{"pattern": numberedPattern, "min": 1})
	default:
		res.Kind = KindHeuristic
		res.Score = HeuristicDefaultScore
		res.Details = map[string]any{"status": "heuristic_default"}
		return res
	}
	res.Kind = KindHeuristic
	if err != nil {
		res.Err = err
		res.Details = map[string]any{"status": "error", "error": err.Error()}
		return res
	}

	passed, details := rule.Check(text)
	res.Passed = passed
	if passed {
		res.Score = 1
	}
	details["inferred"] = string(rule.Kind())
	res.Details = details
	return res
}

func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}
