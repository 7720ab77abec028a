// Package similarity scores how alike two model outputs are.
//
// Every function is symmetric and returns a value in [0,1].
package similarity

import (
	"math"

	"github.com/promptlint/promptlint/internal/textfmt"
	"golang.org/x/text/cases"
)

// EmbeddingWeight is the share of the blended score given to cosine similarity
// when both texts have embeddings.
const EmbeddingWeight = 0.7

// Breakdown holds each signal behind a similarity score.
type Breakdown struct {
	Character  float64  `json:"character"`
	Token      float64  `json:"token"`
	Structural float64  `json:"structural"`
	Cosine     *float64 `json:"cosine,omitempty"`
	Combined   float64  `json:"combined"`
}

// Similarity blends the lexical, token and structural signals, and cosine
// similarity when both embeddings are present. Missing or empty embeddings
// on either side fall back to the lexical blend for this pair only.
func Similarity(a, b string, ea, eb []float64) float64 {
	return Compare(a, b, ea, eb).Combined
}

// Compare is Similarity with every component exposed.
func Compare(a, b string, ea, eb []float64) Breakdown {
	if a == b {
		bd := Breakdown{Character: 1, Token: 1, Structural: 1, Combined: 1}
		if len(ea) > 0 && len(eb) > 0 {
			one := 1.0
			bd.Cosine = &one
		}
		return bd
	}

	bd := Breakdown{
		Character:  Character(a, b),
		Token:      Token(a, b),
		Structural: Structural(a, b),
	}
	lexical := (bd.Character + bd.Token + bd.Structural) / 3

	if len(ea) > 0 && len(eb) > 0 {
		cos := Cosine(ea, eb)
		bd.Cosine = &cos
		bd.Combined = clamp(EmbeddingWeight*cos + (1-EmbeddingWeight)*lexical)
		return bd
	}

	bd.Combined = clamp(lexical)
	return bd
}

// Character is the normalized longest-common-subsequence ratio over runes:
// 2*LCS / (len(a)+len(b)).
func Character(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra)+len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	// keep the shorter sequence in the inner loop
	if len(rb) > len(ra) {
		ra, rb = rb, ra
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			switch {
			case ra[i-1] == rb[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}

	lcs := prev[len(rb)]
	return 2 * float64(lcs) / float64(len(ra)+len(rb))
}

// Token is the Jaccard index of the case-folded word sets. Two texts with no
// words are identical.
func Token(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// Tokenize lowercases with Unicode case folding and splits on anything that
// is not a letter, digit or underscore.
func Tokenize(s string) []string {
	return textfmt.Words(cases.Fold().String(s))
}

func tokenSet(s string) map[string]bool {
	tokens := Tokenize(s)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// Structural compares the markdown structure of two texts. Continuous
// features score 1-|a-b|/max(a,b,1); presence features score 1 on agreement.
func Structural(a, b string) float64 {
	fa, fb := textfmt.Analyze(a), textfmt.Analyze(b)

	scores := []float64{
		ratioScore(float64(fa.LineCount), float64(fb.LineCount)),
		ratioScore(fa.BulletRatio, fb.BulletRatio),
		ratioScore(fa.NumberedRatio, fb.NumberedRatio),
		ratioScore(fa.AvgLineLen, fb.AvgLineLen),
		boolScore(fa.HasJSON, fb.HasJSON),
		boolScore(fa.HasCode, fb.HasCode),
		boolScore(fa.TableRows > 0, fb.TableRows > 0),
	}

	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func ratioScore(a, b float64) float64 {
	denom := math.Max(math.Max(a, b), 1)
	return 1 - math.Min(math.Abs(a-b)/denom, 1)
}

func boolScore(a, b bool) float64 {
	if a == b {
		return 1
	}
	return 0
}

// Cosine is the cosine similarity of two vectors clamped to [0,1].
// Vectors of different length, or with zero norm, score 0.
func Cosine(u, v []float64) float64 {
	if len(u) == 0 || len(u) != len(v) {
		return 0
	}
	var dot, nu, nv float64
	for i := range u {
		dot += u[i] * v[i]
		nu += u[i] * u[i]
		nv += v[i] * v[i]
	}
	if nu == 0 || nv == 0 {
		return 0
	}
	return clamp(dot / (math.Sqrt(nu) * math.Sqrt(nv)))
}

// MeanPairwise averages fn over every unordered pair of items. ok is false
// when there are fewer than two items.
func MeanPairwise[T any](items []T, fn func(a, b T) float64) (mean float64, pairs int, ok bool) {
	if len(items) < 2 {
		return 0, 0, false
	}
	total := 0.0
	for i := 0; i < len(items); i++ {
		for j := i + 1; j < len(items); j++ {
			total += fn(items[i], items[j])
			pairs++
		}
	}
	return total / float64(pairs), pairs, true
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
