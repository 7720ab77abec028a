package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var samples = []string{
	"- otters hold hands\n- otters use tools\n- otters eat urchins",
	"1. Otters hold hands while sleeping.\n2. They use rocks as tools.",
	`{"facts": ["hands", "tools"]}`,
	"```python\nprint('otter')\n```",
	"| fact | source |\n|---|---|\n| tools | zoo |",
	"Otters are playful.",
	"",
}

func TestSimilarity_Identity(t *testing.T) {
	for _, s := range samples {
		if s == "" {
			continue
		}
		assert.Equal(t, 1.0, Similarity(s, s, nil, nil), "text %q", s)
		assert.Equal(t, 1.0, Similarity(s, s, []float64{1, 0}, []float64{0, 1}), "identical text wins over embeddings")
	}
}

func TestSimilarity_SymmetricAndBounded(t *testing.T) {
	ea := []float64{0.1, 0.7, 0.2}
	eb := []float64{0.3, -0.2, 0.9}

	for i, a := range samples {
		for j, b := range samples {
			ab := Similarity(a, b, nil, nil)
			ba := Similarity(b, a, nil, nil)
			assert.Equal(t, ab, ba, "pair %d,%d", i, j)
			assert.GreaterOrEqual(t, ab, 0.0)
			assert.LessOrEqual(t, ab, 1.0)

			abE := Similarity(a, b, ea, eb)
			baE := Similarity(b, a, eb, ea)
			assert.Equal(t, abE, baE, "pair %d,%d with embeddings", i, j)
		}
	}
}

func TestSimilarity_EmbeddingBlend(t *testing.T) {
	a, b := "the cat sat", "a dog ran"
	lexical := (Character(a, b) + Token(a, b) + Structural(a, b)) / 3

	bd := Compare(a, b, []float64{1, 0}, []float64{1, 0})
	require.NotNil(t, bd.Cosine)
	assert.InDelta(t, 1.0, *bd.Cosine, 1e-12)
	assert.InDelta(t, 0.7+0.3*lexical, bd.Combined, 1e-12)

	t.Run("missing embedding on one side falls back", func(t *testing.T) {
		bd := Compare(a, b, []float64{1, 0}, nil)
		assert.Nil(t, bd.Cosine)
		assert.InDelta(t, lexical, bd.Combined, 1e-12)
	})
}

func TestCharacter(t *testing.T) {
	assert.Equal(t, 1.0, Character("", ""))
	assert.Equal(t, 0.0, Character("abc", ""))
	assert.InDelta(t, 2.0*3/8, Character("abcd", "axbc"), 1e-12) // LCS "abc"
	assert.InDelta(t, 1.0, Character("héllo", "héllo"), 1e-12)
	assert.InDelta(t, 0.8, Character("héllo", "hello"), 1e-12, "runes, not bytes")
}

func TestToken(t *testing.T) {
	assert.Equal(t, 1.0, Token("", "  ,, "))
	assert.Equal(t, 0.0, Token("word", ""))
	assert.Equal(t, 1.0, Token("Hello, WORLD!", "world hello"))
	assert.InDelta(t, 1.0/3, Token("a b", "b c"), 1e-12)
	assert.Equal(t, []string{"strasse", "ok_1"}, Tokenize("Straße, OK_1"))
}

func TestStructural(t *testing.T) {
	bullets := "- a\n- b\n- c"
	assert.Equal(t, 1.0, Structural(bullets, "- x\n- y\n- z"))
	assert.Less(t, Structural(bullets, `{"a": 1}`), 1.0)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{-1, 0}), "negative similarity clamps to 0")
	assert.Equal(t, 0.0, Cosine([]float64{1, 0}, []float64{1}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 0}))
	assert.Equal(t, 0.0, Cosine(nil, nil))
}

func TestMeanPairwise(t *testing.T) {
	_, _, ok := MeanPairwise([]int{1}, func(a, b int) float64 { return 1 })
	assert.False(t, ok)

	mean, pairs, ok := MeanPairwise([]int{1, 2, 3}, func(a, b int) float64 {
		return float64(a + b)
	})
	require.True(t, ok)
	assert.Equal(t, 3, pairs)
	assert.InDelta(t, 4.0, mean, 1e-12) // (3+4+5)/3
}
