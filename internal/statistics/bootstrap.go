package statistics

import (
	"math"
	"math/rand"
	"sort"

	"github.com/promptlint/promptlint/internal/models"
)

// DefaultBootstrapIterations is the number of bootstrap resamples.
const DefaultBootstrapIterations = 10000

// WeightedBootstrapCIWithSeed computes a percentile bootstrap confidence
// interval of the weighted mean. Each resample draws (score, weight) pairs
// together, and a nil weights slice weighs every score 1. confidenceLevel
// should be in (0, 1), e.g. 0.95. A negative seed uses a non-deterministic source.
// Returns a degenerate interval when fewer than 2 data points exist.
func WeightedBootstrapCIWithSeed(scores, weights []float64, confidenceLevel float64, seed int64) models.ConfidenceInterval {
	if weights == nil {
		weights = make([]float64, len(scores))
		for i := range weights {
			weights[i] = 1
		}
	}

	n := len(scores)
	m := weightedMean(scores, weights, nil)
	if n < 2 {
		return models.ConfidenceInterval{
			Lower:           m,
			Upper:           m,
			Mean:            m,
			ConfidenceLevel: confidenceLevel,
		}
	}

	var rng *rand.Rand
	if seed >= 0 {
		rng = rand.New(rand.NewSource(seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}

	iters := DefaultBootstrapIterations

	bootMeans := make([]float64, iters)
	idx := make([]int, n)
	for i := 0; i < iters; i++ {
		for j := 0; j < n; j++ {
			idx[j] = rng.Intn(n)
		}
		bootMeans[i] = weightedMean(scores, weights, idx)
	}

	sort.Float64s(bootMeans)

	// Percentile method
	alpha := 1.0 - confidenceLevel
	loIdx := int(math.Floor(alpha / 2.0 * float64(iters)))
	hiIdx := int(math.Floor((1.0 - alpha/2.0) * float64(iters)))
	if hiIdx >= iters {
		hiIdx = iters - 1
	}

	return models.ConfidenceInterval{
		Lower:           bootMeans[loIdx],
		Upper:           bootMeans[hiIdx],
		Mean:            m,
		ConfidenceLevel: confidenceLevel,
		NumBootstraps:   iters,
	}
}

// weightedMean over the rows named by idx, or all rows when idx is nil.
// A resample whose weights sum to zero falls back to the plain mean.
func weightedMean(scores, weights []float64, idx []int) float64 {
	if len(scores) == 0 {
		return 0
	}
	if idx == nil {
		idx = make([]int, len(scores))
		for i := range idx {
			idx[i] = i
		}
	}

	var num, den, plain float64
	for _, i := range idx {
		num += scores[i] * weights[i]
		den += weights[i]
		plain += scores[i]
	}
	if den == 0 {
		return plain / float64(len(idx))
	}
	return num / den
}
