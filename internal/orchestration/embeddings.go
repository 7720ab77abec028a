package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/promptlint/promptlint/internal/cache"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ErrEmbeddingUnavailable wraps every embedding batch failure.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embeddings maps output texts, by content hash, to their vectors. A text
// without an entry has no embedding and is compared without one.
type Embeddings map[string][]float64

// Lookup returns the vector for text.
func (e Embeddings) Lookup(text string) ([]float64, bool) {
	vec, ok := e[cache.TextHash(text)]
	return vec, ok
}

// EmbedOutputs fetches embeddings for the distinct successful outputs of m.
// Cached vectors are reused and the rest are requested in batches of the
// embedder's batch size. A failed or misaligned batch leaves its texts
// without vectors and is reported in the returned errors; other batches are
// unaffected. Without an embedder the result is empty.
func (r *Runner) EmbedOutputs(ctx context.Context, m *Matrix) (Embeddings, []error) {
	out := Embeddings{}
	if r.embedder == nil || m == nil {
		return out, nil
	}
	model := r.embedder.Model()

	seen := map[string]bool{}
	var pending []string
	for _, c := range m.Cells() {
		if !c.Succeeded() {
			continue
		}
		text := c.Output()
		hash := cache.TextHash(text)
		// embedding endpoints reject empty input
		if seen[hash] || strings.TrimSpace(text) == "" {
			continue
		}
		seen[hash] = true

		if vec, ok := r.cache.GetEmbedding(ctx, model, text); ok {
			out[hash] = vec
			continue
		}
		pending = append(pending, text)
	}

	batches := chunk(pending, r.embedder.BatchSize())
	if len(batches) == 0 {
		return out, nil
	}

	limit := r.concurrency
	if limit <= 0 {
		limit = models.DefaultConcurrency
	}

	vectors := make([][][]float64, len(batches))
	errs := make([]error, len(batches))

	var g errgroup.Group
	g.SetLimit(limit)
	for i, batch := range batches {
		g.Go(func() error {
			vectors[i], errs[i] = r.embedBatch(ctx, i, batch)
			return nil
		})
	}
	_ = g.Wait()

	var failures []error
	for i, batch := range batches {
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		for j, text := range batch {
			out[cache.TextHash(text)] = vectors[i][j]
			if err := r.cache.PutEmbedding(ctx, model, text, vectors[i][j]); err != nil {
				r.logger.Warn("failed to cache embedding", "error", err)
			}
		}
	}
	return out, failures
}

func (r *Runner) embedBatch(ctx context.Context, index int, batch []string) ([][]float64, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "promptlint.embed_batch")
	span.SetAttributes(attribute.Int("batch", index), attribute.Int("size", len(batch)))
	defer span.End()

	start := time.Now()
	vecs, err := r.embedder.Embed(ctx, batch)
	if err == nil {
		err = checkAlignment(batch, vecs)
	}

	ok := err == nil
	r.metrics.EmbeddingBatch(ok)
	r.notifyProgress(ProgressEvent{
		EventType:  EventEmbeddingBatch,
		DurationMs: time.Since(start).Milliseconds(),
		Details:    map[string]any{"batch": index, "size": len(batch), "ok": ok},
	})

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.logger.Warn("embedding batch failed", "batch", index, "size", len(batch), "error", err)
		return nil, fmt.Errorf("%w: batch %d (%d texts): %w", ErrEmbeddingUnavailable, index, len(batch), err)
	}
	return vecs, nil
}

// checkAlignment rejects a response that cannot be matched to its inputs by index.
func checkAlignment(batch []string, vecs [][]float64) error {
	if len(vecs) != len(batch) {
		return fmt.Errorf("got %d vectors for %d inputs", len(vecs), len(batch))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("empty vector at index %d", i)
		}
	}
	return nil
}

func chunk(texts []string, size int) [][]string {
	if size <= 0 {
		size = models.DefaultBatchSize
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}
