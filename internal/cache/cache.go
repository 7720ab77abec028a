// Package cache persists provider results and embedding vectors across runs.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/promptlint/promptlint/internal/models"
)

// Cache stores successful execution results and embedding vectors on a Backend.
// A nil *Cache is a disabled cache: reads miss and writes are dropped.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

func New(backend Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{backend: backend, logger: logger}
}

// Backend exposes the underlying store.
func (c *Cache) Backend() Backend {
	if c == nil {
		return nil
	}
	return c.backend
}

// GetResult looks up a run result. Backend errors and undecodable entries are
// logged and treated as misses.
func (c *Cache) GetResult(ctx context.Context, key string) (*models.ExecutionResult, bool) {
	if c == nil {
		return nil, false
	}

	data, ok := c.get(ctx, NamespaceRuns, key)
	if !ok {
		return nil, false
	}

	var result models.ExecutionResult
	if err := json.Unmarshal(data, &result); err != nil || !result.Success {
		c.logger.Debug("ignoring invalid cache entry", "key", key)
		return nil, false
	}
	return &result, true
}

// PutResult stores a result. Failed results are never cached.
func (c *Cache) PutResult(ctx context.Context, key string, result *models.ExecutionResult) error {
	if c == nil || result == nil || !result.Success {
		return nil
	}

	stored := result.Copy()
	stored.Cached = false
	stored.Shared = false
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	return c.backend.Put(ctx, NamespaceRuns, key, data)
}

// GetEmbedding looks up the vector for text under model.
func (c *Cache) GetEmbedding(ctx context.Context, model, text string) ([]float64, bool) {
	if c == nil {
		return nil, false
	}

	key := EmbeddingKey(model, text)
	data, ok := c.get(ctx, NamespaceEmbeddings, key)
	if !ok {
		return nil, false
	}

	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil || len(vec) == 0 {
		c.logger.Debug("ignoring invalid embedding entry", "key", key)
		return nil, false
	}
	return vec, true
}

func (c *Cache) PutEmbedding(ctx context.Context, model, text string, vec []float64) error {
	if c == nil || len(vec) == 0 {
		return nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("marshaling embedding: %w", err)
	}
	return c.backend.Put(ctx, NamespaceEmbeddings, EmbeddingKey(model, text), data)
}

// Clear removes all cached results and embeddings.
func (c *Cache) Clear(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.backend.Clear(ctx)
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.backend.Close()
}

func (c *Cache) get(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	data, ok, err := c.backend.Get(ctx, ns, key)
	if err != nil {
		c.logger.Warn("cache read failed", "namespace", ns, "key", key, "error", err)
		return nil, false
	}
	return data, ok
}
