package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/promptlint/promptlint/internal/models"
)

// Namespace separates run results from embedding vectors in a backend.
type Namespace string

const (
	NamespaceRuns       Namespace = "runs"
	NamespaceEmbeddings Namespace = "embeddings"
)

// Backend stores opaque payloads by namespace and key.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns ok=false on a miss. err is reserved for backend failures.
	Get(ctx context.Context, ns Namespace, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, ns Namespace, key string, data []byte) error
	// Clear removes every entry in every namespace.
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the backend named by settings. ApplyDefaults should already
// have filled in the path for file and badger.
func Open(ctx context.Context, settings models.CacheSettings, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := time.Duration(settings.TTLSeconds) * time.Second

	switch settings.Backend {
	case "", "file":
		return NewFileBackend(settings.Path), nil
	case "memory":
		return NewMemoryBackend(), nil
	case "badger":
		return OpenBadger(BadgerConfig{Path: settings.Path, TTL: ttl, Logger: logger})
	case "sqlite":
		return OpenSQLite(settings.Path)
	case "redis":
		return ConnectRedis(ctx, settings.URL, ttl)
	case "azblob":
		return NewBlobBackend(settings.URL, settings.Container, nil)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", settings.Backend)
	}
}

// validKey rejects keys that could escape a namespace when used as a path or prefix.
func validKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\:`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid cache key %q", key)
	}
	return nil
}
