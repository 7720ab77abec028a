package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

const fileExt = ".json.zst"

// FileBackend stores one zstd-compressed file per entry under
// <dir>/<namespace>/<key>.json.zst. An empty dir disables it.
type FileBackend struct {
	dir string
	mu  sync.Mutex
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// EncodeAll and DecodeAll are safe for concurrent use; construction only
// fails on invalid options.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, nil)
}

func decompress(data []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(data, nil)
}

// Dir is the cache root.
func (f *FileBackend) Dir() string { return f.dir }

func (f *FileBackend) Get(_ context.Context, ns Namespace, key string) ([]byte, bool, error) {
	if f.dir == "" || validKey(key) != nil {
		return nil, false, nil
	}

	compressed, err := os.ReadFile(f.path(ns, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cache file: %w", err)
	}

	data, err := decompress(compressed)
	if err != nil {
		// corrupt entry, treat as a miss
		return nil, false, nil
	}
	return data, true, nil
}

func (f *FileBackend) Put(_ context.Context, ns Namespace, key string, data []byte) error {
	if f.dir == "" {
		return nil
	}
	if err := validKey(key); err != nil {
		return err
	}

	nsDir := filepath.Join(f.dir, string(ns))
	if err := os.MkdirAll(nsDir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial entry.
	tmp, err := os.CreateTemp(nsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(compress(data)); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path(ns, key)); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}

// Clear removes the cache directory after checking it only holds cache entries.
func (f *FileBackend) Clear(context.Context) error {
	if f.dir == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.dir); os.IsNotExist(err) {
		return nil
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("reading cache directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !isNamespace(entry.Name()) {
			return fmt.Errorf("cache directory contains %q - refusing to delete for safety", entry.Name())
		}
		files, err := os.ReadDir(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading cache directory: %w", err)
		}
		for _, file := range files {
			if file.IsDir() || !isEntryFile(file.Name()) {
				return fmt.Errorf("cache directory contains non-cache file %q - refusing to delete for safety", file.Name())
			}
		}
	}

	return os.RemoveAll(f.dir)
}

func (f *FileBackend) Close() error { return nil }

func (f *FileBackend) path(ns Namespace, key string) string {
	return filepath.Join(f.dir, string(ns), key+fileExt)
}

// isEntryFile also accepts temp files left behind by an interrupted Put.
func isEntryFile(name string) bool {
	return strings.HasSuffix(name, fileExt) || strings.HasPrefix(name, ".tmp-")
}

func isNamespace(name string) bool {
	return name == string(NamespaceRuns) || name == string(NamespaceEmbeddings)
}
