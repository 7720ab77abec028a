package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/promptlint/promptlint/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubConfirm(t *testing.T, answer bool) *string {
	t.Helper()
	var asked string
	orig := promptConfirm
	promptConfirm = func(_ io.Reader, _ io.Writer, question string) bool {
		asked = question
		return answer
	}
	t.Cleanup(func() { promptConfirm = orig })
	return &asked
}

func TestCacheClear_WithYes(t *testing.T) {
	suitePath := createTestSuite(t, false)
	cacheDir := filepath.Join(t.TempDir(), "cache")

	_, err := executeRoot(t, "run", suitePath, "--cache-dir", cacheDir)
	require.NoError(t, err)

	asked := stubConfirm(t, false)
	out, err := executeRoot(t, "cache", "clear", "--cache-dir", cacheDir, "--yes")
	require.NoError(t, err)
	assert.Empty(t, *asked, "--yes skips the prompt")
	assert.Contains(t, out, "Cache cleared: file cache at "+cacheDir)

	out, err = executeRoot(t, "run", suitePath, "--cache-dir", cacheDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Provider calls: 4")
}

func TestCacheClear_Confirmed(t *testing.T) {
	cacheDir := filepath.Join(t.TempDir(), "cache")
	asked := stubConfirm(t, true)

	out, err := executeRoot(t, "cache", "clear", "--cache-dir", cacheDir)
	require.NoError(t, err)
	assert.Equal(t, "Clear the file cache at "+cacheDir+"?", *asked)
	assert.Contains(t, out, "Cache cleared")
}

func TestCacheClear_Declined(t *testing.T) {
	cacheDir := t.TempDir()
	marker := filepath.Join(cacheDir, "keep.txt")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))
	stubConfirm(t, false)

	_, err := executeRoot(t, "cache", "clear", "--cache-dir", cacheDir)
	require.ErrorIs(t, err, errNotConfirmed)
	assert.FileExists(t, marker)
}

func TestCacheClear_FromSuite(t *testing.T) {
	dir := t.TempDir()
	suite := `name: cached
providers:
  - name: local
    kind: mock
ladder:
  models:
    - provider: local
      name: small
prompts:
  - id: p
    text: hi
run:
  cache:
    backend: memory
`
	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(suite), 0o644))

	out, err := executeRoot(t, "cache", "clear", "--suite", path, "--yes")
	require.NoError(t, err)
	assert.Equal(t, "Cache cleared: memory\n", out)
}

func TestCacheClear_RejectsArgs(t *testing.T) {
	_, err := executeRoot(t, "cache", "clear", "extra")
	assert.Error(t, err)
}

func TestDefaultPromptConfirm_NotATerminal(t *testing.T) {
	assert.False(t, defaultPromptConfirm(nil, io.Discard, "Clear?"))
}

func TestResolvedCachePath(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		name     string
		settings models.CacheSettings
		override string
		want     string
	}{
		{"relative file dir", models.CacheSettings{Backend: "file", Path: ".promptlint/cache"}, "", filepath.Join(base, ".promptlint/cache")},
		{"override wins", models.CacheSettings{Backend: "file", Path: "x"}, "/tmp/other", "/tmp/other"},
		{"sqlite in memory", models.CacheSettings{Backend: "sqlite", Path: ":memory:"}, "", ":memory:"},
		{"sqlite uri", models.CacheSettings{Backend: "sqlite", Path: "file:c.db?cache=shared"}, "", "file:c.db?cache=shared"},
		{"sqlite file", models.CacheSettings{Backend: "sqlite", Path: "cache.db"}, "", filepath.Join(base, "cache.db")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolvedCachePath(tt.settings, tt.override, base))
		})
	}
}
