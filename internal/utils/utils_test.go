package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/orchestration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressToSlogDebugDisabled(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(old)
	})

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ProgressToSlog(orchestration.ProgressEvent{EventType: orchestration.EventCellComplete})
	assert.Equal(t, 0, buf.Len())
}

func TestProgressToSlogDebugEnabled(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(old)
	})

	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	ProgressToSlog(orchestration.ProgressEvent{
		EventType:  orchestration.EventCellComplete,
		Cell:       models.CellID{PromptID: "facts", ModelIndex: 1, SamplingIndex: 0},
		Model:      "mock/small",
		State:      models.CellSucceeded,
		CellNum:    3,
		TotalCells: 8,
		Details:    map[string]any{"error_kind": "cancelled"},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Runner event", entry["msg"])
	assert.Equal(t, "cell_complete", entry["type"])
	assert.Equal(t, "facts/m1/s0", entry["cell"])
	assert.Equal(t, "mock/small", entry["model"])
	assert.Equal(t, "succeeded", entry["state"])
	assert.EqualValues(t, 3, entry["progress"])
	assert.EqualValues(t, 8, entry["total"])
	assert.Equal(t, "cancelled", entry["error_kind"])
	assert.NotContains(t, entry, "duration_ms", "zero fields are left out")
}

func TestResolvePath(t *testing.T) {
	base := filepath.Join("/", "suites")
	abs := filepath.Join("/", "var", "cache")

	assert.Equal(t, "", ResolvePath("", base))
	assert.Equal(t, abs, ResolvePath(abs, base))
	assert.Equal(t, filepath.Join(base, ".promptlint", "cache"), ResolvePath(".promptlint/cache", base))
}
