package utils

import (
	"context"
	"log/slog"

	"github.com/promptlint/promptlint/internal/orchestration"
)

// ProgressToSlog logs runner events at debug level. It is a no-op unless the
// default logger has debug enabled.
func ProgressToSlog(event orchestration.ProgressEvent) {
	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	attrs := []any{
		"type", event.EventType,
	}

	attrs = addIf(attrs, "cell", event.Cell.PromptID, event.Cell.String())
	attrs = addIf(attrs, "model", event.Model, event.Model)
	attrs = addIf(attrs, "state", event.State, event.State)
	attrs = addIf(attrs, "progress", event.CellNum, event.CellNum)
	attrs = addIf(attrs, "total", event.TotalCells, event.TotalCells)
	attrs = addIf(attrs, "duration_ms", event.DurationMs, event.DurationMs)
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	slog.Debug("Runner event", attrs...)
}

// addIf appends name and v unless present is the zero value.
func addIf[T comparable, V any](attrs []any, name string, present T, v V) []any {
	var zero T
	if present != zero {
		attrs = append(attrs, name, v)
	}

	return attrs
}
