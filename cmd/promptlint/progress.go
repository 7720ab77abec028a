package main

import (
	"fmt"
	"io"
	"time"

	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/orchestration"
	"github.com/promptlint/promptlint/internal/spinner"
)

func verboseProgressListener(w io.Writer) orchestration.ProgressListener {
	return func(event orchestration.ProgressEvent) {
		switch event.EventType {
		case orchestration.EventRunStart:
			fmt.Fprintf(w, "Starting run with %d cell(s)...\n\n", event.TotalCells) //nolint:errcheck
		case orchestration.EventCellCached:
			fmt.Fprintf(w, "✓ [%d/%d] %s %s [cached]\n", event.CellNum, event.TotalCells, event.Cell, event.Model) //nolint:errcheck
		case orchestration.EventCellShared:
			fmt.Fprintf(w, "✓ [%d/%d] %s %s [shared]\n", event.CellNum, event.TotalCells, event.Cell, event.Model) //nolint:errcheck
		case orchestration.EventCellComplete:
			icon := "✓"
			suffix := ""
			if event.State != models.CellSucceeded {
				icon = "✗"
				if kind, ok := event.Details["error_kind"]; ok {
					suffix = fmt.Sprintf(" [%v]", kind)
				}
			}
			duration := time.Duration(event.DurationMs) * time.Millisecond
			fmt.Fprintf(w, "%s [%d/%d] %s %s (%v)%s\n", //nolint:errcheck
				icon, event.CellNum, event.TotalCells, event.Cell, event.Model, duration, suffix)
		case orchestration.EventEmbeddingBatch:
			if ok, _ := event.Details["ok"].(bool); !ok {
				fmt.Fprintf(w, "  [EMBEDDINGS] batch %v failed, using lexical similarity\n", event.Details["batch"]) //nolint:errcheck
			}
		case orchestration.EventRunComplete:
			duration := time.Duration(event.DurationMs) * time.Millisecond
			fmt.Fprintf(w, "\nRun completed in %v\n\n", duration) //nolint:errcheck
		}
	}
}

func spinnerProgressListener(s *spinner.Spinner) orchestration.ProgressListener {
	return func(event orchestration.ProgressEvent) {
		switch event.EventType {
		case orchestration.EventCellCached, orchestration.EventCellShared, orchestration.EventCellComplete:
			s.Update(fmt.Sprintf("%d/%d cells", event.CellNum, event.TotalCells))
		case orchestration.EventEmbeddingBatch:
			s.Update("Embedding outputs")
		}
	}
}
