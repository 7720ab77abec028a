// Package orchestration expands a suite into its cell matrix and drives every
// cell through the cache and the providers.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/promptlint/promptlint/internal/cache"
	"github.com/promptlint/promptlint/internal/execution"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownProvider is returned by Expand when a ladder entry names a
// provider the registry does not hold.
var ErrUnknownProvider = errors.New("unknown provider")

// Runner executes the cell matrix of a suite
type Runner struct {
	registry *execution.Registry
	cache    *cache.Cache
	embedder execution.Embedder
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	// Zero means the suite's run.concurrency
	concurrency int
	// Zero means each provider's timeout_s
	callTimeout time.Duration

	promptFilters []string

	// Progress tracking
	progressMu sync.Mutex
	listeners  []ProgressListener
	// emitMu serializes listener calls across workers
	emitMu sync.Mutex
}

// ProgressListener receives progress updates. Listeners are never called
// concurrently, so they may write to a shared writer without locking.
type ProgressListener func(event ProgressEvent)

// EventType represents the type of progress event
type EventType string

// EventType constants
const (
	EventRunStart       EventType = "run_start"
	EventRunComplete    EventType = "run_complete"
	EventCellStart      EventType = "cell_start"
	EventCellCached     EventType = "cell_cached"
	EventCellShared     EventType = "cell_shared"
	EventCellComplete   EventType = "cell_complete"
	EventEmbeddingBatch EventType = "embedding_batch"
)

// ProgressEvent represents a progress update
type ProgressEvent struct {
	EventType  EventType
	Cell       models.CellID
	Model      string
	CellNum    int
	TotalCells int
	State      models.CellState
	DurationMs int64
	Details    map[string]any
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCache enables the durable result cache. Without it every cell is a miss.
func WithCache(c *cache.Cache) RunnerOption {
	return func(r *Runner) {
		r.cache = c
	}
}

// WithEmbedder enables embedding requests for EmbedOutputs.
func WithEmbedder(e execution.Embedder) RunnerOption {
	return func(r *Runner) {
		r.embedder = e
	}
}

// WithConcurrency overrides the suite's run.concurrency.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// WithCallTimeout overrides every provider's timeout_s.
func WithCallTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.callTimeout = d
	}
}

func WithProgress(listener ProgressListener) RunnerOption {
	return func(r *Runner) {
		r.listeners = append(r.listeners, listener)
	}
}

func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithPromptFilters restricts the run to prompts whose ID or a tag matches one of the glob patterns.
func WithPromptFilters(patterns ...string) RunnerOption {
	return func(r *Runner) {
		r.promptFilters = patterns
	}
}

// NewRunner creates a runner over the providers in registry
func NewRunner(registry *execution.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:  registry,
		logger:    slog.Default(),
		listeners: []ProgressListener{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// OnProgress registers a progress listener
func (r *Runner) OnProgress(listener ProgressListener) {
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.listeners = append(r.listeners, listener)
}

func (r *Runner) notifyProgress(event ProgressEvent) {
	r.progressMu.Lock()
	listeners := make([]ProgressListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.progressMu.Unlock()

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	for _, listener := range listeners {
		listener(event)
	}
}

// Expand builds one pending cell per (prompt, model, sampling) combination,
// in prompt, ladder and sampling order, with its template resolved and its
// cache key computed.
func (r *Runner) Expand(suite *models.Suite) ([]*models.Cell, error) {
	prompts, err := FilterPrompts(suite.Prompts, r.promptFilters)
	if err != nil {
		return nil, err
	}

	cells := make([]*models.Cell, 0, len(prompts)*len(suite.Ladder.Models)*len(suite.Sampling))
	for _, p := range prompts {
		text, err := p.Render()
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", p.ID, err)
		}

		for mi, model := range suite.Ladder.Models {
			provider, ok := r.registry.Get(model.Provider)
			if !ok {
				return nil, fmt.Errorf("model %q: %w %q", model.Name, ErrUnknownProvider, model.Provider)
			}

			for si, sampling := range suite.Sampling {
				cells = append(cells, &models.Cell{
					ID:         models.CellID{PromptID: p.ID, ModelIndex: mi, SamplingIndex: si},
					PromptText: text,
					Model:      model,
					Sampling:   sampling,
					CacheKey:   cache.CellKey(text, model.Name, provider, sampling),
					State:      models.CellPending,
				})
			}
		}
	}
	return cells, nil
}

// runContext is the state of one Run. It is created when the run starts and
// dropped when it returns.
type runContext struct {
	cells []*models.Cell
	slots *semaphore.Weighted

	// flights is the in-flight barrier; settled keeps each key's outcome so a
	// cell that arrives after the leader finished still reuses it.
	flights singleflight.Group
	mu      sync.Mutex
	settled map[string]*models.ExecutionResult

	calls atomic.Int64
	done  atomic.Int64
}

func (rc *runContext) lookup(key string) (*models.ExecutionResult, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	res, ok := rc.settled[key]
	return res, ok
}

// resolve returns the outcome for key, running execute at most once per key
// for the whole run. shared is true when another cell produced the result.
func (rc *runContext) resolve(key string, execute func() *models.ExecutionResult) (res *models.ExecutionResult, shared bool) {
	if res, ok := rc.lookup(key); ok {
		return res, true
	}

	leader := false
	v, _, _ := rc.flights.Do(key, func() (any, error) {
		if res, ok := rc.lookup(key); ok {
			return res, nil
		}
		leader = true
		res := execute()
		rc.mu.Lock()
		rc.settled[key] = res
		rc.mu.Unlock()
		return res, nil
	})
	return v.(*models.ExecutionResult), !leader
}

// Run executes every cell of suite and returns the completed matrix. It fails
// only when the suite cannot be expanded; a cell that fails is recorded in
// the matrix and never stops the others. Once ctx is done no new provider
// call starts, and cells that have not started fail as cancelled.
func (r *Runner) Run(ctx context.Context, suite *models.Suite) (*Matrix, error) {
	cells, err := r.Expand(suite)
	if err != nil {
		return nil, err
	}

	workers := r.concurrency
	if workers <= 0 {
		workers = suite.Run.Concurrency
	}
	if workers <= 0 {
		workers = models.DefaultConcurrency
	}

	ctx, span := telemetry.Tracer().Start(ctx, "promptlint.run", trace.WithAttributes(
		attribute.String("suite", suite.Name),
		attribute.Int("cells", len(cells)),
		attribute.Int("concurrency", workers),
	))
	defer span.End()

	rc := &runContext{
		cells:   cells,
		slots:   semaphore.NewWeighted(int64(workers)),
		settled: map[string]*models.ExecutionResult{},
	}

	start := time.Now()
	r.logger.Info("starting run", "suite", suite.Name, "cells", len(cells), "concurrency", workers)
	r.notifyProgress(ProgressEvent{EventType: EventRunStart, TotalCells: len(cells)})

	var wg sync.WaitGroup
	for _, cell := range cells {
		wg.Add(1)
		go func(c *models.Cell) {
			defer wg.Done()
			r.runCell(ctx, rc, c)
		}(cell)
	}
	wg.Wait()

	duration := time.Since(start)
	m := NewMatrix(cells)
	m.providerCalls = int(rc.calls.Load())
	m.duration = duration
	r.metrics.RunFinished(duration)

	stats := m.Stats()
	span.SetAttributes(attribute.Int("succeeded", stats.Succeeded), attribute.Int("failed", stats.Failed))
	r.logger.Info("run complete",
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"cached", stats.Cached,
		"shared", stats.Shared,
		"provider_calls", stats.ProviderCalls,
		"duration", duration)
	r.notifyProgress(ProgressEvent{
		EventType:  EventRunComplete,
		TotalCells: len(cells),
		DurationMs: duration.Milliseconds(),
		Details: map[string]any{
			"succeeded":      stats.Succeeded,
			"failed":         stats.Failed,
			"provider_calls": stats.ProviderCalls,
		},
	})
	return m, nil
}

func (r *Runner) runCell(ctx context.Context, rc *runContext, cell *models.Cell) {
	if ctx.Err() != nil {
		r.settle(rc, cell, cancelledResult(ctx), false)
		return
	}

	r.notifyProgress(ProgressEvent{
		EventType:  EventCellStart,
		Cell:       cell.ID,
		Model:      cell.Model.Label(),
		TotalCells: len(rc.cells),
		State:      cell.State,
	})

	res, shared := rc.resolve(cell.CacheKey, func() *models.ExecutionResult {
		return r.execute(ctx, rc, cell)
	})
	if shared {
		r.metrics.CacheLookup("shared")
		res = res.Copy()
		res.Shared = true
	}
	r.settle(rc, cell, res, shared)
}

// execute runs a cell that leads its key: cache first, then a worker slot
// and the provider call.
func (r *Runner) execute(ctx context.Context, rc *runContext, cell *models.Cell) *models.ExecutionResult {
	if res, ok := r.cache.GetResult(ctx, cell.CacheKey); ok {
		r.metrics.CacheLookup("hit")
		res.Cached = true
		return res
	}
	if r.cache != nil {
		r.metrics.CacheLookup("miss")
	}

	if err := rc.slots.Acquire(ctx, 1); err != nil {
		return cancelledResult(ctx)
	}
	defer rc.slots.Release(1)

	if err := cell.Transition(models.CellInFlight); err != nil {
		r.logger.Error("cell state", "cell", cell.ID.String(), "error", err)
	}

	provider, _ := r.registry.Get(cell.Model.Provider)
	cfg, _ := r.registry.Config(cell.Model.Provider)
	timeout := r.timeout(cfg)

	rc.calls.Add(1)
	start := time.Now()
	// In-flight calls outlive suite cancellation and end on their own timeout.
	resp, err := provider.Call(context.WithoutCancel(ctx), execution.CallRequest{
		Model:    cell.Model.Name,
		Prompt:   cell.PromptText,
		Sampling: cell.Sampling,
		Timeout:  timeout,
	})
	elapsed := time.Since(start)

	if err != nil {
		kind := execution.KindOf(err)
		r.metrics.ObserveCall(provider.Name(), cell.Model.Name, string(kind), elapsed)
		r.logger.Warn("provider call failed",
			"cell", cell.ID.String(),
			"model", cell.Model.Label(),
			"kind", kind,
			"error", err)
		return models.FailureResult(kind, err.Error(), elapsed)
	}

	r.metrics.ObserveCall(provider.Name(), cell.Model.Name, "ok", elapsed)
	res := models.SuccessResult(resp.Text, resp.Usage, elapsed)
	res.CostUSD = models.EstimateCost(resp.Usage, cell.Model, cfg)
	r.logger.Debug("provider call succeeded",
		"cell", cell.ID.String(),
		"model", cell.Model.Label(),
		"attempts", resp.Attempts,
		"duration", elapsed)

	if err := r.cache.PutResult(ctx, cell.CacheKey, res); err != nil {
		r.logger.Warn("failed to cache result", "cell", cell.ID.String(), "error", err)
	}
	return res
}

func (r *Runner) timeout(cfg models.ProviderConfig) time.Duration {
	if r.callTimeout > 0 {
		return r.callTimeout
	}
	sec := cfg.TimeoutSec
	if sec <= 0 {
		sec = models.DefaultProviderTimeout
	}
	return time.Duration(sec * float64(time.Second))
}

// settle moves cell to its terminal state and attaches its own copy of res.
func (r *Runner) settle(rc *runContext, cell *models.Cell, res *models.ExecutionResult, shared bool) {
	if !shared {
		res = res.Copy()
	}

	var err error
	switch {
	case res.Success && res.Cached && cell.State == models.CellPending:
		err = cell.Transition(models.CellCached)
	case res.ErrorKind == models.ErrorKindCancelled && cell.State == models.CellPending:
		// never started
	case cell.State == models.CellPending:
		err = cell.Transition(models.CellInFlight)
	}
	if err == nil {
		err = cell.Complete(res)
	}
	if err != nil {
		r.logger.Error("cell state", "cell", cell.ID.String(), "error", err)
	}

	r.metrics.CellFinished(string(cell.State), string(res.ErrorKind))

	event := EventCellComplete
	switch {
	case shared:
		event = EventCellShared
	case res.Cached:
		event = EventCellCached
	}
	r.notifyProgress(ProgressEvent{
		EventType:  event,
		Cell:       cell.ID,
		Model:      cell.Model.Label(),
		CellNum:    int(rc.done.Add(1)),
		TotalCells: len(rc.cells),
		State:      cell.State,
		DurationMs: res.DurationMs,
		Details:    cellDetails(res),
	})
}

func cellDetails(res *models.ExecutionResult) map[string]any {
	if res.Success {
		return map[string]any{"tokens": res.Usage.TotalTokens}
	}
	return map[string]any{"error_kind": string(res.ErrorKind), "message": res.Message}
}

func cancelledResult(ctx context.Context) *models.ExecutionResult {
	msg := "run cancelled before the cell started"
	if err := context.Cause(ctx); err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return models.FailureResult(models.ErrorKindCancelled, msg, 0)
}
