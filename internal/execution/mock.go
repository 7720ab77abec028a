package execution

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/textfmt"
	"github.com/promptlint/promptlint/internal/tokens"
)

// mockSettings is read from a mock provider's metadata.
type mockSettings struct {
	// Responses maps a model name to its fixed answer.
	Responses map[string]string `mapstructure:"responses"`
	// Fail maps a model name to "transient" or "permanent".
	Fail map[string]string `mapstructure:"fail"`
	// DelayMs delays every call.
	DelayMs int `mapstructure:"delay_ms"`
}

// MockProvider is a deterministic provider for tests and dry runs. Without a
// canned response it echoes the prompt with the model and sampling settings.
type MockProvider struct {
	cfg models.ProviderConfig

	mu        sync.Mutex
	responses map[string]string
	fail      map[string]models.ErrorKind
	delay     time.Duration
	calls     map[string]int
	total     int
}

func NewMockProvider(cfg models.ProviderConfig) *MockProvider {
	m := &MockProvider{
		cfg:       cfg,
		responses: map[string]string{},
		fail:      map[string]models.ErrorKind{},
		calls:     map[string]int{},
	}

	var settings mockSettings
	if err := mapstructure.WeakDecode(cfg.Metadata, &settings); err == nil {
		for model, text := range settings.Responses {
			m.responses[model] = text
		}
		for model, kind := range settings.Fail {
			if kind == "transient" {
				m.fail[model] = models.ErrorKindTransient
			} else {
				m.fail[model] = models.ErrorKindPermanent
			}
		}
		m.delay = time.Duration(settings.DelayMs) * time.Millisecond
	}
	return m
}

// SetResponse fixes the answer for model.
func (m *MockProvider) SetResponse(model, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[model] = text
}

// FailModel makes every call to model fail with kind.
func (m *MockProvider) FailModel(model string, kind models.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[model] = kind
}

// SetDelay holds every call for d, or until the call's context ends.
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Calls is the number of calls received.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// CallsFor is the number of calls received for model.
func (m *MockProvider) CallsFor(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[model]
}

func (m *MockProvider) Name() string     { return m.cfg.Name }
func (m *MockProvider) Identity() string { return m.cfg.Identity() }

func (m *MockProvider) Call(ctx context.Context, req CallRequest) (*CallResponse, error) {
	m.mu.Lock()
	m.total++
	m.calls[req.Model]++
	text, canned := m.responses[req.Model]
	failKind, fails := m.fail[req.Model]
	delay := m.delay
	m.mu.Unlock()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, classify(m.cfg.Name, req.Model, 0, ctx.Err())
		case <-time.After(delay):
		}
	}

	if fails {
		return nil, &ProviderError{Kind: failKind, Provider: m.cfg.Name, Model: req.Model, Err: errors.New("injected failure")}
	}
	if !canned {
		text = fmt.Sprintf("Mock response from %s (%s) for: %s", req.Model, req.Sampling.Key(), req.Prompt)
	}

	return &CallResponse{
		Text:     text,
		Usage:    tokens.EstimateUsage(req.Prompt, text),
		Attempts: 1,
	}, nil
}

// mockDims is the width of mock embedding vectors.
const mockDims = 64

// MockEmbedder hashes words into a fixed-width bag-of-words vector, so texts
// sharing vocabulary get a high cosine similarity.
type MockEmbedder struct {
	model     string
	batchSize int

	mu      sync.Mutex
	batches [][]string
	failErr error
}

func NewMockEmbedder(model string, batchSize int) *MockEmbedder {
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}
	return &MockEmbedder{model: model, batchSize: batchSize}
}

// Fail makes every following batch return err. nil restores normal behavior.
func (e *MockEmbedder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failErr = err
}

// Batches returns the inputs of every call received.
func (e *MockEmbedder) Batches() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.batches))
	copy(out, e.batches)
	return out
}

func (e *MockEmbedder) Model() string  { return e.model }
func (e *MockEmbedder) BatchSize() int { return e.batchSize }

func (e *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.batches = append(e.batches, append([]string(nil), texts...))
	failErr := e.failErr
	e.mu.Unlock()
	if failErr != nil {
		return nil, failErr
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, mockDims)
		for _, word := range textfmt.Words(strings.ToLower(text)) {
			h := fnv.New32a()
			_, _ = h.Write([]byte(word))
			vec[h.Sum32()%mockDims]++
		}
		out[i] = vec
	}
	return out, nil
}
