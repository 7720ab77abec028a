package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/promptlint/promptlint/internal/models"
	"github.com/promptlint/promptlint/internal/tokens"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const tracerName = "github.com/promptlint/promptlint/internal/execution"

// openAIClient is the subset of [*openai.Client] used here.
type openAIClient interface {
	// CreateChatCompletion maps to [openai.Client.CreateChatCompletion]
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)

	// CreateEmbeddings maps to [openai.Client.CreateEmbeddings]
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// openAIParams are the extra request fields accepted under metadata.params.
type openAIParams struct {
	PresencePenalty  float32  `mapstructure:"presence_penalty"`
	FrequencyPenalty float32  `mapstructure:"frequency_penalty"`
	Stop             []string `mapstructure:"stop"`
	User             string   `mapstructure:"user"`
}

// OpenAIProvider calls any /chat/completions compatible endpoint.
type OpenAIProvider struct {
	cfg     models.ProviderConfig
	client  openAIClient
	keyErr  error
	params  openAIParams
	limiter *rate.Limiter
	retry   RetryConfig
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewOpenAIProvider(cfg models.ProviderConfig, opts ...Option) (*OpenAIProvider, error) {
	o := buildOptions(cfg, opts)

	var params openAIParams
	if raw, ok := cfg.Metadata["params"]; ok {
		if err := mapstructure.WeakDecode(raw, &params); err != nil {
			return nil, fmt.Errorf("metadata.params: %w", err)
		}
	}

	// A missing key fails each call rather than the whole run.
	key, keyErr := apiKey(cfg)

	return &OpenAIProvider{
		cfg:     cfg,
		client:  newOpenAIClient(cfg, key, o),
		keyErr:  keyErr,
		params:  params,
		limiter: limiter(cfg),
		retry:   *o.retry,
		tracer:  otel.Tracer(tracerName),
		logger:  o.logger,
	}, nil
}

func newOpenAIClient(cfg models.ProviderConfig, key string, o options) *openai.Client {
	config := openai.DefaultConfig(key)
	if cfg.APIBase != "" {
		config.BaseURL = cfg.APIBase
	}
	config.HTTPClient = httpClient(o.httpClient, cfg.Headers)
	return openai.NewClientWithConfig(config)
}

func (p *OpenAIProvider) Name() string     { return p.cfg.Name }
func (p *OpenAIProvider) Identity() string { return p.cfg.Identity() }

func (p *OpenAIProvider) Call(ctx context.Context, req CallRequest) (*CallResponse, error) {
	if p.keyErr != nil {
		return nil, Permanent(p.cfg.Name, req.Model, p.keyErr)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	ctx, span := p.tracer.Start(ctx, "provider.call", trace.WithAttributes(
		attribute.String("provider", p.cfg.Name),
		attribute.String("model", req.Model),
	))
	defer span.End()

	request := openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:        req.Sampling.MaxTokens,
		Temperature:      temperature(req.Sampling.Temperature),
		TopP:             float32(req.Sampling.TopP),
		Seed:             req.Sampling.Seed,
		PresencePenalty:  p.params.PresencePenalty,
		FrequencyPenalty: p.params.FrequencyPenalty,
		Stop:             p.params.Stop,
		User:             p.params.User,
	}

	attempts := 0
	resp, err := RetryWithBackoff(ctx, p.retry, "chat_completion", IsTransient, func() (openai.ChatCompletionResponse, error) {
		attempts++
		if err := wait(ctx, p.limiter); err != nil {
			return openai.ChatCompletionResponse{}, classify(p.cfg.Name, req.Model, 0, err)
		}
		resp, err := p.client.CreateChatCompletion(ctx, request)
		if err != nil {
			return resp, classify(p.cfg.Name, req.Model, openAIStatus(err), err)
		}
		return resp, nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	} else {
		p.logger.Debug("no choices in completion", "provider", p.cfg.Name, "model", req.Model)
	}

	usage, estimated := tokens.FillMissing(models.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, req.Prompt, text)
	if estimated {
		p.logger.Debug("endpoint reported no usage, estimating tokens", "provider", p.cfg.Name, "model", req.Model)
	}

	return &CallResponse{
		Text:     text,
		Usage:    usage,
		Attempts: attempts,
	}, nil
}

// OpenAIEmbedder calls a /embeddings compatible endpoint.
type OpenAIEmbedder struct {
	cfg       models.ProviderConfig
	model     string
	batchSize int
	client    openAIClient
	keyErr    error
	limiter   *rate.Limiter
	retry     RetryConfig
	tracer    trace.Tracer
}

func NewOpenAIEmbedder(cfg models.ProviderConfig, settings models.EmbeddingSettings, opts ...Option) (*OpenAIEmbedder, error) {
	o := buildOptions(cfg, opts)
	key, keyErr := apiKey(cfg)

	batchSize := settings.BatchSize
	if batchSize <= 0 {
		batchSize = models.DefaultBatchSize
	}

	return &OpenAIEmbedder{
		cfg:       cfg,
		model:     settings.Model,
		batchSize: batchSize,
		client:    newOpenAIClient(cfg, key, o),
		keyErr:    keyErr,
		limiter:   limiter(cfg),
		retry:     *o.retry,
		tracer:    otel.Tracer(tracerName),
	}, nil
}

func (e *OpenAIEmbedder) Model() string  { return e.model }
func (e *OpenAIEmbedder) BatchSize() int { return e.batchSize }

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.keyErr != nil {
		return nil, Permanent(e.cfg.Name, e.model, e.keyErr)
	}
	if e.cfg.TimeoutSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.TimeoutSec*float64(time.Second)))
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "embedder.embed", trace.WithAttributes(
		attribute.String("provider", e.cfg.Name),
		attribute.String("model", e.model),
		attribute.Int("batch_size", len(texts)),
	))
	defer span.End()

	request := openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	}
	resp, err := RetryWithBackoff(ctx, e.retry, "embeddings", IsTransient, func() (openai.EmbeddingResponse, error) {
		if err := wait(ctx, e.limiter); err != nil {
			return openai.EmbeddingResponse{}, classify(e.cfg.Name, e.model, 0, err)
		}
		resp, err := e.client.CreateEmbeddings(ctx, request)
		if err != nil {
			return resp, classify(e.cfg.Name, e.model, openAIStatus(err), err)
		}
		return resp, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return alignEmbeddings(resp.Data, len(texts))
}

// alignEmbeddings orders vectors by their index field. Any gap, duplicate or
// out-of-range index fails the batch.
func alignEmbeddings(data []openai.Embedding, n int) ([][]float64, error) {
	if len(data) != n {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(data), n)
	}
	out := make([][]float64, n)
	for _, item := range data {
		if item.Index < 0 || item.Index >= n || out[item.Index] != nil {
			return nil, fmt.Errorf("embeddings: unexpected index %d", item.Index)
		}
		vec := make([]float64, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float64(v)
		}
		out[item.Index] = vec
	}
	return out, nil
}

// temperature works around go-openai dropping a zero temperature as an empty field.
func temperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func openAIStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
