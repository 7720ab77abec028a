package execution

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/promptlint/promptlint/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// messagesClient is just an interface over [anthropic.MessageService]
type messagesClient interface {
	// New maps to [anthropic.MessageService.New]
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicProvider calls the Messages API. Sampling seeds are not supported
// by the API and are ignored.
type AnthropicProvider struct {
	cfg     models.ProviderConfig
	client  messagesClient
	keyErr  error
	limiter *rate.Limiter
	retry   RetryConfig
	tracer  trace.Tracer
	logger  *slog.Logger
}

func NewAnthropicProvider(cfg models.ProviderConfig, opts ...Option) (*AnthropicProvider, error) {
	o := buildOptions(cfg, opts)
	key, keyErr := apiKey(cfg)

	// retries are ours, not the SDK's
	clientOpts := []option.RequestOption{
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpClient(o.httpClient, cfg.Headers)),
	}
	if key != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(key))
	}
	if cfg.APIBase != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.APIBase))
	}
	client := anthropic.NewClient(clientOpts...)

	return &AnthropicProvider{
		cfg:     cfg,
		client:  &client.Messages,
		keyErr:  keyErr,
		limiter: limiter(cfg),
		retry:   *o.retry,
		tracer:  otel.Tracer(tracerName),
		logger:  o.logger,
	}, nil
}

func (p *AnthropicProvider) Name() string     { return p.cfg.Name }
func (p *AnthropicProvider) Identity() string { return p.cfg.Identity() }

func (p *AnthropicProvider) Call(ctx context.Context, req CallRequest) (*CallResponse, error) {
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

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.Sampling.MaxTokens),
		Messages: []anthropic.MessageParam{{
			Role: anthropic.MessageParamRoleUser,
			Content: []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(req.Prompt),
			},
		}},
	}
	params.Temperature = anthropic.Float(req.Sampling.Temperature)
	// the API rejects some models when both are set; 1 is its default anyway
	if req.Sampling.TopP > 0 && req.Sampling.TopP < 1 {
		params.TopP = anthropic.Float(req.Sampling.TopP)
	}

	attempts := 0
	message, err := RetryWithBackoff(ctx, p.retry, "messages", IsTransient, func() (*anthropic.Message, error) {
		attempts++
		if err := wait(ctx, p.limiter); err != nil {
			return nil, classify(p.cfg.Name, req.Model, 0, err)
		}
		msg, err := p.client.New(ctx, params)
		if err != nil {
			return nil, classify(p.cfg.Name, req.Model, anthropicStatus(err), err)
		}
		return msg, nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var text strings.Builder
	for _, content := range message.Content {
		if content.Type == "text" {
			text.WriteString(content.Text)
		}
	}

	in, out := int(message.Usage.InputTokens), int(message.Usage.OutputTokens)
	return &CallResponse{
		Text:     text.String(),
		Usage:    models.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		Attempts: attempts,
	}, nil
}

func anthropicStatus(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
