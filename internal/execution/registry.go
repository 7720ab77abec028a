package execution

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/promptlint/promptlint/internal/models"
	"golang.org/x/time/rate"
)

// Registry holds the providers of one suite by name.
type Registry struct {
	providers map[string]Provider
	configs   map[string]models.ProviderConfig
}

// NewRegistry wraps already-built providers. Used by tests and embedders of
// this package that bring their own implementations.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}, configs: map[string]models.ProviderConfig{}}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Get returns the provider named name.
func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Config returns the suite configuration for name, if the registry was built from a suite.
func (r *Registry) Config(name string) (models.ProviderConfig, bool) {
	c, ok := r.configs[name]
	return c, ok
}

// Option customizes provider construction.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	retry      *RetryConfig
	httpClient *http.Client
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRetryConfig replaces the retry policy derived from max_retries.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *options) { o.retry = &cfg }
}

// WithHTTPClient sets the base HTTP client. Configured headers are still added.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func buildOptions(cfg models.ProviderConfig, opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.retry == nil {
		rc := DefaultRetryConfig(cfg.RetryAttempts())
		o.retry = &rc
	}
	if o.retry.Logger == nil {
		o.retry.Logger = o.logger
	}
	return o
}

// Build constructs every provider of a suite.
func Build(suite *models.Suite, opts ...Option) (*Registry, error) {
	r := &Registry{providers: map[string]Provider{}, configs: map[string]models.ProviderConfig{}}
	for _, cfg := range suite.Providers {
		p, err := New(cfg, opts...)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", cfg.Name, err)
		}
		r.providers[cfg.Name] = p
		r.configs[cfg.Name] = cfg
	}
	return r, nil
}

// New constructs one provider by kind.
func New(cfg models.ProviderConfig, opts ...Option) (Provider, error) {
	switch cfg.Kind {
	case "", models.DefaultProviderKind:
		return NewOpenAIProvider(cfg, opts...)
	case "anthropic":
		return NewAnthropicProvider(cfg, opts...)
	case "mock":
		return NewMockProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// BuildEmbedder constructs the embedder for settings, or nil when embeddings are off.
func BuildEmbedder(suite *models.Suite, opts ...Option) (Embedder, error) {
	settings := suite.Run.Embeddings
	if settings == nil {
		return nil, nil
	}
	cfg, ok := suite.Provider(settings.Provider)
	if !ok {
		return nil, fmt.Errorf("embeddings: unknown provider %q", settings.Provider)
	}

	switch cfg.Kind {
	case "", models.DefaultProviderKind:
		return NewOpenAIEmbedder(cfg, *settings, opts...)
	case "mock":
		return NewMockEmbedder(settings.Model, settings.BatchSize), nil
	default:
		return nil, fmt.Errorf("embeddings: provider kind %q does not support embeddings", cfg.Kind)
	}
}

// apiKey resolves api_key_env. No env var configured means no key.
func apiKey(cfg models.ProviderConfig) (string, error) {
	if cfg.APIKeyEnv == "" {
		return "", nil
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: env var %s for provider %s", ErrMissingAPIKey, cfg.APIKeyEnv, cfg.Name)
	}
	return key, nil
}

// limiter returns nil when requests_per_second is unset.
func limiter(cfg models.ProviderConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := max(int(cfg.RequestsPerSecond), 1)
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func httpClient(base *http.Client, headers map[string]string) *http.Client {
	client := &http.Client{}
	if base != nil {
		*client = *base
	}
	if len(headers) == 0 {
		return client
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &headerTransport{base: transport, headers: headers}
	return client
}
