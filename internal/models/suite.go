package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/promptlint/promptlint/internal/template"
	"gopkg.in/yaml.v3"
)

// Defaults applied by LoadSuite when a field is left empty.
const (
	DefaultConcurrency     = 8
	DefaultCacheDir        = ".promptlint/cache"
	DefaultSQLitePath      = ".promptlint/cache.db"
	DefaultCacheBackend    = "file"
	DefaultBatchSize       = 16
	DefaultTemperature     = 0.2
	DefaultTopP            = 1.0
	DefaultMaxTokens       = 512
	DefaultProviderKind    = "openai_compatible"
	DefaultProviderTimeout = 60.0
	DefaultMaxRetries      = 4
	DefaultConstraintKind  = "semantic"
	DefaultPenaltyScale    = 2.0
	DefaultPenaltyMax      = 0.5
)

// Suite is a complete, validated evaluation definition. The core treats it as read-only.
type Suite struct {
	Name        string           `yaml:"name" json:"name" validate:"required"`
	Description string           `yaml:"description,omitempty" json:"description,omitempty"`
	Providers   []ProviderConfig `yaml:"providers" json:"providers" validate:"required,min=1,dive"`
	Ladder      Ladder           `yaml:"ladder" json:"ladder"`
	Prompts     []Prompt         `yaml:"prompts" json:"prompts" validate:"required,min=1,dive"`
	Sampling    []SamplingConfig `yaml:"sampling,omitempty" json:"sampling" validate:"dive"`
	Run         RunSettings      `yaml:"run,omitempty" json:"run"`
}

// ProviderConfig describes one provider endpoint. Kind selects the implementation.
type ProviderConfig struct {
	Name                 string            `yaml:"name" json:"name" validate:"required"`
	Kind                 string            `yaml:"kind,omitempty" json:"kind" validate:"omitempty,oneof=openai_compatible anthropic mock"`
	APIBase              string            `yaml:"api_base,omitempty" json:"api_base,omitempty" validate:"omitempty,url"`
	APIKeyEnv            string            `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	TimeoutSec           float64           `yaml:"timeout_s,omitempty" json:"timeout_s" validate:"gte=0"`
	MaxRetries           *int              `yaml:"max_retries,omitempty" json:"max_retries,omitempty" validate:"omitempty,gte=0"`
	RequestsPerSecond    float64           `yaml:"requests_per_second,omitempty" json:"requests_per_second,omitempty" validate:"gte=0"`
	PricePer1KPrompt     *float64          `yaml:"price_per_1k_prompt,omitempty" json:"price_per_1k_prompt,omitempty"`
	PricePer1KCompletion *float64          `yaml:"price_per_1k_completion,omitempty" json:"price_per_1k_completion,omitempty"`
	Headers              map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Metadata             map[string]any    `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Identity is the part of a provider that changes what a call returns.
// It feeds the cache key alongside the model name.
func (p ProviderConfig) Identity() string {
	return p.Kind + "|" + strings.TrimRight(p.APIBase, "/")
}

// RetryAttempts is the number of attempts a call may make. An unset
// max_retries uses DefaultMaxRetries; 0 means a single attempt.
func (p ProviderConfig) RetryAttempts() int {
	if p.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return max(*p.MaxRetries, 1)
}

// Pricing is the per-1k-token price of a model.
type Pricing struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k" json:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k" json:"completion_per_1k"`
}

// ModelEntry is one rung of the ladder.
type ModelEntry struct {
	Provider      string         `yaml:"provider" json:"provider" validate:"required"`
	Name          string         `yaml:"name" json:"name" validate:"required"`
	Tier          int            `yaml:"tier,omitempty" json:"tier"`
	ContextWindow *int           `yaml:"context_window,omitempty" json:"context_window,omitempty"`
	Pricing       *Pricing       `yaml:"pricing,omitempty" json:"pricing,omitempty"`
	Metadata      map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Label is the display name of the entry, "provider/model".
func (m ModelEntry) Label() string {
	return m.Provider + "/" + m.Name
}

// Ladder is the ordered set of models every prompt runs against.
type Ladder struct {
	Name   string       `yaml:"name,omitempty" json:"name"`
	Models []ModelEntry `yaml:"models" json:"models" validate:"required,min=1,dive"`
}

// SamplingConfig holds the generation parameters applied to every (prompt, model) pair.
type SamplingConfig struct {
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	TopP        float64 `yaml:"top_p" json:"top_p" validate:"gte=0,lte=1"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens" validate:"gte=1"`
	Seed        *int    `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// UnmarshalYAML defaults TopP when top_p is not declared. An explicit 0 is kept.
func (s *SamplingConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain SamplingConfig
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = SamplingConfig(p)
	if !hasKey(node, "top_p") {
		s.TopP = DefaultTopP
	}
	return nil
}

// Key is a canonical string form, used for grouping cells that share a config.
func (s SamplingConfig) Key() string {
	seed := "-"
	if s.Seed != nil {
		seed = strconv.Itoa(*s.Seed)
	}
	return fmt.Sprintf("t=%s,p=%s,max=%d,seed=%s",
		strconv.FormatFloat(s.Temperature, 'g', -1, 64),
		strconv.FormatFloat(s.TopP, 'g', -1, 64),
		s.MaxTokens, seed)
}

// PromptMetadata carries optional hints about the expected output.
type PromptMetadata struct {
	ExpectedFormat string         `yaml:"expected_format,omitempty" json:"expected_format,omitempty" validate:"omitempty,oneof=bullets bullet list numbered numbered_list steps json json_object code table"`
	Tags           []string       `yaml:"tags,omitempty" json:"tags,omitempty"`
	Extra          map[string]any `yaml:",inline" json:"extra,omitempty"`
}

// Prompt is a template plus the constraints its outputs are held to.
type Prompt struct {
	ID          string            `yaml:"id" json:"id" validate:"required"`
	Text        string            `yaml:"text" json:"text" validate:"required"`
	Vars        map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`
	Metadata    PromptMetadata    `yaml:"metadata,omitempty" json:"metadata"`
	Constraints []Constraint      `yaml:"constraints,omitempty" json:"constraints,omitempty" validate:"dive"`
}

// Render substitutes the prompt's variables into its text.
func (p Prompt) Render() (string, error) {
	return template.Render(p.Text, &template.Context{PromptID: p.ID, Vars: p.Vars})
}

// TotalConstraintWeight is the prompt's weight in the suite score.
// Prompts without constraints, or whose weights sum to zero, weigh 1.
func (p Prompt) TotalConstraintWeight() float64 {
	total := 0.0
	for _, c := range p.Constraints {
		total += c.Weight
	}
	if total <= 0 {
		return 1
	}
	return total
}

// Constraint is a declared requirement on every output of a prompt.
type Constraint struct {
	Name        string         `yaml:"name" json:"name" validate:"required"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        string         `yaml:"kind,omitempty" json:"kind"`
	Weight      float64        `yaml:"weight" json:"weight" validate:"gte=0"`
	Rules       map[string]any `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// UnmarshalYAML defaults Weight to 1 when it is not declared.
func (c *Constraint) UnmarshalYAML(node *yaml.Node) error {
	type plain Constraint
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = Constraint(p)
	if !hasKey(node, "weight") {
		c.Weight = 1
	}
	return nil
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// RunSettings controls execution.
type RunSettings struct {
	Concurrency      int                `yaml:"concurrency,omitempty" json:"concurrency" validate:"gte=0"`
	UseCache         *bool              `yaml:"use_cache,omitempty" json:"use_cache,omitempty"`
	Cache            CacheSettings      `yaml:"cache,omitempty" json:"cache"`
	Embeddings       *EmbeddingSettings `yaml:"embeddings,omitempty" json:"embeddings,omitempty"`
	Weights          map[string]float64 `yaml:"weights,omitempty" json:"weights,omitempty" validate:"omitempty,dive,gte=0"`
	StabilityPenalty PenaltySettings    `yaml:"stability_penalty,omitempty" json:"stability_penalty"`
}

// CacheEnabled reports whether results should be read from and written to the durable cache.
func (r RunSettings) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

// CacheSettings selects and configures the durable cache backend.
type CacheSettings struct {
	Backend    string `yaml:"backend,omitempty" json:"backend" validate:"omitempty,oneof=file badger sqlite redis azblob memory"`
	Path       string `yaml:"path,omitempty" json:"path,omitempty"`
	URL        string `yaml:"url,omitempty" json:"url,omitempty"`
	Container  string `yaml:"container,omitempty" json:"container,omitempty"`
	TTLSeconds int    `yaml:"ttl_seconds,omitempty" json:"ttl_seconds,omitempty" validate:"gte=0"`
}

// EmbeddingSettings enables embedding-based similarity.
type EmbeddingSettings struct {
	Provider  string `yaml:"provider" json:"provider" validate:"required"`
	Model     string `yaml:"model" json:"model" validate:"required"`
	BatchSize int    `yaml:"batch_size,omitempty" json:"batch_size" validate:"gte=0"`
}

// PenaltySettings shapes the stability penalty: min(Max, Scale*variance).
// A nil field takes its default; an explicit 0 turns the penalty off.
type PenaltySettings struct {
	Scale *float64 `yaml:"scale,omitempty" json:"scale,omitempty" validate:"omitempty,gte=0"`
	Max   *float64 `yaml:"max,omitempty" json:"max,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// LoadSuite reads, defaults and validates a suite file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSuite(data)
}

// ParseSuite decodes a suite from YAML bytes.
func ParseSuite(data []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}

	suite.ApplyDefaults()

	if err := suite.Validate(); err != nil {
		return nil, err
	}

	return &suite, nil
}

// ApplyDefaults fills empty fields with their defaults.
func (s *Suite) ApplyDefaults() {
	for i := range s.Providers {
		p := &s.Providers[i]
		if p.Kind == "" {
			p.Kind = DefaultProviderKind
		}
		if p.TimeoutSec == 0 {
			p.TimeoutSec = DefaultProviderTimeout
		}
		if p.MaxRetries == nil {
			p.MaxRetries = intPtr(DefaultMaxRetries)
		}
	}

	if s.Ladder.Name == "" {
		s.Ladder.Name = "default"
	}

	for i := range s.Prompts {
		for j := range s.Prompts[i].Constraints {
			c := &s.Prompts[i].Constraints[j]
			if c.Kind == "" {
				c.Kind = DefaultConstraintKind
			}
		}
	}

	if len(s.Sampling) == 0 {
		s.Sampling = []SamplingConfig{{Temperature: DefaultTemperature, TopP: DefaultTopP}}
	}
	for i := range s.Sampling {
		sc := &s.Sampling[i]
		if sc.MaxTokens == 0 {
			sc.MaxTokens = DefaultMaxTokens
		}
	}

	if s.Run.Concurrency == 0 {
		s.Run.Concurrency = DefaultConcurrency
	}
	if s.Run.Cache.Backend == "" {
		s.Run.Cache.Backend = DefaultCacheBackend
	}
	if s.Run.Cache.Path == "" {
		switch s.Run.Cache.Backend {
		case "file", "badger":
			s.Run.Cache.Path = DefaultCacheDir
		case "sqlite":
			s.Run.Cache.Path = DefaultSQLitePath
		}
	}
	if s.Run.Embeddings != nil && s.Run.Embeddings.BatchSize == 0 {
		s.Run.Embeddings.BatchSize = DefaultBatchSize
	}
	if s.Run.StabilityPenalty.Scale == nil {
		s.Run.StabilityPenalty.Scale = floatPtr(DefaultPenaltyScale)
	}
	if s.Run.StabilityPenalty.Max == nil {
		s.Run.StabilityPenalty.Max = floatPtr(DefaultPenaltyMax)
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct-level rules and cross-references between sections.
func (s *Suite) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed '%s'", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid suite: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid suite: %w", err)
	}

	providers := make(map[string]bool, len(s.Providers))
	for _, p := range s.Providers {
		if providers[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		providers[p.Name] = true
	}

	for _, m := range s.Ladder.Models {
		if !providers[m.Provider] {
			return fmt.Errorf("model %q references unknown provider %q", m.Name, m.Provider)
		}
	}

	if s.Run.Embeddings != nil && !providers[s.Run.Embeddings.Provider] {
		return fmt.Errorf("embeddings reference unknown provider %q", s.Run.Embeddings.Provider)
	}

	ids := make(map[string]bool, len(s.Prompts))
	for _, p := range s.Prompts {
		if ids[p.ID] {
			return fmt.Errorf("duplicate prompt id %q", p.ID)
		}
		ids[p.ID] = true
		if _, err := p.Render(); err != nil {
			return fmt.Errorf("prompt %q: %w", p.ID, err)
		}
	}

	for name := range s.Run.Weights {
		if !IsMeasureName(name) {
			return fmt.Errorf("run.weights: unknown measure %q", name)
		}
	}

	return nil
}

// Provider returns the provider config with the given name.
func (s *Suite) Provider(name string) (ProviderConfig, bool) {
	for _, p := range s.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Prompt returns the prompt with the given id.
func (s *Suite) Prompt(id string) (Prompt, bool) {
	for _, p := range s.Prompts {
		if p.ID == id {
			return p, true
		}
	}
	return Prompt{}, false
}
