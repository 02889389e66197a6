// LLM Provider Factory - builds a Provider from a ProviderConfig.
//
// Quick Start:
//
//	// From a config value, as the fallback orchestrator does
//	provider, err := llm.New(llm.ProviderConfig{Kind: llm.ProviderGroq, APIKey: key})
//
//	// Builder, reading the API key from the environment
//	openai, err := llm.ProviderOpenAI.FromEnv()
//
//	// Builder with explicit settings
//	local, err := llm.ProviderOllama.
//	    Model("mistral").
//	    BaseURL("http://gpu-box:11434").
//	    Build()

package llm

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ProviderKind identifies a supported backend.
type ProviderKind int

const (
	// ProviderOpenAI is the OpenAI chat completions API.
	ProviderOpenAI ProviderKind = iota
	// ProviderOllama is a self-hosted Ollama server. It needs no API key.
	ProviderOllama
	// ProviderHuggingFace is the Hugging Face inference API.
	ProviderHuggingFace
	// ProviderTogether is Together AI (OpenAI-compatible).
	ProviderTogether
	// ProviderGroq is Groq (OpenAI-compatible).
	ProviderGroq
	// ProviderDeepSeek is DeepSeek (OpenAI-compatible).
	ProviderDeepSeek
	// ProviderReplicate is Replicate's submit-then-poll predictions API.
	ProviderReplicate
	// ProviderGemini is Google Gemini via AI Studio.
	ProviderGemini
	// ProviderAnthropic is the Anthropic messages API.
	ProviderAnthropic
)

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 5 * time.Minute

// AllProviderKinds lists every supported kind in declaration order.
var AllProviderKinds = []ProviderKind{
	ProviderOpenAI,
	ProviderOllama,
	ProviderHuggingFace,
	ProviderTogether,
	ProviderGroq,
	ProviderDeepSeek,
	ProviderReplicate,
	ProviderGemini,
	ProviderAnthropic,
}

type kindInfo struct {
	name           string
	envVar         string
	defaultModel   string
	defaultBaseURL string
}

var kinds = map[ProviderKind]kindInfo{
	ProviderOpenAI:      {"openai", "OPENAI_API_KEY", "gpt-4o", "https://api.openai.com/v1"},
	ProviderOllama:      {"ollama", "", "llama3", "http://localhost:11434"},
	ProviderHuggingFace: {"huggingface", "HUGGINGFACE_API_KEY", "mistralai/Mistral-7B-Instruct-v0.2", "https://api-inference.huggingface.co"},
	ProviderTogether:    {"together", "TOGETHER_API_KEY", "meta-llama/Llama-3-8b-chat-hf", "https://api.together.xyz/v1"},
	ProviderGroq:        {"groq", "GROQ_API_KEY", "llama-3.1-8b-instant", "https://api.groq.com/openai/v1"},
	ProviderDeepSeek:    {"deepseek", "DEEPSEEK_API_KEY", "deepseek-chat", "https://api.deepseek.com/v1"},
	ProviderReplicate:   {"replicate", "REPLICATE_API_TOKEN", "meta/llama-3-8b-instruct", "https://api.replicate.com"},
	ProviderGemini:      {"gemini", "GEMINI_API_KEY", "gemini-pro", ""},
	ProviderAnthropic:   {"anthropic", "ANTHROPIC_API_KEY", "claude-sonnet-4-20250514", ""},
}

// Provider aliases map to canonical names.
var kindAliases = map[string]string{
	"gpt":         "openai",
	"claude":      "anthropic",
	"google":      "gemini",
	"hf":          "huggingface",
	"together_ai": "together",
	"togetherai":  "together",
}

// String returns the canonical provider name.
func (k ProviderKind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return "unknown"
}

// EnvVar returns the environment variable holding this provider's API key.
// Ollama has none.
func (k ProviderKind) EnvVar() string {
	return kinds[k].envVar
}

// DefaultModel returns the model used when none is configured.
func (k ProviderKind) DefaultModel() string {
	if k == ProviderOllama {
		if model := os.Getenv("OLLAMA_MODEL"); model != "" {
			return model
		}
	}
	return kinds[k].defaultModel
}

// DefaultBaseURL returns the endpoint used when none is configured. Empty for
// SDK-backed providers that manage their own endpoint.
func (k ProviderKind) DefaultBaseURL() string {
	if k == ProviderOllama {
		if base := os.Getenv("OLLAMA_BASE_URL"); base != "" {
			return base
		}
	}
	return kinds[k].defaultBaseURL
}

// RequiresAPIKey reports whether the provider needs a credential.
func (k ProviderKind) RequiresAPIKey() bool {
	return k != ProviderOllama
}

// ParseProviderKind parses a provider name (case-insensitive, aliases allowed).
func ParseProviderKind(s string) (ProviderKind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if canonical, ok := kindAliases[name]; ok {
		name = canonical
	}
	for kind, info := range kinds {
		if info.name == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// ProviderConfig describes one provider to try. It is treated as immutable.
type ProviderConfig struct {
	Kind      ProviderKind
	APIKey    string
	Model     string
	BaseURL   string        `validate:"omitempty,url"`
	Timeout   time.Duration `validate:"gte=0"`
	MaxTokens int           `validate:"gte=0"`
}

// String describes the config without revealing the API key.
func (c ProviderConfig) String() string {
	key := "none"
	if c.APIKey != "" {
		key = "set"
	}
	return fmt.Sprintf("%s(model=%s, base_url=%s, api_key=%s)", c.Kind, c.Model, c.BaseURL, key)
}

// Validate checks field constraints. It does not contact the provider.
func (c ProviderConfig) Validate() error {
	if _, ok := kinds[c.Kind]; !ok {
		return fmt.Errorf("%w: kind %d", ErrUnknownProvider, int(c.Kind))
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid %s config: %w", c.Kind, err)
	}
	return nil
}

// WithDefaults fills empty fields from the provider's defaults.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.Model == "" {
		c.Model = c.Kind.DefaultModel()
	}
	if c.BaseURL == "" {
		c.BaseURL = c.Kind.DefaultBaseURL()
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	c.APIKey = strings.TrimSpace(c.APIKey)
	return c
}

// Option customises provider construction.
type Option func(*options)

type options struct {
	httpClient   *http.Client
	logger       *zap.Logger
	formatPolicy FormatPolicy
	pollInterval time.Duration
	pollAttempts int
}

func defaultOptions() options {
	return options{
		httpClient:   &http.Client{},
		logger:       zap.NewNop(),
		formatPolicy: DefaultFormatPolicy,
		pollInterval: time.Second,
		pollAttempts: 30,
	}
}

// WithHTTPClient sets the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithFormatPolicy replaces the heuristic that decides whether unparseable
// structured output means the model ignored its instructions.
func WithFormatPolicy(policy FormatPolicy) Option {
	return func(o *options) {
		if policy != nil {
			o.formatPolicy = policy
		}
	}
}

// WithPolling sets the poll interval and attempt budget for submit-then-poll
// providers.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(o *options) {
		if interval > 0 {
			o.pollInterval = interval
		}
		if attempts > 0 {
			o.pollAttempts = attempts
		}
	}
}

// New builds the provider described by cfg. A missing API key is not an
// error here; Generate reports it as AuthInvalid before any network call.
func New(cfg ProviderConfig, opts ...Option) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	b := newBase(cfg, o)

	switch cfg.Kind {
	case ProviderOpenAI:
		return NewOpenAIProvider(b), nil
	case ProviderTogether, ProviderGroq, ProviderDeepSeek:
		return NewCompatProvider(b), nil
	case ProviderOllama:
		return NewOllamaProvider(b), nil
	case ProviderHuggingFace:
		return NewHuggingFaceProvider(b), nil
	case ProviderReplicate:
		return NewReplicateProvider(b, o.pollInterval, o.pollAttempts), nil
	case ProviderGemini:
		return NewGeminiProvider(b), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(b), nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, cfg.Kind)
	}
}

// FromEnv creates a provider with defaults, reading the API key from the environment.
func (k ProviderKind) FromEnv() (Provider, error) {
	return NewProviderBuilder(k).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (k ProviderKind) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(k).Model(model)
}

// BaseURL starts configuring this provider with a specific endpoint.
func (k ProviderKind) BaseURL(baseURL string) *ProviderBuilder {
	return NewProviderBuilder(k).BaseURL(baseURL)
}

// APIKey creates a provider with an explicit API key and defaults for everything else.
func (k ProviderKind) APIKey(key string) (Provider, error) {
	return NewProviderBuilder(k).APIKey(key)
}

// ProviderBuilder is a builder for configuring providers.
type ProviderBuilder struct {
	cfg  ProviderConfig
	opts []Option
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(kind ProviderKind) *ProviderBuilder {
	return &ProviderBuilder{cfg: ProviderConfig{Kind: kind}}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.cfg.Model = model
	return b
}

// BaseURL sets the provider endpoint.
func (b *ProviderBuilder) BaseURL(baseURL string) *ProviderBuilder {
	b.cfg.BaseURL = baseURL
	return b
}

// MaxTokens sets the maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens int) *ProviderBuilder {
	b.cfg.MaxTokens = tokens
	return b
}

// Timeout sets the per-call timeout.
func (b *ProviderBuilder) Timeout(timeout time.Duration) *ProviderBuilder {
	b.cfg.Timeout = timeout
	return b
}

// With appends construction options.
func (b *ProviderBuilder) With(opts ...Option) *ProviderBuilder {
	b.opts = append(b.opts, opts...)
	return b
}

// FromEnv builds the provider, reading the API key from the environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	if !b.cfg.Kind.RequiresAPIKey() {
		return b.Build()
	}
	envVar := b.cfg.Kind.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.cfg.Kind, envVar)
	}
	return b.APIKey(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	b.cfg.APIKey = key
	return b.Build()
}

// Build builds the provider from the accumulated settings.
func (b *ProviderBuilder) Build() (Provider, error) {
	return New(b.cfg, b.opts...)
}

// Config returns the accumulated config.
func (b *ProviderBuilder) Config() ProviderConfig {
	return b.cfg
}
