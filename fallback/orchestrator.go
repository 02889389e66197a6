// Package fallback sequences generation attempts across providers.
//
// Information Hiding:
// - Provider list construction from saved settings
// - Per-provider retry delegation
// - Aggregation of every provider's failure into one error
//
// The call moves through SELECT_PROVIDER, ATTEMPT (with bounded retries inside
// the retry controller) and then SUCCESS, NEXT_PROVIDER or EXHAUSTED. At most
// one provider succeeds per call; providers are never raced.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/richinex/llmrelay/llm"
	"github.com/richinex/llmrelay/metrics"
	"github.com/richinex/llmrelay/retry"
)

// DefaultMaxProviders bounds how many providers one call tries.
const DefaultMaxProviders = 3

// aggregateMessageLength is how much of each provider's message the aggregate
// error keeps.
const aggregateMessageLength = 50

var (
	// ErrNoProviders means the provider list was empty. No attempt was made.
	ErrNoProviders = errors.New("no LLM providers configured, add at least one API key")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// Attempt records one provider's terminal failure.
type Attempt struct {
	Provider llm.ProviderKind
	Model    string
	Err      *llm.ProviderError
}

// AttemptLog is the ordered list of failed providers for one call.
type AttemptLog []Attempt

// AggregateError is returned when every attempted provider failed.
type AggregateError struct {
	Attempts AttemptLog
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%s): %s", a.Provider, a.Err.Kind, shorten(a.Err.Message, aggregateMessageLength)))
	}
	return "all LLM providers failed: " + strings.Join(parts, "; ") + ". Please check your API keys and quotas"
}

// Unwrap exposes each provider's error to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Factory builds a provider from its config.
type Factory func(cfg llm.ProviderConfig) (llm.Provider, error)

// Orchestrator tries providers in order until one succeeds.
type Orchestrator struct {
	Factory      Factory
	Retry        *retry.Controller
	MaxProviders int
	Logger       *zap.Logger
	Metrics      *metrics.Recorder
}

// New creates an orchestrator whose factory is llm.New with opts.
func New(controller *retry.Controller, logger *zap.Logger, recorder *metrics.Recorder, opts ...llm.Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if controller == nil {
		controller = retry.NewController(retry.DefaultPolicy(), logger, recorder)
	}
	providerOpts := append([]llm.Option{llm.WithLogger(logger)}, opts...)
	return &Orchestrator{
		Factory: func(cfg llm.ProviderConfig) (llm.Provider, error) {
			return llm.New(cfg, providerOpts...)
		},
		Retry:        controller,
		MaxProviders: DefaultMaxProviders,
		Logger:       logger,
		Metrics:      recorder,
	}
}

// Generate returns the first successful result from configs.
func (o *Orchestrator) Generate(ctx context.Context, req llm.GenerationRequest, configs []llm.ProviderConfig) (llm.GenerationResult, error) {
	result, _, err := o.GenerateWithLog(ctx, req, configs)
	return result, err
}

// GenerateWithSettings builds the provider list from settings and generates.
func (o *Orchestrator) GenerateWithSettings(ctx context.Context, req llm.GenerationRequest, s Settings, exclude ...llm.ProviderKind) (llm.GenerationResult, error) {
	return o.Generate(ctx, req, BuildProviderList(s, exclude...))
}

// GenerateWithLog is Generate that also returns the failures recorded before
// the outcome, including on success.
func (o *Orchestrator) GenerateWithLog(ctx context.Context, req llm.GenerationRequest, configs []llm.ProviderConfig) (llm.GenerationResult, AttemptLog, error) {
	if err := req.Validate(); err != nil {
		return llm.GenerationResult{}, nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if len(configs) == 0 {
		return llm.GenerationResult{}, nil, ErrNoProviders
	}

	logger := o.logger().With(zap.String("request_id", uuid.NewString()))
	limit := o.maxProviders()
	if len(configs) < limit {
		limit = len(configs)
	}
	logger.Info("starting generation",
		zap.Int("available", len(configs)),
		zap.Int("max_providers", limit),
		zap.Stringer("shape", req.Shape))

	var log AttemptLog
	for i, cfg := range configs[:limit] {
		if err := ctx.Err(); err != nil {
			o.Metrics.ObserveGeneration(metrics.OutcomeCanceled)
			return llm.GenerationResult{}, log, err
		}
		if i > 0 {
			o.Metrics.IncFallback()
		}

		pLogger := logger.With(zap.String("provider", cfg.Kind.String()), zap.Int("position", i+1))
		pLogger.Info("attempting provider")

		provider, err := o.factory()(cfg)
		if err != nil {
			pe := constructionError(cfg.Kind, err)
			pLogger.Warn("provider construction failed", zap.Error(pe))
			log = append(log, Attempt{Provider: cfg.Kind, Model: cfg.Model, Err: pe})
			continue
		}

		payload, err := o.controller().Generate(ctx, provider, req)
		if err == nil {
			pLogger.Info("provider succeeded", zap.String("model", provider.Model()))
			o.Metrics.ObserveGeneration(metrics.OutcomeSuccess)
			return llm.GenerationResult{
				Payload:  payload,
				Provider: provider.Kind(),
				Model:    provider.Model(),
			}, log, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			o.Metrics.ObserveGeneration(metrics.OutcomeCanceled)
			return llm.GenerationResult{}, log, ctxErr
		}

		pe, ok := llm.AsProviderError(err)
		if !ok {
			pe = &llm.ProviderError{Kind: llm.KindUnknown, Provider: cfg.Kind, Message: err.Error(), Cause: err}
		}
		pLogger.Warn("provider failed, trying next provider",
			zap.String("kind", pe.Kind.String()),
			zap.Error(pe))
		log = append(log, Attempt{Provider: cfg.Kind, Model: provider.Model(), Err: pe})
	}

	o.Metrics.ObserveGeneration(metrics.OutcomeFailure)
	aggregate := &AggregateError{Attempts: log}
	logger.Error("all providers failed", zap.Error(aggregate))
	return llm.GenerationResult{}, log, aggregate
}

// constructionError records a provider that could not be built. Anything
// other than an unsupported kind is treated as a bad credential.
func constructionError(kind llm.ProviderKind, err error) *llm.ProviderError {
	if pe, ok := llm.AsProviderError(err); ok {
		return pe
	}
	errKind := llm.KindAuthInvalid
	if errors.Is(err, llm.ErrUnknownProvider) {
		errKind = llm.KindUnknown
	}
	return &llm.ProviderError{Kind: errKind, Provider: kind, Message: err.Error(), Cause: err}
}

func (o *Orchestrator) factory() Factory {
	if o.Factory != nil {
		return o.Factory
	}
	return func(cfg llm.ProviderConfig) (llm.Provider, error) {
		return llm.New(cfg, llm.WithLogger(o.logger()))
	}
}

func (o *Orchestrator) controller() *retry.Controller {
	if o.Retry == nil {
		return retry.NewController(retry.DefaultPolicy(), o.logger(), o.Metrics)
	}
	return o.Retry
}

func (o *Orchestrator) maxProviders() int {
	if o.MaxProviders < 1 {
		return DefaultMaxProviders
	}
	return o.MaxProviders
}

func (o *Orchestrator) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func shorten(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
