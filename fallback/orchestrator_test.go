package fallback

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinex/llmrelay/llm"
	"github.com/richinex/llmrelay/metrics"
	"github.com/richinex/llmrelay/retry"
)

// fakeProvider fails with errs in order, then succeeds with text.
type fakeProvider struct {
	kind  llm.ProviderKind
	errs  []error
	text  string
	calls int
}

func (p *fakeProvider) Kind() llm.ProviderKind               { return p.kind }
func (p *fakeProvider) Model() string                         { return p.kind.DefaultModel() }
func (p *fakeProvider) ValidateConfig(_ context.Context) bool { return true }
func (p *fakeProvider) Generate(_ context.Context, _ llm.GenerationRequest) (llm.Payload, error) {
	p.calls++
	if p.calls <= len(p.errs) {
		return llm.Payload{}, p.errs[p.calls-1]
	}
	return llm.Payload{Text: p.text}, nil
}

func always(kind llm.ProviderKind, errKind llm.ErrorKind, message string) *fakeProvider {
	err := llm.NewError(kind, errKind, "%s", message)
	return &fakeProvider{kind: kind, errs: []error{err, err, err, err, err}}
}

// harness wires fake providers into an orchestrator that never sleeps.
type harness struct {
	mu        sync.Mutex
	providers map[llm.ProviderKind]*fakeProvider
	built     []llm.ProviderKind
	delays    []time.Duration
}

func newHarness(providers ...*fakeProvider) *harness {
	h := &harness{providers: make(map[llm.ProviderKind]*fakeProvider)}
	for _, p := range providers {
		h.providers[p.kind] = p
	}
	return h
}

func (h *harness) orchestrator(maxProviders int) *Orchestrator {
	controller := retry.NewController(retry.DefaultPolicy(), nil, nil)
	controller.Sleep = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}
	return &Orchestrator{
		Factory: func(cfg llm.ProviderConfig) (llm.Provider, error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.built = append(h.built, cfg.Kind)
			p, ok := h.providers[cfg.Kind]
			if !ok {
				return nil, errors.New("no fake for " + cfg.Kind.String())
			}
			return p, nil
		},
		Retry:        controller,
		MaxProviders: maxProviders,
	}
}

func configs(kinds ...llm.ProviderKind) []llm.ProviderConfig {
	out := make([]llm.ProviderConfig, len(kinds))
	for i, k := range kinds {
		out[i] = llm.ProviderConfig{Kind: k, APIKey: "key-" + k.String()}
	}
	return out
}

var request = llm.GenerationRequest{Prompt: "Write an outline"}

func TestFallbackOrderingAndShortCircuit(t *testing.T) {
	a := always(llm.ProviderOpenAI, llm.KindTemporarilyUnavailable, "503 from A")
	b := always(llm.ProviderGroq, llm.KindTemporarilyUnavailable, "503 from B")
	c := &fakeProvider{kind: llm.ProviderTogether, text: "from C"}
	d := &fakeProvider{kind: llm.ProviderDeepSeek, text: "from D"}
	h := newHarness(a, b, c, d)

	o := h.orchestrator(4)
	result, log, err := o.GenerateWithLog(context.Background(), request,
		configs(llm.ProviderOpenAI, llm.ProviderGroq, llm.ProviderTogether, llm.ProviderDeepSeek))
	require.NoError(t, err)

	assert.Equal(t, "from C", result.Payload.Text)
	assert.Equal(t, llm.ProviderTogether, result.Provider)
	require.Len(t, log, 2)
	assert.Equal(t, llm.ProviderOpenAI, log[0].Provider)
	assert.Equal(t, llm.ProviderGroq, log[1].Provider)
	assert.Zero(t, d.calls)
	assert.NotContains(t, h.built, llm.ProviderDeepSeek)
}

func TestFatalErrorAdvancesImmediately(t *testing.T) {
	a := always(llm.ProviderOpenAI, llm.KindQuotaExceeded, "insufficient_quota")
	b := &fakeProvider{kind: llm.ProviderGroq, text: "ok"}
	h := newHarness(a, b)

	result, err := h.orchestrator(3).Generate(context.Background(), request, configs(llm.ProviderOpenAI, llm.ProviderGroq))
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderGroq, result.Provider)
	assert.Equal(t, 1, a.calls)
	assert.Empty(t, h.delays)
}

func TestRetryWithinProviderBeforeSuccess(t *testing.T) {
	timeout := llm.NewError(llm.ProviderOpenAI, llm.KindTimeout, "deadline")
	a := &fakeProvider{kind: llm.ProviderOpenAI, errs: []error{timeout, timeout}, text: "third time"}
	h := newHarness(a)

	result, log, err := h.orchestrator(3).GenerateWithLog(context.Background(), request, configs(llm.ProviderOpenAI))
	require.NoError(t, err)
	assert.Equal(t, "third time", result.Payload.Text)
	assert.Empty(t, log)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.delays)
}

func TestExhaustionAggregate(t *testing.T) {
	a := always(llm.ProviderOpenAI, llm.KindQuotaExceeded, "You exceeded your current quota, please check your plan and billing details")
	b := always(llm.ProviderGroq, llm.KindAuthInvalid, "Invalid API Key")
	h := newHarness(a, b)

	_, err := h.orchestrator(3).Generate(context.Background(), request, configs(llm.ProviderOpenAI, llm.ProviderGroq))
	require.Error(t, err)

	var aggregate *AggregateError
	require.True(t, errors.As(err, &aggregate))
	require.Len(t, aggregate.Attempts, 2)

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "all LLM providers failed: "))
	assert.Contains(t, msg, "openai (QuotaExceeded): You exceeded your current quota, please check you")
	assert.NotContains(t, msg, "billing details")
	assert.Contains(t, msg, "groq (AuthInvalid): Invalid API Key")
	assert.Contains(t, msg, "check your API keys and quotas")

	// Each provider's error stays reachable.
	var pe *llm.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, llm.ProviderOpenAI, pe.Provider)
}

func TestMaxProvidersBound(t *testing.T) {
	providers := []*fakeProvider{
		always(llm.ProviderOpenAI, llm.KindAuthInvalid, "bad"),
		always(llm.ProviderGroq, llm.KindAuthInvalid, "bad"),
		always(llm.ProviderTogether, llm.KindAuthInvalid, "bad"),
		{kind: llm.ProviderDeepSeek, text: "never reached"},
	}
	h := newHarness(providers...)

	_, log, err := h.orchestrator(0).GenerateWithLog(context.Background(), request,
		configs(llm.ProviderOpenAI, llm.ProviderGroq, llm.ProviderTogether, llm.ProviderDeepSeek))
	require.Error(t, err)
	assert.Len(t, log, DefaultMaxProviders)
	assert.Zero(t, providers[3].calls)
}

func TestNoProviders(t *testing.T) {
	h := newHarness()
	_, err := h.orchestrator(3).Generate(context.Background(), request, nil)
	assert.ErrorIs(t, err, ErrNoProviders)
	assert.Empty(t, h.built)
}

func TestInvalidRequest(t *testing.T) {
	h := newHarness(&fakeProvider{kind: llm.ProviderOpenAI, text: "ok"})
	o := h.orchestrator(3)

	_, err := o.Generate(context.Background(), llm.GenerationRequest{}, configs(llm.ProviderOpenAI))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = o.Generate(context.Background(), llm.GenerationRequest{Prompt: "x", Temperature: 3}, configs(llm.ProviderOpenAI))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, h.built)
}

func TestConstructionFailureRecordedAsAuthInvalid(t *testing.T) {
	b := &fakeProvider{kind: llm.ProviderGroq, text: "ok"}
	h := newHarness(b)

	result, log, err := h.orchestrator(3).GenerateWithLog(context.Background(), request, configs(llm.ProviderOpenAI, llm.ProviderGroq))
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderGroq, result.Provider)
	require.Len(t, log, 1)
	assert.Equal(t, llm.KindAuthInvalid, log[0].Err.Kind)
}

// cancellingProvider cancels the caller's context during its call.
type cancellingProvider struct {
	fakeProvider
	cancel context.CancelFunc
}

func (p *cancellingProvider) Generate(_ context.Context, _ llm.GenerationRequest) (llm.Payload, error) {
	p.calls++
	p.cancel()
	return llm.Payload{}, llm.NewError(p.kind, llm.KindConnectionFailed, "connection reset")
}

func TestCancellationStopsIteration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := &cancellingProvider{fakeProvider: fakeProvider{kind: llm.ProviderOpenAI}, cancel: cancel}
	b := &fakeProvider{kind: llm.ProviderGroq, text: "ok"}
	h := newHarness(b)

	o := h.orchestrator(3)
	groq := o.Factory
	o.Factory = func(cfg llm.ProviderConfig) (llm.Provider, error) {
		if cfg.Kind == llm.ProviderOpenAI {
			return a, nil
		}
		return groq(cfg)
	}

	_, err := o.Generate(ctx, request, configs(llm.ProviderOpenAI, llm.ProviderGroq))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, a.calls)
	assert.Zero(t, b.calls)
}

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)

	a := always(llm.ProviderOpenAI, llm.KindQuotaExceeded, "quota")
	b := &fakeProvider{kind: llm.ProviderGroq, text: "ok"}
	h := newHarness(a, b)

	o := h.orchestrator(3)
	o.Metrics = recorder
	o.Retry.Metrics = recorder

	_, err := o.Generate(context.Background(), request, configs(llm.ProviderOpenAI, llm.ProviderGroq))
	require.NoError(t, err)

	expected := `
# HELP llmrelay_fallbacks_total Total number of advances to the next provider
# TYPE llmrelay_fallbacks_total counter
llmrelay_fallbacks_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "llmrelay_fallbacks_total"))

	expected = `
# HELP llmrelay_provider_errors_total Total number of provider errors by kind
# TYPE llmrelay_provider_errors_total counter
llmrelay_provider_errors_total{kind="QuotaExceeded",provider="openai"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "llmrelay_provider_errors_total"))
}
