package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// base carries what every provider shares: its config, transport, logger and
// format policy.
type base struct {
	cfg        ProviderConfig
	httpClient *http.Client
	logger     *zap.Logger
	policy     FormatPolicy
}

func newBase(cfg ProviderConfig, o options) *base {
	return &base{
		cfg:        cfg,
		httpClient: o.httpClient,
		logger:     o.logger.With(zap.String("provider", cfg.Kind.String()), zap.String("model", cfg.Model)),
		policy:     o.formatPolicy,
	}
}

// Kind returns the provider kind.
func (b *base) Kind() ProviderKind {
	return b.cfg.Kind
}

// Model returns the configured model.
func (b *base) Model() string {
	return b.cfg.Model
}

// requireKey fails with AuthInvalid when a credential is needed and missing.
func (b *base) requireKey() error {
	if !b.cfg.Kind.RequiresAPIKey() || b.cfg.APIKey != "" {
		return nil
	}
	return &ProviderError{
		Kind:     KindAuthInvalid,
		Provider: b.cfg.Kind,
		Message:  fmt.Sprintf("API key is required (set %s)", b.cfg.Kind.EnvVar()),
		Cause:    ErrMissingAPIKey,
	}
}

// hasKey is the shape check used by ValidateConfig for keyed providers.
func (b *base) hasKey() bool {
	return b.cfg.APIKey != ""
}

// attemptContext bounds one call by the configured timeout. The caller's
// cancellation still propagates.
func (b *base) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.cfg.Timeout)
}

// transportError classifies a failure that happened before a response arrived.
func (b *base) transportError(err error) *ProviderError {
	kind := classifyTransport(err)
	return &ProviderError{
		Kind:     kind,
		Provider: b.cfg.Kind,
		Message:  b.redact(err.Error()),
		Cause:    err,
	}
}

// statusError classifies an HTTP error response.
func (b *base) statusError(status int, vendorCode string, retryAfter bool, body string, cause error) *ProviderError {
	return &ProviderError{
		Kind:       classifyStatus(status, vendorCode, retryAfter),
		Provider:   b.cfg.Kind,
		Message:    b.redact(truncate(body, 300)),
		StatusCode: status,
		Cause:      cause,
	}
}

// redact strips the API key from text that may echo request details.
func (b *base) redact(s string) string {
	if b.cfg.APIKey == "" {
		return s
	}
	return strings.ReplaceAll(s, b.cfg.APIKey, "[REDACTED]")
}
