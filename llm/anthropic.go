// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - SDK retries are disabled; the retry controller owns retry policy

package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	*base
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(b *base) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(b.cfg.APIKey),
		option.WithHTTPClient(b.httpClient),
		option.WithMaxRetries(0),
	}
	if b.cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(b.cfg.BaseURL))
	}

	return &AnthropicProvider{
		base:   b,
		client: anthropic.NewClient(opts...),
	}
}

// ValidateConfig reports whether an API key is set.
func (p *AnthropicProvider) ValidateConfig(_ context.Context) bool {
	return p.hasKey()
}

// Generate sends a messages request. Structured output relies on the format
// instruction since the API has no JSON mode.
func (p *AnthropicProvider) Generate(ctx context.Context, req GenerationRequest) (Payload, error) {
	if err := p.requireKey(); err != nil {
		return Payload{}, err
	}

	maxTokens := int64(p.cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(withInstruction(req, req.Prompt))),
		},
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.SystemMessage != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: req.SystemMessage},
		}
	}

	ctx, cancel := p.attemptContext(ctx)
	defer cancel()

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return Payload{}, p.anthropicError(err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(variant.Text)
		}
	}
	if content.Len() == 0 {
		return Payload{}, NewError(p.cfg.Kind, KindUnknown, "response contained no text content")
	}

	return p.decodePayload(req, content.String())
}

// anthropicError maps SDK errors onto the taxonomy. The error body carries a
// typed code such as overloaded_error or rate_limit_error.
func (p *AnthropicProvider) anthropicError(err error) *ProviderError {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return p.transportError(err)
	}

	code, message := parseErrorEnvelope([]byte(apiErr.RawJSON()))
	if message == "" {
		message = apiErr.Error()
	}
	retryAfter := apiErr.Response != nil && apiErr.Response.Header.Get("Retry-After") != ""
	return p.statusError(apiErr.StatusCode, code, retryAfter, message, err)
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)
