// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for Gemini API
// - System instruction handling via config
// - Safety blocks, which surface as Unknown so the orchestrator moves on

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiMaxTokens = 8192

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	*base
	client  *genai.Client
	initErr error // Stores client initialization error for deferred reporting
}

// NewGeminiProvider creates a new Gemini provider.
// If client initialization fails, the error is stored and returned on first use.
func NewGeminiProvider(b *base) *GeminiProvider {
	config := &genai.ClientConfig{
		APIKey:     b.cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: b.httpClient,
	}
	if b.cfg.BaseURL != "" {
		config.HTTPOptions = genai.HTTPOptions{BaseURL: b.cfg.BaseURL}
	}

	p := &GeminiProvider{base: b}
	if !b.hasKey() {
		return p
	}

	client, err := genai.NewClient(context.Background(), config)
	if err != nil {
		p.initErr = fmt.Errorf("failed to initialize Gemini client: %w", err)
		return p
	}
	p.client = client
	return p
}

// ValidateConfig reports whether an API key is set.
func (p *GeminiProvider) ValidateConfig(_ context.Context) bool {
	return p.hasKey()
}

// Generate calls generateContent, using the JSON response MIME type for
// structured output.
func (p *GeminiProvider) Generate(ctx context.Context, req GenerationRequest) (Payload, error) {
	if err := p.requireKey(); err != nil {
		return Payload{}, err
	}
	if p.initErr != nil {
		return Payload{}, &ProviderError{
			Kind:     KindUnknown,
			Provider: p.cfg.Kind,
			Message:  p.redact(p.initErr.Error()),
			Cause:    p.initErr,
		}
	}

	maxTokens := int32(p.cfg.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultGeminiMaxTokens
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: maxTokens,
	}
	if req.SystemMessage != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemMessage, genai.RoleUser)
	}
	if req.Structured() {
		config.ResponseMIMEType = mimeJSON
	}

	ctx, cancel := p.attemptContext(ctx)
	defer cancel()

	contents := genai.Text(req.Prompt)
	response, err := p.client.Models.GenerateContent(ctx, p.cfg.Model, contents, config)
	if err != nil {
		return Payload{}, p.geminiError(err)
	}

	if reason := blockReason(response); reason != "" {
		p.logger.Warn("content blocked by safety filters")
		return Payload{}, NewError(p.cfg.Kind, KindUnknown, "content blocked by safety filters: %s", reason)
	}

	content := response.Text()
	if content == "" {
		return Payload{}, NewError(p.cfg.Kind, KindUnknown, "response contained no text content")
	}
	return p.decodePayload(req, content)
}

// blockReason returns a description of why Gemini withheld the response, or
// an empty string if it did not.
func blockReason(response *genai.GenerateContentResponse) string {
	if fb := response.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return "prompt blocked (" + string(fb.BlockReason) + ")"
	}
	if len(response.Candidates) == 0 {
		return ""
	}

	candidate := response.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "finish reason SAFETY"
	}
	for _, rating := range candidate.SafetyRatings {
		if rating == nil {
			continue
		}
		if rating.Category == genai.HarmCategoryDangerousContent && rating.Probability == genai.HarmProbabilityHigh {
			return "dangerous content rated HIGH"
		}
	}
	return ""
}

// geminiError maps SDK errors onto the taxonomy. Gemini reports an invalid key
// as 400 INVALID_ARGUMENT with an API_KEY_INVALID reason in the details.
func (p *GeminiProvider) geminiError(err error) *ProviderError {
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	case errors.As(err, &apiErr):
	default:
		return p.transportError(err)
	}

	code := apiErr.Status
	if apiErr.Code == http.StatusBadRequest && (hasKeyInvalidReason(apiErr.Details) || strings.Contains(apiErr.Message, "API key not valid")) {
		code = "API_KEY_INVALID"
	}
	return p.statusError(apiErr.Code, code, false, apiErr.Message, err)
}

func hasKeyInvalidReason(details []map[string]any) bool {
	for _, detail := range details {
		if reason, ok := detail["reason"].(string); ok && reason == "API_KEY_INVALID" {
			return true
		}
	}
	return false
}

// Verify GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)
