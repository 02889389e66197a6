package llm

import (
	"errors"

	jsonutil "github.com/richinex/llmrelay/internal/json"
)

// FormatInstruction is appended to prompts for backends without a native
// JSON response mode.
const FormatInstruction = "\n\nCRITICAL: You MUST respond with ONLY valid JSON. No markdown, no explanations, no code blocks. Just the raw JSON object or array."

// FormatPolicy reports whether unparseable structured output means the model
// ignored the format instruction rather than producing broken data.
type FormatPolicy func(content string) bool

// DefaultFormatPolicy flags markdown, HTML and tutorial-style prose.
var DefaultFormatPolicy FormatPolicy = jsonutil.LooksLikeIgnoredInstructions

// withInstruction returns the prompt with FormatInstruction appended when the
// request is structured.
func withInstruction(req GenerationRequest, prompt string) string {
	if req.Structured() {
		return prompt + FormatInstruction
	}
	return prompt
}

// decodePayload turns raw model text into a Payload. Structured requests go
// through the extraction engine even when the backend enforced JSON mode.
// Any extraction failure is a FormatViolation; the policy only decides which
// of the two causes the message names.
func (b *base) decodePayload(req GenerationRequest, text string) (Payload, error) {
	if !req.Structured() {
		return Payload{Text: text}, nil
	}

	value, err := jsonutil.Extract(text)
	if err == nil {
		return Payload{Text: text, Value: value}, nil
	}

	preview := jsonutil.Preview(text)
	var extractErr *jsonutil.ExtractionError
	if errors.As(err, &extractErr) {
		preview = extractErr.Preview
	}

	if b.policy(text) {
		b.logger.Warn("model ignored JSON format instruction")
		return Payload{}, &ProviderError{
			Kind:     KindFormatViolation,
			Provider: b.cfg.Kind,
			Message:  "model ignored JSON format instruction, response starts with: " + preview,
			Cause:    err,
		}
	}
	return Payload{}, &ProviderError{
		Kind:     KindFormatViolation,
		Provider: b.cfg.Kind,
		Message:  "no valid JSON in response, response starts with: " + preview,
		Cause:    err,
	}
}
