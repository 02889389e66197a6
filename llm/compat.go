// OpenAI-compatible providers: Together AI, Groq and DeepSeek.
//
// These vendors share the chat completions wire shape but not OpenAI's JSON
// mode guarantees, so structured requests get FormatInstruction appended and
// always send max_tokens.

package llm

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// defaultCompatMaxTokens is sent when the config does not set MaxTokens.
const defaultCompatMaxTokens = 4096

// CompatProvider implements the Provider interface for OpenAI-compatible APIs.
type CompatProvider struct {
	*base
	client *openai.Client
}

// NewCompatProvider creates a provider for an OpenAI-compatible vendor. The
// vendor endpoint comes from the config's BaseURL.
func NewCompatProvider(b *base) *CompatProvider {
	return &CompatProvider{base: b, client: newOpenAIClient(b)}
}

// ValidateConfig reports whether an API key is set.
func (p *CompatProvider) ValidateConfig(_ context.Context) bool {
	return p.hasKey()
}

// Generate sends a chat completion request.
func (p *CompatProvider) Generate(ctx context.Context, req GenerationRequest) (Payload, error) {
	if err := p.requireKey(); err != nil {
		return Payload{}, err
	}

	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultCompatMaxTokens
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Temperature: chatTemperature(req.Temperature),
		MaxTokens:   maxTokens,
		Messages:    toOpenAIMessages(req.messages(), withInstruction(req, req.Prompt)),
	}

	text, err := p.complete(ctx, p.client, chatReq)
	if err != nil {
		return Payload{}, err
	}
	return p.decodePayload(req, text)
}

// toOpenAIMessages converts messages, replacing the final user turn's content
// with prompt.
func toOpenAIMessages(messages []ChatMessage, prompt string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = openai.ChatCompletionMessage{Role: msg.Role, Content: msg.Content}
	}
	result[len(result)-1].Content = prompt
	return result
}

// Verify CompatProvider implements Provider
var _ Provider = (*CompatProvider)(nil)
