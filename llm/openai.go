// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for the OpenAI Chat Completions API
// - Native JSON mode and its "json" prompt requirement
// - Mapping go-openai error types onto the taxonomy

package llm

import (
	"context"
	"errors"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const defaultSystemMessage = "You are a helpful assistant."

// chatTemperature converts a request temperature for go-openai, whose field
// is dropped by omitempty at zero. Zero is sent as the smallest positive
// float32 so the vendor default never replaces it.
func chatTemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

// OpenAIProvider implements the Provider interface for OpenAI.
type OpenAIProvider struct {
	*base
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(b *base) *OpenAIProvider {
	return &OpenAIProvider{base: b, client: newOpenAIClient(b)}
}

func newOpenAIClient(b *base) *openai.Client {
	config := openai.DefaultConfig(b.cfg.APIKey)
	if b.cfg.BaseURL != "" {
		config.BaseURL = b.cfg.BaseURL
	}
	config.HTTPClient = b.httpClient
	return openai.NewClientWithConfig(config)
}

// ValidateConfig checks the key looks like an OpenAI secret key.
func (p *OpenAIProvider) ValidateConfig(_ context.Context) bool {
	return strings.HasPrefix(p.cfg.APIKey, "sk-")
}

// Generate sends a chat completion request, using JSON mode for structured output.
func (p *OpenAIProvider) Generate(ctx context.Context, req GenerationRequest) (Payload, error) {
	if err := p.requireKey(); err != nil {
		return Payload{}, err
	}

	system := req.SystemMessage
	if system == "" {
		system = defaultSystemMessage
	}
	prompt := req.Prompt

	chatReq := openai.ChatCompletionRequest{
		Model:       p.cfg.Model,
		Temperature: chatTemperature(req.Temperature),
		MaxTokens:   p.cfg.MaxTokens,
	}
	if req.Structured() {
		// JSON mode is rejected unless the conversation mentions JSON.
		if !strings.Contains(strings.ToLower(system+prompt), "json") {
			prompt += "\n\nRespond in JSON."
		}
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	chatReq.Messages = []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		{Role: openai.ChatMessageRoleUser, Content: prompt},
	}

	text, err := p.complete(ctx, p.client, chatReq)
	if err != nil {
		return Payload{}, err
	}
	return p.decodePayload(req, text)
}

// complete runs one chat completion under the attempt timeout and returns the
// first choice's content.
func (b *base) complete(ctx context.Context, client *openai.Client, chatReq openai.ChatCompletionRequest) (string, error) {
	ctx, cancel := b.attemptContext(ctx)
	defer cancel()

	b.logger.Debug("chat completion request",
		zap.Int("messages", len(chatReq.Messages)),
		zap.Bool("json_mode", chatReq.ResponseFormat != nil))

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", b.openAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", NewError(b.cfg.Kind, KindUnknown, "response contained no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// openAIError maps go-openai errors onto the taxonomy.
func (b *base) openAIError(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := codeString(apiErr.Code)
		if _, known := vendorCodeKinds[strings.ToLower(code)]; !known {
			code = apiErr.Type
		}
		return b.statusError(apiErr.HTTPStatusCode, code, false, apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		message := "request failed"
		if reqErr.Err != nil {
			message = reqErr.Err.Error()
		}
		return b.statusError(reqErr.HTTPStatusCode, "", false, message, err)
	}

	return b.transportError(err)
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
