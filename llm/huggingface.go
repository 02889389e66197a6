// Hugging Face inference API provider.

package llm

import (
	"context"
	"net/http"
)

const defaultHuggingFaceMaxTokens = 2048

type huggingFaceRequest struct {
	Inputs     []ChatMessage         `json:"inputs"`
	Parameters huggingFaceParameters `json:"parameters"`
}

type huggingFaceParameters struct {
	Temperature    float64 `json:"temperature"`
	MaxNewTokens   int     `json:"max_new_tokens"`
	ReturnFullText bool    `json:"return_full_text"`
}

type huggingFaceGeneration struct {
	GeneratedText string `json:"generated_text"`
}

// HuggingFaceProvider implements the Provider interface for the Hugging Face
// inference API.
type HuggingFaceProvider struct {
	*base
}

// NewHuggingFaceProvider creates a new Hugging Face provider.
func NewHuggingFaceProvider(b *base) *HuggingFaceProvider {
	return &HuggingFaceProvider{base: b}
}

// ValidateConfig reports whether an API key is set.
func (p *HuggingFaceProvider) ValidateConfig(_ context.Context) bool {
	return p.hasKey()
}

// Generate posts to /models/{model}. The model is loaded on demand by the
// service, which answers 503 while loading.
func (p *HuggingFaceProvider) Generate(ctx context.Context, req GenerationRequest) (Payload, error) {
	if err := p.requireKey(); err != nil {
		return Payload{}, err
	}

	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultHuggingFaceMaxTokens
	}

	messages := req.messages()
	messages[len(messages)-1].Content = withInstruction(req, req.Prompt)

	body := huggingFaceRequest{
		Inputs: messages,
		Parameters: huggingFaceParameters{
			Temperature:  req.Temperature,
			MaxNewTokens: maxTokens,
		},
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	ctx, cancel := p.attemptContext(ctx)
	defer cancel()

	var generations []huggingFaceGeneration
	if _, err := p.doJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/models/"+p.cfg.Model, header, body, &generations); err != nil {
		return Payload{}, err
	}
	if len(generations) == 0 {
		return Payload{}, NewError(p.cfg.Kind, KindUnknown, "response contained no generations")
	}
	return p.decodePayload(req, generations[0].GeneratedText)
}

// Verify HuggingFaceProvider implements Provider
var _ Provider = (*HuggingFaceProvider)(nil)
