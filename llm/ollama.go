// Ollama Provider implementation over the local REST API.
//
// Endpoints used:
//   - POST /api/generate  non-streaming completion
//   - GET  /api/tags      reachability check for ValidateConfig

package llm

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const ollamaPingTimeout = 5 * time.Second

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaProvider implements the Provider interface against a running Ollama instance.
type OllamaProvider struct {
	*base
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(b *base) *OllamaProvider {
	return &OllamaProvider{base: b}
}

// ValidateConfig checks that GET /api/tags answers.
func (p *OllamaProvider) ValidateConfig(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, ollamaPingTimeout)
	defer cancel()

	if _, err := p.doJSON(ctx, http.MethodGet, p.cfg.BaseURL+"/api/tags", nil, nil, nil); err != nil {
		p.logger.Debug("ollama ping failed", zap.Error(err))
		return false
	}
	return true
}

// Generate calls /api/generate with streaming disabled. The system message is
// prepended to the prompt and structured requests get FormatInstruction
// appended.
func (p *OllamaProvider) Generate(ctx context.Context, req GenerationRequest) (Payload, error) {
	body := ollamaGenerateRequest{
		Model:   p.cfg.Model,
		Prompt:  withInstruction(req, req.singlePrompt()),
		Stream:  false,
		Options: map[string]any{"temperature": req.Temperature},
	}
	if p.cfg.MaxTokens > 0 {
		body.Options["num_predict"] = p.cfg.MaxTokens
	}

	ctx, cancel := p.attemptContext(ctx)
	defer cancel()

	var resp ollamaGenerateResponse
	if _, err := p.doJSON(ctx, http.MethodPost, p.cfg.BaseURL+"/api/generate", nil, body, &resp); err != nil {
		return Payload{}, err
	}
	return p.decodePayload(req, resp.Response)
}

// Verify OllamaProvider implements Provider
var _ Provider = (*OllamaProvider)(nil)
