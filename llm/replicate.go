// Replicate provider: submit a prediction, then poll until it is terminal.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultReplicateMaxTokens = 4096

type replicateInput struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

type replicateRequest struct {
	Input replicateInput `json:"input"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
}

// text joins the output token array. Some models return a single string.
func (r replicatePrediction) text() string {
	var parts []string
	if err := json.Unmarshal(r.Output, &parts); err == nil {
		return strings.Join(parts, "")
	}
	var s string
	if err := json.Unmarshal(r.Output, &s); err == nil {
		return s
	}
	return ""
}

// ReplicateProvider implements the Provider interface for Replicate.
type ReplicateProvider struct {
	*base
	pollInterval time.Duration
	pollAttempts int
}

// NewReplicateProvider creates a new Replicate provider polling every interval
// up to attempts times.
func NewReplicateProvider(b *base, interval time.Duration, attempts int) *ReplicateProvider {
	return &ReplicateProvider{base: b, pollInterval: interval, pollAttempts: attempts}
}

// ValidateConfig reports whether an API token is set.
func (p *ReplicateProvider) ValidateConfig(_ context.Context) bool {
	return p.hasKey()
}

// Generate submits a prediction and polls it to completion. Running out of
// poll attempts is a Timeout.
func (p *ReplicateProvider) Generate(ctx context.Context, req GenerationRequest) (Payload, error) {
	if err := p.requireKey(); err != nil {
		return Payload{}, err
	}

	maxTokens := p.cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultReplicateMaxTokens
	}

	body := replicateRequest{Input: replicateInput{
		Prompt:      withInstruction(req, req.singlePrompt()),
		Temperature: req.Temperature,
		MaxTokens:   maxTokens,
	}}

	header := http.Header{}
	header.Set("Authorization", "Token "+p.cfg.APIKey)

	ctx, cancel := p.attemptContext(ctx)
	defer cancel()

	var prediction replicatePrediction
	submitURL := p.cfg.BaseURL + "/v1/models/" + p.cfg.Model + "/predictions"
	if _, err := p.doJSON(ctx, http.MethodPost, submitURL, header, body, &prediction); err != nil {
		return Payload{}, err
	}
	if prediction.ID == "" {
		return Payload{}, NewError(p.cfg.Kind, KindUnknown, "prediction response carried no id")
	}

	statusURL := p.cfg.BaseURL + "/v1/predictions/" + prediction.ID
	for attempt := 1; attempt <= p.pollAttempts; attempt++ {
		if err := sleepContext(ctx, p.pollInterval); err != nil {
			return Payload{}, p.transportError(err)
		}

		var status replicatePrediction
		if _, err := p.doJSON(ctx, http.MethodGet, statusURL, header, nil, &status); err != nil {
			return Payload{}, err
		}

		switch status.Status {
		case "succeeded":
			return p.decodePayload(req, status.text())
		case "failed", "canceled":
			message := "unknown error"
			if status.Error != nil {
				message = codeString(status.Error)
			}
			return Payload{}, NewError(p.cfg.Kind, KindUnknown, "prediction %s: %s", status.Status, message)
		}
		p.logger.Debug("prediction pending",
			zap.String("prediction_id", prediction.ID),
			zap.String("status", status.Status),
			zap.Int("poll", attempt))
	}

	return Payload{}, NewError(p.cfg.Kind, KindTimeout, "prediction %s not finished after %d polls", prediction.ID, p.pollAttempts)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Verify ReplicateProvider implements Provider
var _ Provider = (*ReplicateProvider)(nil)
