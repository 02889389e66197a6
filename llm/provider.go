// Package llm provides LLM provider abstractions.
//
// LLM Provider interface - the abstract interface for text-generation backends.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Mapping vendor failures onto the ProviderError taxonomy
// - Structured output extraction

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
type Provider interface {
	// Kind returns the provider kind (for logging and provenance).
	Kind() ProviderKind

	// Model returns the model being used.
	Model() string

	// Generate runs one generation. Any error it returns is a *ProviderError.
	Generate(ctx context.Context, req GenerationRequest) (Payload, error)

	// ValidateConfig reports whether the provider looks usable. It is a cheap
	// local check except for providers without credentials, which ping the
	// server.
	ValidateConfig(ctx context.Context) bool
}
