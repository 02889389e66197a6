// Package llm provides shared data models for LLM providers.
package llm

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// OutputShape selects between raw text and a parsed structured value.
type OutputShape int

const (
	ShapeText OutputShape = iota
	ShapeStructured
)

// String returns the shape name.
func (s OutputShape) String() string {
	if s == ShapeStructured {
		return "structured"
	}
	return "text"
}

// DefaultTemperature is used by callers that do not choose one.
const DefaultTemperature = 0.2

// GenerationRequest is one generation call, independent of provider.
type GenerationRequest struct {
	Prompt        string      `validate:"required"`
	SystemMessage string
	Shape         OutputShape `validate:"oneof=0 1"`
	Temperature   float64     `validate:"gte=0,lte=2"`
}

// Validate checks the request before any network call.
func (r GenerationRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid generation request: %w", err)
	}
	return nil
}

// Structured reports whether the caller wants a parsed value.
func (r GenerationRequest) Structured() bool {
	return r.Shape == ShapeStructured
}

// Payload is what a provider returns. Value is set only for structured
// requests and holds the extracted JSON value.
type Payload struct {
	Text  string
	Value any
}

// GenerationResult is a successful generation with its provenance.
type GenerationResult struct {
	Payload  Payload
	Provider ProviderKind
	Model    string
}

// ChatMessage represents a chat message with role and content.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage creates a system message.
func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: "user", Content: content}
}

// messages builds the system/user pair for chat-style wire formats.
func (r GenerationRequest) messages() []ChatMessage {
	var msgs []ChatMessage
	if r.SystemMessage != "" {
		msgs = append(msgs, SystemMessage(r.SystemMessage))
	}
	return append(msgs, UserMessage(r.Prompt))
}

// singlePrompt joins the system message and prompt for single-text backends.
func (r GenerationRequest) singlePrompt() string {
	if r.SystemMessage == "" {
		return r.Prompt
	}
	return r.SystemMessage + "\n\n" + r.Prompt
}
