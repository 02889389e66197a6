// Provider tests against httptest servers. No real vendor API is contacted.
package llm

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, kind ProviderKind, baseURL, apiKey string, opts ...Option) Provider {
	t.Helper()
	p, err := New(ProviderConfig{Kind: kind, APIKey: apiKey, BaseURL: baseURL}, opts...)
	require.NoError(t, err)
	return p
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "test",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func requireKind(t *testing.T, err error, want ErrorKind) *ProviderError {
	t.Helper()
	require.Error(t, err)
	pe, ok := AsProviderError(err)
	require.True(t, ok, "expected *ProviderError, got %T: %v", err, err)
	assert.Equal(t, want, pe.Kind, pe.Error())
	return pe
}

// ============================================================================
// Credentials
// ============================================================================

func TestMissingKeyFailsBeforeNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	for _, kind := range AllProviderKinds {
		if !kind.RequiresAPIKey() {
			continue
		}
		t.Run(kind.String(), func(t *testing.T) {
			p := newTestProvider(t, kind, srv.URL, "")
			_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi"})
			pe := requireKind(t, err, KindAuthInvalid)
			assert.ErrorIs(t, pe, ErrMissingAPIKey)
			assert.False(t, p.ValidateConfig(context.Background()))
		})
	}
	assert.Zero(t, calls.Load())
}

func TestOpenAIValidateConfigChecksPrefix(t *testing.T) {
	assert.True(t, newTestProvider(t, ProviderOpenAI, "", "sk-abc").ValidateConfig(context.Background()))
	assert.False(t, newTestProvider(t, ProviderOpenAI, "", "abc").ValidateConfig(context.Background()))
}

// TestErrorNoAPIKeyLeak verifies errors don't echo the key even when the
// vendor puts it in the response body.
func TestErrorNoAPIKeyLeak(t *testing.T) {
	testKey := "sk-test-invalid-key-12345xyz"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		key = strings.TrimPrefix(key, "Token ")
		if key == "" {
			key = r.Header.Get("x-api-key")
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"error": map[string]any{
				"message": "Incorrect API key provided: " + key,
				"type":    "invalid_request_error",
				"code":    "invalid_api_key",
			},
		})
	}))
	defer srv.Close()

	for _, kind := range []ProviderKind{ProviderOpenAI, ProviderDeepSeek, ProviderHuggingFace, ProviderReplicate, ProviderAnthropic} {
		t.Run(kind.String(), func(t *testing.T) {
			p := newTestProvider(t, kind, srv.URL, testKey)
			_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "test"})
			requireKind(t, err, KindAuthInvalid)

			errStr := err.Error()
			assert.NotContains(t, errStr, testKey)
			assert.NotContains(t, errStr, "Authorization:")
		})
	}
}

// ============================================================================
// OpenAI and compatible vendors
// ============================================================================

func TestOpenAIStructuredUsesJSONMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		assert.Equal(t, map[string]any{"type": "json_object"}, body["response_format"])

		messages := body["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, defaultSystemMessage, messages[0].(map[string]any)["content"])
		assert.Contains(t, strings.ToLower(messages[1].(map[string]any)["content"].(string)), "json")

		writeJSON(w, http.StatusOK, chatCompletion("```json\n{\"a\": 1}\n```"))
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderOpenAI, srv.URL, "sk-test")
	payload, err := p.Generate(context.Background(), GenerationRequest{Prompt: "List modules", Shape: ShapeStructured})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, payload.Value)
}

func TestOpenAIText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Nil(t, body["response_format"])
		messages := body["messages"].([]any)
		assert.Equal(t, "Be brief.", messages[0].(map[string]any)["content"])
		writeJSON(w, http.StatusOK, chatCompletion("Hello there"))
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderOpenAI, srv.URL, "sk-test")
	payload, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Hi", SystemMessage: "Be brief."})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", payload.Text)
	assert.Nil(t, payload.Value)
}

func TestOpenAIQuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"message": "You exceeded your current quota",
				"type":    "insufficient_quota",
				"code":    "insufficient_quota",
			},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderOpenAI, srv.URL, "sk-test")
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Hi"})
	pe := requireKind(t, err, KindQuotaExceeded)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

func TestCompatRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.Equal(t, float64(defaultCompatMaxTokens), body["max_tokens"])
		assert.Nil(t, body["response_format"])

		messages := body["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.True(t, strings.HasSuffix(messages[1].(map[string]any)["content"].(string), FormatInstruction))

		writeJSON(w, http.StatusOK, chatCompletion(`Sure: [1, 2, 3]`))
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderGroq, srv.URL, "gsk-test")
	payload, err := p.Generate(context.Background(), GenerationRequest{
		Prompt:        "Numbers",
		SystemMessage: "You output data.",
		Shape:         ShapeStructured,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, payload.Value)
}

func TestChatZeroTemperatureIsSent(t *testing.T) {
	for _, kind := range []ProviderKind{ProviderOpenAI, ProviderGroq} {
		t.Run(kind.String(), func(t *testing.T) {
			var temperature any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body := decodeBody(t, r)
				var ok bool
				temperature, ok = body["temperature"]
				assert.True(t, ok, "temperature missing from request body")
				writeJSON(w, http.StatusOK, chatCompletion("ok"))
			}))
			defer srv.Close()

			p := newTestProvider(t, kind, srv.URL, "sk-test")
			_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Hi", Temperature: 0})
			require.NoError(t, err)
			require.IsType(t, float64(0), temperature)
			assert.InDelta(t, 0, temperature.(float64), 1e-6)
		})
	}
}

func TestChatTemperature(t *testing.T) {
	assert.Equal(t, float32(math.SmallestNonzeroFloat32), chatTemperature(0))
	assert.Equal(t, float32(0.7), chatTemperature(0.7))
}

func TestCompatTemporarilyUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": map[string]any{"message": "service unavailable", "type": "service_unavailable"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderTogether, srv.URL, "tg-test")
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Hi"})
	requireKind(t, err, KindTemporarilyUnavailable)
}

// ============================================================================
// Ollama
// ============================================================================

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}
		assert.Empty(t, r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		assert.Equal(t, false, body["stream"])
		assert.Equal(t, "llama3", body["model"])
		assert.Equal(t, map[string]any{"temperature": 0.2}, body["options"])

		writeJSON(w, http.StatusOK, ollamaGenerateResponse{Response: "Paris", Done: true})
	}))
	defer srv.Close()

	p, err := New(ProviderConfig{Kind: ProviderOllama, BaseURL: srv.URL, Model: "llama3"})
	require.NoError(t, err)

	payload, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Capital of France?", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "Paris", payload.Text)
}

func TestOllamaPrependsSystemMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		assert.NotContains(t, body, "system")
		assert.Equal(t, "Answer in one word.\n\nCapital of France?", body["prompt"])
		writeJSON(w, http.StatusOK, ollamaGenerateResponse{Response: "Paris", Done: true})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderOllama, srv.URL, "")
	payload, err := p.Generate(context.Background(), GenerationRequest{
		Prompt:        "Capital of France?",
		SystemMessage: "Answer in one word.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris", payload.Text)
}

func TestOllamaStructuredOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantMsg  string
		wantOK   bool
	}{
		{"fenced json", "```json\n{\"title\": \"A\"}\n```", "", true},
		{"markdown tutorial", "# Getting Started\nIn this tutorial you will learn", "model ignored JSON format instruction", false},
		{"broken data", `{"title": "A", "content": `, "no valid JSON in response", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				body := decodeBody(t, r)
				assert.True(t, strings.HasSuffix(body["prompt"].(string), FormatInstruction))
				writeJSON(w, http.StatusOK, ollamaGenerateResponse{Response: tt.response, Done: true})
			}))
			defer srv.Close()

			p := newTestProvider(t, ProviderOllama, srv.URL, "")
			payload, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Outline", Shape: ShapeStructured})
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, map[string]any{"title": "A"}, payload.Value)
				return
			}
			pe := requireKind(t, err, KindFormatViolation)
			assert.Contains(t, pe.Message, tt.wantMsg)
			assert.Contains(t, pe.Message, "response starts with")
		})
	}
}

func TestCustomFormatPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ollamaGenerateResponse{Response: "# Heading only", Done: true})
	}))
	defer srv.Close()

	never := func(string) bool { return false }
	p := newTestProvider(t, ProviderOllama, srv.URL, "", WithFormatPolicy(never))
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "x", Shape: ShapeStructured})
	pe := requireKind(t, err, KindFormatViolation)
	assert.Contains(t, pe.Message, "no valid JSON in response")
}

func TestOllamaValidateConfigPingsTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			writeJSON(w, http.StatusOK, map[string]any{"models": []any{}})
			return
		}
		http.Error(w, "unexpected", http.StatusNotFound)
	}))
	defer srv.Close()

	assert.True(t, newTestProvider(t, ProviderOllama, srv.URL, "").ValidateConfig(context.Background()))

	srv.Close()
	assert.False(t, newTestProvider(t, ProviderOllama, srv.URL, "").ValidateConfig(context.Background()))
}

func TestOllamaConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p := newTestProvider(t, ProviderOllama, url, "")
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi"})
	requireKind(t, err, KindConnectionFailed)
}

func TestAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	p, err := New(ProviderConfig{Kind: ProviderOllama, BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), GenerationRequest{Prompt: "hi"})
	requireKind(t, err, KindTimeout)
}

// ============================================================================
// Hugging Face
// ============================================================================

func TestHuggingFaceGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/mistralai/Mistral-7B-Instruct-v0.2", r.URL.Path)
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		params := body["parameters"].(map[string]any)
		assert.Equal(t, float64(defaultHuggingFaceMaxTokens), params["max_new_tokens"])
		assert.Equal(t, false, params["return_full_text"])
		assert.Len(t, body["inputs"], 2)

		writeJSON(w, http.StatusOK, []huggingFaceGeneration{{GeneratedText: "Bonjour"}})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderHuggingFace, srv.URL, "hf_test")
	payload, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Say hello in French", SystemMessage: "Translate."})
	require.NoError(t, err)
	assert.Equal(t, "Bonjour", payload.Text)
}

func TestHuggingFaceModelLoading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Model is currently loading"})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderHuggingFace, srv.URL, "hf_test")
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi"})
	pe := requireKind(t, err, KindTemporarilyUnavailable)
	assert.Contains(t, pe.Message, "currently loading")
}

// ============================================================================
// Replicate
// ============================================================================

func replicateServer(t *testing.T, statuses ...replicatePrediction) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Token r8_test", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/predictions"):
			body := decodeBody(t, r)
			input := body["input"].(map[string]any)
			assert.Equal(t, "Be terse.\n\nhi", input["prompt"])
			writeJSON(w, http.StatusCreated, replicatePrediction{ID: "pred-1", Status: "starting"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/predictions/pred-1":
			n := int(polls.Add(1))
			if n > len(statuses) {
				n = len(statuses)
			}
			writeJSON(w, http.StatusOK, statuses[n-1])
		default:
			http.Error(w, "unexpected", http.StatusNotFound)
		}
	}))
	return srv, &polls
}

func TestReplicatePollsUntilSucceeded(t *testing.T) {
	srv, polls := replicateServer(t,
		replicatePrediction{Status: "processing"},
		replicatePrediction{Status: "succeeded", Output: json.RawMessage(`["Hel", "lo"]`)},
	)
	defer srv.Close()

	p := newTestProvider(t, ProviderReplicate, srv.URL, "r8_test", WithPolling(time.Millisecond, 30))
	payload, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi", SystemMessage: "Be terse."})
	require.NoError(t, err)
	assert.Equal(t, "Hello", payload.Text)
	assert.Equal(t, int32(2), polls.Load())
}

func TestReplicatePollExhaustionIsTimeout(t *testing.T) {
	srv, polls := replicateServer(t, replicatePrediction{Status: "processing"})
	defer srv.Close()

	p := newTestProvider(t, ProviderReplicate, srv.URL, "r8_test", WithPolling(time.Millisecond, 3))
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi", SystemMessage: "Be terse."})
	requireKind(t, err, KindTimeout)
	assert.Equal(t, int32(3), polls.Load())
}

func TestReplicateFailedPrediction(t *testing.T) {
	srv, _ := replicateServer(t, replicatePrediction{Status: "failed", Error: "CUDA out of memory"})
	defer srv.Close()

	p := newTestProvider(t, ProviderReplicate, srv.URL, "r8_test", WithPolling(time.Millisecond, 3))
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi", SystemMessage: "Be terse."})
	pe := requireKind(t, err, KindUnknown)
	assert.Contains(t, pe.Message, "CUDA out of memory")
}

func TestReplicatePollHonoursCancellation(t *testing.T) {
	srv, _ := replicateServer(t, replicatePrediction{Status: "processing"})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := newTestProvider(t, ProviderReplicate, srv.URL, "r8_test", WithPolling(time.Hour, 30))
	start := time.Now()
	_, err := p.Generate(ctx, GenerationRequest{Prompt: "hi", SystemMessage: "Be terse."})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

// ============================================================================
// Anthropic
// ============================================================================

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"))
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))

		body := decodeBody(t, r)
		assert.Equal(t, float64(defaultAnthropicMaxTokens), body["max_tokens"])
		assert.NotNil(t, body["system"])

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-sonnet-4-20250514",
			"content":       []map[string]any{{"type": "text", "text": `{"ok": true}`}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 3, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderAnthropic, srv.URL, "sk-ant-test")
	payload, err := p.Generate(context.Background(), GenerationRequest{
		Prompt:        "Status?",
		SystemMessage: "Reply with data.",
		Shape:         ShapeStructured,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, payload.Value)
}

func TestAnthropicOverloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 529, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "overloaded_error", "message": "Overloaded"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderAnthropic, srv.URL, "sk-ant-test")
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi"})
	requireKind(t, err, KindTemporarilyUnavailable)
}

// ============================================================================
// Gemini
// ============================================================================

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "gemini-pro:generateContent")

		body := decodeBody(t, r)
		genConfig := body["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", genConfig["responseMimeType"])

		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"role": "model", "parts": []map[string]any{{"text": `{"modules": []}`}}},
				"finishReason": "STOP",
			}},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderGemini, srv.URL, "AIza-test")
	payload, err := p.Generate(context.Background(), GenerationRequest{Prompt: "Plan", Shape: ShapeStructured})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"modules": []any{}}, payload.Value)
}

func TestGeminiSafetyBlockIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"candidates": []map[string]any{{
				"finishReason": "SAFETY",
				"safetyRatings": []map[string]any{{
					"category":    "HARM_CATEGORY_DANGEROUS_CONTENT",
					"probability": "HIGH",
				}},
			}},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderGemini, srv.URL, "AIza-test")
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "something risky"})
	pe := requireKind(t, err, KindUnknown)
	assert.Contains(t, pe.Message, "safety")
}

func TestGeminiQuotaExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{"code": 429, "message": "Quota exceeded", "status": "RESOURCE_EXHAUSTED"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, ProviderGemini, srv.URL, "AIza-test")
	_, err := p.Generate(context.Background(), GenerationRequest{Prompt: "hi"})
	requireKind(t, err, KindQuotaExceeded)
}
