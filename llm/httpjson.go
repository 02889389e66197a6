package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	mimeJSON          = "application/json"
	headerContentType = "Content-Type"
)

// doJSON sends payload (if any) as JSON and decodes a 2xx response into out.
// Non-2xx responses and transport failures come back classified.
func (b *base) doJSON(ctx context.Context, method, url string, header http.Header, payload, out any) (int, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, NewError(b.cfg.Kind, KindUnknown, "marshal request: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, NewError(b.cfg.Kind, KindUnknown, "create request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if payload != nil {
		req.Header.Set(headerContentType, mimeJSON)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return 0, b.transportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, b.transportError(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code, message := parseErrorEnvelope(respBody)
		if message == "" {
			message = string(respBody)
		}
		return resp.StatusCode, b.statusError(resp.StatusCode, code, resp.Header.Get("Retry-After") != "", message, nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &ProviderError{
				Kind:       KindUnknown,
				Provider:   b.cfg.Kind,
				Message:    "decode response: " + truncate(string(respBody), 200),
				StatusCode: resp.StatusCode,
				Cause:      err,
			}
		}
	}
	return resp.StatusCode, nil
}

// errorEnvelope covers the common vendor error bodies:
// {"error": {"code", "type", "status", "message"}}, {"error": "text"} and
// {"detail": "text"}.
type errorEnvelope struct {
	Error  json.RawMessage `json:"error"`
	Detail string          `json:"detail"`
}

type errorObject struct {
	Code    any    `json:"code"`
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// parseErrorEnvelope returns the vendor error code and message, if present.
func parseErrorEnvelope(body []byte) (code, message string) {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", ""
	}
	if len(env.Error) == 0 {
		return "", env.Detail
	}

	var text string
	if err := json.Unmarshal(env.Error, &text); err == nil {
		return "", text
	}

	var obj errorObject
	if err := json.Unmarshal(env.Error, &obj); err != nil {
		return "", ""
	}
	for _, candidate := range []string{codeString(obj.Code), obj.Type, obj.Status} {
		if _, known := vendorCodeKinds[strings.ToLower(candidate)]; known {
			return candidate, obj.Message
		}
	}
	return codeString(obj.Code), obj.Message
}

func codeString(code any) string {
	switch c := code.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		return fmt.Sprint(c)
	}
}
