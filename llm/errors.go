// Provider error taxonomy.
//
// Every failure a provider can produce is normalised into a *ProviderError
// carrying one ErrorKind. Retry and fallback decisions are made on the kind,
// never on message text.

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
)

// ErrorKind classifies a provider failure.
type ErrorKind int

const (
	// KindUnknown is any failure that could not be classified.
	KindUnknown ErrorKind = iota
	// KindQuotaExceeded means the account has run out of quota or credit.
	KindQuotaExceeded
	// KindRateLimited means the request was throttled but quota remains.
	KindRateLimited
	// KindTemporarilyUnavailable covers 5xx and overloaded responses.
	KindTemporarilyUnavailable
	// KindTimeout means the attempt deadline passed.
	KindTimeout
	// KindConnectionFailed covers dial, DNS and connection reset failures.
	KindConnectionFailed
	// KindAuthInvalid means the credential is missing or rejected.
	KindAuthInvalid
	// KindFormatViolation means the model ignored the output format instruction.
	KindFormatViolation
	// KindExtractionFailed means structured output was requested and no JSON
	// could be recovered from an otherwise data-like response. Providers
	// report this as KindFormatViolation; the kind is kept for callers that
	// classify extraction errors themselves.
	KindExtractionFailed
)

var kindNames = map[ErrorKind]string{
	KindUnknown:                "Unknown",
	KindQuotaExceeded:          "QuotaExceeded",
	KindRateLimited:            "RateLimited",
	KindTemporarilyUnavailable: "TemporarilyUnavailable",
	KindTimeout:                "Timeout",
	KindConnectionFailed:       "ConnectionFailed",
	KindAuthInvalid:            "AuthInvalid",
	KindFormatViolation:        "FormatViolation",
	KindExtractionFailed:       "ExtractionFailed",
}

// String returns the taxonomy name of the kind.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

var (
	// ErrMissingAPIKey is wrapped by AuthInvalid errors raised before any call.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrUnknownProvider is returned for unsupported provider kinds.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ProviderError is the normalised failure of a provider call.
type ProviderError struct {
	Kind       ErrorKind
	Provider   ProviderKind
	Message    string
	StatusCode int

	// Attempts is set by the retry controller to the number of calls made.
	Attempts int

	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Provider, e.Kind)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " (after %d attempts)", e.Attempts)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewError builds a ProviderError.
func NewError(provider ProviderKind, kind ErrorKind, format string, args ...any) *ProviderError {
	return &ProviderError{
		Kind:     kind,
		Provider: provider,
		Message:  fmt.Sprintf(format, args...),
	}
}

// AsProviderError finds the first *ProviderError in err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	if pe, ok := AsProviderError(err); ok {
		return pe.Kind
	}
	return KindUnknown
}

// Vendor error codes seen in provider error envelopes, lower-cased.
var vendorCodeKinds = map[string]ErrorKind{
	"insufficient_quota":         KindQuotaExceeded,
	"quota_exceeded":             KindQuotaExceeded,
	"billing_hard_limit_reached": KindQuotaExceeded,
	"resource_exhausted":         KindQuotaExceeded,
	"rate_limit_exceeded":        KindRateLimited,
	"rate_limit_error":           KindRateLimited,
	"invalid_api_key":            KindAuthInvalid,
	"api_key_invalid":            KindAuthInvalid,
	"authentication_error":       KindAuthInvalid,
	"permission_error":           KindAuthInvalid,
	"unauthenticated":            KindAuthInvalid,
	"permission_denied":          KindAuthInvalid,
	"unavailable":                KindTemporarilyUnavailable,
	"overloaded_error":           KindTemporarilyUnavailable,
	"service_unavailable":        KindTemporarilyUnavailable,
	"server_error":               KindTemporarilyUnavailable,
	"deadline_exceeded":          KindTimeout,
}

// classifyStatus maps an HTTP status and an optional vendor error code onto
// the taxonomy. A recognised vendor code wins over the status. A 429 without a
// code is treated as quota exhaustion unless the server sent Retry-After,
// which signals a transient throttle.
func classifyStatus(status int, vendorCode string, retryAfter bool) ErrorKind {
	if kind, ok := vendorCodeKinds[strings.ToLower(strings.TrimSpace(vendorCode))]; ok {
		return kind
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthInvalid
	case http.StatusTooManyRequests:
		if retryAfter {
			return KindRateLimited
		}
		return KindQuotaExceeded
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, 529:
		return KindTemporarilyUnavailable
	}
	return KindUnknown
}

// classifyTransport maps errors raised before a response arrived.
func classifyTransport(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		return KindConnectionFailed
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return KindConnectionFailed
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return KindConnectionFailed
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return KindConnectionFailed
	}
	return KindUnknown
}

// truncate shortens s to n runes for error messages and logs.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
