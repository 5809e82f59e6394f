package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies stream failures so the agent loop can choose a
// retry policy.
type ErrorKind string

const (
	ErrNetwork       ErrorKind = "network"        // DNS/TCP/TLS failure, connection reset mid-stream
	ErrHTTPStatus    ErrorKind = "http_status"    // provider returned non-2xx
	ErrProtocolParse ErrorKind = "protocol_parse" // stream event could not be parsed
	ErrProvider      ErrorKind = "provider_error" // provider returned a structured error
	ErrAuthMissing   ErrorKind = "auth_missing"   // API key empty or absent
)

// StreamError is the structured reason attached to StreamEnd(error).
type StreamError struct {
	Kind    ErrorKind
	Status  int // HTTP status when known, 0 otherwise
	Message string

	// Populated only in debug mode.
	RequestBody string
	URL         string
}

func (e *StreamError) Error() string {
	switch {
	case e.Kind == ErrHTTPStatus && e.Message != "":
		return fmt.Sprintf("API request failed with status %d: %s", e.Status, e.Message)
	case e.Kind == ErrHTTPStatus:
		return fmt.Sprintf("API request failed with status %d", e.Status)
	default:
		return e.Message
	}
}

// Transient reports whether a single retry with backoff is warranted.
// Auth failures are never transient.
func (e *StreamError) Transient() bool {
	switch e.Kind {
	case ErrNetwork:
		return true
	case ErrHTTPStatus:
		switch {
		case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
			return false
		case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
			return true
		case e.Status >= 500:
			return true
		}
	}
	return false
}

// Diagnostic renders the debug block appended to user-visible failures
// when debug mode is active. Empty when no debug context was captured.
func (e *StreamError) Diagnostic() string {
	if e.URL == "" && e.RequestBody == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\n--- debug ---\n")
	if e.URL != "" {
		sb.WriteString("url: " + e.URL + "\n")
	}
	if e.RequestBody != "" {
		sb.WriteString("request: " + e.RequestBody + "\n")
	}
	return sb.String()
}

func networkError(err error) *StreamError {
	return &StreamError{Kind: ErrNetwork, Message: err.Error()}
}

func authMissingError(provider, envVar string) *StreamError {
	return &StreamError{
		Kind:    ErrAuthMissing,
		Message: fmt.Sprintf("%s API key not configured. Use 'arula config set %s.api_key <key>' or set %s", provider, provider, envVar),
	}
}

// httpStatusError builds a StreamError from a non-2xx response body,
// extracting the provider's error message when one is present.
func httpStatusError(status int, body []byte) *StreamError {
	return &StreamError{
		Kind:    ErrHTTPStatus,
		Status:  status,
		Message: parseProviderMessage(body),
	}
}

// parseProviderMessage digs a human-readable message out of a provider
// error body. Fields are tried in order: error.message, error, message,
// detail. Falls back to the raw body.
func parseProviderMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if len(envelope.Error) > 0 {
			var inner struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(envelope.Error, &inner); err == nil && inner.Message != "" {
				return inner.Message
			}
			var plain string
			if err := json.Unmarshal(envelope.Error, &plain); err == nil && plain != "" {
				return plain
			}
		}
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Detail != "" {
			return envelope.Detail
		}
	}
	return strings.TrimSpace(string(body))
}
