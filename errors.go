package kueri

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Error classifications assigned by the transport.
const (
	// ErrorTypeNetwork marks transport failures with no HTTP response.
	ErrorTypeNetwork = "Network"
	// ErrorTypeTimeout marks requests that exceeded the fixed deadline.
	ErrorTypeTimeout = "Timeout"
	// ErrorTypeClient marks 4xx responses; never retried.
	ErrorTypeClient = "Client"
	// ErrorTypeServer marks 5xx responses; transient, retried.
	ErrorTypeServer = "Server"
	// ErrorTypeValidation marks configuration or decoding failures.
	ErrorTypeValidation = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrSessionExpired matches (via errors.Is) any 401 response. The
	// global side channel fires in addition to this being returned.
	ErrSessionExpired = errors.New("kueri: session expired")

	// ErrQueryDisabled is returned when fetching is attempted on a query
	// whose enabled flag is false.
	ErrQueryDisabled = errors.New("kueri: query disabled")
)

// RequestError is the error type surfaced by the transport and the store.
type RequestError struct {
	Type       string
	Message    string
	StatusCode int
	RequestID  string
	Method     string
	URL        string
	Attempt    int
	MaxRetries int
	Timestamp  time.Time
	Cause      error
}

// Error implements error interface.
func (e *RequestError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxRetries)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is. A 401 additionally matches
// ErrSessionExpired.
func (e *RequestError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == ErrSessionExpired {
		return e.StatusCode == http.StatusUnauthorized
	}
	if targetErr, ok := target.(*RequestError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *RequestError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.RequestID != "" {
		info += fmt.Sprintf("Request ID: %s\n", e.RequestID)
	}
	if e.Method != "" {
		info += fmt.Sprintf("Method: %s\n", e.Method)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if e.Attempt > 0 {
		info += fmt.Sprintf("Attempt: %d/%d\n", e.Attempt, e.MaxRetries)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient determines if an error represents a transient failure that
// might succeed on retry. Returns true for network errors, timeouts and 5xx
// responses. Returns false for 4xx client errors (except 429) and
// validation errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Type {
		case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeServer:
			return true
		case ErrorTypeClient:
			// 429 Too Many Requests is transient
			return reqErr.StatusCode == http.StatusTooManyRequests
		default:
			return false
		}
	}

	return false
}

// errorDetail is the error payload shape used by the analytics API: either
// {"detail": "message"} or {"detail": [{"msg": "..."}, ...]} for
// validation failures.
type errorDetail struct {
	Detail json.RawMessage `json:"detail"`
}

type errorDetailItem struct {
	Msg string `json:"msg"`
}

// normalizeErrorBody extracts a single human-readable message from an error
// response body, falling back to the HTTP status text.
func normalizeErrorBody(body []byte, statusCode int) string {
	fallback := http.StatusText(statusCode)
	if fallback == "" {
		fallback = fmt.Sprintf("HTTP %d", statusCode)
	}
	if len(body) == 0 {
		return fallback
	}

	var payload errorDetail
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return fallback
	}

	var msg string
	if err := json.Unmarshal(payload.Detail, &msg); err == nil && msg != "" {
		return msg
	}

	var items []errorDetailItem
	if err := json.Unmarshal(payload.Detail, &items); err == nil && len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				parts = append(parts, item.Msg)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	}

	return fallback
}
