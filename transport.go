package kueri

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Bodies are read fully for decoding and error normalization; cap them so a
// misbehaving endpoint cannot exhaust memory.
const maxResponseBody = 10 * 1024 * 1024

// Transport performs one network call per invocation and applies the
// cross-cutting request/response policy: base URL resolution, fixed
// deadline, JSON content negotiation, bearer token injection and the global
// session-expiry side channel. It is safe for concurrent use.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenStore

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	sessionExpired   chan struct{}
	onSessionExpired func()
}

// NewTransport constructs a transport for the given base URL. The token
// store may be nil for unauthenticated APIs.
func NewTransport(baseURL string, tokens TokenStore, timeout time.Duration) *Transport {
	return &Transport{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     &http.Client{Timeout: timeout},
		tokens:         tokens,
		sessionExpired: make(chan struct{}, 1),
	}
}

// SessionEvents returns the single-consumer channel that receives one event
// per coalesced burst of 401 responses. The application boundary observes
// it to redirect to a login state; individual call sites should not.
func (t *Transport) SessionEvents() <-chan struct{} {
	return t.sessionExpired
}

// Get performs a GET against path with optional query parameters, decoding
// the JSON response into out when out is non-nil.
func (t *Transport) Get(ctx context.Context, path string, query url.Values, out any) error {
	return t.roundTrip(ctx, http.MethodGet, path, query, nil, out)
}

// Post performs a POST with a JSON-encoded body.
func (t *Transport) Post(ctx context.Context, path string, body, out any) error {
	return t.roundTrip(ctx, http.MethodPost, path, nil, body, out)
}

// Put performs a PUT with a JSON-encoded body.
func (t *Transport) Put(ctx context.Context, path string, body, out any) error {
	return t.roundTrip(ctx, http.MethodPut, path, nil, body, out)
}

// Delete performs a DELETE against path.
func (t *Transport) Delete(ctx context.Context, path string) error {
	return t.roundTrip(ctx, http.MethodDelete, path, nil, nil, nil)
}

// Do performs a prepared request with the transport's token injection,
// metrics and error classification. On error status the body is consumed
// and a typed error returned; otherwise the caller owns the response body.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := endpointLabel(req.URL.String())

	if t.tokens != nil && req.Header.Get("Authorization") == "" {
		if token, terr := t.tokens.Token(); terr == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	t.metrics.RecordRequestStart(req.Method, endpoint)
	resp, err := t.httpClient.Do(req)
	t.metrics.RecordRequestEnd(req.Method, endpoint)

	if err != nil {
		reqErr := t.classifyTransportError(err, "", req.Method, req.URL.String())
		t.metrics.RecordRequest(req.Method, endpoint, 0, time.Since(start))
		t.metrics.RecordError(reqErr.Type, endpoint)
		return nil, reqErr
	}
	t.metrics.RecordRequest(req.Method, endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized {
			t.expireSession()
		}
		errType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errType = ErrorTypeServer
		}
		t.metrics.RecordError(errType, endpoint)
		return nil, &RequestError{
			Type:       errType,
			Message:    normalizeErrorBody(raw, resp.StatusCode),
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        req.URL.String(),
			Timestamp:  time.Now(),
		}
	}

	return resp, nil
}

func (t *Transport) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any) error {
	start := time.Now()
	u := t.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	endpoint := endpointLabel(u)
	requestID := t.debug.requestID()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return &RequestError{
				Type:      ErrorTypeValidation,
				Message:   "encoding request body",
				RequestID: requestID,
				Method:    method,
				URL:       u,
				Timestamp: time.Now(),
				Cause:     err,
			}
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &RequestError{
			Type:      ErrorTypeValidation,
			Message:   "building request",
			RequestID: requestID,
			Method:    method,
			URL:       u,
			Timestamp: time.Now(),
			Cause:     err,
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// The token is read from the store at call time so clears and logins
	// take effect on the very next request.
	if t.tokens != nil {
		if token, terr := t.tokens.Token(); terr == nil && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	if t.debug.logRequests() && t.logger != nil {
		t.logger.Debug("starting request", "requestID", requestID, "method", method, "url", u)
	}

	t.metrics.RecordRequestStart(method, endpoint)
	resp, err := t.httpClient.Do(req)
	t.metrics.RecordRequestEnd(method, endpoint)

	if err != nil {
		reqErr := t.classifyTransportError(err, requestID, method, u)
		t.metrics.RecordRequest(method, endpoint, 0, time.Since(start))
		t.metrics.RecordError(reqErr.Type, endpoint)
		if t.debug.logRequests() && t.logger != nil {
			t.logger.Warn("request failed", "requestID", requestID, "type", reqErr.Type, "error", err.Error())
		}
		return reqErr
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	t.metrics.RecordRequest(method, endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusUnauthorized {
			t.expireSession()
		}
		errType := ErrorTypeClient
		if resp.StatusCode >= 500 {
			errType = ErrorTypeServer
		}
		t.metrics.RecordError(errType, endpoint)
		return &RequestError{
			Type:       errType,
			Message:    normalizeErrorBody(raw, resp.StatusCode),
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Method:     method,
			URL:        u,
			Timestamp:  time.Now(),
		}
	}

	if readErr != nil && readErr != io.EOF {
		t.metrics.RecordError(ErrorTypeNetwork, endpoint)
		return &RequestError{
			Type:      ErrorTypeNetwork,
			Message:   "reading response body",
			RequestID: requestID,
			Method:    method,
			URL:       u,
			Timestamp: time.Now(),
			Cause:     readErr,
		}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.metrics.RecordError(ErrorTypeValidation, endpoint)
			return &RequestError{
				Type:       ErrorTypeValidation,
				Message:    "decoding response body",
				StatusCode: resp.StatusCode,
				RequestID:  requestID,
				Method:     method,
				URL:        u,
				Timestamp:  time.Now(),
				Cause:      err,
			}
		}
	}

	return nil
}

// classifyTransportError maps a failed round trip with no HTTP response to
// Timeout or Network.
func (t *Transport) classifyTransportError(err error, requestID, method, u string) *RequestError {
	errType := ErrorTypeNetwork
	message := "network request failed"

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		errType = ErrorTypeTimeout
		message = "request deadline exceeded"
	}

	return &RequestError{
		Type:      errType,
		Message:   message,
		RequestID: requestID,
		Method:    method,
		URL:       u,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// expireSession clears the stored token and fires the session-expiry side
// channel. Bursts of 401s (N views polling at once) coalesce into a single
// event; the caller still receives its own Client error.
func (t *Transport) expireSession() {
	if t.tokens != nil {
		_ = t.tokens.Clear()
	}
	t.metrics.RecordSessionExpired()

	select {
	case t.sessionExpired <- struct{}{}:
		if t.onSessionExpired != nil {
			t.onSessionExpired()
		}
	default:
		// An event is already pending; the boundary has not consumed it yet.
	}
}

// endpointLabel reduces a URL to host+path for metric labels.
func endpointLabel(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}

	var builder strings.Builder
	builder.WriteString(parsed.Host)
	if parsed.Path != "" && parsed.Path != "/" {
		builder.WriteString(parsed.Path)
	} else {
		builder.WriteByte('/')
	}
	return builder.String()
}

// decodeAs round-trips a decoded JSON value into a typed struct. The store
// holds entries as any; typed call sites use this to recover their shape.
func decodeAs[T any](v any) (T, error) {
	var out T
	raw, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("re-encoding cached value: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decoding cached value: %w", err)
	}
	return out, nil
}
