package kueri

import (
	"net/http"
	"time"
)

// Client wires the resilience primitives together: one transport, one retry
// policy and one shared query store serve every view of the application. It
// is safe for concurrent use.
type Client struct {
	transport *Transport
	store     *Store
	policy    RetryPolicy

	baseURL        string
	timeout        time.Duration
	httpClient     *http.Client
	tokens         TokenStore
	staleTime      time.Duration
	cacheTime      time.Duration
	retryCount     int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	backoffFactor  float64
	jitter         float64
	debounceDelay  time.Duration
	pageSize       int
	fanOutLimit    int

	sessionHandler func()

	metrics *MetricsCollector
	logger  Logger
	debug   *DebugConfig

	validationError error
}

// New constructs a Client for the given API base URL using the provided
// functional options. A best effort validation is performed; call IsValid /
// ValidationError for errors.
func New(baseURL string, options ...Option) *Client {
	client := &Client{
		baseURL:        baseURL,
		timeout:        30 * time.Second,
		tokens:         NewMemoryTokenStore(""),
		staleTime:      5 * time.Minute,
		cacheTime:      10 * time.Minute,
		retryCount:     3,
		retryBaseDelay: time.Second,
		retryMaxDelay:  30 * time.Second,
		backoffFactor:  2.0,
		jitter:         0,
		debounceDelay:  500 * time.Millisecond,
		pageSize:       20,
		fanOutLimit:    0,
		debug:          DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	if client.policy == nil {
		client.policy = NewDefaultRetryPolicy(client.retryCount, client.retryBaseDelay, client.retryMaxDelay, client.backoffFactor, client.jitter)
	}

	client.transport = NewTransport(client.baseURL, client.tokens, client.timeout)
	client.transport.metrics = client.metrics
	client.transport.logger = client.logger
	client.transport.debug = client.debug
	client.transport.onSessionExpired = client.sessionHandler
	if client.httpClient != nil {
		client.httpClient.Timeout = client.timeout
		client.transport.httpClient = client.httpClient
	}

	client.store = NewStore(client.policy, client.staleTime, client.cacheTime)
	client.store.metrics = client.metrics
	client.store.logger = client.logger
	client.store.debug = client.debug

	return client
}

// Transport exposes the underlying transport for direct calls (mutations,
// login) that do not go through the query cache.
func (c *Client) Transport() *Transport {
	return c.transport
}

// Store exposes the shared query store.
func (c *Client) Store() *Store {
	return c.store
}

// SessionEvents returns the global session-expiry side channel fired on any
// 401 response. It is observed exactly once at the application boundary.
func (c *Client) SessionEvents() <-chan struct{} {
	return c.transport.SessionEvents()
}

// Invalidate drops the cached entry for key, typically after a mutation.
func (c *Client) Invalidate(key Key) {
	c.store.Invalidate(key)
}

// InvalidateAll drops every cached entry, typically on logout.
func (c *Client) InvalidateAll() {
	c.store.InvalidateAll()
}

// Close releases the store's background resources.
func (c *Client) Close() {
	c.store.Close()
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}
