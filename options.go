package kueri

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// WithTimeout sets the fixed per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client; its timeout is overridden by
// the configured deadline.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTokenStore sets the bearer token source consulted on every request.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) {
		c.tokens = store
	}
}

// WithStaleTime sets the default duration fetched data is considered fresh.
func WithStaleTime(d time.Duration) Option {
	return func(c *Client) {
		c.staleTime = d
	}
}

// WithCacheTime sets the default duration an unused entry survives before
// eviction.
func WithCacheTime(d time.Duration) Option {
	return func(c *Client) {
		c.cacheTime = d
	}
}

// WithRetryCount sets the maximum number of retry attempts for transient
// failures.
func WithRetryCount(n int) Option {
	return func(c *Client) {
		c.retryCount = n
	}
}

// WithRetryBaseDelay sets the first retry delay.
func WithRetryBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = d
	}
}

// WithRetryMaxDelay sets the retry delay ceiling.
func WithRetryMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryMaxDelay = d
	}
}

// WithBackoffMultiplier sets the exponential growth factor between retries.
func WithBackoffMultiplier(f float64) Option {
	return func(c *Client) {
		c.backoffFactor = f
	}
}

// WithJitter sets the jitter fraction (0.0 to 1.0) added to retry delays.
// The default is 0 so delays stay deterministic.
func WithJitter(f float64) Option {
	return func(c *Client) {
		if f < 0 {
			f = 0
		}
		if f > 1 {
			f = 1
		}
		c.jitter = f
	}
}

// WithRetryPolicy replaces the default policy entirely.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(c *Client) {
		c.policy = policy
	}
}

// WithDebounceDelay sets the quiet period for Debouncers created from this
// client.
func WithDebounceDelay(d time.Duration) Option {
	return func(c *Client) {
		c.debounceDelay = d
	}
}

// WithPageSize sets the page size for Pagers created from this client.
func WithPageSize(n int) Option {
	return func(c *Client) {
		c.pageSize = n
	}
}

// WithFanOutLimit bounds fan-out concurrency; 0 means unbounded.
func WithFanOutLimit(n int) Option {
	return func(c *Client) {
		c.fanOutLimit = n
	}
}

// WithSessionExpiredHandler registers a callback invoked once per coalesced
// session-expiry event, as an alternative to consuming SessionEvents.
func WithSessionExpiredHandler(fn func()) Option {
	return func(c *Client) {
		c.sessionHandler = fn
	}
}

// WithMetrics enables Prometheus metrics collection on the default
// registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets a custom logger for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging with the default configuration.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets a custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithSimpleLogger enables debug logging with a console logger.
func WithSimpleLogger() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator sets a custom function for generating request IDs.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// ValidateConfiguration validates the client configuration and returns an
// error collecting every problem found.
func (c *Client) ValidateConfiguration() error {
	var errs []string

	errs = append(errs, c.validateTransportConfig()...)
	errs = append(errs, c.validateRetryConfig()...)
	errs = append(errs, c.validateCacheConfig()...)
	errs = append(errs, c.validateControllerConfig()...)
	errs = append(errs, c.validateDebugConfig()...)
	errs = append(errs, c.validateExtremeValues()...)

	if len(errs) > 0 {
		return &RequestError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", errs),
		}
	}

	return nil
}

func (c *Client) validateTransportConfig() []string {
	var errs []string

	if c.baseURL == "" {
		errs = append(errs, "baseURL must not be empty")
	} else if parsed, err := url.Parse(c.baseURL); err != nil || parsed.Scheme == "" || parsed.Host == "" {
		errs = append(errs, "baseURL must be an absolute URL")
	}

	if c.timeout <= 0 {
		errs = append(errs, "timeout must be positive")
	}

	if c.tokens == nil {
		errs = append(errs, "token store must not be nil")
	}

	return errs
}

func (c *Client) validateRetryConfig() []string {
	var errs []string

	if c.retryCount < 0 {
		errs = append(errs, "retryCount must be non-negative")
	}

	if c.retryBaseDelay <= 0 {
		errs = append(errs, "retryBaseDelay must be positive")
	}

	if c.retryMaxDelay < c.retryBaseDelay {
		errs = append(errs, "retryMaxDelay must be greater than or equal to retryBaseDelay")
	}

	if c.backoffFactor <= 0 {
		errs = append(errs, "backoffMultiplier must be positive")
	}

	if c.jitter < 0 || c.jitter > 1 {
		errs = append(errs, "jitter must be between 0 and 1")
	}

	return errs
}

func (c *Client) validateCacheConfig() []string {
	var errs []string

	if c.staleTime <= 0 {
		errs = append(errs, "staleTime must be positive")
	}

	if c.cacheTime <= 0 {
		errs = append(errs, "cacheTime must be positive")
	}

	if c.cacheTime < c.staleTime {
		errs = append(errs, "cacheTime must be greater than or equal to staleTime")
	}

	return errs
}

func (c *Client) validateControllerConfig() []string {
	var errs []string

	if c.debounceDelay <= 0 {
		errs = append(errs, "debounceDelay must be positive")
	}

	if c.pageSize <= 0 {
		errs = append(errs, "pageSize must be positive")
	}

	if c.fanOutLimit < 0 {
		errs = append(errs, "fanOutLimit must be non-negative")
	}

	return errs
}

func (c *Client) validateDebugConfig() []string {
	var errs []string

	if c.debug != nil && c.debug.Enabled {
		if c.debug.RequestIDGen == nil {
			errs = append(errs, "debug RequestIDGen must be set when debug is enabled")
		}
		if c.logger == nil {
			errs = append(errs, "logger must be set when debug is enabled")
		}
	}

	return errs
}

func (c *Client) validateExtremeValues() []string {
	var errs []string

	if c.retryCount > 100 {
		errs = append(errs, "retryCount > 100 may cause excessive resource usage")
	}

	if c.retryMaxDelay > time.Hour {
		errs = append(errs, "retryMaxDelay > 1h may cause extremely long delays")
	}

	if c.timeout > 10*time.Minute {
		errs = append(errs, "timeout > 10m may cause requests to hang for too long")
	}

	if c.cacheTime > 24*time.Hour {
		errs = append(errs, "cacheTime > 24h may cause stale data issues")
	}

	return errs
}
