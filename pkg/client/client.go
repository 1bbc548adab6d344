// Package client provides the Sunwave HTTP request executor with per-attempt
// digest signing, rate limiting, and retry with backoff.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/sunwave-tap/pkg/auth"
	"github.com/Sternrassler/sunwave-tap/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Sunwave client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sunwave_requests_total",
		Help: "Total Sunwave requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sunwave_request_duration_seconds",
		Help:    "Sunwave request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sunwave_errors_total",
		Help: "Total Sunwave errors by class",
	}, []string{"class"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sunwave_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sunwave_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sunwave_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// ErrorClass represents a classification of HTTP errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// DefaultBaseURL is the production Sunwave EMR API root.
const DefaultBaseURL = "https://emr.sunwavehealth.com/SunwaveEMR"

// maxErrorBody bounds how much of a failed response is kept in an APIError.
const maxErrorBody = 512

// Config holds the client configuration.
type Config struct {
	// BaseURL is prepended to every request path.
	BaseURL string

	// Credentials sign every attempt. Required.
	Credentials *auth.Credentials

	// Signer overrides the default signer (tests pin clock and nonce).
	Signer *auth.Signer

	// Redis shares rate limit state across processes. Optional.
	Redis *redis.Client

	// UserAgent is sent on every request when set.
	UserAgent string

	// Timeout applies to a single attempt.
	Timeout time.Duration

	// Retry
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(creds *auth.Credentials) Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Credentials: creds,
		UserAgent:   "sunwave-tap",
		Timeout:     60 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// Request describes one logical API call. It is re-signed on every attempt.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Path       string
	Header     http.Header
	Body       []byte
}

// Client executes signed requests against the Sunwave API.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	creds       *auth.Credentials
	signer      *auth.Signer
	rateLimiter *ratelimit.Tracker
	config      Config
	logger      zerolog.Logger
}

// New creates a new Sunwave client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Credentials.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	signer := cfg.Signer
	if signer == nil {
		signer = auth.NewSigner()
	}

	logger := log.With().Str("component", "sunwave-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		creds:       cfg.Credentials,
		signer:      signer,
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		config:      cfg,
		logger:      logger,
	}, nil
}

// Do executes req with retries. 2xx and non-retriable 4xx responses are
// returned as is so the caller can classify them. 429, 5xx and transport
// failures are retried and surface as an error once attempts run out.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	endpoint := req.Path
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing Sunwave request")

	var resp *Response
	err := retryWithBackoff(ctx, c.config.Retry, func(attempt int) error {
		r, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// attempt performs one signed round trip.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	endpoint := req.Path

	if err := c.rateLimiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
		// shared state unreachable, retried like a transport failure
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			ErrorClass: ErrorClassNetwork,
			Path:       endpoint,
			Message:    "rate limit state unavailable",
			Err:        err,
		}
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	// fresh nonce and timestamp per attempt
	if err := c.signer.Authorize(httpReq, c.creds); err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		errClass := c.classifyError(0, err)
		errorsTotal.WithLabelValues(string(errClass)).Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			ErrorClass: errClass,
			Path:       endpoint,
			Message:    "transport failure",
			Err:        err,
		}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: httpResp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Path:       endpoint,
			Message:    "read response body",
			Err:        err,
		}
	}

	if err := c.rateLimiter.UpdateFromResponse(ctx, httpResp.StatusCode, httpResp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update rate limit state")
	}

	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(httpResp.StatusCode)).Inc()

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Path:       endpoint,
		Header:     httpResp.Header,
		Body:       body,
	}

	errClass := c.classifyError(httpResp.StatusCode, nil)
	if errClass == "" || !shouldRetry(errClass) {
		// 2xx or a 4xx the caller must see
		return resp, nil
	}

	errorsTotal.WithLabelValues(string(errClass)).Inc()
	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("status", httpResp.StatusCode).
		Str("error_class", string(errClass)).
		Msg("Sunwave request error")

	apiErr := &APIError{
		StatusCode: httpResp.StatusCode,
		ErrorClass: errClass,
		Path:       endpoint,
		Message:    httpResp.Status,
		Body:       truncate(body, maxErrorBody),
	}
	if errClass == ErrorClassRateLimit {
		apiErr.Err = ErrRateLimited
	}
	return nil, apiErr
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	return httpReq, nil
}

// classifyError categorizes a status or transport error for retry handling.
// It returns "" for statuses below 400.
func (c *Client) classifyError(statusCode int, err error) ErrorClass {
	if err != nil {
		return ErrorClassNetwork
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorClassClient
	case statusCode >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// Get performs a GET request against path relative to the base URL.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the rate limit tracker (for testing).
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// IsRetryExhausted reports whether err ended a request after all attempts.
func IsRetryExhausted(err error) bool {
	return errors.Is(err, ErrRetryExhausted)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
