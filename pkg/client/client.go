// Package client provides the network side of the worker: an HTTP fetcher
// that separates transport failures from application error responses.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for network operations.
var (
	networkRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_network_requests_total",
		Help: "Total network requests by method and status",
	}, []string{"method", "status"})

	networkRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopease_network_request_duration_seconds",
		Help:    "Network request duration in seconds by method",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	networkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopease_network_errors_total",
		Help: "Total network errors and error responses by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx application error responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx application error responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transport failures (connection, DNS, timeout).
	ErrorClassNetwork ErrorClass = "network"
)

// Client fetches requests from the network.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// UserAgent is set on outgoing requests that carry none
	UserAgent string

	// Timeout bounds one network attempt
	Timeout time.Duration

	// Retry controls retries of transport failures
	Retry RetryConfig
}

// DefaultConfig returns a configuration without retries.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     NoRetry(),
	}
}

// New creates a new network client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}
	if cfg.Retry.MaxAttempts < 1 {
		return nil, fmt.Errorf("retry max_attempts must be >= 1 (got %d)", cfg.Retry.MaxAttempts)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are the caller's business, like a browser fetch in
			// manual redirect mode.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		config: cfg,
		logger: log.With().Str("component", "network").Logger(),
	}, nil
}

// Fetch sends req to the network.
//
// A transport failure returns a *NetworkError (possibly wrapped in
// ErrRetryExhausted). Any response the origin produces, including 4xx and
// 5xx, is returned with a nil error.
func (c *Client) Fetch(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	startTime := time.Now()
	defer func() {
		networkRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	retry := c.config.Retry
	if !replayable(req) {
		retry.MaxAttempts = 1
	}

	var (
		resp      *http.Response
		permanent error
	)
	err := retryWithBackoff(ctx, retry, func() error {
		var err error
		resp, err = c.send(ctx, req, method)
		if err != nil && !shouldRetry(errorClassOf(err)) {
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		return nil, permanent
	}
	if err != nil {
		return nil, err
	}

	networkRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	if class := classifyStatus(resp.StatusCode); class != "" {
		networkErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Debug().
			Str("url", req.URL.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Error response from origin")
	}
	return resp, nil
}

// send makes one attempt. Transport failures come back as *NetworkError.
func (c *Client) send(ctx context.Context, req *http.Request, method string) (*http.Response, error) {
	out, err := c.outgoing(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(out)
	if err != nil {
		networkErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		networkRequestsTotal.WithLabelValues(method, "network_error").Inc()
		c.logger.Warn().Err(err).
			Str("method", method).
			Str("url", req.URL.String()).
			Msg("Network request failed")
		return nil, &NetworkError{Method: method, URL: req.URL.String(), Err: err}
	}
	return resp, nil
}

// Get fetches rawURL with a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Fetch(req)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// outgoing prepares a client request from req. Server-side requests carry
// RequestURI, which http.Client rejects.
func (c *Client) outgoing(ctx context.Context, req *http.Request) (*http.Request, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		out.Body = body
	}
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", c.config.UserAgent)
	}
	return out, nil
}

// replayable reports whether req can be sent more than once.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// classifyStatus categorizes an error response for observability.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}
