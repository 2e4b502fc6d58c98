package llm

import (
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is Gemini's OpenAI-compatible chat completions endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"
	// DefaultModel is used when no model is configured.
	DefaultModel = "gemini-2.5-flash"

	jsonResponseType   = "json_object"
	defaultHTTPTimeout = 120 * time.Second
)

// Config holds the connection settings for one client.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	TimeoutSeconds    int
	RequestsPerMinute int
	MaxOutputTokens   int
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	retry   retryPolicy
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithRetryMaxAttempts sets the total number of tries. One disables retries.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retry.attempts = attempts
	}
}

// WithRetryBackoff sets the first retry delay and the ceiling it doubles toward.
func WithRetryBackoff(base, ceiling time.Duration) Option {
	return func(c *Client) {
		c.retry.base = base
		c.retry.ceiling = ceiling
	}
}

// WithSleeper replaces the timer used between retries.
func WithSleeper(sleep func(time.Duration)) Option {
	return func(c *Client) {
		c.retry.sleep = sleep
	}
}

// WithLimiter shares one request budget across clients. Clients are built per
// request when the key can change, so the limiter must outlive them.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// NewLimiter returns a limiter for requestsPerMinute, or nil for no limit.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// NewClient builds a client, filling in the Gemini endpoint and model when unset.
func NewClient(cfg Config, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: NewLimiter(cfg.RequestsPerMinute),
		retry:   defaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model reports the model name sent with each request.
func (c *Client) Model() string {
	return c.cfg.Model
}
