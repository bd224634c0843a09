// Package httputil provides the shared, tuned HTTP clients for outbound
// calls. Every outbound API gets its own pool so one slow provider cannot
// starve another.
package httputil

import (
	"context"
	"net"
	"net/http"
	"time"
)

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration

	KeepAliveInterval time.Duration
}

// DefaultClientConfig returns the baseline configuration: 30s end-to-end
// for every outbound call.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// MailClientConfig tunes for the mail provider: paginated fetches with
// moderate concurrency.
func MailClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConnsPerHost = 10
	cfg.ResponseTimeout = 30 * time.Second
	return cfg
}

// RateClientConfig tunes for the exchange-rate APIs: tiny payloads, strict
// timeout so a dead provider falls through fast.
func RateClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConnsPerHost = 4
	cfg.ResponseTimeout = 10 * time.Second
	return cfg
}

// OpenAIClientConfig tunes for LLM completions: long responses, low
// concurrency.
func OpenAIClientConfig() *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = 30
	cfg.MaxConnsPerHost = 30
	cfg.ResponseTimeout = 120 * time.Second
	return cfg
}

// NewClient creates an HTTP client with connection pooling.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
}

var (
	defaultClient *http.Client
	mailClient    *http.Client
	rateClient    *http.Client
	openaiClient  *http.Client
)

func init() {
	defaultClient = NewClient(DefaultClientConfig())
	mailClient = NewClient(MailClientConfig())
	rateClient = NewClient(RateClientConfig())
	openaiClient = NewClient(OpenAIClientConfig())
}

// DefaultClient returns the shared default HTTP client.
func DefaultClient() *http.Client { return defaultClient }

// MailClient returns the client used for the mail provider.
func MailClient() *http.Client { return mailClient }

// RateClient returns the client used for exchange-rate providers.
func RateClient() *http.Client { return rateClient }

// OpenAIClient returns the client used for the LLM provider.
func OpenAIClient() *http.Client { return openaiClient }

// DoWithContext executes an HTTP request with context.
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = defaultClient
	}
	return client.Do(req.WithContext(ctx))
}
