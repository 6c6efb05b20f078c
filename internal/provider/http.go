package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ferro-labs/verifygw/internal/circuitbreaker"
	"github.com/ferro-labs/verifygw/internal/logging"
	"github.com/ferro-labs/verifygw/internal/metrics"
	"github.com/ferro-labs/verifygw/internal/version"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const maxResponseBytes = 1 << 20

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	Name string
	// VerifyURL receives POSTed identities.
	VerifyURL string
	// PolicyURL defaults to VerifyURL with its trailing /verify replaced by
	// /policy-info.
	PolicyURL string
	APIKey    string

	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// Circuit breaker thresholds. Zero values select the breaker defaults.
	FailureThreshold int
	OpenTimeout      time.Duration
}

// HTTPClient calls a provider's REST API. Transient failures (connection
// errors, 5xx) are retried with backoff; repeated failures open a circuit
// breaker that rejects calls until the provider recovers.
type HTTPClient struct {
	name      string
	verifyURL string
	policyURL string
	healthURL string
	apiKey    string
	http      *http.Client
	breaker   *circuitbreaker.CircuitBreaker
}

var _ Client = (*HTTPClient)(nil)

// leveledSlog adapts slog to retryablehttp. Per-attempt errors are logged as
// warnings since the request may still succeed on retry.
type leveledSlog struct{ inner *slog.Logger }

func (l leveledSlog) Error(msg string, kv ...any) { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l leveledSlog) Info(msg string, kv ...any)  { l.inner.Debug(msg, kv...) }
func (l leveledSlog) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }

// NewHTTP creates an HTTPClient.
func NewHTTP(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.VerifyURL == "" {
		return nil, fmt.Errorf("provider %s: verify_url is required", cfg.Name)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = 500 * time.Millisecond
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = 5 * time.Second
	}

	base := strings.TrimSuffix(strings.TrimRight(cfg.VerifyURL, "/"), "/verify")
	policyURL := cfg.PolicyURL
	if policyURL == "" {
		policyURL = base + "/policy-info"
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.CheckRetry = retryPolicy
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{
		inner: logging.Logger.With("subsystem", "provider_http", "provider", cfg.Name),
	})

	httpClient := retryClient.StandardClient()
	httpClient.Timeout = cfg.Timeout

	name := cfg.Name
	breaker := circuitbreaker.NewWithSettings(circuitbreaker.Settings{
		FailureThreshold: cfg.FailureThreshold,
		Timeout:          cfg.OpenTimeout,
		OnStateChange: func(from, to circuitbreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logging.Logger.Warn("provider circuit breaker state changed",
				"provider", name, "from", from.String(), "to", to.String())
		},
	})
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateClosed))

	return &HTTPClient{
		name:      cfg.Name,
		verifyURL: cfg.VerifyURL,
		policyURL: policyURL,
		healthURL: base + "/health",
		apiKey:    cfg.APIKey,
		http:      httpClient,
		breaker:   breaker,
	}, nil
}

// retryPolicy retries connection errors and 5xx responses but leaves 429 to
// the caller.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Name implements Client.
func (c *HTTPClient) Name() string { return c.name }

// Verify implements Client.
func (c *HTTPClient) Verify(ctx context.Context, id Identity) (json.RawMessage, error) {
	var doc json.RawMessage
	err := c.call(ctx, c.verifyURL, id, func(status int, body []byte) error {
		switch status {
		case http.StatusOK:
			if !json.Valid(body) {
				return fmt.Errorf("provider %s: invalid JSON in verify response", c.name)
			}
			doc = json.RawMessage(body)
			return nil
		case http.StatusNotFound:
			doc = notFoundDocument
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PolicyInfo implements Client.
func (c *HTTPClient) PolicyInfo(ctx context.Context, id Identity) (*PolicyInfo, error) {
	var info PolicyInfo
	err := c.call(ctx, c.policyURL, id, func(status int, body []byte) error {
		switch status {
		case http.StatusOK:
			if err := json.Unmarshal(body, &info); err != nil {
				return fmt.Errorf("provider %s: decode policy info: %w", c.name, err)
			}
			return nil
		case http.StatusNotFound:
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if info.Source == "" {
		info.Source = "provider"
	}
	return &info, nil
}

// Ping checks the provider's health endpoint. A 404 counts as reachable
// since not every provider exposes one.
func (c *HTTPClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider %s: %w", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return &StatusError{Provider: c.name, StatusCode: resp.StatusCode}
}

// BreakerState reports the provider's circuit breaker state.
func (c *HTTPClient) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "verifygw/"+version.Short())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// call POSTs id to url under the circuit breaker. handle sees 200 and 404
// responses; every other status becomes an error here.
func (c *HTTPClient) call(ctx context.Context, url string, id Identity, handle func(status int, body []byte) error) error {
	payload, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = c.breaker.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.setHeaders(req)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("provider %s: request failed: %w", c.name, err)
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("provider %s: read response: %w", c.name, err)
		}

		switch resp.StatusCode {
		case http.StatusOK, http.StatusNotFound:
			return handle(resp.StatusCode, body)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("provider %s: %w", c.name, ErrAuthFailed)
		default:
			return &StatusError{Provider: c.name, StatusCode: resp.StatusCode}
		}
	}, tripsBreaker)

	if err != nil {
		c.recordError(ctx, err)
	}
	return err
}

// tripsBreaker reports whether err says something about provider health.
func tripsBreaker(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrAuthFailed)
}

func (c *HTTPClient) recordError(ctx context.Context, err error) {
	errType := "provider_error"
	switch {
	case errors.Is(err, ErrNotFound):
		return
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		errType = "circuit_open"
	case errors.Is(err, ErrAuthFailed):
		errType = "auth"
	case errors.Is(err, context.DeadlineExceeded):
		errType = "timeout"
	}
	metrics.ProviderErrors.WithLabelValues(c.name, errType).Inc()
	logging.FromContext(ctx).Error("provider call failed",
		"provider", c.name, "error_type", errType, "error", err)
}
