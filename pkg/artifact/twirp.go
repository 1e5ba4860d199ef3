package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/infravista/infravista/pkg/telemetry"
)

// Doer abstracts the HTTP client so transports can be tested without a
// network.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// retryableStatus is the fixed set of HTTP statuses treated as transient.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RetryPolicy controls the bounded exponential backoff of the Twirp
// transport. No jitter is applied.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries for one logical call.
	MaxAttempts int

	// BaseInterval is the sleep before the second attempt.
	BaseInterval time.Duration

	// Multiplier scales the sleep for each subsequent attempt.
	Multiplier float64
}

// DefaultRetryPolicy matches the protocol's reference client: 5 attempts,
// sleeps of 3.0s, 4.5s, 6.75s, 10.125s between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		BaseInterval: 3 * time.Second,
		Multiplier:   1.5,
	}
}

// Backoff returns the sleep between attempt i and i+1 (0-indexed).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := float64(p.BaseInterval)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// TwirpClient performs JSON RPC calls over HTTP with bounded retry on
// transient failure classes. It carries no knowledge of what a method does,
// only the classification and retry policy.
type TwirpClient struct {
	baseURL string
	token   string
	http    Doer
	policy  RetryPolicy
	sleep   func(time.Duration)
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// TwirpOption customizes a TwirpClient.
type TwirpOption func(*TwirpClient)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(d Doer) TwirpOption {
	return func(c *TwirpClient) { c.http = d }
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p RetryPolicy) TwirpOption {
	return func(c *TwirpClient) { c.policy = p }
}

// WithSleep replaces the sleep function, so backoff is testable without real
// sleeps.
func WithSleep(sleep func(time.Duration)) TwirpOption {
	return func(c *TwirpClient) { c.sleep = sleep }
}

// WithTwirpLogger sets the logger.
func WithTwirpLogger(l zerolog.Logger) TwirpOption {
	return func(c *TwirpClient) { c.logger = l }
}

// WithTwirpMetrics sets the metrics collector.
func WithTwirpMetrics(m *telemetry.Metrics) TwirpOption {
	return func(c *TwirpClient) { c.metrics = m }
}

// NewTwirpClient creates a transport for the given base URL (scheme + host)
// authenticating with the runtime bearer token.
func NewTwirpClient(baseURL, token string, opts ...TwirpOption) *TwirpClient {
	c := &TwirpClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
		policy:  DefaultRetryPolicy(),
		sleep:   time.Sleep,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call performs one logical RPC call to {baseURL}/twirp/{service}/{method},
// retrying transient failures per the policy. It returns the parsed JSON
// response body on success.
func (c *TwirpClient) Call(ctx context.Context, service, method string, req interface{}) (map[string]interface{}, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, newError(ErrorClassFatal, ErrCodeRPCFailure, method,
			"failed to encode request body").WithErr(err)
	}

	url := fmt.Sprintf("%s/twirp/%s/%s", c.baseURL, service, method)
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordRPCDuration(method, time.Since(start))
		}
	}()

	var lastErr *Error
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		result, attemptErr := c.attempt(ctx, url, method, body)
		if attemptErr == nil {
			if c.metrics != nil {
				c.metrics.RecordRPCAttempt(method, "success")
			}
			return result, nil
		}

		if attemptErr.Class != ErrorClassTransient {
			if c.metrics != nil {
				c.metrics.RecordRPCAttempt(method, "fatal")
			}
			return nil, attemptErr
		}

		if c.metrics != nil {
			c.metrics.RecordRPCAttempt(method, "retryable")
		}
		lastErr = attemptErr

		if attempt+1 < c.policy.MaxAttempts {
			wait := c.policy.Backoff(attempt)
			c.logger.Warn().
				Str("method", method).
				Int("attempt", attempt+1).
				Int("max_attempts", c.policy.MaxAttempts).
				Dur("retry_in", wait).
				Err(attemptErr).
				Msg("Twirp attempt failed, retrying")
			if c.metrics != nil {
				c.metrics.RecordRPCRetry(method)
			}
			c.sleep(wait)
		}
	}

	return nil, newError(ErrorClassFatal, ErrCodeRetriesExhausted, method,
		fmt.Sprintf("failed after %d attempts", c.policy.MaxAttempts)).WithErr(lastErr)
}

// attempt performs a single transport-level try.
func (c *TwirpClient) attempt(ctx context.Context, url, method string, body []byte) (map[string]interface{}, *Error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, newError(ErrorClassFatal, ErrCodeRPCFailure, method,
			"failed to build request").WithErr(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Network-level failures are always retryable
		return nil, newError(ErrorClassTransient, ErrCodeRPCFailure, method,
			"transport error").WithErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ErrorClassTransient, ErrCodeRPCFailure, method,
			"failed to read response body").WithErr(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var parsed map[string]interface{}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			// A 2xx with an unparsable body is a protocol violation, not a
			// transient condition
			return nil, newError(ErrorClassFatal, ErrCodeRPCFailure, method,
				"response is not valid JSON").WithStatus(resp.StatusCode).WithBody(string(respBody)).WithErr(err)
		}
		return parsed, nil
	}

	if retryableStatus[resp.StatusCode] {
		return nil, newError(ErrorClassTransient, ErrCodeRPCFailure, method,
			"retryable status").WithStatus(resp.StatusCode).WithBody(string(respBody))
	}

	return nil, newError(ErrorClassFatal, ErrCodeRPCFailure, method,
		"request rejected").WithStatus(resp.StatusCode).WithBody(string(respBody))
}
