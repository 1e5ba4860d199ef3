// Package oidcbroker obtains GitHub OIDC identity tokens from the broker
// endpoint Actions exposes to workflow jobs.
package oidcbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Environment variables Actions injects when `id-token: write` is granted.
const (
	EnvRequestURL   = "ACTIONS_ID_TOKEN_REQUEST_URL"
	EnvRequestToken = "ACTIONS_ID_TOKEN_REQUEST_TOKEN"
)

// Doer issues HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Broker fetches OIDC tokens for a given audience.
type Broker struct {
	requestURL   string
	requestToken string
	http         Doer
	logger       zerolog.Logger
}

// Option customizes a Broker.
type Option func(*Broker)

// WithHTTPClient replaces the HTTP transport.
func WithHTTPClient(d Doer) Option {
	return func(b *Broker) { b.http = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// New builds a Broker from the request URL and token the runner exposes.
// Both must be non-empty; they are only present when the workflow grants
// `id-token: write`.
func New(requestURL, requestToken string, opts ...Option) (*Broker, error) {
	if requestURL == "" || requestToken == "" {
		return nil, fmt.Errorf("%s and %s must be set; grant `id-token: write` to the workflow job",
			EnvRequestURL, EnvRequestToken)
	}
	b := &Broker{
		requestURL:   requestURL,
		requestToken: requestToken,
		http:         http.DefaultClient,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Token requests an identity token scoped to audience. The audience query
// parameter is appended unless the broker URL already carries one.
func (b *Broker) Token(ctx context.Context, audience string) (string, error) {
	url := b.requestURL
	if !strings.Contains(url, "audience=") {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url += sep + "audience=" + audience
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "bearer "+b.requestToken)

	resp, err := b.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting OIDC token: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("OIDC broker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decoding OIDC broker response: %w", err)
	}
	if payload.Value == "" {
		return "", fmt.Errorf("OIDC broker response carried no token")
	}

	b.logger.Debug().Str("audience", audience).Msg("Obtained OIDC token")
	return payload.Value, nil
}
