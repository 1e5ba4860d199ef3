// Package vishost uploads recipe archives to the infrastructure visualiser
// host.
package vishost

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// uploadPath is the host endpoint accepting recipe archives.
const uploadPath = "/api/v1/upload-terraform-recipe"

// Doer issues HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Upload describes one archive submission.
type Upload struct {
	// ArchivePath is the local tar.gz to send.
	ArchivePath string

	// CommitTimestamp is the UTC commit time, "2006-01-02T15:04:05".
	CommitTimestamp string

	// RecipePath is the recipe directory relative to the repository root.
	RecipePath string

	// RecipeNickname is the human-facing name for the recipe.
	RecipeNickname string
}

// Client submits uploads to one visualiser host.
type Client struct {
	host   string
	http   Doer
	logger zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP transport.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient builds a client for host (scheme and authority, no path).
func NewClient(host string, opts ...Option) *Client {
	c := &Client{
		host:   strings.TrimRight(host, "/"),
		http:   http.DefaultClient,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts the archive as a multipart form authenticated by the OIDC
// bearer token.
func (c *Client) Send(ctx context.Context, up Upload, oidcToken string) error {
	f, err := os.Open(up.ArchivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", filepath.Base(up.ArchivePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("reading archive: %w", err)
	}

	fields := map[string]string{
		"commit_timestamp": up.CommitTimestamp,
		"recipe_path":      up.RecipePath,
		"recipe_nickname":  up.RecipeNickname,
	}
	for name, value := range fields {
		if err := form.WriteField(name, value); err != nil {
			return err
		}
	}
	if err := form.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+uploadPath, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+oidcToken)
	req.Header.Set("Content-Type", form.FormDataContentType())

	c.logger.Info().Str("recipe", up.RecipePath).Str("host", c.host).
		Msg("Uploading recipe archive to visualiser host")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("uploading to visualiser host: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("visualiser host returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}
	return nil
}
