package artifact

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/infravista/infravista/pkg/telemetry"
)

const (
	// twirpService is the fixed Twirp service name of the results backend.
	twirpService = "github.actions.results.api.v1.ArtifactService"

	// protocolVersion is the artifact protocol version marker.
	protocolVersion = 4

	// apiBase is the GitHub REST API host used for URL resolution.
	apiBase = "https://api.github.com"

	// resolveAttempts and resolveInterval bound the eventual-consistency
	// polling fallback.
	resolveAttempts = 5
	resolveInterval = 2 * time.Second
)

// Config carries the environment inputs the client needs. All fields except
// RetentionDays are required.
type Config struct {
	// RuntimeToken is the platform-issued credential for results-service
	// calls. Its claims carry the backend IDs.
	RuntimeToken string

	// GitHubToken authenticates the REST listing fallback. This is a
	// different credential than RuntimeToken by design: the results service
	// and the REST API are different services with different auth schemes.
	GitHubToken string

	// ResultsURL is the scheme + host of the results service.
	ResultsURL string

	// Repository is the owner/name pair of the current repository.
	Repository string

	// RunID identifies the current workflow run.
	RunID string

	// RetentionDays is accepted for parity with the reference client but is
	// not sent on the wire.
	RetentionDays int
}

// Client publishes build artifacts through the v4 protocol. The backend IDs
// are derived once at construction and immutable afterward.
type Client struct {
	cfg     Config
	ids     BackendIDs
	twirp   *TwirpClient
	http    Doer
	sleep   func(time.Duration)
	logger  zerolog.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Option customizes a Client.
type Option func(*Client)

// WithClientHTTP replaces the HTTP client used for the blob PUT and the
// listing fallback.
func WithClientHTTP(d Doer) Option {
	return func(c *Client) { c.http = d }
}

// WithClientSleep replaces the polling sleep function.
func WithClientSleep(sleep func(time.Duration)) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithTwirp replaces the Twirp transport.
func WithTwirp(t *TwirpClient) Option {
	return func(c *Client) { c.twirp = t }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// NewClient validates the configuration, extracts the backend IDs from the
// runtime token, and returns a usable client. Missing configuration and
// undecodable credentials are fatal construction errors.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.GitHubToken == "" {
		return nil, newError(ErrorClassConfiguration, ErrCodeMissingConfiguration, "new-client",
			"GITHUB_TOKEN is required for the artifact client")
	}
	if cfg.RuntimeToken == "" {
		return nil, newError(ErrorClassConfiguration, ErrCodeMissingConfiguration, "new-client",
			"ACTIONS_RUNTIME_TOKEN is missing; expose it to the job, for example via actions/github-script or an env mapping")
	}
	if cfg.ResultsURL == "" {
		return nil, newError(ErrorClassConfiguration, ErrCodeMissingConfiguration, "new-client",
			"ACTIONS_RESULTS_URL is missing; it is required for the v4 artifact upload protocol")
	}
	if cfg.Repository == "" || cfg.RunID == "" {
		return nil, newError(ErrorClassConfiguration, ErrCodeMissingConfiguration, "new-client",
			"GITHUB_REPOSITORY or GITHUB_RUN_ID environment variables missing")
	}

	ids, err := ExtractBackendIDs(cfg.RuntimeToken)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		ids:    ids,
		http:   &http.Client{Timeout: 5 * time.Minute},
		sleep:  time.Sleep,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.twirp == nil {
		c.twirp = NewTwirpClient(cfg.ResultsURL, cfg.RuntimeToken,
			WithTwirpLogger(c.logger), WithTwirpMetrics(c.metrics))
	}
	return c, nil
}

// BackendIDs returns the claim identifiers derived at construction.
func (c *Client) BackendIDs() BackendIDs {
	return c.ids
}

// uploadState tracks the progress of one publish operation. Transitions are
// strictly ordered; helpers assert the expected state so an illegal sequence
// fails loudly instead of corrupting the upload.
type uploadState int

const (
	stateInitial uploadState = iota
	stateCreated
	stateBytesUploaded
	stateFinalized
	stateResolved
)

// uploadSession is the transient state spanning one UploadArtifact call.
type uploadSession struct {
	name       string
	filePath   string
	state      uploadState
	size       int64
	digest     string
	uploadURL  string
	artifactID string
}

func (s *uploadSession) require(expected uploadState, op string) error {
	if s.state != expected {
		return newError(ErrorClassFatal, ErrCodeInvalidTransition, op,
			fmt.Sprintf("upload session in state %d, expected %d", s.state, expected))
	}
	return nil
}

// UploadArtifact publishes the file at filePath under the given artifact name
// and returns its download URL. The whole file is read into memory; the
// artifact sizes this tool produces make that acceptable.
func (c *Client) UploadArtifact(ctx context.Context, name, filePath string) (string, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.StartUploadSpan(ctx, name)
		defer span.End()
	}
	c.logger.Info().Str("artifact", name).Str("file", filePath).
		Int("retention_days", c.cfg.RetentionDays).
		Msg("Preparing artifact upload")

	session := &uploadSession{name: name, filePath: filePath}

	if err := c.create(ctx, session); err != nil {
		c.recordPublish("failed", 0)
		return "", err
	}
	if err := c.uploadBytes(ctx, session); err != nil {
		c.recordPublish("failed", 0)
		return "", err
	}
	if err := c.finalize(ctx, session); err != nil {
		c.recordPublish("failed", 0)
		return "", err
	}
	url, err := c.resolve(ctx, session)
	if err != nil {
		c.recordPublish("unresolved", session.size)
		return "", err
	}

	c.recordPublish("ok", session.size)
	c.logger.Info().Str("artifact", name).Str("url", url).Msg("Artifact published")
	return url, nil
}

func (c *Client) recordPublish(status string, size int64) {
	if c.metrics != nil {
		c.metrics.RecordArtifactPublished(status, size)
	}
}

// create asks the results service for a pre-signed upload URL.
func (c *Client) create(ctx context.Context, s *uploadSession) error {
	if err := s.require(stateInitial, "CreateArtifact"); err != nil {
		return err
	}

	resp, err := c.twirp.Call(ctx, twirpService, "CreateArtifact", map[string]interface{}{
		"workflow_run_backend_id":     c.ids.WorkflowRunBackendID,
		"workflow_job_run_backend_id": c.ids.WorkflowJobRunBackendID,
		"name":                        s.name,
		"version":                     protocolVersion,
	})
	if err != nil {
		return err
	}

	if ok, _ := resp["ok"].(bool); !ok {
		return newError(ErrorClassFatal, ErrCodeCreateFailed, "CreateArtifact",
			"response from backend was not ok")
	}
	uploadURL, _ := resp["signed_upload_url"].(string)
	if uploadURL == "" {
		return newError(ErrorClassFatal, ErrCodeCreateFailed, "CreateArtifact",
			"no signed_upload_url in response")
	}

	s.uploadURL = uploadURL
	s.state = stateCreated
	return nil
}

// uploadBytes PUTs the full payload to the pre-signed URL. This step is not
// retried here: the URL may be single-use or time-boxed.
func (c *Client) uploadBytes(ctx context.Context, s *uploadSession) error {
	if err := s.require(stateCreated, "upload-blob"); err != nil {
		return err
	}

	content, err := os.ReadFile(s.filePath)
	if err != nil {
		return newError(ErrorClassBlob, ErrCodeBlobUploadFailed, "upload-blob",
			fmt.Sprintf("failed to read %s", s.filePath)).WithErr(err)
	}

	sum := sha256.Sum256(content)
	s.size = int64(len(content))
	s.digest = hex.EncodeToString(sum[:])

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.uploadURL, bytes.NewReader(content))
	if err != nil {
		return newError(ErrorClassBlob, ErrCodeBlobUploadFailed, "upload-blob",
			"failed to build blob request").WithErr(err)
	}
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return newError(ErrorClassBlob, ErrCodeBlobUploadFailed, "upload-blob",
			"blob transfer failed").WithErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body := readBodyExcerpt(resp)
		return newError(ErrorClassBlob, ErrCodeBlobUploadFailed, "upload-blob",
			"failed to upload file to blob storage").WithStatus(resp.StatusCode).WithBody(body)
	}

	s.state = stateBytesUploaded
	return nil
}

// finalize confirms the upload with the computed size and digest.
func (c *Client) finalize(ctx context.Context, s *uploadSession) error {
	if err := s.require(stateBytesUploaded, "FinalizeArtifact"); err != nil {
		return err
	}

	resp, err := c.twirp.Call(ctx, twirpService, "FinalizeArtifact", map[string]interface{}{
		"workflow_run_backend_id":     c.ids.WorkflowRunBackendID,
		"workflow_job_run_backend_id": c.ids.WorkflowJobRunBackendID,
		"name":                        s.name,
		"size":                        strconv.FormatInt(s.size, 10),
		"hash":                        map[string]string{"value": "sha256:" + s.digest},
	})
	if err != nil {
		return err
	}

	if ok, _ := resp["ok"].(bool); !ok {
		return newError(ErrorClassFatal, ErrCodeFinalizeFailed, "FinalizeArtifact",
			"response from backend was not ok")
	}

	s.artifactID = formatArtifactID(resp["artifact_id"])
	s.state = stateFinalized
	return nil
}

// resolve determines the download URL. With a server-assigned artifact id the
// URL is constructed deterministically; otherwise the REST listing is polled
// until the artifact appears. The polling path authenticates with the
// caller-supplied token, not the runtime token.
func (c *Client) resolve(ctx context.Context, s *uploadSession) (string, error) {
	if err := s.require(stateFinalized, "resolve-url"); err != nil {
		return "", err
	}

	if s.artifactID != "" {
		s.state = stateResolved
		return fmt.Sprintf("%s/repos/%s/actions/artifacts/%s/zip",
			apiBase, c.cfg.Repository, s.artifactID), nil
	}

	listURL := fmt.Sprintf("%s/repos/%s/actions/runs/%s/artifacts",
		apiBase, c.cfg.Repository, c.cfg.RunID)

	c.logger.Info().Str("artifact", s.name).Msg("Polling for artifact download URL")
	for attempt := 0; attempt < resolveAttempts; attempt++ {
		if attempt > 0 {
			c.sleep(resolveInterval)
		}
		url, found := c.findArtifactURL(ctx, listURL, s.name)
		if found {
			s.state = stateResolved
			return url, nil
		}
	}

	return "", newError(ErrorClassResolve, ErrCodeURLNotResolved, "resolve-url",
		"could not determine artifact download URL after upload")
}

// findArtifactURL performs one listing request and scans for the named
// artifact. Failures are swallowed; the caller retries.
func (c *Client) findArtifactURL(ctx context.Context, listURL, name string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return "", false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.GitHubToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}

	var listing struct {
		Artifacts []struct {
			Name               string `json:"name"`
			ArchiveDownloadURL string `json:"archive_download_url"`
		} `json:"artifacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return "", false
	}

	for _, a := range listing.Artifacts {
		if a.Name == name {
			return a.ArchiveDownloadURL, true
		}
	}
	return "", false
}

// formatArtifactID renders the server-assigned id, which arrives as a JSON
// number or string depending on backend version.
func formatArtifactID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case json.Number:
		return id.String()
	default:
		return ""
	}
}

func readBodyExcerpt(resp *http.Response) string {
	// A single Read may return (0, nil) before data arrives; drain up to the
	// limit instead.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, excerptLimit))
	return string(body)
}
