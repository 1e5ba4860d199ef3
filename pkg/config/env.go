package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/go-playground/validator/v10"
)

// Env is the GitHub Actions environment the pipeline needs.
type Env struct {
	// GitHubToken authenticates REST API calls.
	GitHubToken string `validate:"required"`

	// RuntimeToken authenticates results-service RPC calls.
	RuntimeToken string `validate:"required"`

	// ResultsURL is the results-service origin, scheme and host only.
	ResultsURL string `validate:"required,url"`

	// Repository is the "owner/name" slug.
	Repository string `validate:"required,contains=/"`

	// RunID is the workflow run identifier.
	RunID string `validate:"required"`

	// SHA is the commit being built.
	SHA string `validate:"required"`

	// WorkflowRef names the workflow file that triggered the run.
	WorkflowRef string
}

// envHints maps each required variable to its remediation hint.
var envHints = map[string]string{
	"GITHUB_TOKEN":          "pass `github-token: ${{ secrets.GITHUB_TOKEN }}` to the action",
	"ACTIONS_RUNTIME_TOKEN": "expose the runtime token to the step; it is only present inside workflow runs",
	"ACTIONS_RESULTS_URL":   "only available inside workflow runs on runner >= 2.300",
	"GITHUB_REPOSITORY":     "set automatically by Actions; do not unset it",
	"GITHUB_RUN_ID":         "set automatically by Actions; do not unset it",
	"GITHUB_SHA":            "set automatically by Actions; do not unset it",
}

// FromEnv reads the Actions environment. Every missing required variable is
// an error naming the variable and how to supply it.
func FromEnv() (*Env, error) {
	required := func(name string) (string, error) {
		v := os.Getenv(name)
		if v == "" {
			return "", fmt.Errorf("%s is not set: %s", name, envHints[name])
		}
		return v, nil
	}

	var err error
	e := &Env{WorkflowRef: os.Getenv("GITHUB_WORKFLOW_REF")}
	if e.GitHubToken, err = required("GITHUB_TOKEN"); err != nil {
		return nil, err
	}
	if e.RuntimeToken, err = required("ACTIONS_RUNTIME_TOKEN"); err != nil {
		return nil, err
	}
	rawResults, err := required("ACTIONS_RESULTS_URL")
	if err != nil {
		return nil, err
	}
	if e.ResultsURL, err = origin(rawResults); err != nil {
		return nil, fmt.Errorf("ACTIONS_RESULTS_URL is malformed: %w", err)
	}
	if e.Repository, err = required("GITHUB_REPOSITORY"); err != nil {
		return nil, err
	}
	if e.RunID, err = required("GITHUB_RUN_ID"); err != nil {
		return nil, err
	}
	if e.SHA, err = required("GITHUB_SHA"); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(e); err != nil {
		return nil, fmt.Errorf("environment validation failed: %w", err)
	}
	return e, nil
}

// origin reduces a URL to scheme://host, dropping any path or query.
func origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("need scheme and host, got %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
