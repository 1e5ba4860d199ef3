package config

import (
	"strings"
	"testing"
)

func setFullEnv(t *testing.T) {
	t.Helper()
	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("ACTIONS_RUNTIME_TOKEN", "runtime-token")
	t.Setenv("ACTIONS_RESULTS_URL", "https://results.example.com/twirp/extra?x=1")
	t.Setenv("GITHUB_REPOSITORY", "octo/infra")
	t.Setenv("GITHUB_RUN_ID", "42")
	t.Setenv("GITHUB_SHA", "abc123")
	t.Setenv("GITHUB_WORKFLOW_REF", "octo/infra/.github/workflows/plan.yml@refs/heads/main")
}

func TestFromEnv(t *testing.T) {
	setFullEnv(t)

	e, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if e.ResultsURL != "https://results.example.com" {
		t.Errorf("results url = %q, want origin only", e.ResultsURL)
	}
	if e.Repository != "octo/infra" || e.RunID != "42" || e.SHA != "abc123" {
		t.Errorf("env = %+v", e)
	}
	if e.WorkflowRef == "" {
		t.Error("workflow ref not carried through")
	}
}

func TestFromEnvMissingVariables(t *testing.T) {
	vars := []string{
		"GITHUB_TOKEN",
		"ACTIONS_RUNTIME_TOKEN",
		"ACTIONS_RESULTS_URL",
		"GITHUB_REPOSITORY",
		"GITHUB_RUN_ID",
		"GITHUB_SHA",
	}
	for _, name := range vars {
		t.Run(name, func(t *testing.T) {
			setFullEnv(t)
			t.Setenv(name, "")

			_, err := FromEnv()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), name) {
				t.Errorf("error %q does not name the variable", err)
			}
			if hint := envHints[name]; hint != "" && !strings.Contains(err.Error(), hint) {
				t.Errorf("error %q carries no remediation hint", err)
			}
		})
	}
}

func TestFromEnvMalformedResultsURL(t *testing.T) {
	setFullEnv(t)
	t.Setenv("ACTIONS_RESULTS_URL", "not-a-url")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for URL without scheme")
	}
}
