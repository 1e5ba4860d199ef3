package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const planWithDestroy = `{
	"format_version": "1.2",
	"resource_changes": [
		{"address": "aws_instance.web", "change": {"actions": ["delete"]}},
		{"address": "aws_s3_bucket.logs", "change": {"actions": ["no-op"]}}
	]
}`

const planWithReplace = `{
	"format_version": "1.2",
	"resource_changes": [
		{"address": "aws_instance.web", "change": {"actions": ["delete", "create"]}}
	]
}`

const planClean = `{
	"format_version": "1.2",
	"resource_changes": [
		{"address": "aws_instance.web", "change": {"actions": ["update"]}},
		{"address": "aws_s3_bucket.logs", "change": {"actions": ["create"]}}
	]
}`

func writePlanJSON(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tfplan.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestEvaluatePlanFileDeniesDestroy(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluatePlanFile(context.Background(), writePlanJSON(t, planWithDestroy), "recipes/network")
	if err != nil {
		t.Fatalf("EvaluatePlanFile: %v", err)
	}
	if result.Allowed {
		t.Error("plan with a destroy must not be allowed")
	}

	var found bool
	for _, v := range result.Violations {
		if v.Policy == "deny-destroy" && v.Severity == SeverityError {
			found = true
			if v.Message != "plan destroys resource aws_instance.web" {
				t.Errorf("message = %q", v.Message)
			}
		}
	}
	if !found {
		t.Errorf("deny-destroy did not fire: %+v", result.Violations)
	}
}

func TestEvaluatePlanFileWarnsOnReplace(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluatePlanFile(context.Background(), writePlanJSON(t, planWithReplace), "recipes/network")
	if err != nil {
		t.Fatalf("EvaluatePlanFile: %v", err)
	}

	var warned bool
	for _, v := range result.Violations {
		if v.Policy == "warn-replace" && v.Severity == SeverityWarning {
			warned = true
		}
	}
	if !warned {
		t.Errorf("warn-replace did not fire: %+v", result.Violations)
	}
}

func TestEvaluatePlanFileCleanPlanAllowed(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.EvaluatePlanFile(context.Background(), writePlanJSON(t, planClean), "recipes/network")
	if err != nil {
		t.Fatalf("EvaluatePlanFile: %v", err)
	}
	if !result.Allowed {
		t.Errorf("clean plan blocked: %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("violations = %+v, want none", result.Violations)
	}
	if len(result.EvaluatedPolicies) < 2 {
		t.Errorf("evaluated = %v, want the built-ins", result.EvaluatedPolicies)
	}
}

func TestEvaluatePlanFileEmptyFallbackDocument(t *testing.T) {
	e := newTestEngine(t)

	// The orchestrator writes "{}" when no plan binary was produced
	result, err := e.EvaluatePlanFile(context.Background(), writePlanJSON(t, "{}"), "recipes/empty")
	if err != nil {
		t.Fatalf("EvaluatePlanFile: %v", err)
	}
	if !result.Allowed {
		t.Error("empty plan document must be allowed")
	}
}

func TestLoadPoliciesAddsRepositoryRule(t *testing.T) {
	e := newTestEngine(t)

	dir := t.TempDir()
	rule := `package repo.rules

import rego.v1

deny contains msg if {
	some rc in input.plan.resource_changes
	rc.address == "aws_instance.web"
	msg := "instances named web are forbidden"
}
`
	if err := os.WriteFile(filepath.Join(dir, "no_web.rego"), []byte(rule), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	result, err := e.EvaluatePlanFile(context.Background(), writePlanJSON(t, planClean), "recipes/network")
	if err != nil {
		t.Fatalf("EvaluatePlanFile: %v", err)
	}
	if result.Allowed {
		t.Error("repository rule should block the plan")
	}

	var found bool
	for _, v := range result.Violations {
		if v.Policy == "no_web" && v.Message == "instances named web are forbidden" {
			found = true
		}
	}
	if !found {
		t.Errorf("repository rule did not fire: %+v", result.Violations)
	}
}

func TestLoadPoliciesRejectsBadRego(t *testing.T) {
	e := newTestEngine(t)

	path := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(path, []byte("this is not rego"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := e.LoadPolicies(context.Background(), []string{path}); err == nil {
		t.Fatal("expected compile error for broken policy")
	}
}

func TestListPoliciesSorted(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) < 2 {
		t.Fatalf("policies = %d, want the built-ins", len(policies))
	}
	for i := 1; i < len(policies); i++ {
		if policies[i-1].Name > policies[i].Name {
			t.Errorf("policies not sorted: %s before %s", policies[i-1].Name, policies[i].Name)
		}
	}
}
