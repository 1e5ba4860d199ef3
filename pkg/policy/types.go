package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block publishing.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block publishing.
	SeverityError Severity = "error"
)

// Policy is one named Rego rule set.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation is one finding produced by a policy.
type Violation struct {
	// Policy is the name of the policy that fired.
	Policy string `json:"policy"`

	// Message is a human-readable finding.
	Message string `json:"message"`

	// Severity is the finding severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all loaded policies against one plan.
type Result struct {
	// Allowed indicates whether the plan may be published. Any
	// error-severity violation blocks it.
	Allowed bool `json:"allowed"`

	// Violations lists every finding, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists evaluation problems (a policy that failed to run).
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`
}

// PlanInput is the document handed to every policy as `input`.
type PlanInput struct {
	// Plan is the parsed plan JSON (the `show -json` document).
	Plan interface{} `json:"plan"`

	// Recipe is the recipe directory the plan came from.
	Recipe string `json:"recipe"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
