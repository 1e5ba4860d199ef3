package policy

// builtinDenyDestroy blocks plans that destroy resources. Replacements
// count: a delete inside a replace action pair is still a delete.
const builtinDenyDestroy = `package infravista.policy

import rego.v1

deny contains msg if {
	some rc in input.plan.resource_changes
	"delete" in rc.change.actions
	msg := sprintf("plan destroys resource %s", [rc.address])
}
`

// builtinWarnReplace flags resources the plan replaces rather than updates
// in place.
const builtinWarnReplace = `package infravista.policy.replace

import rego.v1

deny contains msg if {
	some rc in input.plan.resource_changes
	"delete" in rc.change.actions
	"create" in rc.change.actions
	msg := sprintf("plan replaces resource %s", [rc.address])
}
`

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "deny-destroy",
			Description: "Block plans that destroy existing resources",
			Rego:        builtinDenyDestroy,
			Severity:    SeverityError,
			Enabled:     true,
		},
		{
			Name:        "warn-replace",
			Description: "Flag resources replaced instead of updated in place",
			Rego:        builtinWarnReplace,
			Severity:    SeverityWarning,
			Enabled:     true,
		},
	}
}
