// Package policy gates recipe plans with Rego rules evaluated against the
// derived plan JSON. Built-in rules cover destructive changes; repositories
// add their own .rego or .json policy files, optionally hot-reloaded while
// `check --watch` runs.
package policy
