// Package config assembles runtime configuration from the GitHub Actions
// environment and the optional repository manifest. Construction fails fast
// with a remediation hint when a required variable is missing, before any
// network or subprocess work starts.
package config
