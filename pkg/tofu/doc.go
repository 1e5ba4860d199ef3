// Package tofu drives the OpenTofu CLI through an ordered sequence of plan
// attempts: the default variable set first, then one attempt per discovered
// variable file, stopping at the first success. On success it derives the
// plan JSON, dependency graph, and provider schema into the recipe directory.
//
// The package never changes the process working directory; every subprocess
// invocation receives the recipe directory explicitly.
package tofu
