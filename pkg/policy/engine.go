package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates loaded policies against plan documents.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// compiledPolicy pairs a policy with its parsed module.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine preloaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		p := p
		if err := e.compileAndStore(&p); err != nil {
			return nil, fmt.Errorf("compiling built-in policy %s: %w", p.Name, err)
		}
	}
	e.logger.Debug().Int("count", len(e.policies)).Msg("Built-in policies loaded")

	return e, nil
}

// LoadPolicies loads and compiles policy files from the given paths,
// replacing same-named policies.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}
	return e.ReplaceLoaded(policies)
}

// ReplaceLoaded swaps in a new set of repository policies, keeping the
// built-ins. Used by the watch loop on reload.
func (e *Engine) ReplaceLoaded(policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := make(map[string]*compiledPolicy)
	e.policies = fresh
	for _, p := range BuiltinPolicies() {
		p := p
		if err := e.compileAndStore(&p); err != nil {
			return err
		}
	}
	for i := range policies {
		if err := e.compileAndStore(&policies[i]); err != nil {
			return fmt.Errorf("compiling policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("Repository policies loaded")
	return nil
}

// EvaluatePlanFile reads a derived plan JSON file and evaluates every
// enabled policy against it.
func (e *Engine) EvaluatePlanFile(ctx context.Context, planJSONPath, recipe string) (*Result, error) {
	raw, err := os.ReadFile(planJSONPath)
	if err != nil {
		return nil, fmt.Errorf("reading plan JSON: %w", err)
	}

	var plan interface{}
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("parsing plan JSON: %w", err)
	}

	return e.Evaluate(ctx, &PlanInput{
		Plan:      plan,
		Recipe:    recipe,
		Timestamp: time.Now(),
	})
}

// Evaluate runs every enabled policy against the input. A policy that fails
// to evaluate becomes a warning, not a hard failure.
func (e *Engine) Evaluate(ctx context.Context, input *PlanInput) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Allowed:     true,
		EvaluatedAt: time.Now(),
	}

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).Str("policy", name).Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for i := range result.Violations {
		if result.Violations[i].Severity == SeverityError {
			result.Allowed = false
			break
		}
	}

	e.logger.Debug().
		Str("recipe", input.Recipe).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Msg("Plan policy evaluation completed")

	return result, nil
}

// evaluatePolicy queries the policy's deny set with the plan input.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PlanInput) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", cp.module.Package.Path.String()[len("data."):])

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, e.violationFrom(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// violationFrom shapes one deny entry into a Violation. String entries are
// plain messages; object entries may override severity.
func (e *Engine) violationFrom(policy *Policy, entry interface{}) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	switch val := entry.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

// compileAndStore parses and registers one policy. Caller holds the lock
// during reloads; NewEngine calls it before the engine is shared.
func (e *Engine) compileAndStore(policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("parsing policy: %w", err)
	}
	if !strings.HasPrefix(module.Package.Path.String(), "data.") {
		return fmt.Errorf("policy %s has no usable package path", policy.Name)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		compiled: time.Now(),
	}
	return nil
}

// ListPolicies returns all registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, *cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}
