// Package gate decides whether a verification run may gate a deployment, using an OPA Rego policy.
package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"

	"bcryptcheck/internal/verify"
)

const (
	allowQuery   = "data.bcryptcheck.gate.allow"
	reasonsQuery = "data.bcryptcheck.gate.reasons"

	// DefaultSource names the built-in policy in decisions.
	DefaultSource = "default"
)

// Default Rego policy: allow only when every check ran and passed.
const defaultRegoPolicy = `package bcryptcheck.gate

default allow := false

allow if {
	input.counts.failed == 0
	input.counts.skipped == 0
}

reasons contains msg if {
	some c in input.cases
	c.status == "FAIL"
	msg := sprintf("%s failed: %s", [c.name, c.detail])
}

reasons contains msg if {
	input.counts.skipped > 0
	msg := sprintf("%d checks skipped", [input.counts.skipped])
}
`

// ErrNoAllowRule is returned when a policy does not define data.bcryptcheck.gate.allow as a boolean.
var ErrNoAllowRule = errors.New("gate: policy does not define a boolean allow rule")

// Decision is the outcome of evaluating the gate policy against a run.
type Decision struct {
	// Allow is the effective verdict: the run succeeded and the policy allowed it.
	Allow bool `json:"allow" yaml:"allow"`
	// PolicyAllow is what the policy itself returned.
	PolicyAllow bool     `json:"policy_allow" yaml:"policy_allow"`
	Reasons     []string `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Policy      string   `json:"policy" yaml:"policy"`
}

// Evaluator evaluates gate policies using OPA Rego.
type Evaluator struct {
	policy string
	source string
	logger *zap.Logger
}

// NewEvaluator returns an Evaluator for the built-in policy.
func NewEvaluator(logger *zap.Logger) *Evaluator {
	return NewEvaluatorWithPolicy(defaultRegoPolicy, DefaultSource, logger)
}

// NewEvaluatorWithPolicy returns an Evaluator for a custom Rego policy in package bcryptcheck.gate.
// source names the policy in decisions (e.g. its file path).
func NewEvaluatorWithPolicy(policy, source string, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{policy: policy, source: source, logger: logger}
}

// LoadFile returns an Evaluator for the policy in path, or the built-in policy when path is empty.
func LoadFile(path string, logger *zap.Logger) (*Evaluator, error) {
	if path == "" {
		return NewEvaluator(logger), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gate: read policy: %w", err)
	}
	return NewEvaluatorWithPolicy(string(b), path, logger), nil
}

// HealthCheck verifies that the in-process OPA engine can compile and evaluate the default policy.
func (e *Evaluator) HealthCheck(ctx context.Context) error {
	compiler, err := ast.CompileModules(map[string]string{"gate.rego": defaultRegoPolicy})
	if err != nil {
		return fmt.Errorf("compile default policy: %w", err)
	}
	minimalInput := map[string]interface{}{
		"counts": map[string]interface{}{"passed": 1, "failed": 0, "skipped": 0},
		"cases":  []interface{}{},
	}
	allow, err := evalBool(ctx, compiler, minimalInput)
	if err != nil {
		return fmt.Errorf("eval default policy: %w", err)
	}
	if !allow {
		return errors.New("default policy denied a clean run")
	}
	return nil
}

// Evaluate applies the policy to res. It never fails open: a policy that cannot be compiled or evaluated
// yields a denying decision whose reasons carry the error. A policy can tighten the verdict of a run but
// never loosen it.
func (e *Evaluator) Evaluate(ctx context.Context, res *verify.Result) Decision {
	d := Decision{Policy: e.source}
	if res == nil {
		d.Reasons = []string{"no verification result"}
		return d
	}

	allow, reasons, err := e.evaluate(ctx, BuildInput(res))
	if err != nil {
		e.logger.Warn("gate: policy evaluation failed, denying", zap.String("policy", e.source), zap.Error(err))
		d.Reasons = []string{fmt.Sprintf("policy error: %v", err)}
		return d
	}
	d.PolicyAllow = allow
	d.Allow = allow && res.Success
	d.Reasons = reasons
	if allow && !res.Success {
		d.Reasons = append(d.Reasons, "verification did not succeed; the policy cannot override it")
	}
	e.logger.Debug("gate: decision", zap.String("policy", e.source), zap.Bool("allow", d.Allow), zap.Strings("reasons", d.Reasons))
	return d
}

func (e *Evaluator) evaluate(ctx context.Context, input map[string]interface{}) (bool, []string, error) {
	compiler, err := ast.CompileModules(map[string]string{"gate.rego": e.policy})
	if err != nil {
		return false, nil, fmt.Errorf("compile policy: %w", err)
	}
	allow, err := evalBool(ctx, compiler, input)
	if err != nil {
		return false, nil, err
	}

	var reasons []string
	q := rego.New(
		rego.Query(reasonsQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("eval reasons: %w", err)
	}
	if len(rs) > 0 && len(rs[0].Expressions) > 0 {
		if vals, ok := rs[0].Expressions[0].Value.([]interface{}); ok {
			for _, v := range vals {
				if s, ok := v.(string); ok {
					reasons = append(reasons, s)
				}
			}
		}
	}
	sort.Strings(reasons)
	return allow, reasons, nil
}

func evalBool(ctx context.Context, compiler *ast.Compiler, input map[string]interface{}) (bool, error) {
	q := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
		rego.Input(input),
	)
	rs, err := q.Eval(ctx)
	if err != nil {
		return false, fmt.Errorf("eval allow: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, ErrNoAllowRule
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, ErrNoAllowRule
	}
	return v, nil
}

// BuildInput converts a run into the policy input document.
func BuildInput(res *verify.Result) map[string]interface{} {
	counts := res.Counts()
	cases := make([]interface{}, 0, len(res.Cases))
	for _, c := range res.Cases {
		cases = append(cases, map[string]interface{}{
			"name":        c.Name,
			"status":      c.Status(),
			"path":        string(c.Path),
			"detail":      c.Detail,
			"duration_ms": millis(c.Duration),
		})
	}

	mismatches := make([]interface{}, 0)
	for _, m := range res.Environment.Mismatches() {
		mismatches = append(mismatches, m)
	}
	rt := res.Environment.Runtime
	input := map[string]interface{}{
		"run_id":  res.RunID,
		"driver":  res.Driver,
		"success": res.Success,
		"counts": map[string]interface{}{
			"passed":  counts.Passed,
			"failed":  counts.Failed,
			"skipped": counts.Skipped,
		},
		"cases": cases,
		"environment": map[string]interface{}{
			"os":         res.Environment.OS,
			"arch":       res.Environment.Arch,
			"hostname":   res.Environment.Hostname,
			"mismatches": mismatches,
			"runtime": map[string]interface{}{
				"name":     rt.Name,
				"version":  rt.Version,
				"platform": rt.Platform,
				"arch":     rt.Arch,
				"module":   rt.Module,
			},
		},
	}
	if res.Latency != nil {
		input["latency"] = map[string]interface{}{
			"samples":     res.Latency.Samples,
			"cost":        res.Latency.Cost,
			"total_ms":    millis(res.Latency.Total),
			"per_hash_ms": millis(res.Latency.PerHash),
		}
	}
	if res.Diagnosis != nil {
		input["diagnosis"] = map[string]interface{}{
			"kind":    string(res.Diagnosis.Kind),
			"summary": res.Diagnosis.Summary,
		}
	}
	return input
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
