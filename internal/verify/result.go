package verify

import (
	"time"

	"bcryptcheck/internal/capability"
	"bcryptcheck/internal/envprobe"
)

// Path names the API family a check went through.
type Path string

const (
	PathSync  Path = "sync"
	PathAsync Path = "async"
	PathMixed Path = "mixed"
	PathNone  Path = "none"
)

// CaseResult is the outcome of one check.
type CaseResult struct {
	Name     string        `json:"name" yaml:"name"`
	Passed   bool          `json:"passed" yaml:"passed"`
	Skipped  bool          `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Path     Path          `json:"path" yaml:"path"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// Failed reports whether the case ran and did not pass.
func (c CaseResult) Failed() bool {
	return !c.Passed && !c.Skipped
}

// Status is PASS, FAIL or SKIP.
func (c CaseResult) Status() string {
	switch {
	case c.Skipped:
		return "SKIP"
	case c.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

// Latency is the informational timing captured by the latency check.
type Latency struct {
	Samples int           `json:"samples" yaml:"samples"`
	Cost    int           `json:"cost" yaml:"cost"`
	Total   time.Duration `json:"total_ns" yaml:"total_ns"`
	PerHash time.Duration `json:"per_hash_ns" yaml:"per_hash_ns"`
}

// Counts tallies case outcomes.
type Counts struct {
	Passed  int `json:"passed" yaml:"passed"`
	Failed  int `json:"failed" yaml:"failed"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// Result is the outcome of one verification run.
type Result struct {
	RunID       string                `json:"run_id" yaml:"run_id"`
	Driver      string                `json:"driver" yaml:"driver"`
	Success     bool                  `json:"success" yaml:"success"`
	StartedAt   time.Time             `json:"started_at" yaml:"started_at"`
	Elapsed     time.Duration         `json:"elapsed_ns" yaml:"elapsed_ns"`
	Environment envprobe.Environment  `json:"environment" yaml:"environment"`
	Diagnosis   *capability.Diagnosis `json:"diagnosis,omitempty" yaml:"diagnosis,omitempty"`
	Latency     *Latency              `json:"latency,omitempty" yaml:"latency,omitempty"`
	Cases       []CaseResult          `json:"cases" yaml:"cases"`
}

// Counts tallies the run's cases.
func (r *Result) Counts() Counts {
	var c Counts
	if r == nil {
		return c
	}
	for _, cr := range r.Cases {
		switch {
		case cr.Skipped:
			c.Skipped++
		case cr.Passed:
			c.Passed++
		default:
			c.Failed++
		}
	}
	return c
}

// Case returns the named case, or false if the run has none by that name.
func (r *Result) Case(name string) (CaseResult, bool) {
	if r == nil {
		return CaseResult{}, false
	}
	for _, cr := range r.Cases {
		if cr.Name == name {
			return cr, true
		}
	}
	return CaseResult{}, false
}

// Failures returns the cases that ran and failed, in run order.
func (r *Result) Failures() []CaseResult {
	if r == nil {
		return nil
	}
	var out []CaseResult
	for _, cr := range r.Cases {
		if cr.Failed() {
			out = append(out, cr)
		}
	}
	return out
}

// ExitCode is 0 for a successful run and 1 otherwise.
func (r *Result) ExitCode() int {
	if r != nil && r.Success {
		return 0
	}
	return 1
}
