package gate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bcryptcheck/internal/capability"
	"bcryptcheck/internal/verify"
)

func passingResult() *verify.Result {
	return &verify.Result{
		RunID:   "run-1",
		Driver:  "node",
		Success: true,
		Cases: []verify.CaseResult{
			{Name: verify.CheckEnvironment, Passed: true, Path: verify.PathNone},
			{Name: verify.CheckAvailability, Passed: true, Path: verify.PathNone},
			{Name: verify.CheckSyncRoundTrip, Passed: true, Path: verify.PathSync},
			{Name: verify.CheckLatency, Passed: true, Path: verify.PathSync},
		},
		Latency: &verify.Latency{Samples: 5, Cost: 10, Total: 400 * time.Millisecond, PerHash: 80 * time.Millisecond},
	}
}

func failingResult() *verify.Result {
	return &verify.Result{
		RunID:  "run-2",
		Driver: "node",
		Cases: []verify.CaseResult{
			{Name: verify.CheckEnvironment, Passed: true},
			{Name: verify.CheckAvailability, Detail: "arch_mismatch: wrong platform"},
			{Name: verify.CheckSyncRoundTrip, Skipped: true, Detail: "skipped: capability unavailable"},
		},
		Diagnosis: &capability.Diagnosis{Kind: capability.KindArchMismatch},
	}
}

func TestEvaluator_HealthCheck(t *testing.T) {
	e := NewEvaluator(nil)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestEvaluate_DefaultPolicyAllowsCleanRun(t *testing.T) {
	d := NewEvaluator(nil).Evaluate(context.Background(), passingResult())
	if !d.Allow || !d.PolicyAllow {
		t.Fatalf("Decision = %+v, want allow", d)
	}
	if len(d.Reasons) != 0 {
		t.Errorf("Reasons = %v, want none", d.Reasons)
	}
	if d.Policy != DefaultSource {
		t.Errorf("Policy = %q, want %q", d.Policy, DefaultSource)
	}
}

func TestEvaluate_DefaultPolicyDeniesFailedRun(t *testing.T) {
	d := NewEvaluator(nil).Evaluate(context.Background(), failingResult())
	if d.Allow || d.PolicyAllow {
		t.Fatalf("Decision = %+v, want deny", d)
	}
	joined := strings.Join(d.Reasons, "\n")
	if !strings.Contains(joined, "capability availability failed: arch_mismatch") {
		t.Errorf("Reasons = %v, want availability failure", d.Reasons)
	}
	if !strings.Contains(joined, "1 checks skipped") {
		t.Errorf("Reasons = %v, want skipped count", d.Reasons)
	}
}

func TestEvaluate_CustomPolicy(t *testing.T) {
	latencyCeiling := `package bcryptcheck.gate

default allow := false

allow if {
	input.counts.failed == 0
	input.counts.skipped == 0
	input.latency.per_hash_ms < 50
}

reasons contains msg if {
	input.latency.per_hash_ms >= 50
	msg := sprintf("hashing too slow: %v ms per hash", [input.latency.per_hash_ms])
}
`
	alwaysAllow := `package bcryptcheck.gate

allow := true
`
	noAllow := `package bcryptcheck.gate

reasons contains "nothing to see"
`
	nonBool := `package bcryptcheck.gate

allow := "yes"
`
	broken := `package bcryptcheck.gate

allow if {
`
	testCases := []struct {
		name       string
		policy     string
		result     *verify.Result
		wantAllow  bool
		wantReason string
	}{
		{"latency ceiling denies slow run", latencyCeiling, passingResult(), false, "hashing too slow"},
		{"always allow cannot loosen failure", alwaysAllow, failingResult(), false, "cannot override"},
		{"always allow passes clean run", alwaysAllow, passingResult(), true, ""},
		{"missing allow fails closed", noAllow, passingResult(), false, "policy error"},
		{"non-boolean allow fails closed", nonBool, passingResult(), false, "policy error"},
		{"compile error fails closed", broken, passingResult(), false, "policy error"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := NewEvaluatorWithPolicy(tc.policy, "custom.rego", nil)
			d := e.Evaluate(context.Background(), tc.result)
			if d.Allow != tc.wantAllow {
				t.Fatalf("Allow = %v, want %v (reasons %v)", d.Allow, tc.wantAllow, d.Reasons)
			}
			if tc.wantReason != "" && !strings.Contains(strings.Join(d.Reasons, "\n"), tc.wantReason) {
				t.Errorf("Reasons = %v, want mention of %q", d.Reasons, tc.wantReason)
			}
			if d.Policy != "custom.rego" {
				t.Errorf("Policy = %q, want custom.rego", d.Policy)
			}
		})
	}
}

func TestEvaluate_NilResult(t *testing.T) {
	d := NewEvaluator(nil).Evaluate(context.Background(), nil)
	if d.Allow {
		t.Fatal("nil result must not be allowed")
	}
}

func TestLoadFile(t *testing.T) {
	e, err := LoadFile("", nil)
	if err != nil {
		t.Fatalf("LoadFile(\"\"): %v", err)
	}
	if e.source != DefaultSource {
		t.Errorf("source = %q, want default", e.source)
	}

	path := filepath.Join(t.TempDir(), "gate.rego")
	if err := os.WriteFile(path, []byte("package bcryptcheck.gate\n\nallow := true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	e, err = LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if d := e.Evaluate(context.Background(), passingResult()); !d.Allow || d.Policy != path {
		t.Errorf("Decision = %+v, want allow from %s", d, path)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.rego"), nil); err == nil {
		t.Error("LoadFile should fail for a missing file")
	}
}

func TestBuildInput(t *testing.T) {
	in := BuildInput(passingResult())
	counts := in["counts"].(map[string]interface{})
	if counts["passed"] != 4 || counts["failed"] != 0 {
		t.Errorf("counts = %v", counts)
	}
	lat, ok := in["latency"].(map[string]interface{})
	if !ok {
		t.Fatal("latency missing from input")
	}
	if lat["per_hash_ms"] != 80.0 {
		t.Errorf("per_hash_ms = %v, want 80", lat["per_hash_ms"])
	}
	if _, ok := in["diagnosis"]; ok {
		t.Error("diagnosis should be absent for a clean run")
	}

	in = BuildInput(failingResult())
	if _, ok := in["latency"]; ok {
		t.Error("latency should be absent when the latency check did not run")
	}
	diag := in["diagnosis"].(map[string]interface{})
	if diag["kind"] != "arch_mismatch" {
		t.Errorf("diagnosis kind = %v", diag["kind"])
	}
}
