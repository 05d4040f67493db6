package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"bcryptcheck/internal/capability"
	"bcryptcheck/internal/gate"
	"bcryptcheck/internal/verify"
)

func sampleResult() *verify.Result {
	return &verify.Result{
		RunID:   "4f1c",
		Driver:  "node",
		Success: false,
		Elapsed: 1500 * time.Millisecond,
		Cases: []verify.CaseResult{
			{Name: verify.CheckEnvironment, Passed: true, Path: verify.PathNone, Detail: "host linux/amd64"},
			{Name: verify.CheckSyncRoundTrip, Passed: true, Path: verify.PathSync, Detail: "cost 10, digest " + verify.Fingerprint("$2b$10$abc"), Duration: 120 * time.Millisecond},
			{Name: verify.CheckAsyncRoundTrip, Path: verify.PathAsync, Detail: `async compare("WrongPassword") = true, want false`},
			{Name: verify.CheckLatency, Skipped: true, Path: verify.PathNone, Detail: "skipped: capability became unavailable"},
		},
		Latency: &verify.Latency{Samples: 5, Cost: 10, Total: 400 * time.Millisecond, PerHash: 80 * time.Millisecond},
	}
}

func TestRender_Text(t *testing.T) {
	var buf bytes.Buffer
	d := &gate.Decision{Policy: gate.DefaultSource, Reasons: []string{"round-trip (async) failed"}}
	require.NoError(t, Render(&buf, sampleResult(), d, "text"))

	out := buf.String()
	assert.Contains(t, out, "run 4f1c, driver node")
	assert.Contains(t, out, "[PASS] round-trip (sync)")
	assert.Contains(t, out, "[FAIL] round-trip (async)")
	assert.Contains(t, out, "async compare(\"WrongPassword\") = true, want false")
	assert.Contains(t, out, "[SKIP] latency")
	assert.Contains(t, out, "2 passed, 1 failed, 1 skipped in 1.5s")
	assert.Contains(t, out, "[DENY] gate policy default")
	assert.Contains(t, out, "  - round-trip (async) failed")
	assert.Contains(t, out, "latency: 5 hashes at cost 10, 80ms per hash")
	assert.NotContains(t, out, "$2b$", "digests never appear in reports")
}

func TestRender_TextDiagnosis(t *testing.T) {
	res := &verify.Result{
		RunID: "r",
		Cases: []verify.CaseResult{{Name: verify.CheckAvailability, Detail: "arch_mismatch"}},
		Diagnosis: &capability.Diagnosis{
			Kind:    capability.KindArchMismatch,
			Summary: "wrong platform",
			Remedy:  "run `bcryptcheck rebuild`",
		},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, res, nil, ""))
	out := buf.String()
	assert.Contains(t, out, "driver unknown")
	assert.Contains(t, out, "diagnosis: arch_mismatch: wrong platform")
	assert.Contains(t, out, "remedy:    run `bcryptcheck rebuild`")
	assert.NotContains(t, out, "gate policy")
}

func TestRender_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, sampleResult(), &gate.Decision{Allow: false, Policy: "default"}, "json"))

	var doc struct {
		Verdict string `json:"verdict"`
		Result  struct {
			RunID string `json:"run_id"`
			Cases []struct {
				Name string `json:"name"`
				Path string `json:"path"`
			} `json:"cases"`
		} `json:"result"`
		Counts verify.Counts `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "FAIL", doc.Verdict)
	assert.Equal(t, "4f1c", doc.Result.RunID)
	require.Len(t, doc.Result.Cases, 4)
	assert.Equal(t, "async", doc.Result.Cases[2].Path)
	assert.Equal(t, verify.Counts{Passed: 2, Failed: 1, Skipped: 1}, doc.Counts)
}

func TestRender_YAML(t *testing.T) {
	res := sampleResult()
	res.Success = true
	res.Cases = res.Cases[:2]

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, res, &gate.Decision{Allow: true, PolicyAllow: true, Policy: "default"}, "YAML"))

	var doc map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "PASS", doc["verdict"])
	assert.True(t, strings.HasPrefix(buf.String(), "verdict: PASS"))
}

func TestRender_UnknownFormat(t *testing.T) {
	err := Render(&bytes.Buffer{}, sampleResult(), nil, "xml")
	assert.ErrorContains(t, err, "unknown format")
}

func TestVerdict(t *testing.T) {
	ok := &verify.Result{Success: true}
	assert.Equal(t, "PASS", Verdict(ok, nil))
	assert.Equal(t, "PASS", Verdict(ok, &gate.Decision{Allow: true}))
	assert.Equal(t, "FAIL", Verdict(ok, &gate.Decision{Allow: false}))
	assert.Equal(t, "FAIL", Verdict(&verify.Result{}, nil))
	assert.Equal(t, "FAIL", Verdict(nil, nil))
}
