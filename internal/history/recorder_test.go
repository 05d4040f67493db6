package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"bcryptcheck/internal/capability"
	"bcryptcheck/internal/envprobe"
	"bcryptcheck/internal/gate"
	"bcryptcheck/internal/history/domain"
	"bcryptcheck/internal/verify"
)

// mockRunRepo implements repository.Repository for tests.
type mockRunRepo struct {
	runs      []*domain.Run
	createErr error
}

func (m *mockRunRepo) Create(ctx context.Context, r *domain.Run) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.runs = append(m.runs, r)
	return nil
}

func (m *mockRunRepo) ListRecent(ctx context.Context, limit int) ([]*domain.Run, error) {
	return m.runs, nil
}

func sampleResult() *verify.Result {
	return &verify.Result{
		RunID:     "run-1",
		Driver:    "node",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Elapsed:   1500 * time.Millisecond,
		Environment: envprobe.Environment{
			OS: "linux", Arch: "arm64", Hostname: "build-7",
			Runtime: capability.RuntimeInfo{Name: "node", Version: "v20.11.1", Module: "bcrypt@5.1.1"},
		},
		Cases: []verify.CaseResult{
			{Name: verify.CheckEnvironment, Passed: true},
			{Name: verify.CheckSyncRoundTrip, Passed: true},
			{Name: verify.CheckAsyncRoundTrip},
			{Name: verify.CheckInterop},
			{Name: verify.CheckLatency, Skipped: true},
		},
		Diagnosis: &capability.Diagnosis{Kind: capability.KindABIMismatch},
		Latency:   &verify.Latency{PerHash: 62500 * time.Microsecond},
	}
}

func TestFromResult(t *testing.T) {
	run := FromResult(sampleResult(), &gate.Decision{Allow: false, Policy: "default"})

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, "node", run.Driver)
	assert.False(t, run.Success)
	assert.False(t, run.GateAllow)
	assert.Equal(t, "default", run.GatePolicy)
	assert.Equal(t, 2, run.Passed)
	assert.Equal(t, 2, run.Failed)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, []string{verify.CheckAsyncRoundTrip, verify.CheckInterop}, run.FailedChecks)
	assert.Equal(t, "linux/arm64", run.HostPlatform)
	assert.Equal(t, "build-7", run.Hostname)
	assert.Equal(t, "v20.11.1", run.RuntimeVersion)
	assert.Equal(t, "bcrypt@5.1.1", run.Module)
	assert.Equal(t, "abi_mismatch", run.Diagnosis)
	assert.InDelta(t, 62.5, run.PerHashMS, 0.001)
}

func TestFromResult_NoDecision(t *testing.T) {
	res := sampleResult()
	res.Success = true
	run := FromResult(res, nil)
	assert.True(t, run.GateAllow, "without a gate the verdict is the run's success")
	assert.Empty(t, run.GatePolicy)
}

func TestRecorder_Record(t *testing.T) {
	repo := &mockRunRepo{}
	NewRecorder(repo, nil).Record(context.Background(), sampleResult(), nil)

	require.Len(t, repo.runs, 1)
	assert.Equal(t, "run-1", repo.runs[0].ID)
}

func TestRecorder_BestEffort(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := &mockRunRepo{createErr: errors.New("database is locked")}

	assert.NotPanics(t, func() {
		NewRecorder(repo, zap.New(core)).Record(context.Background(), sampleResult(), nil)
	})
	require.Equal(t, 1, logs.FilterMessage("history: failed to record run").Len())
}

func TestRecorder_NilSafe(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), sampleResult(), nil)
	NewRecorder(nil, nil).Record(context.Background(), sampleResult(), nil)
	NewRecorder(&mockRunRepo{}, nil).Record(context.Background(), nil, nil)
}
