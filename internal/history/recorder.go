// Package history records verification runs so operators can see how a host's results change over time.
package history

import (
	"context"
	"time"

	"go.uber.org/zap"

	"bcryptcheck/internal/gate"
	"bcryptcheck/internal/history/domain"
	"bcryptcheck/internal/history/repository"
	"bcryptcheck/internal/verify"
)

// writeTimeout bounds a single history write.
const writeTimeout = 5 * time.Second

// Recorder writes run summaries to a repository. Record is best-effort: failures are logged and never
// change the verdict.
type Recorder struct {
	repo   repository.Repository
	logger *zap.Logger
}

// NewRecorder returns a Recorder that persists to repo. A nil repo makes Record a no-op.
func NewRecorder(repo repository.Repository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record persists a summary of res and the gate decision d (may be nil).
func (r *Recorder) Record(ctx context.Context, res *verify.Result, d *gate.Decision) {
	if r == nil || r.repo == nil || res == nil {
		return
	}
	run := FromResult(res, d)
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, run); err != nil {
		r.logger.Warn("history: failed to record run", zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	r.logger.Debug("history: recorded run", zap.String("run_id", run.ID))
}

// FromResult converts a run and its gate decision into the persisted summary.
func FromResult(res *verify.Result, d *gate.Decision) *domain.Run {
	counts := res.Counts()
	run := &domain.Run{
		ID:             res.RunID,
		Driver:         res.Driver,
		Success:        res.Success,
		GateAllow:      res.Success,
		Passed:         counts.Passed,
		Failed:         counts.Failed,
		Skipped:        counts.Skipped,
		HostPlatform:   res.Environment.Platform(),
		Hostname:       res.Environment.Hostname,
		RuntimeVersion: res.Environment.Runtime.Version,
		Module:         res.Environment.Runtime.Module,
		Elapsed:        res.Elapsed,
		StartedAt:      res.StartedAt.UTC(),
	}
	if d != nil {
		run.GateAllow = d.Allow
		run.GatePolicy = d.Policy
	}
	for _, c := range res.Failures() {
		run.FailedChecks = append(run.FailedChecks, c.Name)
	}
	if res.Diagnosis != nil {
		run.Diagnosis = string(res.Diagnosis.Kind)
	}
	if res.Latency != nil {
		run.PerHashMS = float64(res.Latency.PerHash) / float64(time.Millisecond)
	}
	return run
}
