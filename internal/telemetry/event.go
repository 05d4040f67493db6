package telemetry

import (
	"time"

	"bcryptcheck/internal/gate"
	"bcryptcheck/internal/telemetry/domain"
	"bcryptcheck/internal/verify"
)

// NewCompletedEvent summarises a finished run and its gate decision (may be nil). env is the deployment
// environment label.
func NewCompletedEvent(res *verify.Result, d *gate.Decision, env string) *domain.Event {
	if res == nil {
		return nil
	}
	counts := res.Counts()
	ev := &domain.Event{
		Type:           domain.EventVerificationCompleted,
		RunID:          res.RunID,
		Driver:         res.Driver,
		Env:            env,
		Success:        res.Success,
		GateAllow:      res.Success,
		Passed:         counts.Passed,
		Failed:         counts.Failed,
		Skipped:        counts.Skipped,
		HostPlatform:   res.Environment.Platform(),
		Hostname:       res.Environment.Hostname,
		RuntimeVersion: res.Environment.Runtime.Version,
		Module:         res.Environment.Runtime.Module,
		ElapsedMS:      res.Elapsed.Milliseconds(),
		CreatedAt:      res.StartedAt.Add(res.Elapsed).UTC(),
	}
	if d != nil {
		ev.GateAllow = d.Allow
	}
	for _, c := range res.Failures() {
		ev.FailedChecks = append(ev.FailedChecks, c.Name)
	}
	if res.Diagnosis != nil {
		ev.Diagnosis = string(res.Diagnosis.Kind)
	}
	if res.Latency != nil {
		ev.PerHashMS = float64(res.Latency.PerHash) / float64(time.Millisecond)
	}
	return ev
}
