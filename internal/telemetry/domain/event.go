// Package domain holds the telemetry event emitted after each verification run.
package domain

import "time"

// EventVerificationCompleted is the event type emitted once per run.
const EventVerificationCompleted = "verification_completed"

// Event is a run summary sent to telemetry sinks. It never carries plaintexts or digests.
type Event struct {
	Type           string    `json:"event_type"`
	RunID          string    `json:"run_id"`
	Driver         string    `json:"driver"`
	Env            string    `json:"env,omitempty"`
	Success        bool      `json:"success"`
	GateAllow      bool      `json:"gate_allow"`
	Passed         int       `json:"passed"`
	Failed         int       `json:"failed"`
	Skipped        int       `json:"skipped"`
	FailedChecks   []string  `json:"failed_checks,omitempty"`
	HostPlatform   string    `json:"host_platform"`
	Hostname       string    `json:"hostname,omitempty"`
	RuntimeVersion string    `json:"runtime_version,omitempty"`
	Module         string    `json:"module,omitempty"`
	Diagnosis      string    `json:"diagnosis,omitempty"`
	PerHashMS      float64   `json:"per_hash_ms,omitempty"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
