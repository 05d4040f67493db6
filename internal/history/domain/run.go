package domain

import "time"

// Run is the persisted summary of one verification run.
type Run struct {
	ID             string
	Driver         string
	Success        bool
	GateAllow      bool
	GatePolicy     string
	Passed         int
	Failed         int
	Skipped        int
	FailedChecks   []string
	HostPlatform   string
	Hostname       string
	RuntimeVersion string
	Module         string
	Diagnosis      string
	PerHashMS      float64
	Elapsed        time.Duration
	StartedAt      time.Time
}
