package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bcryptcheck/internal/db"
	"bcryptcheck/internal/history/domain"
)

// sqliteTimeLayout is fixed-width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

const insertRun = `INSERT INTO verification_runs (
	id, driver, success, gate_allow, gate_policy, passed, failed, skipped, failed_checks,
	host_platform, hostname, runtime_version, module, diagnosis, per_hash_ms, elapsed_ms, started_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const listRecentRuns = `SELECT
	id, driver, success, gate_allow, gate_policy, passed, failed, skipped, failed_checks,
	host_platform, hostname, runtime_version, module, diagnosis, per_hash_ms, elapsed_ms, started_at
FROM verification_runs
ORDER BY started_at DESC
LIMIT ?`

// SQLRepository stores runs in Postgres or SQLite through database/sql.
type SQLRepository struct {
	db      *sql.DB
	dialect db.Dialect
}

// NewSQLRepository returns a run repository that uses conn for persistence.
func NewSQLRepository(conn *sql.DB, dialect db.Dialect) *SQLRepository {
	return &SQLRepository{db: conn, dialect: dialect}
}

// Create persists r. r.ID must be set.
func (r *SQLRepository) Create(ctx context.Context, run *domain.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("history: run id is required")
	}
	var startedAt any = run.StartedAt.UTC()
	if r.dialect == db.SQLite {
		startedAt = run.StartedAt.UTC().Format(sqliteTimeLayout)
	}
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(insertRun),
		run.ID, run.Driver, run.Success, run.GateAllow, run.GatePolicy,
		run.Passed, run.Failed, run.Skipped, strings.Join(run.FailedChecks, ","),
		run.HostPlatform, run.Hostname, run.RuntimeVersion, run.Module, run.Diagnosis,
		run.PerHashMS, run.Elapsed.Milliseconds(), startedAt,
	)
	return err
}

// ListRecent returns up to limit runs, newest first. A non-positive limit returns nothing.
func (r *SQLRepository) ListRecent(ctx context.Context, limit int) ([]*domain.Run, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(listRecentRuns), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Run
	for rows.Next() {
		var (
			run          domain.Run
			failedChecks string
			elapsedMS    int64
			startedAt    any
		)
		if err := rows.Scan(
			&run.ID, &run.Driver, &run.Success, &run.GateAllow, &run.GatePolicy,
			&run.Passed, &run.Failed, &run.Skipped, &failedChecks,
			&run.HostPlatform, &run.Hostname, &run.RuntimeVersion, &run.Module, &run.Diagnosis,
			&run.PerHashMS, &elapsedMS, &startedAt,
		); err != nil {
			return nil, err
		}
		if failedChecks != "" {
			run.FailedChecks = strings.Split(failedChecks, ",")
		}
		run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if run.StartedAt, err = scanTime(startedAt); err != nil {
			return nil, err
		}
		out = append(out, &run)
	}
	return out, rows.Err()
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, fmt.Errorf("history: unexpected started_at type %T", v)
	}
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("history: cannot parse started_at %q", s)
}
