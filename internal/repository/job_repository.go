package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/saccohq/be-coop-scheduler/internal/apperr"
	"github.com/saccohq/be-coop-scheduler/internal/database"
	"github.com/saccohq/be-coop-scheduler/internal/schema"
)

// JobRepository is the durable queue: rows representing scheduled work.
// Selection and claiming honor the probed schema capabilities so the same
// logic runs against degraded layouts lacking the status or job_name columns.
type JobRepository struct {
	db   *database.DB
	caps schema.Capabilities
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *database.DB, caps schema.Capabilities) *JobRepository {
	return &JobRepository{db: db, caps: caps}
}

// Create inserts a pending job. When the schema carries a job_name column and
// the job has one, an existing non-terminal job with the same name is returned
// instead of inserting a duplicate. The name check is re-run after the insert
// so concurrent creators converge on a single row.
func (r *JobRepository) Create(ctx context.Context, job *Job) (string, error) {
	if r.caps.HasJobName && job.JobName != nil {
		existing, err := r.findByName(ctx, *job.JobName)
		if err != nil {
			return "", err
		}
		if existing != "" {
			return existing, nil
		}
	}

	paramsJSON, err := json.Marshal(job.Parameters)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to marshal job parameters")
	}

	var query string
	var args []any
	if r.caps.HasJobName {
		query = `
			INSERT INTO jobs
			    (job_type, job_name, entity_id, parameters, status, priority, scheduled_at)
			VALUES ($1, $2, $3, $4, 'pending', $5, $6)
			RETURNING id, created_at, updated_at
		`
		args = []any{job.JobType, job.JobName, job.EntityID, paramsJSON, job.Priority, job.ScheduledAt}
	} else {
		query = `
			INSERT INTO jobs
			    (job_type, entity_id, parameters, status, priority, scheduled_at)
			VALUES ($1, $2, $3, 'pending', $4, $5)
			RETURNING id, created_at, updated_at
		`
		args = []any{job.JobType, job.EntityID, paramsJSON, job.Priority, job.ScheduledAt}
	}

	err = r.db.QueryRow(ctx, query, args...).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to create job")
	}
	job.Status = JobPending

	if r.caps.HasJobName && job.JobName != nil {
		// Concurrent creators can both pass the lookup and insert. The oldest
		// row for the name is canonical; a loser withdraws its own insert and
		// hands back the winner.
		canonical, err := r.findByName(ctx, *job.JobName)
		if err != nil {
			return "", err
		}
		if canonical != "" && canonical != job.ID {
			if _, err := r.db.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND status = 'pending'`, job.ID); err != nil {
				return "", apperr.Wrap(err, apperr.CodeInternal, "failed to withdraw duplicate job")
			}
			return canonical, nil
		}
	}
	return job.ID, nil
}

// findByName returns the id of the oldest non-terminal job with the given
// dedup name, or "" when none exists. Oldest-first makes the winner of a
// concurrent creation race deterministic.
func (r *JobRepository) findByName(ctx context.Context, name string) (string, error) {
	query := `
		SELECT id FROM jobs
		WHERE job_name = $1
		  AND status IN ('pending', 'running')
		ORDER BY created_at ASC, ` + r.caps.JobsPrimaryKey + ` ASC
		LIMIT 1
	`
	var id string
	err := r.db.QueryRow(ctx, query, name).Scan(&id)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to look up job by name")
	}
	return id, nil
}

// SelectDue returns due jobs in dispatch order, capped at limit. Jobs are due
// when pending (or, on a degraded schema, never executed) and scheduled at or
// before now.
func (r *JobRepository) SelectDue(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	eligible := "status = 'pending'"
	if !r.caps.HasJobStatus {
		eligible = "executed_at IS NULL AND completed_at IS NULL"
	}

	query := `
		SELECT id, job_type, ` + r.nameColumn() + `, entity_id, parameters,
		       ` + r.statusColumn() + `, priority, scheduled_at,
		       executed_at, completed_at, result_message,
		       created_at, updated_at
		FROM jobs
		WHERE ` + eligible + `
		  AND scheduled_at <= $1
		ORDER BY priority DESC, scheduled_at ASC, created_at ASC, ` + r.caps.JobsPrimaryKey + ` ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to select due jobs")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Claim atomically flips one job from pending to running. Returns false when
// another dispatcher claimed the job first (no error).
func (r *JobRepository) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	var query string
	if r.caps.HasJobStatus {
		query = `
			UPDATE jobs
			SET status      = 'running',
			    executed_at = $2,
			    updated_at  = NOW()
			WHERE id = $1 AND status = 'pending'
		`
	} else {
		query = `
			UPDATE jobs
			SET executed_at = $2,
			    updated_at  = NOW()
			WHERE id = $1 AND executed_at IS NULL AND completed_at IS NULL
		`
	}

	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to claim job")
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted finalizes a running job as completed.
func (r *JobRepository) MarkCompleted(ctx context.Context, id, message string) error {
	return r.finalize(ctx, id, JobCompleted, message)
}

// MarkFailed finalizes a running job as failed.
func (r *JobRepository) MarkFailed(ctx context.Context, id, message string) error {
	return r.finalize(ctx, id, JobFailed, message)
}

func (r *JobRepository) finalize(ctx context.Context, id string, status JobStatus, message string) error {
	var query string
	var args []any
	if r.caps.HasJobStatus {
		query = `
			UPDATE jobs
			SET status         = $2,
			    completed_at   = NOW(),
			    result_message = $3,
			    updated_at     = NOW()
			WHERE id = $1 AND status = 'running'
			RETURNING id
		`
		args = []any{id, status, message}
	} else {
		query = `
			UPDATE jobs
			SET completed_at   = NOW(),
			    result_message = $2,
			    updated_at     = NOW()
			WHERE id = $1 AND completed_at IS NULL
			RETURNING id
		`
		args = []any{id, message}
	}

	var returnedID string
	err := r.db.QueryRow(ctx, query, args...).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.Conflict("job is not running: " + id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to finalize job")
	}
	return nil
}

// Cancel flips a pending job to cancelled. Returns false (no-op) when the job
// is running or terminal.
func (r *JobRepository) Cancel(ctx context.Context, id string) (bool, error) {
	if !r.caps.HasJobStatus {
		return false, apperr.Conflict("cancellation requires the jobs.status column")
	}

	query := `
		UPDATE jobs
		SET status     = 'cancelled',
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to cancel job")
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID retrieves one job.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*Job, error) {
	query := `
		SELECT id, job_type, ` + r.nameColumn() + `, entity_id, parameters,
		       ` + r.statusColumn() + `, priority, scheduled_at,
		       executed_at, completed_at, result_message,
		       created_at, updated_at
		FROM jobs
		WHERE id = $1
	`
	job, err := r.scanJob(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("job", id)
	}
	return job, err
}

// Stats returns job counts by status.
func (r *JobRepository) Stats(ctx context.Context) (*JobStats, error) {
	if !r.caps.HasJobStatus {
		return nil, apperr.Conflict("statistics require the jobs.status column")
	}

	query := `SELECT status, COUNT(*) FROM jobs GROUP BY status`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to collect job stats")
	}
	defer rows.Close()

	stats := &JobStats{}
	for rows.Next() {
		var status JobStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan job stats")
		}
		switch status {
		case JobPending:
			stats.Pending = count
		case JobRunning:
			stats.Running = count
		case JobCompleted:
			stats.Completed = count
		case JobFailed:
			stats.Failed = count
		case JobCancelled:
			stats.Cancelled = count
		}
	}
	return stats, rows.Err()
}

// DeleteTerminalBefore removes completed/failed/cancelled jobs older than the
// cutoff. Used by the archive maintenance task only.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if !r.caps.HasJobStatus {
		return 0, nil
	}
	query := `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND completed_at < $1
	`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.CodeInternal, "failed to archive jobs")
	}
	return tag.RowsAffected(), nil
}

// ── column fallbacks ─────────────────────────────────────────────────────────

func (r *JobRepository) nameColumn() string {
	if r.caps.HasJobName {
		return "job_name"
	}
	return "NULL AS job_name"
}

func (r *JobRepository) statusColumn() string {
	if r.caps.HasJobStatus {
		return "status"
	}
	// Derive a synthetic status from the timestamp columns.
	return `CASE
		WHEN completed_at IS NOT NULL THEN 'completed'
		WHEN executed_at IS NOT NULL THEN 'running'
		ELSE 'pending'
	END AS status`
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type jobScanner interface {
	Scan(dest ...any) error
}

func (r *JobRepository) scanJob(row jobScanner) (*Job, error) {
	job := &Job{}
	var paramsJSON []byte

	err := row.Scan(
		&job.ID,
		&job.JobType,
		&job.JobName,
		&job.EntityID,
		&paramsJSON,
		&job.Status,
		&job.Priority,
		&job.ScheduledAt,
		&job.ExecutedAt,
		&job.CompletedAt,
		&job.ResultMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &job.Parameters); err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to unmarshal job parameters")
		}
	}
	return job, nil
}

func (r *JobRepository) scanRows(rows pgx.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
