package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openxui/panelsync/internal/importer"
	"github.com/openxui/panelsync/internal/models"
)

// JobStore persists import jobs and their logs. It doubles as the
// work queue: Claim atomically hands one queued job to a worker.
type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

// Enqueue creates a queued job and returns it.
func (s *JobStore) Enqueue(ctx context.Context, tenantID, userID int64, kind models.JobKind) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job,
		`INSERT INTO jobs (tenant_id, user_id, kind, status, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING *`,
		tenantID, userID, kind, models.JobQueued)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return &job, nil
}

// Claim picks the oldest queued job, marks it running and returns it.
// SKIP LOCKED lets multiple workers poll without stepping on each
// other. Returns nil when the queue is empty.
func (s *JobStore) Claim(ctx context.Context) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job,
		`UPDATE jobs
		 SET status = $1, started_at = NOW(), finished_at = NULL, error = NULL,
		     progress = 0, eta_sec = NULL,
		     inserted = 0, updated = 0, ignored = 0, errors = 0
		 WHERE id = (
		   SELECT id FROM jobs
		   WHERE status = $2
		   ORDER BY id
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING *`,
		models.JobRunning, models.JobQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// ResetStale fails running jobs whose worker died, so they stop
// showing as in-flight forever. Returns how many were swept.
func (s *JobStore) ResetStale(ctx context.Context, window time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, finished_at = NOW(), eta_sec = NULL,
		     error = 'job abandoned: worker stopped while the job was running'
		 WHERE status = $2 AND started_at < NOW() - $3::interval`,
		models.JobFailed, models.JobRunning, fmt.Sprintf("%f seconds", window.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// UpdateProgress persists progress, ETA and the live counters.
func (s *JobStore) UpdateProgress(ctx context.Context, jobID int64, progress float64, etaSec *float64, c importer.Counters) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET progress = $1, eta_sec = $2,
		     inserted = $3, updated = $4, ignored = $5, errors = $6
		 WHERE id = $7`,
		progress, etaSec, c.Inserted, c.Updated, c.Ignored, c.Errors, jobID)
	return err
}

// Finish marks a job finished with its final counters.
func (s *JobStore) Finish(ctx context.Context, jobID int64, c importer.Counters) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, progress = 1, eta_sec = NULL, finished_at = NOW(),
		     inserted = $2, updated = $3, ignored = $4, errors = $5
		 WHERE id = $6`,
		models.JobFinished, c.Inserted, c.Updated, c.Ignored, c.Errors, jobID)
	return err
}

// Fail marks a job failed, keeping the counters gathered so far.
func (s *JobStore) Fail(ctx context.Context, jobID int64, c importer.Counters, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs
		 SET status = $1, eta_sec = NULL, finished_at = NOW(), error = $2,
		     inserted = $3, updated = $4, ignored = $5, errors = $6
		 WHERE id = $7`,
		models.JobFailed, message, c.Inserted, c.Updated, c.Ignored, c.Errors, jobID)
	return err
}

// SetSourceTag records the majority provenance tag of a finished run.
func (s *JobStore) SetSourceTag(ctx context.Context, jobID int64, tag string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET source_tag = $1 WHERE id = $2`, tag, jobID)
	return err
}

// Get fetches one job scoped to a tenant.
func (s *JobStore) Get(ctx context.Context, tenantID, jobID int64) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job,
		`SELECT * FROM jobs WHERE id = $1 AND tenant_id = $2`, jobID, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// List returns a tenant's jobs, newest first.
func (s *JobStore) List(ctx context.Context, tenantID int64, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	jobs := []models.Job{}
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT * FROM jobs WHERE tenant_id = $1 ORDER BY id DESC LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListByKind returns a tenant's jobs of one import kind, newest first.
func (s *JobStore) ListByKind(ctx context.Context, tenantID int64, kind models.JobKind, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	jobs := []models.Job{}
	err := s.db.SelectContext(ctx, &jobs,
		`SELECT * FROM jobs WHERE tenant_id = $1 AND kind = $2 ORDER BY id DESC LIMIT $3`,
		tenantID, kind, limit)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// AppendLogs persists a batch of job log entries.
func (s *JobStore) AppendLogs(ctx context.Context, logs []models.JobLog) error {
	if len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO job_logs (job_id, kind, payload, created_at) VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range logs {
		if _, err := stmt.ExecContext(ctx, l.JobID, l.Kind, []byte(l.Payload), l.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListLogs returns log entries after a cursor id, oldest first, so
// clients can tail a running job.
func (s *JobStore) ListLogs(ctx context.Context, jobID, afterID int64, limit int) ([]models.JobLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	logs := []models.JobLog{}
	err := s.db.SelectContext(ctx, &logs,
		`SELECT * FROM job_logs WHERE job_id = $1 AND id > $2 ORDER BY id LIMIT $3`,
		jobID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// Interface check: JobStore is the importer's tracker.
var _ importer.Tracker = (*JobStore)(nil)
