package models

import "time"

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobQueued   JobStatus = "queued"
	JobRunning  JobStatus = "running"
	JobFinished JobStatus = "finished"
	JobFailed   JobStatus = "failed"
)

// JobKind selects which catalog an import job synchronizes.
type JobKind string

const (
	JobKindMovies JobKind = "movies"
	JobKindSeries JobKind = "series"
)

// Job is a single catalog import run for one tenant panel user.
type Job struct {
	ID        int64     `json:"id" db:"id"`
	TenantID  int64     `json:"tenant_id" db:"tenant_id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Kind      JobKind   `json:"kind" db:"kind"`
	Status    JobStatus `json:"status" db:"status"`
	SourceTag *string   `json:"source_tag,omitempty" db:"source_tag"`

	Progress *float64 `json:"progress,omitempty" db:"progress"`
	EtaSec   *float64 `json:"eta_sec,omitempty" db:"eta_sec"`

	Inserted *int `json:"inserted,omitempty" db:"inserted"`
	Updated  *int `json:"updated,omitempty" db:"updated"`
	Ignored  *int `json:"ignored,omitempty" db:"ignored"`
	Errors   *int `json:"errors,omitempty" db:"errors"`

	Error *string `json:"error,omitempty" db:"error"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
}

// DurationSec returns the wall-clock duration of a finished job.
func (j *Job) DurationSec() *float64 {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return nil
	}
	d := j.FinishedAt.Sub(*j.StartedAt).Seconds()
	return &d
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobFinished || j.Status == JobFailed
}

// User is a panel operator account.
type User struct {
	ID           int64     `json:"id" db:"id"`
	TenantID     int64     `json:"tenant_id" db:"tenant_id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Tenant is one reseller panel instance.
type Tenant struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
