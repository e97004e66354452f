package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusFiring  JobStatus = "firing"
	JobStatusFailed  JobStatus = "failed"
)

// JobRecord is the durable representation of a deferred post. Completed jobs
// are deleted, so a stored record is always pending, firing or failed.
type JobRecord struct {
	ID uuid.UUID

	Text   string
	FireAt time.Time // always UTC
	Post   Post

	Posted    bool
	Status    JobStatus
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDue reports whether the job's fire time has been reached. Both sides are
// compared in UTC.
func (j JobRecord) IsDue(now time.Time) bool {
	return !j.FireAt.UTC().After(now.UTC())
}

// Timer is a durable timer registration keyed by job id.
type Timer struct {
	JobID  uuid.UUID
	FireAt time.Time // always UTC
}
