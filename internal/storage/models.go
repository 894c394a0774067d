package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// JobStatus is the lifecycle state of a queued order-submission job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobProcessing, JobSucceeded, JobFailed:
		return true
	}
	return false
}

// ValidJobTransition reports whether a job may move from one status to
// another. Jobs are append-only: a failed job is never mutated again,
// retries create a new job instead.
func ValidJobTransition(from, to JobStatus) bool {
	switch from {
	case JobQueued:
		return to == JobProcessing
	case JobProcessing:
		return to == JobSucceeded || to == JobFailed
	default:
		return false
	}
}

// Job is one request to submit an order through the portal. Jobs are
// never deleted; they form the audit trail of every submission attempt.
type Job struct {
	ID          string
	OwnerID     string
	PayloadJSON string
	Status      JobStatus
	ParentJobID string // set when this job is a retry of a failed one
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SyncStatus is the lifecycle state of one entity type's crawl.
type SyncStatus string

const (
	SyncIdle      SyncStatus = "idle"
	SyncRunning   SyncStatus = "running"
	SyncPaused    SyncStatus = "paused"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// Checkpoint records crawl progress for one entity type. Cursor is the
// last page fully processed; a resumed run starts at Cursor+1.
type Checkpoint struct {
	EntityType    string
	Cursor        int
	Status        SyncStatus
	LastError     string
	LastSuccessAt time.Time
	UpdatedAt     time.Time
}

// DeltaHash is the stored content fingerprint of one mirrored entity.
type DeltaHash struct {
	EntityType   string
	EntityID     string
	Hash         string
	LastSyncedAt time.Time
}
