// Package queue is the durable, single-concurrency queue for order
// submissions. Submitting an order drives the portal UI, so exactly one
// job runs at a time, and every job preempts the background crawls for
// the time it holds a session.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/tessaro/ordmirror/internal/session"
	"github.com/tessaro/ordmirror/internal/storage"
)

// ErrNotRetriable is returned by Retry when the target job has not
// failed. Queued, processing, and succeeded jobs have nothing to retry.
var ErrNotRetriable = errors.New("only failed jobs can be retried")

// JobStore is the durable backing for jobs. *storage.Store satisfies it.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob() (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetJob(id string) (storage.Job, error)
	JobsForOwner(ownerID string) ([]storage.Job, error)
	ListJobs(limit int, status storage.JobStatus) ([]storage.Job, error)
}

// SessionPool hands out exclusive portal sessions.
type SessionPool interface {
	Acquire(ctx context.Context, ownerID string) (*session.Session, error)
	Release(ownerID string, s *session.Session, success bool)
}

// OrderSubmitter performs the actual order-creation flow on a
// checked-out session. *portal.Client satisfies it.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, sessionID, payloadJSON string) error
}

// Arbiter brackets the critical operation with crawl preemption.
type Arbiter interface {
	WithPriority(ctx context.Context, fn func(ctx context.Context) error) error
}

// Queue exposes the durable job operations. The processing side lives
// in Worker.
type Queue struct {
	store JobStore
}

// New creates a Queue over the given store.
func New(store JobStore) *Queue {
	return &Queue{store: store}
}

// Enqueue persists a new queued job and returns it immediately. The
// payload is opaque here; the portal driver interprets it.
func (q *Queue) Enqueue(ownerID, payloadJSON string) (storage.Job, error) {
	job := storage.Job{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		PayloadJSON: payloadJSON,
		Status:      storage.JobQueued,
	}
	if err := q.store.EnqueueJob(job); err != nil {
		return storage.Job{}, err
	}
	return q.store.GetJob(job.ID)
}

// GetStatus returns one job by id.
func (q *Queue) GetStatus(jobID string) (storage.Job, error) {
	return q.store.GetJob(jobID)
}

// JobsFor returns all jobs for one owner, newest first.
func (q *Queue) JobsFor(ownerID string) ([]storage.Job, error) {
	return q.store.JobsForOwner(ownerID)
}

// List returns up to limit jobs, optionally filtered by status.
func (q *Queue) List(limit int, status storage.JobStatus) ([]storage.Job, error) {
	return q.store.ListJobs(limit, status)
}

// Retry enqueues a fresh copy of a failed job, with ParentJobID linking
// back to it. The original record is never touched.
func (q *Queue) Retry(jobID string) (storage.Job, error) {
	orig, err := q.store.GetJob(jobID)
	if err != nil {
		return storage.Job{}, err
	}
	if orig.Status != storage.JobFailed {
		return storage.Job{}, ErrNotRetriable
	}

	child := storage.Job{
		ID:          uuid.New().String(),
		OwnerID:     orig.OwnerID,
		PayloadJSON: orig.PayloadJSON,
		ParentJobID: orig.ID,
	}
	if err := q.store.EnqueueJob(child); err != nil {
		return storage.Job{}, err
	}
	return q.store.GetJob(child.ID)
}
