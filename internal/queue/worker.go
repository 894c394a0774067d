package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Worker is the single processing loop. It claims jobs FIFO and runs
// each one under priority arbitration: crawls pause, the job gets an
// exclusive session, crawls may proceed again afterwards.
type Worker struct {
	store     JobStore
	pool      SessionPool
	submitter OrderSubmitter
	arbiter   Arbiter
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pool SessionPool, submitter OrderSubmitter, arb Arbiter, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     store,
		pool:      pool,
		submitter: submitter,
		arbiter:   arb,
		poll:      pollInterval,
		logger:    logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed (regardless of success/failure); a job failure is recorded
// on the job, not returned, so one bad order never stalls the queue.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job.OwnerID, job.PayloadJSON); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "owner", job.OwnerID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("job succeeded", "job_id", job.ID, "owner", job.OwnerID)
	return true, nil
}

// processJob pauses every crawl, then submits the order on an exclusive
// session. The session is released on every path: kept warm on success,
// torn down on failure since the UI may sit mid-flow.
func (w *Worker) processJob(ctx context.Context, ownerID, payloadJSON string) error {
	return w.arbiter.WithPriority(ctx, func(ctx context.Context) error {
		sess, err := w.pool.Acquire(ctx, ownerID)
		if err != nil {
			return err
		}

		err = w.submitter.SubmitOrder(ctx, sess.ID, payloadJSON)
		w.pool.Release(ownerID, sess, err == nil)
		return err
	})
}
