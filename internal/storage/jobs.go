package storage

import (
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, owner_id, payload_json, status, parent_job_id, last_error, created_at, updated_at`

// EnqueueJob persists a new job in queued state. The table's rowid is
// the enqueue sequence; claim and list ordering rely on it rather than
// on created_at, whose resolution cannot break ties between quick
// successive enqueues.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := now
	if !job.CreatedAt.IsZero() {
		createdAt = job.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, owner_id, payload_json, status, parent_job_id, last_error, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, '', ?, ?)`,
		job.ID, job.OwnerID, job.PayloadJSON, job.ParentJobID, createdAt, now,
	)
	return err
}

// ClaimNextJob atomically takes the earliest-enqueued queued job and
// marks it processing. Returns (nil, nil) when the queue is empty.
func (s *Store) ClaimNextJob() (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	row := tx.QueryRow(`SELECT ` + jobColumns + ` FROM jobs
		WHERE status = 'queued'
		ORDER BY rowid ASC
		LIMIT 1`)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'queued'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = JobProcessing
	return &j, nil
}

// CompleteJob marks a processing job succeeded.
func (s *Store) CompleteJob(id string) error {
	return s.finishJob(id, JobSucceeded, "")
}

// FailJob marks a processing job failed with the captured error message.
// The record is immutable afterwards; retries create a child job.
func (s *Store) FailJob(id string, errMsg string) error {
	return s.finishJob(id, JobFailed, errMsg)
}

func (s *Store) finishJob(id string, to JobStatus, errMsg string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning finish transaction: %w", err)
	}

	var current string
	err = tx.QueryRow(`SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return ErrNotFound
	}
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("reading job status: %w", err)
	}
	if !ValidJobTransition(JobStatus(current), to) {
		tx.Rollback()
		return ErrNotFound
	}

	if _, err := tx.Exec(`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(to), errMsg, now, id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetJob returns one job by id.
func (s *Store) GetJob(id string) (Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return j, nil
}

// JobsForOwner returns all jobs for one owner, newest first.
func (s *Store) JobsForOwner(ownerID string) ([]Job, error) {
	rows, err := s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE owner_id = ? ORDER BY rowid DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ListJobs returns up to limit jobs, newest first, optionally filtered
// by status ("" means all).
func (s *Store) ListJobs(limit int, status JobStatus) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs ORDER BY rowid DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY rowid DESC LIMIT ?`, string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (Job, error) {
	var j Job
	var status, createdAt, updatedAt string
	if err := r.Scan(&j.ID, &j.OwnerID, &j.PayloadJSON, &status, &j.ParentJobID, &j.LastError, &createdAt, &updatedAt); err != nil {
		return Job{}, err
	}
	j.Status = JobStatus(status)
	var err error
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Job{}, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Job{}, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return j, nil
}

func collectJobs(rows *sql.Rows) ([]Job, error) {
	defer rows.Close()

	var results []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, j)
	}
	return results, rows.Err()
}
