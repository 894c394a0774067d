// Package deltasync implements the checkpointed, hash-deduplicated
// crawl that mirrors one portal entity type into the local store. A run
// walks the entity's list view page by page, upserting only records
// whose content hash changed, and persists its cursor after every page
// so an interrupted crawl resumes with at most one page of rework.
package deltasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tessaro/ordmirror/internal/portal"
	"github.com/tessaro/ordmirror/internal/session"
	"github.com/tessaro/ordmirror/internal/storage"
)

// Store is the durable collaborator holding checkpoints, delta hashes,
// and the mirrored records. *storage.Store satisfies it.
type Store interface {
	GetCheckpoint(entityType string) (storage.Checkpoint, error)
	SaveCheckpoint(cp storage.Checkpoint) error
	GetHash(entityType, entityID string) (string, error)
	SetHash(entityType, entityID, hash string) error
	DeleteHash(entityType, entityID string) error
	KnownIDs(entityType string) ([]string, error)
	UpsertRecord(entityType, entityID, payloadJSON string) error
	SoftDeleteRecord(entityType, entityID string) error
}

// SessionPool hands out exclusive portal sessions.
type SessionPool interface {
	Acquire(ctx context.Context, ownerID string) (*session.Session, error)
	Release(ownerID string, s *session.Session, success bool)
}

// StopSignal is the arbiter's cooperative stop flag, checked only at
// page boundaries.
type StopSignal interface {
	StopRequested() bool
}

// Totals summarizes one run.
type Totals struct {
	Processed    int
	Inserted     int
	Updated      int
	Deleted      int
	Unchanged    int
	PagesSkipped int
}

// Progress is the externally visible state of one entity type's sync.
type Progress struct {
	EntityType    string
	Status        storage.SyncStatus
	Cursor        int
	LastError     string
	LastSuccessAt time.Time
	Totals        Totals
}

// Config tunes an engine instance.
type Config struct {
	// OwnerID is the portal identity crawls run under.
	OwnerID string
	// Freshness is how recent a completed crawl must be for Run to
	// no-op instead of crawling again.
	Freshness time.Duration
	// Logger for crawl activity.
	Logger *slog.Logger
}

// Engine crawls one entity type. Instances are created once per entity
// type and registered with the arbiter; a single instance never runs
// two crawls at once.
type Engine struct {
	entityType string
	ownerID    string
	pool       SessionPool
	driver     portal.Driver
	store      Store
	stop       StopSignal
	freshness  time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	totals  Totals

	stopReq atomic.Bool
}

// New creates an engine for one entity type.
func New(entityType string, pool SessionPool, driver portal.Driver, store Store, stop StopSignal, cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	freshness := cfg.Freshness
	if freshness <= 0 {
		freshness = 15 * time.Minute
	}
	return &Engine{
		entityType: entityType,
		ownerID:    cfg.OwnerID,
		pool:       pool,
		driver:     driver,
		store:      store,
		stop:       stop,
		freshness:  freshness,
		logger:     logger.With("entity", entityType),
	}
}

// Name identifies the engine to the arbiter.
func (e *Engine) Name() string {
	return e.entityType
}

// Running reports whether a crawl is executing right now. The arbiter
// polls this while pausing; false means the checkpoint is persisted and
// the portal session released.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// RequestStop asks a running crawl to stop at its next page boundary.
// The crawl persists a paused checkpoint and exits cleanly; calling
// this on an idle engine does nothing to the next run.
func (e *Engine) RequestStop() {
	e.stopReq.Store(true)
}

// Progress reports the entity type's current sync state.
func (e *Engine) Progress() (Progress, error) {
	cp, err := e.store.GetCheckpoint(e.entityType)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Progress{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := Progress{
		EntityType:    e.entityType,
		Status:        storage.SyncIdle,
		Cursor:        cp.Cursor,
		LastError:     cp.LastError,
		LastSuccessAt: cp.LastSuccessAt,
		Totals:        e.totals,
	}
	if cp.Status != "" {
		p.Status = cp.Status
	}
	if e.running {
		p.Status = storage.SyncRunning
	}
	return p, nil
}

// Run executes one crawl. A stop request (from the arbiter or
// RequestStop) is not an error: the run persists a paused checkpoint
// and returns nil. ErrAlreadyRunning is returned if a crawl for this
// entity type is already executing.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	e.stopReq.Store(false)

	// The running flag is set before this check and the arbiter sets
	// its flag before polling Running, so the two can never both
	// proceed.
	if e.stop.StopRequested() {
		e.setIdle(Totals{})
		e.logger.Info("run skipped, priority operation holds the portal")
		return nil
	}

	totals, err := e.run(ctx)
	e.setIdle(totals)
	return err
}

func (e *Engine) setIdle(totals Totals) {
	e.mu.Lock()
	e.running = false
	if totals != (Totals{}) {
		e.totals = totals
	}
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context) (Totals, error) {
	var totals Totals

	cp, err := e.store.GetCheckpoint(e.entityType)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return totals, &PersistenceError{Op: "checkpoint read", Err: err}
	}

	if cp.Status == storage.SyncCompleted {
		if time.Since(cp.LastSuccessAt) < e.freshness {
			e.logger.Debug("mirror fresh, skipping crawl", "completed_at", cp.LastSuccessAt)
			return totals, nil
		}
		// Stale full mirror: restart from the beginning.
		cp.Cursor = 0
	}

	startCursor := cp.Cursor

	cp.EntityType = e.entityType
	cp.Status = storage.SyncRunning
	cp.LastError = ""
	if err := e.store.SaveCheckpoint(cp); err != nil {
		return totals, &PersistenceError{Op: "checkpoint", Err: err}
	}

	sess, err := e.pool.Acquire(ctx, e.ownerID)
	if err != nil {
		e.failCheckpoint(cp, err)
		return totals, err
	}

	seen := make(map[string]bool)

	page := cp.Cursor + 1
	for {
		fetched, err := e.driver.FetchListPage(ctx, sess.ID, e.entityType, page)
		var extractionErr *portal.ExtractionError
		switch {
		case err == nil:
			if err := e.applyPage(fetched.Records, seen, &totals); err != nil {
				e.pool.Release(e.ownerID, sess, true)
				e.failCheckpoint(cp, err)
				return totals, err
			}
		case errors.As(err, &extractionErr):
			// Malformed page data: skip this page's records, keep the crawl alive.
			e.logger.Warn("page extraction failed, skipping", "page", page, "error", err)
			totals.PagesSkipped++
		default:
			// Driver failure: the session state is suspect, tear it down.
			e.pool.Release(e.ownerID, sess, false)
			e.failCheckpoint(cp, err)
			return totals, fmt.Errorf("fetching %s page %d: %w", e.entityType, page, err)
		}

		cp.Cursor = page
		if err := e.store.SaveCheckpoint(cp); err != nil {
			e.pool.Release(e.ownerID, sess, true)
			perr := &PersistenceError{Op: "checkpoint", Err: err}
			e.failCheckpoint(cp, perr)
			return totals, perr
		}

		if e.stopRequested(ctx) {
			e.pool.Release(e.ownerID, sess, true)
			cp.Status = storage.SyncPaused
			if err := e.store.SaveCheckpoint(cp); err != nil {
				return totals, &PersistenceError{Op: "checkpoint", Err: err}
			}
			e.logger.Info("crawl paused", "cursor", cp.Cursor)
			return totals, nil
		}

		if !fetched.HasNext {
			break
		}
		page++
	}

	e.pool.Release(e.ownerID, sess, true)

	// Deletion sweep only after a crawl whose seen set covered every
	// record: a resumed run starts mid-way through the pages, and a run
	// that skipped malformed pages never saw their records. Either way
	// an absent id is not evidence of upstream deletion.
	switch {
	case startCursor != 0:
		e.logger.Debug("resumed run, deletion sweep skipped")
	case totals.PagesSkipped > 0:
		e.logger.Debug("pages were skipped, deletion sweep skipped", "pages_skipped", totals.PagesSkipped)
	default:
		if err := e.sweepDeleted(seen, &totals); err != nil {
			e.failCheckpoint(cp, err)
			return totals, err
		}
	}

	cp.Status = storage.SyncCompleted
	cp.LastSuccessAt = time.Now().UTC()
	if err := e.store.SaveCheckpoint(cp); err != nil {
		return totals, &PersistenceError{Op: "checkpoint", Err: err}
	}

	e.logger.Info("crawl completed",
		"processed", totals.Processed,
		"inserted", totals.Inserted,
		"updated", totals.Updated,
		"deleted", totals.Deleted,
		"unchanged", totals.Unchanged,
		"pages_skipped", totals.PagesSkipped,
	)
	return totals, nil
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.stop.StopRequested() || e.stopReq.Load() || ctx.Err() != nil
}

// applyPage upserts one page of records, one entity at a time so a
// partial failure names the record that broke.
func (e *Engine) applyPage(records []portal.Record, seen map[string]bool, totals *Totals) error {
	for _, rec := range records {
		seen[rec.ID] = true
		totals.Processed++

		hash := ContentHash(rec)
		stored, err := e.store.GetHash(e.entityType, rec.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if err := e.upsert(rec, hash); err != nil {
				return err
			}
			totals.Inserted++
		case err != nil:
			return &PersistenceError{Op: "hash read for " + rec.ID, Err: err}
		case stored != hash:
			if err := e.upsert(rec, hash); err != nil {
				return err
			}
			totals.Updated++
		default:
			totals.Unchanged++
		}
	}
	return nil
}

func (e *Engine) upsert(rec portal.Record, hash string) error {
	payload, err := json.Marshal(struct {
		ID     string            `json:"id"`
		Fields map[string]string `json:"fields"`
	}{rec.ID, rec.Fields})
	if err != nil {
		return fmt.Errorf("encoding record %s: %w", rec.ID, err)
	}
	if err := e.store.UpsertRecord(e.entityType, rec.ID, string(payload)); err != nil {
		return &PersistenceError{Op: "record " + rec.ID, Err: err}
	}
	if err := e.store.SetHash(e.entityType, rec.ID, hash); err != nil {
		return &PersistenceError{Op: "hash for " + rec.ID, Err: err}
	}
	return nil
}

// sweepDeleted soft-deletes every previously known id missing from this
// full crawl.
func (e *Engine) sweepDeleted(seen map[string]bool, totals *Totals) error {
	known, err := e.store.KnownIDs(e.entityType)
	if err != nil {
		return &PersistenceError{Op: "known ids", Err: err}
	}
	for _, id := range known {
		if seen[id] {
			continue
		}
		if err := e.store.SoftDeleteRecord(e.entityType, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return &PersistenceError{Op: "delete " + id, Err: err}
		}
		if err := e.store.DeleteHash(e.entityType, id); err != nil {
			return &PersistenceError{Op: "hash delete " + id, Err: err}
		}
		totals.Deleted++
		e.logger.Info("record vanished upstream, soft-deleted", "id", id)
	}
	return nil
}

func (e *Engine) failCheckpoint(cp storage.Checkpoint, cause error) {
	cp.Status = storage.SyncFailed
	cp.LastError = cause.Error()
	if err := e.store.SaveCheckpoint(cp); err != nil {
		e.logger.Error("recording failed checkpoint", "error", err)
	}
}
