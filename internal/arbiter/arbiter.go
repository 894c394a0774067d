// Package arbiter coordinates the one critical portal operation against
// the long-running background crawls. A critical caller asks every crawl
// to pause at its next page boundary, holds the portal to itself, then
// lets the crawls proceed again.
package arbiter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPauseTimeout is returned when a registered syncer does not reach a
// safe point within the bounded wait.
var ErrPauseTimeout = errors.New("timed out waiting for syncs to pause")

// Pausable is one background crawl the arbiter can ask to stop. The
// implementation must observe StopRequested at its page boundaries and
// report Running=false once it has persisted its checkpoint.
type Pausable interface {
	Name() string
	Running() bool
}

// Config tunes the arbiter.
type Config struct {
	// PauseTimeout bounds how long Pause waits for every syncer to
	// acknowledge. One policy for all call sites.
	PauseTimeout time.Duration
	// PollInterval is how often Pause re-checks the syncers.
	PollInterval time.Duration
	// Logger for arbitration events.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PauseTimeout: 30 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

// Arbiter is the global priority lock between the critical operation
// and the background sync engines.
//
// Concurrent Pause callers serialize: the second caller blocks until
// the first calls Resume, so critical operations queue instead of
// failing.
type Arbiter struct {
	cfg    Config
	logger *slog.Logger

	hold sync.Mutex // held from a successful Pause until Resume
	stop atomic.Bool

	mu      sync.Mutex
	syncers []Pausable
}

// New creates an Arbiter.
func New(cfg Config) *Arbiter {
	def := DefaultConfig()
	if cfg.PauseTimeout <= 0 {
		cfg.PauseTimeout = def.PauseTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Arbiter{cfg: cfg, logger: cfg.Logger}
}

// Register adds a syncer to the set Pause waits on. Engines register
// once at construction.
func (a *Arbiter) Register(p Pausable) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncers = append(a.syncers, p)
}

// StopRequested reports whether a critical operation wants the portal.
// Sync engines check this at every page boundary, and before starting
// a run.
func (a *Arbiter) StopRequested() bool {
	return a.stop.Load()
}

// Pause sets the cooperative stop signal and blocks until every
// registered syncer has reached a safe point, or until the bounded wait
// elapses. On timeout the signal is cleared and ErrPauseTimeout
// returned; the caller holds nothing.
func (a *Arbiter) Pause(ctx context.Context) error {
	a.hold.Lock()
	a.stop.Store(true)
	a.logger.Debug("pause requested")

	deadline := time.Now().Add(a.cfg.PauseTimeout)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if a.allQuiet() {
			a.logger.Debug("all syncs paused")
			return nil
		}
		if time.Now().After(deadline) {
			a.abort()
			return ErrPauseTimeout
		}
		select {
		case <-ctx.Done():
			a.abort()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Arbiter) abort() {
	a.stop.Store(false)
	a.hold.Unlock()
}

func (a *Arbiter) allQuiet() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.syncers {
		if s.Running() {
			return false
		}
	}
	return true
}

// Resume clears the stop signal and releases the hold. It never
// restarts a paused sync; a paused entity type stays paused until its
// next scheduled or manual trigger.
func (a *Arbiter) Resume() {
	a.stop.Store(false)
	a.hold.Unlock()
	a.logger.Debug("resumed")
}

// WithPriority runs fn with the stop signal held, releasing it on every
// exit path.
func (a *Arbiter) WithPriority(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := a.Pause(ctx); err != nil {
		return err
	}
	defer a.Resume()
	return fn(ctx)
}
