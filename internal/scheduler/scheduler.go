// Package scheduler triggers unattended sync runs on a cron schedule.
// Scheduled runs get the bounded retry policy; a run that still fails
// after the last attempt raises the persistent-failure hook so an
// operator hears about it, instead of silent retries forever.
package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/tessaro/ordmirror/internal/deltasync"
)

// EngineRunner is one sync engine as the scheduler sees it.
type EngineRunner interface {
	Name() string
	Run(ctx context.Context) error
}

// Config tunes the scheduler.
type Config struct {
	// Spec is the cron expression every entity type runs on.
	Spec string
	// Retry is applied around each unattended run.
	Retry deltasync.RetryPolicy
	// OnPersistentFailure is called after retries are exhausted.
	// Optional; failures are always logged.
	OnPersistentFailure func(entityType string, err error)
	// Logger for scheduling activity.
	Logger *slog.Logger
}

// Scheduler owns the cron loop over every registered engine.
type Scheduler struct {
	cron   *cron.Cron
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Scheduler. Engines are added with Add, then Start
// begins the cron loop.
func New(cfg Config) *Scheduler {
	if cfg.Spec == "" {
		cfg.Spec = "@every 1h"
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = deltasync.DefaultRetryPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(),
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers an engine on the configured schedule.
func (s *Scheduler) Add(engine EngineRunner) error {
	_, err := s.cron.AddFunc(s.cfg.Spec, s.jobFor(engine))
	return err
}

// jobFor wraps one engine run in the unattended retry policy.
func (s *Scheduler) jobFor(engine EngineRunner) func() {
	return func() {
		err := s.cfg.Retry.Run(s.ctx, s.logger, engine.Name()+" sync", func(ctx context.Context) error {
			err := engine.Run(ctx)
			if errors.Is(err, deltasync.ErrAlreadyRunning) {
				// A manual run is in flight; this tick has nothing to do.
				s.logger.Debug("sync already running, tick skipped", "entity", engine.Name())
				return nil
			}
			return err
		})
		if err == nil {
			return
		}

		s.logger.Error("sync persistently failing, giving up until next schedule",
			"entity", engine.Name(), "error", err)
		if s.cfg.OnPersistentFailure != nil {
			s.cfg.OnPersistentFailure(engine.Name(), err)
		}
	}
}

// Start begins the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "spec", s.cfg.Spec)
}

// Stop halts scheduling and cancels any in-flight scheduled run. Runs
// observe the cancellation at their next page boundary and pause.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
