// Package session manages the pool of exclusive browser-automation
// sessions. Each portal identity gets at most one live session, and at
// most one caller may use that session at a time; a warm session skips
// the portal login flow on the next checkout.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tessaro/ordmirror/internal/portal"
)

// LaunchError reports that a session could not be started or
// authenticated. Safe to retry later; callers must not retry the same
// owner concurrently.
type LaunchError struct {
	OwnerID string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching session for %s: %v", e.OwnerID, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// CredentialSource resolves portal credentials per identity.
type CredentialSource interface {
	CredentialsFor(ownerID string) (portal.Credentials, error)
}

// StaticCredentials is a CredentialSource backed by a fixed map.
type StaticCredentials map[string]portal.Credentials

func (s StaticCredentials) CredentialsFor(ownerID string) (portal.Credentials, error) {
	creds, ok := s[ownerID]
	if !ok {
		return portal.Credentials{}, fmt.Errorf("no credentials for owner %s", ownerID)
	}
	return creds, nil
}

// Session is an exclusive handle on one logged-in portal UI.
type Session struct {
	ID      string
	OwnerID string

	CreatedAt    time.Time
	LastActiveAt time.Time
	Healthy      bool

	inUse     bool
	launching bool
	released  chan struct{} // closed on every release or teardown
}

// Config tunes the pool.
type Config struct {
	// Capacity bounds the number of live sessions across all owners.
	Capacity int64
	// IdleTTL is how long an unused warm session survives before the
	// reaper destroys it.
	IdleTTL time.Duration
	// ReapInterval is how often the reaper scans for idle sessions.
	ReapInterval time.Duration
	// Logger for pool activity.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:     4,
		IdleTTL:      10 * time.Minute,
		ReapInterval: time.Minute,
	}
}

// Pool hands out exclusive per-owner sessions with a global capacity
// bound and an idle reaper.
type Pool struct {
	driver   portal.Driver
	creds    CredentialSource
	capacity *semaphore.Weighted
	idleTTL  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session

	reapCtx    context.Context
	reapCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewPool creates a pool and starts its reaper.
func NewPool(driver portal.Driver, creds CredentialSource, cfg Config) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultConfig().IdleTTL
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultConfig().ReapInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		driver:     driver,
		creds:      creds,
		capacity:   semaphore.NewWeighted(cfg.Capacity),
		idleTTL:    cfg.IdleTTL,
		logger:     cfg.Logger,
		sessions:   make(map[string]*Session),
		reapCtx:    ctx,
		reapCancel: cancel,
	}

	p.wg.Add(1)
	go p.reapLoop(cfg.ReapInterval)

	return p
}

// Acquire checks out the session for ownerID, launching one if none is
// cached. It blocks while the owner's session is in use by another
// caller, and while the pool is at capacity, until ctx is done.
func (p *Pool) Acquire(ctx context.Context, ownerID string) (*Session, error) {
	for {
		p.mu.Lock()
		s, ok := p.sessions[ownerID]
		if !ok {
			// Reserve the owner slot before the slow launch so a
			// concurrent Acquire for the same owner waits instead of
			// launching a duplicate session.
			s = &Session{
				OwnerID:   ownerID,
				inUse:     true,
				launching: true,
				released:  make(chan struct{}),
			}
			p.sessions[ownerID] = s
			p.mu.Unlock()
			return p.launch(ctx, s)
		}
		if !s.inUse {
			s.inUse = true
			s.LastActiveAt = time.Now()
			p.mu.Unlock()
			return s, nil
		}
		ch := s.released
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}

func (p *Pool) launch(ctx context.Context, s *Session) (*Session, error) {
	fail := func(err error) (*Session, error) {
		p.mu.Lock()
		delete(p.sessions, s.OwnerID)
		close(s.released)
		p.mu.Unlock()
		return nil, &LaunchError{OwnerID: s.OwnerID, Err: err}
	}

	if err := p.capacity.Acquire(ctx, 1); err != nil {
		return fail(err)
	}

	creds, err := p.creds.CredentialsFor(s.OwnerID)
	if err != nil {
		p.capacity.Release(1)
		return fail(err)
	}

	id, err := p.driver.Launch(ctx, creds)
	if err != nil {
		p.capacity.Release(1)
		return fail(err)
	}

	now := time.Now()
	p.mu.Lock()
	s.ID = id
	s.CreatedAt = now
	s.LastActiveAt = now
	s.Healthy = true
	s.launching = false
	p.mu.Unlock()

	p.logger.Info("session launched", "owner", s.OwnerID, "session", id)
	return s, nil
}

// Release checks a session back in. With success=false the session's
// state may be corrupted by the failed operation, so it is torn down
// unconditionally; with success=true it stays warm for the next caller.
func (p *Pool) Release(ownerID string, s *Session, success bool) {
	p.mu.Lock()
	cached, ok := p.sessions[ownerID]
	if !ok || cached != s {
		p.mu.Unlock()
		return
	}

	if success {
		s.inUse = false
		s.LastActiveAt = time.Now()
		close(s.released)
		s.released = make(chan struct{})
		p.mu.Unlock()
		return
	}

	s.Healthy = false
	delete(p.sessions, ownerID)
	close(s.released)
	p.mu.Unlock()

	p.destroy(s, "release failure")
}

// destroy closes the driver session and returns its capacity unit.
func (p *Pool) destroy(s *Session, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.driver.Close(ctx, s.ID); err != nil {
		p.logger.Warn("closing session", "owner", s.OwnerID, "session", s.ID, "error", err)
	}
	p.capacity.Release(1)
	p.logger.Info("session destroyed", "owner", s.OwnerID, "session", s.ID, "reason", reason)
}

// reapLoop periodically destroys sessions idle beyond the TTL.
func (p *Pool) reapLoop(interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.reapCtx.Done():
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	now := time.Now()

	p.mu.Lock()
	var expired []*Session
	for owner, s := range p.sessions {
		if s.inUse || s.launching {
			continue
		}
		if now.Sub(s.LastActiveAt) < p.idleTTL {
			continue
		}
		delete(p.sessions, owner)
		close(s.released)
		expired = append(expired, s)
	}
	p.mu.Unlock()

	for _, s := range expired {
		p.destroy(s, "idle ttl")
	}
}

// Stats describes the pool's current occupancy.
type Stats struct {
	Live  int
	InUse int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Live: len(p.sessions)}
	for _, s := range p.sessions {
		if s.inUse {
			st.InUse++
		}
	}
	return st
}

// Close stops the reaper and destroys every cached session that is not
// in use. Sessions still checked out are left to their holders.
func (p *Pool) Close() {
	p.reapCancel()
	p.wg.Wait()

	p.mu.Lock()
	var toDestroy []*Session
	for owner, s := range p.sessions {
		if s.inUse {
			continue
		}
		delete(p.sessions, owner)
		close(s.released)
		toDestroy = append(toDestroy, s)
	}
	p.mu.Unlock()

	for _, s := range toDestroy {
		p.destroy(s, "pool shutdown")
	}
}
