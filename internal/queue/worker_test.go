package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tessaro/ordmirror/internal/arbiter"
	"github.com/tessaro/ordmirror/internal/session"
	"github.com/tessaro/ordmirror/internal/storage"
)

type fakePool struct {
	mu       sync.Mutex
	acquires []string
	releases []bool
	acquireErr error
}

func (p *fakePool) Acquire(_ context.Context, ownerID string) (*session.Session, error) {
	p.mu.Lock()
	p.acquires = append(p.acquires, ownerID)
	p.mu.Unlock()
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return &session.Session{ID: "s-" + ownerID, OwnerID: ownerID, Healthy: true}, nil
}

func (p *fakePool) Release(_ string, _ *session.Session, success bool) {
	p.mu.Lock()
	p.releases = append(p.releases, success)
	p.mu.Unlock()
}

type fakeSubmitter struct {
	mu        sync.Mutex
	submitted []string
	submitFn  func(payloadJSON string) error
}

func (s *fakeSubmitter) SubmitOrder(_ context.Context, _ string, payloadJSON string) error {
	s.mu.Lock()
	s.submitted = append(s.submitted, payloadJSON)
	s.mu.Unlock()
	if s.submitFn != nil {
		return s.submitFn(payloadJSON)
	}
	return nil
}

// passArbiter runs fn without any pausing, for tests that don't care
// about preemption.
type passArbiter struct{}

func (passArbiter) WithPriority(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWorkerProcessesJob(t *testing.T) {
	store := openTestStore(t)
	q := New(store)
	pool := &fakePool{}
	sub := &fakeSubmitter{}
	w := NewWorker(store, pool, sub, passArbiter{}, 0, nil)

	job, err := q.Enqueue("u1", `{"customer":"c1"}`)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if job.Status != storage.JobQueued {
		t.Fatalf("enqueued status = %q, want queued", job.Status)
	}

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	got, err := q.GetStatus(job.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != storage.JobSucceeded {
		t.Errorf("status = %q, want succeeded", got.Status)
	}

	if len(sub.submitted) != 1 || sub.submitted[0] != `{"customer":"c1"}` {
		t.Errorf("submitted = %v", sub.submitted)
	}
	if len(pool.releases) != 1 || !pool.releases[0] {
		t.Errorf("releases = %v, want one warm release", pool.releases)
	}
}

func TestWorkerRecordsFailureAndContinues(t *testing.T) {
	store := openTestStore(t)
	q := New(store)
	pool := &fakePool{}
	sub := &fakeSubmitter{submitFn: func(payload string) error {
		if payload == `{"bad":true}` {
			return errors.New("portal rejected the order")
		}
		return nil
	}}
	w := NewWorker(store, pool, sub, passArbiter{}, 0, nil)

	bad, _ := q.Enqueue("u1", `{"bad":true}`)
	good, _ := q.Enqueue("u1", `{"good":true}`)

	for i := 0; i < 2; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
	}

	b, _ := q.GetStatus(bad.ID)
	if b.Status != storage.JobFailed || b.LastError != "portal rejected the order" {
		t.Errorf("bad job = %+v, want failed with message", b)
	}

	// The failure did not halt the queue.
	g, _ := q.GetStatus(good.ID)
	if g.Status != storage.JobSucceeded {
		t.Errorf("good job status = %q, want succeeded", g.Status)
	}

	// Failed submission tears the session down; the good one keeps it warm.
	if len(pool.releases) != 2 || pool.releases[0] || !pool.releases[1] {
		t.Errorf("releases = %v, want [false true]", pool.releases)
	}
}

func TestWorkerFailsJobOnAcquireError(t *testing.T) {
	store := openTestStore(t)
	q := New(store)
	pool := &fakePool{acquireErr: &session.LaunchError{OwnerID: "u1", Err: errors.New("login failed")}}
	w := NewWorker(store, pool, &fakeSubmitter{}, passArbiter{}, 0, nil)

	job, _ := q.Enqueue("u1", `{}`)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, _ := q.GetStatus(job.ID)
	if got.Status != storage.JobFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
}

func TestRetryCreatesChildAndKeepsOriginal(t *testing.T) {
	store := openTestStore(t)
	q := New(store)
	sub := &fakeSubmitter{submitFn: func(string) error { return errors.New("boom") }}
	w := NewWorker(store, &fakePool{}, sub, passArbiter{}, 0, nil)

	job, _ := q.Enqueue("u1", `{"n":1}`)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	orig, _ := q.GetStatus(job.ID)
	if orig.Status != storage.JobFailed {
		t.Fatalf("status = %q, want failed", orig.Status)
	}

	child, err := q.Retry(job.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if child.Status != storage.JobQueued {
		t.Errorf("child status = %q, want queued", child.Status)
	}
	if child.ParentJobID != job.ID {
		t.Errorf("child parent = %q, want %q", child.ParentJobID, job.ID)
	}
	if child.PayloadJSON != orig.PayloadJSON {
		t.Errorf("child payload = %q, want original payload", child.PayloadJSON)
	}

	// The original record is untouched by the retry.
	after, _ := q.GetStatus(job.ID)
	if after != orig {
		t.Errorf("original mutated by retry: %+v vs %+v", after, orig)
	}
}

func TestRetryRequiresFailedJob(t *testing.T) {
	store := openTestStore(t)
	q := New(store)

	job, _ := q.Enqueue("u1", `{}`)
	if _, err := q.Retry(job.ID); !errors.Is(err, ErrNotRetriable) {
		t.Errorf("Retry on queued job = %v, want ErrNotRetriable", err)
	}
	if _, err := q.Retry("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Retry on missing job = %v, want ErrNotFound", err)
	}
}

func TestSecondJobWaitsForFirst(t *testing.T) {
	store := openTestStore(t)
	q := New(store)

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	sub := &fakeSubmitter{submitFn: func(string) error {
		started <- struct{}{}
		<-release
		return nil
	}}
	w := NewWorker(store, &fakePool{}, sub, passArbiter{}, time.Millisecond, nil)

	first, _ := q.Enqueue("u1", `{"n":1}`)
	second, _ := q.Enqueue("u1", `{"n":2}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	<-started

	// While the first job is processing, the second stays queued.
	s, _ := q.GetStatus(second.ID)
	if s.Status != storage.JobQueued {
		t.Errorf("second job status = %q while first processing, want queued", s.Status)
	}
	f, _ := q.GetStatus(first.ID)
	if f.Status != storage.JobProcessing {
		t.Errorf("first job status = %q, want processing", f.Status)
	}

	close(release)
	<-started // second job begins only after the first finished

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s, _ = q.GetStatus(second.ID)
		if s.Status == storage.JobSucceeded {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Status != storage.JobSucceeded {
		t.Fatalf("second job status = %q, want succeeded", s.Status)
	}
}

// pausableSyncer mimics a delta engine: it runs until it sees the stop
// signal, then reports paused and stays paused.
type pausableSyncer struct {
	name    string
	arb     *arbiter.Arbiter
	running atomic.Bool
	paused  atomic.Bool
}

func (p *pausableSyncer) Name() string  { return p.name }
func (p *pausableSyncer) Running() bool { return p.running.Load() }

func (p *pausableSyncer) start() {
	p.running.Store(true)
	go func() {
		for !p.arb.StopRequested() {
			time.Sleep(time.Millisecond)
		}
		p.paused.Store(true)
		p.running.Store(false)
	}()
}

func TestJobPreemptsRunningSync(t *testing.T) {
	store := openTestStore(t)
	q := New(store)
	arb := arbiter.New(arbiter.Config{PauseTimeout: 2 * time.Second, PollInterval: time.Millisecond})

	products := &pausableSyncer{name: "products", arb: arb}
	arb.Register(products)
	products.start()

	var submittedWhilePaused atomic.Bool
	sub := &fakeSubmitter{submitFn: func(string) error {
		submittedWhilePaused.Store(!products.Running() && products.paused.Load())
		return nil
	}}
	w := NewWorker(store, &fakePool{}, sub, arb, 0, nil)

	job, _ := q.Enqueue("u1", `{"customer":"c1"}`)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if !submittedWhilePaused.Load() {
		t.Error("order submitted while products sync still running")
	}

	got, _ := q.GetStatus(job.ID)
	if got.Status != storage.JobSucceeded {
		t.Errorf("job status = %q, want succeeded", got.Status)
	}

	// Resume clears the signal but never restarts the paused sync.
	if arb.StopRequested() {
		t.Error("stop signal still set after job completed")
	}
	if products.Running() {
		t.Error("products sync auto-resumed, want it left paused")
	}
}
