package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tessaro/ordmirror/internal/config"
	"github.com/tessaro/ordmirror/internal/deltasync"
	"github.com/tessaro/ordmirror/internal/storage"
)

func testDaemonConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 7400, APIToken: "tok"},
		Driver: config.DriverConfig{BaseURL: "http://localhost:9515"},
		Sessions: config.SessionConfig{
			Capacity:     2,
			IdleTTL:      time.Minute,
			ReapInterval: time.Minute,
		},
		Sync: config.SyncConfig{
			OwnerID:      "acct-1",
			Freshness:    15 * time.Minute,
			Schedule:     "@every 1h",
			PauseTimeout: 30 * time.Second,
			Credentials:  map[string]config.Login{"acct-1": {Username: "u", Password: "p"}},
		},
		Queue: config.QueueConfig{PollInterval: 500 * time.Millisecond},
	}
}

func TestBuildDaemonWiring(t *testing.T) {
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := buildDaemon(testDaemonConfig(), store, logger)
	if err != nil {
		t.Fatalf("buildDaemon failed: %v", err)
	}
	t.Cleanup(func() {
		d.sched.Stop()
		d.pool.Close()
	})

	for _, entity := range deltasync.EntityTypes() {
		if _, ok := d.engines[entity]; !ok {
			t.Errorf("no engine wired for %s", entity)
		}
	}
	if n := len(d.engines); n != len(deltasync.EntityTypes()) {
		t.Errorf("wired %d engines, want %d", n, len(deltasync.EntityTypes()))
	}

	if st := d.pool.Stats(); st.Live != 0 || st.InUse != 0 {
		t.Errorf("fresh pool stats = %+v, want empty", st)
	}

	// The handler is live and honors the configured token.
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer tok")
	d.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d; body = %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	d.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated health status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}
}
