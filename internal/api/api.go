package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tessaro/ordmirror/internal/deltasync"
	"github.com/tessaro/ordmirror/internal/queue"
	"github.com/tessaro/ordmirror/internal/session"
	"github.com/tessaro/ordmirror/internal/storage"
)

const maxEnqueueBodySize = 1 << 20 // 1MB

// SyncEngine is the slice of the sync engine the API drives.
type SyncEngine interface {
	Name() string
	Running() bool
	Run(ctx context.Context) error
	RequestStop()
	Progress() (deltasync.Progress, error)
}

// SessionStats reports pool occupancy for the health endpoint.
type SessionStats interface {
	Stats() session.Stats
}

type AppDeps struct {
	Jobs     *queue.Queue
	Engines  map[string]SyncEngine // keyed by entity type
	Sessions SessionStats
	Token    string
	Logger   *slog.Logger
}

type EnqueueRequest struct {
	OwnerID string          `json:"owner_id"`
	Payload json.RawMessage `json:"payload"`
}

type jobResponse struct {
	ID          string `json:"id"`
	OwnerID     string `json:"owner_id"`
	Payload     string `json:"payload"`
	Status      string `json:"status"`
	ParentJobID string `json:"parent_job_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type progressResponse struct {
	EntityType    string `json:"entity_type"`
	Status        string `json:"status"`
	Cursor        int    `json:"cursor"`
	LastError     string `json:"last_error,omitempty"`
	LastSuccessAt string `json:"last_success_at,omitempty"`
	Processed     int    `json:"processed"`
	Inserted      int    `json:"inserted"`
	Updated       int    `json:"updated"`
	Deleted       int    `json:"deleted"`
	Unchanged     int    `json:"unchanged"`
	PagesSkipped  int    `json:"pages_skipped"`
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(BearerAuth(deps.Token))

	r.Post("/jobs", handleEnqueue(deps))
	r.Get("/jobs", handleListJobs(deps))
	r.Get("/jobs/{id}", handleGetJob(deps))
	r.Post("/jobs/{id}/retry", handleRetryJob(deps))
	r.Get("/sync", handleSyncOverview(deps))
	r.Get("/sync/{entity}", handleSyncProgress(deps))
	r.Post("/sync/{entity}/run", handleSyncRun(deps))
	r.Post("/sync/{entity}/stop", handleSyncStop(deps))
	r.Get("/health", handleHealth(deps))

	return r
}

func handleEnqueue(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxEnqueueBodySize)
		defer r.Body.Close()

		var req EnqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.OwnerID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "owner_id is required")
			return
		}
		if len(req.Payload) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "payload is required")
			return
		}

		job, err := deps.Jobs.Enqueue(req.OwnerID, string(req.Payload))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "enqueue failed: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toJobResponse(job))
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetStatus(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "get job failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(job))
	}
}

func handleListJobs(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if owner := r.URL.Query().Get("owner"); owner != "" {
			jobs, err := deps.Jobs.JobsFor(owner)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "internal_error", "list jobs failed: %v", err)
				return
			}
			writeJSON(w, http.StatusOK, toJobResponses(jobs))
			return
		}

		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}
		status := storage.JobStatus(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}

		jobs, err := deps.Jobs.List(limit, status)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "list jobs failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponses(jobs))
	}
}

func handleRetryJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.Retry(chi.URLParam(r, "id"))
		switch {
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found_error", "job not found")
			return
		case errors.Is(err, queue.ErrNotRetriable):
			httpError(w, http.StatusConflict, "conflict_error", "only failed jobs can be retried")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "internal_error", "retry failed: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, toJobResponse(job))
	}
}

func handleSyncOverview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]progressResponse, 0, len(deps.Engines))
		for _, entity := range deltasync.EntityTypes() {
			eng, ok := deps.Engines[entity]
			if !ok {
				continue
			}
			p, err := eng.Progress()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "internal_error", "progress for %s failed: %v", entity, err)
				return
			}
			out = append(out, toProgressResponse(p))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleSyncProgress(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := deps.Engines[chi.URLParam(r, "entity")]
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown entity type")
			return
		}
		p, err := eng.Progress()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "internal_error", "progress failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toProgressResponse(p))
	}
}

func handleSyncRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := deps.Engines[chi.URLParam(r, "entity")]
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown entity type")
			return
		}
		if eng.Running() {
			httpError(w, http.StatusConflict, "conflict_error", "sync already running for %s", eng.Name())
			return
		}

		// Crawls outlive the request; they answer to the arbiter and
		// the stop endpoint, not to the caller's connection.
		go func() {
			if err := eng.Run(context.Background()); err != nil && !errors.Is(err, deltasync.ErrAlreadyRunning) {
				deps.Logger.Error("manual sync run failed", "entity", eng.Name(), "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"entity_type": eng.Name(), "status": "started"})
	}
}

func handleSyncStop(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eng, ok := deps.Engines[chi.URLParam(r, "entity")]
		if !ok {
			httpError(w, http.StatusNotFound, "not_found_error", "unknown entity type")
			return
		}
		eng.RequestStop()
		writeJSON(w, http.StatusAccepted, map[string]string{"entity_type": eng.Name(), "status": "stop_requested"})
	}
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := deps.Sessions.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"sessions_live":   st.Live,
			"sessions_in_use": st.InUse,
			"time":            time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func toJobResponse(j storage.Job) jobResponse {
	return jobResponse{
		ID:          j.ID,
		OwnerID:     j.OwnerID,
		Payload:     j.PayloadJSON,
		Status:      string(j.Status),
		ParentJobID: j.ParentJobID,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toJobResponses(jobs []storage.Job) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	return out
}

func toProgressResponse(p deltasync.Progress) progressResponse {
	resp := progressResponse{
		EntityType:   p.EntityType,
		Status:       string(p.Status),
		Cursor:       p.Cursor,
		LastError:    p.LastError,
		Processed:    p.Totals.Processed,
		Inserted:     p.Totals.Inserted,
		Updated:      p.Totals.Updated,
		Deleted:      p.Totals.Deleted,
		Unchanged:    p.Totals.Unchanged,
		PagesSkipped: p.Totals.PagesSkipped,
	}
	if !p.LastSuccessAt.IsZero() {
		resp.LastSuccessAt = p.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
