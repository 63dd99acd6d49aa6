package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barsync/internal/store"
)

// StatusBackend is the slice of the store the status server needs.
type StatusBackend interface {
	store.StatusStore
	Ping(ctx context.Context) error
}

// StatusServer serves the read-only ingestion status API.
type StatusServer struct {
	store StatusBackend
	log   *slog.Logger
}

// NewStatusServer creates a StatusServer backed by the given store.
func NewStatusServer(s StatusBackend) *StatusServer {
	return &StatusServer{
		store: s,
		log:   slog.Default().With("component", "httpapi"),
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *StatusServer) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), limit)
	if err != nil {
		s.log.Error("listing jobs", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := JobsResponse{Jobs: make([]JobJSON, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, convertJob(j))
	}
	writeJSON(w, resp)
}

func (s *StatusServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}

	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.log.Error("loading job", "job", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	progress, err := s.store.ListDateProgress(r.Context(), id)
	if err != nil {
		s.log.Error("loading date progress", "job", id, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := JobDetailResponse{
		JobJSON: convertJob(*job),
		Dates:   make([]DateProgressJSON, 0, len(progress)),
	}
	for _, p := range progress {
		resp.Dates = append(resp.Dates, convertDateProgress(p))
	}
	writeJSON(w, resp)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.log.Error("health check", "error", err)
		http.Error(w, "store unreachable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writing JSON response", "error", err)
	}
}
