package barsync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:9090"
	c := NewClient(baseURL + "/")

	if c == nil {
		t.Fatal("expected non-nil client")
	}
	if c.baseURL != baseURL {
		t.Errorf("expected baseURL %q, got %q", baseURL, c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func newFakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") == "1" {
			fmt.Fprint(w, `{"jobs":[{"id":2,"data_type":"day_aggs_v1","status":"in_progress","total_dates":5}]}`)
			return
		}
		fmt.Fprint(w, `{"jobs":[
			{"id":2,"data_type":"day_aggs_v1","status":"in_progress","total_dates":5},
			{"id":1,"data_type":"day_aggs_v1","status":"completed","total_dates":3,"total_records":300}
		]}`)
	})
	mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "1" {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"id":1,"data_type":"day_aggs_v1","status":"completed",
			"dates":[{"date":"2024-03-04","status":"completed","records":100}]}`)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestListJobs(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	jobs, err := c.ListJobs(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != 2 || jobs[1].TotalRecords != 300 {
		t.Errorf("jobs = %+v", jobs)
	}

	limited, err := c.ListJobs(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListJobs(limit=1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit=1 returned %d jobs", len(limited))
	}
}

func TestGetJob(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	detail, err := c.GetJob(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if detail == nil {
		t.Fatal("GetJob returned nil for existing job")
	}
	if detail.Status != "completed" || len(detail.Dates) != 1 || detail.Dates[0].Records != 100 {
		t.Errorf("detail = %+v", detail)
	}

	missing, err := c.GetJob(context.Background(), 42)
	if err != nil {
		t.Fatalf("GetJob (missing): %v", err)
	}
	if missing != nil {
		t.Errorf("missing job = %+v, want nil", missing)
	}
}

func TestHealth(t *testing.T) {
	srv := newFakeAPI(t)
	c := NewClient(srv.URL)

	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}
}
