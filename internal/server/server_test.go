package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/storyfetch/storyfetch/internal/coordinator"
	"github.com/storyfetch/storyfetch/internal/task"
)

type fakeStatus struct {
	snap coordinator.Snapshot
	err  error
}

func (f *fakeStatus) Snapshot(ctx context.Context) (coordinator.Snapshot, error) {
	return f.snap, f.err
}

type fakeSubmitter struct {
	lastURL   string
	lastSite  string
	lastForce bool
	err       error
}

func (f *fakeSubmitter) Submit(ctx context.Context, url, site string, force bool) (*task.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastURL, f.lastSite, f.lastForce = url, site, force
	t := task.New(site, url)
	t.Force = force
	return t, nil
}

type fakeHealth struct {
	err error
}

func (f *fakeHealth) HealthCheck(ctx context.Context) error {
	return f.err
}

func newTestServer(t *testing.T, status *fakeStatus, submit *fakeSubmitter, health HealthChecker) *Server {
	t.Helper()
	s, err := New(Config{Status: status, Submit: submit, Health: health})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Submit: &fakeSubmitter{}}); err == nil {
		t.Error("New() without status provider should fail")
	}
	if _, err := New(Config{Status: &fakeStatus{}}); err == nil {
		t.Error("New() without submitter should fail")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeStatus{}, &fakeSubmitter{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("Status = %q, want ok", resp.Status)
	}
}

func TestReadyReflectsCatalogHealth(t *testing.T) {
	t.Run("catalog reachable", func(t *testing.T) {
		s := newTestServer(t, &fakeStatus{}, &fakeSubmitter{}, &fakeHealth{})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("catalog down", func(t *testing.T) {
		s := newTestServer(t, &fakeStatus{}, &fakeSubmitter{}, &fakeHealth{err: errors.New("connection refused")})

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		var resp HealthResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.Calibre != "unreachable" {
			t.Errorf("Calibre = %q, want unreachable", resp.Calibre)
		}
	})
}

func TestStatusEndpoint(t *testing.T) {
	status := &fakeStatus{snap: coordinator.Snapshot{
		Assignments: map[string]int{"ao3": 0},
		IdleWorkers: []int{1, 2},
		Backlog:     map[string]int{"ffnet": 3},
		QueuedTotal: 3,
	}}
	s := newTestServer(t, status, &fakeSubmitter{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap coordinator.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	if snap.Assignments["ao3"] != 0 || snap.Backlog["ffnet"] != 3 || snap.QueuedTotal != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestEnqueueEndpoint(t *testing.T) {
	t.Run("accepts a URL", func(t *testing.T) {
		submit := &fakeSubmitter{}
		s := newTestServer(t, &fakeStatus{}, submit, nil)

		body := `{"url":"https://archiveofourown.org/works/12345","force":true}`
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(body)))

		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202, body %s", rec.Code, rec.Body)
		}
		if submit.lastURL != "https://archiveofourown.org/works/12345" || !submit.lastForce {
			t.Errorf("submitted = %q force=%v", submit.lastURL, submit.lastForce)
		}
		var resp EnqueueResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.ID == "" {
			t.Error("response missing task id")
		}
	})

	t.Run("rejects empty URL", func(t *testing.T) {
		s := newTestServer(t, &fakeStatus{}, &fakeSubmitter{}, nil)

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(`{}`)))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		s := newTestServer(t, &fakeStatus{}, &fakeSubmitter{}, nil)

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enqueue", strings.NewReader(`{not json`)))

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("surfaces submit failure", func(t *testing.T) {
		s := newTestServer(t, &fakeStatus{}, &fakeSubmitter{err: errors.New("queue closed")}, nil)

		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enqueue",
			strings.NewReader(`{"url":"https://example.com/s/1"}`)))

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeStatus{}, &fakeSubmitter{}, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}
