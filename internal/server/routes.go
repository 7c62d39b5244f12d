package server

import (
	"encoding/json"
	"net/http"
	"strings"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /enqueue", s.handleEnqueue)
	mux.Handle("GET /metrics", metricsHandler())
}

// HealthResponse is the response for health check endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Calibre string `json:"calibre,omitempty"`
}

// EnqueueRequest is the body for POST /enqueue.
type EnqueueRequest struct {
	URL   string `json:"url"`
	Site  string `json:"site,omitempty"`
	Force bool   `json:"force,omitempty"`
}

// EnqueueResponse confirms a queued task.
type EnqueueResponse struct {
	ID   string `json:"id"`
	Site string `json:"site"`
	URL  string `json:"url"`
}

// handleHealth returns basic server health.
// This returns OK if the HTTP server is responding.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady returns readiness status including the calibre catalog.
// This returns OK only if both the server AND the catalog are reachable.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}

	if s.health != nil {
		if err := s.health.HealthCheck(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Calibre = "unreachable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Calibre = "ok"
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStatus returns the coordinator's scheduler snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.status.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleEnqueue accepts a story URL for download.
func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	t, err := s.submit.Submit(r.Context(), req.URL, req.Site, req.Force)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("task accepted via API", "site", t.Site, "url", t.URL, "force", t.Force)
	writeJSON(w, http.StatusAccepted, EnqueueResponse{ID: t.ID, Site: t.Site, URL: t.URL})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
