package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/axonops/showledger/internal/storage"
)

type healthResponse struct {
	Status        string `json:"status"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// handleLive confirms the process is serving requests.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "UP"})
}

// handleHealth returns 200 when storage is reachable and fully migrated, 503
// otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !s.store.IsHealthy(ctx) {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "DOWN", Reason: "storage backend unavailable"})
		return
	}
	v, err := s.store.SchemaVersion(ctx)
	if err != nil {
		s.logger.Warn("failed to read schema version", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "DOWN", Reason: "schema version unavailable"})
		return
	}
	if v < storage.CurrentSchemaVersion {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "DOWN", SchemaVersion: v, Reason: "schema migration pending"})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "UP", SchemaVersion: v})
}

// handleSchemaVersion reports the current and target schema versions with
// any pending migration steps.
func (s *Server) handleSchemaVersion(w http.ResponseWriter, r *http.Request) {
	report, err := s.runner.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to read schema status", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read schema status"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
