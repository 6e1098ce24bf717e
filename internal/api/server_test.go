package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/axonops/showledger/internal/config"
	"github.com/axonops/showledger/internal/metrics"
	"github.com/axonops/showledger/internal/migrate"
	"github.com/axonops/showledger/internal/storage"
	"github.com/axonops/showledger/internal/storage/memory"
)

func setupTestServer(t *testing.T, store storage.Storage) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	server, err := NewServer(config.DefaultConfig(), store, metrics.New(), logger)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return server
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w
}

func TestServer_Healthz(t *testing.T) {
	server := setupTestServer(t, memory.NewStore())

	w := get(t, server, "/healthz")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "UP" || resp.SchemaVersion != storage.CurrentSchemaVersion {
		t.Errorf("Unexpected response: %+v", resp)
	}
}

func TestServer_HealthzPendingMigration(t *testing.T) {
	store := memory.NewStore(memory.WithSchemaVersion(storage.SchemaVersionStarScale))
	server := setupTestServer(t, store)

	if w := get(t, server, "/healthz"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 while migration is pending, got %d", w.Code)
	}
	if w := get(t, server, "/health/live"); w.Code != http.StatusOK {
		t.Errorf("Expected liveness 200, got %d", w.Code)
	}

	if _, err := migrate.Run(context.Background(), store, 0); err != nil {
		t.Fatalf("migrate.Run: %v", err)
	}
	if w := get(t, server, "/health/ready"); w.Code != http.StatusOK {
		t.Errorf("Expected status 200 after migration, got %d", w.Code)
	}
}

func TestServer_SchemaVersion(t *testing.T) {
	server := setupTestServer(t, memory.NewStore(memory.WithSchemaVersion(storage.SchemaVersionStarScale)))

	w := get(t, server, "/v1/schema-version")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var report migrate.Report
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if report.Current != 1 || report.Target != 2 || len(report.Pending) != 1 {
		t.Errorf("Unexpected report: %+v", report)
	}
}

func TestServer_SchemaVersionCurrent(t *testing.T) {
	server := setupTestServer(t, memory.NewStore())

	w := get(t, server, "/v1/schema-version")
	if !strings.Contains(w.Body.String(), `"pending":[]`) {
		t.Errorf("Expected empty pending list, got %s", w.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	server := setupTestServer(t, memory.NewStore())
	get(t, server, "/healthz")

	w := get(t, server, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "showledger_http_requests_total") {
		t.Error("Expected request metrics in output")
	}
	if !strings.Contains(body, `path="/healthz"`) {
		t.Error("Expected /healthz route label")
	}
}

func TestServer_NotFound(t *testing.T) {
	server := setupTestServer(t, memory.NewStore())
	if w := get(t, server, "/v1/shows"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_Address(t *testing.T) {
	server := setupTestServer(t, memory.NewStore())
	if got := server.Address(); got != "http://0.0.0.0:9090" {
		t.Errorf("Address() = %q", got)
	}
}
