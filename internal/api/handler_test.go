package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BleedingXiko/GhostStream/internal/config"
	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/hlsserver"
	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/progressbus"
	"github.com/BleedingXiko/GhostStream/internal/store"
	"github.com/BleedingXiko/GhostStream/internal/telemetry"
	"github.com/BleedingXiko/GhostStream/internal/transcode"
)

// testStore satisfies store.Store with an in-memory no-op implementation so
// handler tests don't need a real SQLite file.
type testStore struct{}

func (testStore) RecordCompletion(string) error { return nil }
func (testStore) RecordFailure() error          { return nil }
func (testStore) RecordCancellation() error     { return nil }
func (testStore) Stats() (store.Stats, error)   { return store.Stats{}, nil }
func (testStore) Close() error                  { return nil }

func newTestHandler(t *testing.T) (*Handler, *jobs.Registry) {
	t.Helper()
	reg := jobs.NewRegistry()
	hwReg := hardware.NewRegistry()
	caps := &hardware.Capabilities{Tier: hardware.TierMedium, SoftwareOnly: true}
	sampler := telemetry.New("", false)
	cfg := config.DefaultConfig()
	cfg.TempDirectory = t.TempDir()
	dispatcher := transcode.NewDispatcher(reg, hwReg, caps, sampler, cfg)

	h := NewHandler(reg, dispatcher, caps, sampler, testStore{})
	return h, reg
}

func TestHealthReportsQueuedAndActive(t *testing.T) {
	h, reg := newTestHandler(t)
	reg.Submit(jobs.Request{Source: "http://example/video.mkv", Mode: jobs.ModeStream})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["queued_jobs"].(float64) != 1 {
		t.Fatalf("expected 1 queued job, got %v", body["queued_jobs"])
	}
	if body["current_jobs"].(float64) != 0 {
		t.Fatalf("expected 0 active jobs with the dispatcher not running, got %v", body["current_jobs"])
	}
}

func TestStartTranscodeRejectsInvalidRequest(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/api/transcode/start", strings.NewReader(`{"mode":"stream"}`))
	rec := httptest.NewRecorder()
	h.StartTranscode(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing source, got %d", rec.Code)
	}
}

func TestStartTranscodeThenStatusThenCancel(t *testing.T) {
	h, _ := newTestHandler(t)

	startReq := httptest.NewRequest(http.MethodPost, "/api/transcode/start", strings.NewReader(`{"source":"http://example/v.mkv","mode":"stream"}`))
	startRec := httptest.NewRecorder()
	h.StartTranscode(startRec, startReq)
	if startRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", startRec.Code, startRec.Body.String())
	}
	var job jobs.Job
	json.Unmarshal(startRec.Body.Bytes(), &job)

	statusReq := httptest.NewRequest(http.MethodGet, "/api/transcode/"+job.ID+"/status", nil)
	statusReq.SetPathValue("id", job.ID)
	statusRec := httptest.NewRecorder()
	h.JobStatus(statusRec, statusReq)
	if statusRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", statusRec.Code)
	}

	cancelReq := httptest.NewRequest(http.MethodPost, "/api/transcode/"+job.ID+"/cancel", nil)
	cancelReq.SetPathValue("id", job.ID)
	cancelRec := httptest.NewRecorder()
	h.CancelTranscode(cancelRec, cancelReq)
	if cancelRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", cancelRec.Code)
	}
}

func TestJobStatusUnknownIDReturns404(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/transcode/does-not-exist/status", nil)
	req.SetPathValue("id", "does-not-exist")
	rec := httptest.NewRecorder()
	h.JobStatus(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestNewRouterMountsHealthAndStream(t *testing.T) {
	h, reg := newTestHandler(t)
	hls := hlsserver.NewServer(reg)
	ws := progressbus.NewHandler(progressbus.NewHub())
	mux := NewRouter(h, hls, ws, false, "")

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /api/health to be mounted, got %d", rec.Code)
	}
}
