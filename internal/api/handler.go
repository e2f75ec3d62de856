// Package api implements the REST surface of §6: health, capabilities,
// stats, status, and transcode job lifecycle endpoints. Handlers are thin
// and delegate to the registry, dispatcher, hardware, and store packages
// they're constructed with rather than owning any state themselves.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/BleedingXiko/GhostStream/internal/admission"
	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/logger"
	"github.com/BleedingXiko/GhostStream/internal/store"
	"github.com/BleedingXiko/GhostStream/internal/telemetry"
	"github.com/BleedingXiko/GhostStream/internal/transcode"
)

// Version is the build version reported at /api/health, overridable at
// link time via -ldflags.
var Version = "dev"

// Handler provides the HTTP handlers for the transcode job surface.
type Handler struct {
	registry   *jobs.Registry
	dispatcher *transcode.Dispatcher
	caps       *hardware.Capabilities
	sampler    *telemetry.Sampler
	store      store.Store
	startedAt  time.Time
}

// NewHandler wires a Handler to its owning components.
func NewHandler(registry *jobs.Registry, dispatcher *transcode.Dispatcher, caps *hardware.Capabilities, sampler *telemetry.Sampler, st store.Store) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		caps:       caps,
		sampler:    sampler,
		store:      st,
		startedAt:  time.Now(),
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errorBody is the §7 error envelope: a stable error.code string from the
// taxonomy plus a human error.message.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// errorCode maps a registry/store error to its §7 taxonomy code. Falls back
// to "internal" for anything the taxonomy doesn't name.
func errorCode(err error) string {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return "not_found"
	case errors.Is(err, jobs.ErrValidation):
		return "validation"
	case errors.Is(err, jobs.ErrJobNotTerminal), errors.Is(err, jobs.ErrJobNotQueued):
		return "conflict"
	default:
		return "internal"
	}
}

// Health handles GET /api/health (§6, supplemented per §2.3 with the
// original's 0/1/2 exit-code semantics mirrored into the status field).
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	counts := h.registry.CountByStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        Version,
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
		"current_jobs":   h.dispatcher.ActiveJobs(),
		"queued_jobs":    counts[jobs.StatusQueued],
	})
}

// Capabilities handles GET /api/capabilities.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.caps)
}

// Stats handles GET /api/stats: lifetime counters from the aggregate store
// plus the registry's live in-memory counts.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lifetime": stats,
		"live":     h.registry.CountByStatus(),
	})
}

// Status handles GET /api/status: the composite {hardware, realtime, jobs}
// payload.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sample := h.sampler.Latest()
	decision := admission.Decide(h.caps, sample, h.dispatcher.ActiveJobs(), 0)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hardware":  h.caps,
		"realtime":  sample,
		"admission": decision,
		"jobs":      h.registry.CountByStatus(),
	})
}

// StartTranscode handles POST /api/transcode/start.
func (h *Handler) StartTranscode(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	job, err := h.registry.Submit(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorCode(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// JobStatus handles GET /api/transcode/{id}/status.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, errorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelTranscode handles POST /api/transcode/{id}/cancel.
func (h *Handler) CancelTranscode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.registry.Get(id); err != nil {
		writeError(w, http.StatusNotFound, errorCode(err), err.Error())
		return
	}
	if err := h.registry.Cancel(id); err != nil {
		writeError(w, http.StatusConflict, errorCode(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "job_id": id})
}

// DeleteTranscode handles DELETE /api/transcode/{id}: tears down the working
// directory and evicts the job's record. Deleting an active job implicitly
// cancels it first (§5) and waits up to 8s (longer than the supervisor's 5s
// graceful-stop window before its forced kill) for the worker to reach a
// terminal state before giving up.
func (h *Handler) DeleteTranscode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.registry.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, errorCode(err), err.Error())
		return
	}

	if !job.Status.IsTerminal() {
		if err := h.registry.Cancel(id); err != nil {
			writeError(w, http.StatusNotFound, errorCode(err), err.Error())
			return
		}
		job, err = h.awaitTerminal(id)
		if err != nil {
			writeError(w, http.StatusConflict, "conflict", "job did not reach a terminal state in time")
			return
		}
	}

	deleted, err := h.registry.Delete(id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, errorCode(err), err.Error())
			return
		}
		writeError(w, http.StatusConflict, errorCode(err), err.Error())
		return
	}
	if deleted.WorkingDir != "" {
		if err := os.RemoveAll(deleted.WorkingDir); err != nil {
			logger.Warn("failed to remove working dir on delete", "job_id", id, "dir", deleted.WorkingDir, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// awaitTerminal polls the registry for id to reach a terminal status,
// bounded so the handler never blocks past the server's own request timeout.
func (h *Handler) awaitTerminal(id string) (*jobs.Job, error) {
	deadline := time.Now().Add(8 * time.Second)
	for {
		job, err := h.registry.Get(id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		if time.Now().After(deadline) {
			return nil, jobs.ErrJobNotTerminal
		}
		time.Sleep(100 * time.Millisecond)
	}
}

