package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/BleedingXiko/GhostStream/internal/admission"
	"github.com/BleedingXiko/GhostStream/internal/config"
	"github.com/BleedingXiko/GhostStream/internal/hardware"
	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/logger"
	"github.com/BleedingXiko/GhostStream/internal/metrics"
	"github.com/BleedingXiko/GhostStream/internal/telemetry"
)

// Dispatcher is the worker-pool loop of §4.5.1: on a fixed tick it consults
// the admission controller, and while there is headroom it pulls the oldest
// queued job and runs it to completion (or terminal failure) in its own
// goroutine, admitting jobs against a load-adjusted ceiling rather than a
// fixed worker-count pool.
type Dispatcher struct {
	Registry   *jobs.Registry
	HWReg      *hardware.Registry
	Caps       *hardware.Capabilities
	Sampler    *telemetry.Sampler
	Cfg        *config.Config
	Planner    *Planner
	Supervisor *Supervisor
	Prober     *Prober

	active     int32
	httpClient *http.Client

	// callbackClient is dedicated to the completion-callback POST, on its own
	// shorter 5s timeout (§4.5.6) independent of httpClient's 10s used for
	// subtitle fetches.
	callbackClient *http.Client
}

// NewDispatcher wires the components a fully-configured dispatcher needs.
func NewDispatcher(reg *jobs.Registry, hwReg *hardware.Registry, caps *hardware.Capabilities, sampler *telemetry.Sampler, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		Registry:       reg,
		HWReg:          hwReg,
		Caps:           caps,
		Sampler:        sampler,
		Cfg:            cfg,
		Planner:        &Planner{Registry: hwReg, Cfg: cfg, Caps: caps},
		Supervisor:     &Supervisor{FFmpegPath: cfg.FFmpegPath, StallTimeout: time.Duration(cfg.Transcoding.StallTimeoutS) * time.Second},
		Prober:         &Prober{FFprobePath: cfg.FFprobePath},
		httpClient:     &http.Client{Timeout: 10 * time.Second},
		callbackClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Run is the dispatch loop. Blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

// ActiveJobs returns the number of jobs currently being processed, for the
// /api/health and /api/status composite payloads.
func (d *Dispatcher) ActiveJobs() int {
	return int(atomic.LoadInt32(&d.active))
}

func (d *Dispatcher) tick(ctx context.Context) {
	active := int(atomic.LoadInt32(&d.active))
	sample := d.Sampler.Latest()
	metrics.LoadFactor.Set(sample.LoadFactor)
	metrics.GPUTempCelsius.Set(sample.GPUTempC)
	if sample.OnBattery {
		metrics.OnBattery.Set(1)
	} else {
		metrics.OnBattery.Set(0)
	}

	decision := admission.Decide(d.Caps, sample, active, d.Cfg.Transcoding.MaxConcurrentJobs)
	metrics.AdmissionDecisionsTotal.WithLabelValues(strconv.FormatBool(decision.Allow), decision.Reason).Inc()
	metrics.AdmissionQualityFactor.Set(decision.QualityFactor)
	metrics.AdmissionEffectiveMaxJobs.Set(float64(decision.EffectiveMaxJobs))
	metrics.JobsQueued.Set(float64(d.Registry.CountByStatus()[jobs.StatusQueued]))
	if !decision.Allow || active >= decision.EffectiveMaxJobs {
		return
	}

	job := d.Registry.NextQueued()
	if job == nil {
		return
	}

	atomic.AddInt32(&d.active, 1)
	go func() {
		defer atomic.AddInt32(&d.active, -1)
		d.process(ctx, job, decision.QualityFactor)
	}()
}

// process runs one job from queued through a terminal state, following
// §4.5.5's retry/fallback decision tree: same-config retry for transient
// classifications, an encoder step-down for hardware classifications, and
// immediate failure for fatal ones or after the retry ceiling is reached.
func (d *Dispatcher) process(ctx context.Context, job *jobs.Job, qualityFactor float64) {
	metrics.JobsInProgress.Inc()
	defer metrics.JobsInProgress.Dec()

	workingDir := d.Cfg.JobWorkingDir(job.ID)
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		logger.Error("failed to create job working dir", "job_id", job.ID, "error", err)
		return
	}

	live, err := d.Registry.StartProcessing(job.ID, workingDir)
	if err != nil {
		logger.Error("failed to start processing", "job_id", job.ID, "error", err)
		return
	}

	src, err := d.Prober.Probe(live.Context(), live.Request.Source)
	if err != nil {
		d.Registry.Fail(live, fmt.Sprintf("probe failed: %v", err))
		d.recordTerminal(live)
		d.postCallback(live)
		return
	}

	subs := FetchSubtitles(d.httpClient, workingDir, live.Request.Subtitles)

	var forceAccel hardware.Accel
	var forceSoftwareDecode bool
	maxRetries := d.Cfg.Transcoding.RetryCount

	for attempt := 0; ; attempt++ {
		select {
		case <-live.Context().Done():
			d.Registry.MarkCancelled(live)
			d.recordTerminal(live)
			return
		default:
		}

		inv, planErr := d.Planner.Plan(live, src, qualityFactor, forceAccel, forceSoftwareDecode)
		if planErr != nil {
			d.Registry.Fail(live, planErr.Error())
			d.recordTerminal(live)
			d.postCallback(live)
			return
		}
		inv.Subtitles = subs
		d.Registry.SetHWAccelUsed(live, string(inv.Accel))
		if inv.MasterPlaylist != "" {
			d.Registry.SetStreamURL(live, streamURLFor(job.ID))
		}

		runErr := d.Supervisor.RunInvocation(live.Context(), inv, src.DurationS, func(rendition string, p RenditionProgress) {
			d.Registry.UpdateProgress(live, p.PercentPct, p.CurrentS, src.DurationS, p.Speed, p.FPS, p.Frame, p.ETASeconds)
		})

		if runErr == nil {
			d.Registry.Complete(live, downloadURLFor(job.ID, inv))
			d.recordTerminal(live)
			d.postCallback(live)
			return
		}

		select {
		case <-live.Context().Done():
			d.Registry.MarkCancelled(live)
			d.recordTerminal(live)
			return
		default:
		}

		var runError *RunError
		stderr := runErr.Error()
		if errors.As(runErr, &runError) {
			stderr = runError.Stderr
		}
		classification := Classify(stderr)
		if runError != nil && runError.Stalled {
			// §7: stalled always classifies as encoder_transient, regardless of
			// whatever pattern (or lack of one) shows up in the buffered stderr.
			classification = Classification{Category: CategoryTransient, Description: "Encoder stalled", Retryable: true}
		}
		logger.Warn("transcode attempt failed", "job_id", job.ID, "attempt", attempt, "category", classification.Category, "error", runErr)

		switch {
		case ShouldFallbackToSoftware(classification):
			next, ok := d.HWReg.Fallback(inv.Accel, inv.Codec)
			if !ok {
				d.Registry.Fail(live, classification.Description)
				d.recordTerminal(live)
				d.postCallback(live)
				return
			}
			metrics.FallbacksTotal.WithLabelValues(string(inv.Accel), string(next.Accel)).Inc()
			forceAccel = next.Accel
			forceSoftwareDecode = false
			d.Registry.ResetForFallback(live)
			attempt = -1 // §4.5.5: the new plan starts its own attempt count at 0

		case ShouldRetry(classification, attempt, maxRetries):
			metrics.RetriesTotal.WithLabelValues(string(classification.Category)).Inc()
			forceSoftwareDecode = runError != nil && runError.Frames == 0
			d.Registry.ResetForRetry(live)
			if !d.wait(live, retryBackoff(attempt)) {
				d.Registry.MarkCancelled(live)
				d.recordTerminal(live)
				return
			}

		default:
			d.Registry.Fail(live, classification.Description)
			d.recordTerminal(live)
			d.postCallback(live)
			return
		}
	}
}

// retryBackoff implements §4.5.5's same-config retry delay: min(2^attempt, 30)s.
func retryBackoff(attempt int) time.Duration {
	if attempt < 0 || attempt > 4 {
		return 30 * time.Second
	}
	seconds := 1 << attempt
	if seconds > 30 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// wait blocks for d or until live's context is cancelled, reporting which
// happened so the caller can treat a cancel during backoff as a cancellation
// rather than silently retrying into a job nobody wants anymore.
func (d *Dispatcher) wait(live *jobs.Job, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-live.Context().Done():
		return false
	}
}

// recordTerminal instruments a job's terminal transition: outcome counter
// (labeled by status and the hw_accel family actually used) plus its
// wall-clock duration from submission.
func (d *Dispatcher) recordTerminal(live *jobs.Job) {
	metrics.JobsTotal.WithLabelValues(string(live.Status), live.HWAccelUsed).Inc()
	if !live.CreatedAt.IsZero() && !live.FinishedAt.IsZero() {
		metrics.JobDuration.WithLabelValues(string(live.Status)).Observe(live.FinishedAt.Sub(live.CreatedAt).Seconds())
	}
}

func streamURLFor(jobID string) string {
	return fmt.Sprintf("/stream/%s/master.m3u8", jobID)
}

func downloadURLFor(jobID string, inv *Invocation) string {
	if inv.MasterPlaylist != "" {
		return streamURLFor(jobID)
	}
	return fmt.Sprintf("/api/transcode/%s/download", jobID)
}

type callbackPayload struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Job    *jobs.Job `json:"job"`
}

// postCallback delivers the terminal job state to the request's callback URL
// if one was supplied. No callback library exists anywhere in the reference
// pack, so this uses net/http directly.
func (d *Dispatcher) postCallback(job *jobs.Job) {
	if job.Request.CallbackURL == "" {
		return
	}
	body, err := json.Marshal(callbackPayload{JobID: job.ID, Status: string(job.Status), Job: job})
	if err != nil {
		logger.Error("failed to marshal callback payload", "job_id", job.ID, "error", err)
		return
	}
	req, err := http.NewRequest(http.MethodPost, job.Request.CallbackURL, bytes.NewReader(body))
	if err != nil {
		logger.Error("failed to build callback request", "job_id", job.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.callbackClient.Do(req)
	if err != nil {
		logger.Warn("callback delivery failed", "job_id", job.ID, "url", job.Request.CallbackURL, "error", err)
		return
	}
	resp.Body.Close()
}
