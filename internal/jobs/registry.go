package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BleedingXiko/GhostStream/internal/hardware"
)

// Subscriber receives registry events. The progressbus package implements
// this to fan events out to WebSocket clients (§4.6); tests can supply a
// simple channel-backed fake.
type Subscriber interface {
	Publish(Event)
}

// Registry is the in-memory, authoritative job store (§4.4): an
// RWMutex-guarded map plus an order slice tracking insertion order, over
// the queued/processing/ready/error/cancelled status vocabulary and the
// richer Job fields described in §3.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string

	subMu       sync.RWMutex
	subscribers map[Subscriber]struct{}

	hwReg *hardware.Registry
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:        make(map[string]*Job),
		subscribers: make(map[Subscriber]struct{}),
	}
}

// Subscribe registers s to receive every future Event until Unsubscribe is
// called.
func (r *Registry) Subscribe(s Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers[s] = struct{}{}
}

// Unsubscribe removes s.
func (r *Registry) Unsubscribe(s Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subscribers, s)
}

func (r *Registry) broadcast(kind string, job *Job) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	evt := Event{Kind: kind, Job: job.Clone()}
	for s := range r.subscribers {
		s.Publish(evt)
	}
}

// SetHardwareRegistry wires the hardware registry Submit uses to validate an
// explicit hw_accel request against what this host actually detected.
// Optional: nil (the zero value) skips that check, which is what an
// isolated registry test gets by not calling this.
func (r *Registry) SetHardwareRegistry(hw *hardware.Registry) {
	r.hwReg = hw
}

// Submit validates and stores a new job in the queued state (§3, §4.4).
func (r *Registry) Submit(req Request) (*Job, error) {
	if req.Source == "" {
		return nil, validationError("source is required")
	}
	switch req.Mode {
	case ModeStream, ModeABR, ModeBatch:
	default:
		return nil, validationError("mode must be one of stream, abr, batch")
	}
	if req.HWAccel != "" && req.HWAccel != "auto" {
		accel, ok := hardware.ValidAccel(req.HWAccel)
		if !ok {
			return nil, validationError(fmt.Sprintf("hw_accel %q is not a recognized family", req.HWAccel))
		}
		// §8 boundary behavior: an explicit, known-unavailable family is
		// rejected at submit time; "auto" on the same host just falls back
		// to software instead.
		if r.hwReg != nil && !r.hwReg.HasFamily(accel) {
			return nil, validationError(fmt.Sprintf("hw_accel %q is not available on this host", req.HWAccel))
		}
	}

	job := &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	r.broadcast("status_change", job)
	return job.Clone(), nil
}

// Get returns a snapshot of the job, or ErrJobNotFound.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	return j.Clone(), nil
}

// List returns a snapshot of every job in submission order.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Job, 0, len(r.order))
	for _, id := range r.order {
		if j, ok := r.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	return out
}

// NextQueued returns the oldest job still in StatusQueued, or nil if none.
// Called by the dispatcher (§4.5.1).
func (r *Registry) NextQueued() *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if j, ok := r.jobs[id]; ok && j.Status == StatusQueued {
			return j.Clone()
		}
	}
	return nil
}

// CountByStatus returns how many jobs currently hold each status.
func (r *Registry) CountByStatus() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[Status]int)
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts
}

// StartProcessing transitions a queued job to processing, creates its
// cancellation context, assigns its working directory, and returns the live
// pointer for the calling worker to own exclusively from here on (§4.4:
// "once handed to a worker, mutated only by that worker").
func (r *Registry) StartProcessing(id string, workingDir string) (*Job, error) {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return nil, jobNotFoundError(id)
	}
	if j.Status != StatusQueued {
		r.mu.Unlock()
		return nil, jobNotQueuedError(id, j.Status)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j.ctx = ctx
	j.cancel = cancel
	j.Status = StatusProcessing
	j.WorkingDir = workingDir
	j.StartedAt = time.Now()
	j.UpdatedAt = time.Now()
	r.mu.Unlock()

	r.broadcast("status_change", j)
	return j, nil
}

// progressEmitInterval is §4.5.4's progress-bus rate limit: at most one
// progress event per job per window. The job's own fields are always kept
// current for polling reads (GET .../status); only the broadcast is gated.
const progressEmitInterval = 500 * time.Millisecond

// UpdateProgress applies a progress-bus-eligible telemetry update. progress
// must be monotonic non-decreasing within an attempt (§8 invariant 2);
// callers that need to reset it (a fresh retry attempt) should call
// ResetForRetry instead. The resulting "progress" event is throttled to
// progressEmitInterval per job; terminal transitions broadcast their own
// status_change independent of this gate, so a subscriber always sees the
// final state even if the last progress tick was dropped.
func (r *Registry) UpdateProgress(j *Job, progress, currentTimeS, durationS, speed, fps float64, frame int64, etaS float64) {
	r.mu.Lock()
	if progress > j.Progress {
		j.Progress = progress
	}
	j.CurrentTimeS = currentTimeS
	j.DurationS = durationS
	j.Speed = speed
	j.FPS = fps
	j.Frame = frame
	j.ETASeconds = etaS
	now := time.Now()
	j.UpdatedAt = now
	emit := now.Sub(j.lastProgressEmit) >= progressEmitInterval
	if emit {
		j.lastProgressEmit = now
	}
	r.mu.Unlock()

	if emit {
		r.broadcast("progress", j)
	}
}

// SetStreamURL records the URL once it's resolvable (§3 invariant 2: no
// later than entry into processing for stream/abr modes).
func (r *Registry) SetStreamURL(j *Job, url string) {
	r.mu.Lock()
	j.StreamURL = url
	j.UpdatedAt = time.Now()
	r.mu.Unlock()
}

// SetHWAccelUsed records which encoder family the current attempt is
// actually using, which may differ from the request after a fallback.
func (r *Registry) SetHWAccelUsed(j *Job, accel string) {
	r.mu.Lock()
	j.HWAccelUsed = accel
	j.UpdatedAt = time.Now()
	r.mu.Unlock()
}

// ResetForRetry increments the attempt counter and resets per-attempt
// progress fields, keeping externally-observed status at "processing"
// (§3: "processing -> queued only for internal retries, externally still
// observed as processing").
func (r *Registry) ResetForRetry(j *Job) {
	r.mu.Lock()
	j.Attempt++
	j.Progress = 0
	j.CurrentTimeS = 0
	j.Speed = 0
	j.FPS = 0
	j.Frame = 0
	j.UpdatedAt = time.Now()
	r.mu.Unlock()
}

// ResetForFallback reinitializes a job for the first attempt of a newly
// selected encoder after a hardware-classified failure. Unlike
// ResetForRetry, which increments Attempt for another try of the same plan,
// §4.5.5 requires the fallback's new plan to start counting from 0.
func (r *Registry) ResetForFallback(j *Job) {
	r.mu.Lock()
	j.Attempt = 0
	j.Progress = 0
	j.CurrentTimeS = 0
	j.Speed = 0
	j.FPS = 0
	j.Frame = 0
	j.UpdatedAt = time.Now()
	r.mu.Unlock()
}

// Complete transitions a job to ready with its final artifact URLs.
func (r *Registry) Complete(j *Job, downloadURL string) {
	r.mu.Lock()
	j.Status = StatusReady
	j.Progress = 100
	j.DownloadURL = downloadURL
	now := time.Now()
	j.UpdatedAt = now
	j.FinishedAt = now
	r.mu.Unlock()

	r.broadcast("status_change", j)
}

// Fail transitions a job to error with the given message (bounded to 2KB
// per §4.5.5).
func (r *Registry) Fail(j *Job, message string) {
	const maxLen = 2048
	if len(message) > maxLen {
		message = message[len(message)-maxLen:]
	}
	r.mu.Lock()
	j.Status = StatusError
	j.ErrorMessage = message
	now := time.Now()
	j.UpdatedAt = now
	j.FinishedAt = now
	r.mu.Unlock()

	r.broadcast("status_change", j)
}

// Cancel transitions a queued job to cancelled synchronously, or fires the
// cancel signal of a processing job so its worker observes it (§4.4).
func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	j, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return jobNotFoundError(id)
	}
	if j.Status.IsTerminal() {
		r.mu.Unlock()
		return nil
	}
	if j.Status == StatusQueued {
		j.Status = StatusCancelled
		now := time.Now()
		j.UpdatedAt = now
		j.FinishedAt = now
		r.mu.Unlock()
		r.broadcast("status_change", j)
		return nil
	}
	// processing: fire the signal, the worker finishes the transition.
	cancel := j.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// MarkCancelled finalizes the cancellation transition; called by the worker
// once its subprocess has actually exited following a cancel signal.
func (r *Registry) MarkCancelled(j *Job) {
	r.mu.Lock()
	j.Status = StatusCancelled
	now := time.Now()
	j.UpdatedAt = now
	j.FinishedAt = now
	r.mu.Unlock()

	r.broadcast("status_change", j)
}

// Delete removes a terminal job's record. Working-directory teardown is the
// caller's responsibility (kept out of the registry so it stays a pure
// in-memory structure, testable without a filesystem).
func (r *Registry) Delete(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, jobNotFoundError(id)
	}
	if !j.Status.IsTerminal() {
		return nil, jobNotTerminalError(id, j.Status)
	}
	delete(r.jobs, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return j, nil
}

// TerminalOlderThan returns terminal jobs whose FinishedAt precedes cutoff,
// oldest first — the janitor's eviction candidate list (§4.4).
func (r *Registry) TerminalOlderThan(cutoff time.Time) []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Job
	for _, id := range r.order {
		j := r.jobs[id]
		if j.Status.IsTerminal() && j.FinishedAt.Before(cutoff) {
			out = append(out, j.Clone())
		}
	}
	return out
}

// TerminalJobsOldestFirst returns every terminal job ordered oldest first by
// FinishedAt, for the janitor's hard-cap eviction.
func (r *Registry) TerminalJobsOldestFirst() []*Job {
	r.mu.RLock()
	all := make([]*Job, 0, len(r.jobs))
	for _, id := range r.order {
		j := r.jobs[id]
		if j.Status.IsTerminal() {
			all = append(all, j.Clone())
		}
	}
	r.mu.RUnlock()

	sortByFinishedAt(all)
	return all
}

func sortByFinishedAt(jobs []*Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].FinishedAt.Before(jobs[j-1].FinishedAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

// Size returns the total number of jobs currently tracked.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
