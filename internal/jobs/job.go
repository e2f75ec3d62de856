// Package jobs implements the Job Registry (C4, §4.4): the authoritative
// in-memory store of job records and their state machine, plus the janitor
// that evicts old terminal records. Mutations go through a small typed
// mutator API (single writer per job) and fan out as events to any
// registered Subscriber rather than embedding delivery concerns here.
package jobs

import (
	"context"
	"time"
)

// Status is a job's position in the state machine described in §3.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether s is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusError || s == StatusCancelled
}

// Mode selects the invocation-planning strategy used in §4.5.2.
type Mode string

const (
	ModeStream Mode = "stream"
	ModeABR    Mode = "abr"
	ModeBatch  Mode = "batch"
)

// SubtitleTrack is one requested subtitle track to fetch and mux into the
// output playlist (§4.5.2).
type SubtitleTrack struct {
	Language string `json:"language"`
	URL      string `json:"url"`
	Default  bool   `json:"default"`
}

// Request is the immutable, validated submission body (§3, §6
// POST /api/transcode/start).
type Request struct {
	Source      string          `json:"source"`
	Mode        Mode            `json:"mode"`
	Resolution  string          `json:"resolution,omitempty"` // e.g. "720p" or "auto"
	VideoCodec  string          `json:"video_codec,omitempty"`
	HWAccel     string          `json:"hw_accel,omitempty"` // "auto" or an explicit family name
	StartTimeS  float64         `json:"start_time_s,omitempty"`
	Subtitles   []SubtitleTrack `json:"subtitles,omitempty"`
	CallbackURL string          `json:"callback_url,omitempty"`
	Container   string          `json:"container,omitempty"` // batch mode only
	TwoPass     bool            `json:"two_pass,omitempty"`  // batch mode only
}

// Job is the central entity owned by the registry for its entire lifetime
// (§3). Once handed to a worker, only that worker mutates it; every other
// access goes through Registry methods, which hand out a Clone().
type Job struct {
	ID      string  `json:"id"`
	Request Request `json:"request"`
	Status  Status  `json:"status"`

	Progress     float64 `json:"progress"`
	CurrentTimeS float64 `json:"current_time_s"`
	DurationS    float64 `json:"duration_s"`
	Speed        float64 `json:"speed"`
	FPS          float64 `json:"fps"`
	Frame        int64   `json:"frame"`
	ETASeconds   float64 `json:"eta_s"`

	HWAccelUsed  string `json:"hw_accel_used,omitempty"`
	StreamURL    string `json:"stream_url,omitempty"`
	DownloadURL  string `json:"download_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Attempt    int    `json:"attempt"`
	WorkingDir string `json:"-"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	cancel context.CancelFunc
	ctx    context.Context

	lastProgressEmit time.Time
}

// Clone returns a value copy safe to hand to a caller outside the registry
// lock. The cancellation context/func are safe to share by reference.
func (j *Job) Clone() *Job {
	cp := *j
	return &cp
}

// Context returns the job's cancellation context, set when it enters
// processing. Nil before that.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancel fires the job's cancel signal (§3 invariant 5, §5). A no-op before
// the job has started processing or after it has finished.
func (j *Job) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

// Event is one registry mutation, broadcast to the progress bus (§4.6).
type Event struct {
	Kind string `json:"kind"` // "progress" | "status_change"
	Job  *Job   `json:"job"`
}
