package store

import (
	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/logger"
)

// OutcomeRecorder is a jobs.Subscriber that persists every job's terminal
// status_change event as a lifetime counter increment. Kept as a thin
// adapter here, rather than a method the dispatcher calls directly, so the
// aggregate store's only coupling to job state is through the same
// Subscriber interface the progress bus uses (§4.6).
type OutcomeRecorder struct {
	store Store
}

// NewOutcomeRecorder wraps store.
func NewOutcomeRecorder(store Store) *OutcomeRecorder {
	return &OutcomeRecorder{store: store}
}

// Publish implements jobs.Subscriber.
func (o *OutcomeRecorder) Publish(evt jobs.Event) {
	if evt.Kind != "status_change" || !evt.Job.Status.IsTerminal() {
		return
	}
	var err error
	switch evt.Job.Status {
	case jobs.StatusReady:
		err = o.store.RecordCompletion(evt.Job.HWAccelUsed)
	case jobs.StatusError:
		err = o.store.RecordFailure()
	case jobs.StatusCancelled:
		err = o.store.RecordCancellation()
	}
	if err != nil {
		logger.Error("failed to record job outcome", "job_id", evt.Job.ID, "status", evt.Job.Status, "error", err)
	}
}
