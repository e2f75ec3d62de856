package jobs

import (
	"os"
	"time"

	"github.com/BleedingXiko/GhostStream/internal/logger"
)

// Janitor evicts terminal job records past their retention window or beyond
// the registry's hard caps (§4.4). Runs on a fixed 60s sweep period.
type Janitor struct {
	registry            *Registry
	retentionTTL        time.Duration
	maxJobs             int
	maxTerminalRetained int

	stop chan struct{}
	done chan struct{}
}

// NewJanitor builds a Janitor bound to registry, with the retention knobs
// from configuration (§6 janitor.* keys).
func NewJanitor(registry *Registry, retentionTTL time.Duration, maxJobs, maxTerminalRetained int) *Janitor {
	return &Janitor{
		registry:            registry,
		retentionTTL:        retentionTTL,
		maxJobs:             maxJobs,
		maxTerminalRetained: maxTerminalRetained,
		stop:                make(chan struct{}),
		done:                make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (jn *Janitor) Start() {
	go jn.run()
}

// Stop ends the sweep loop and waits for it to exit.
func (jn *Janitor) Stop() {
	close(jn.stop)
	<-jn.done
}

func (jn *Janitor) run() {
	defer close(jn.done)
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-jn.stop:
			return
		case <-ticker.C:
			jn.sweep()
		}
	}
}

func (jn *Janitor) sweep() {
	cutoff := time.Now().Add(-jn.retentionTTL)
	for _, j := range jn.registry.TerminalOlderThan(cutoff) {
		jn.evict(j)
	}

	if size := jn.registry.Size(); size > jn.maxJobs {
		terminal := jn.registry.TerminalJobsOldestFirst()
		excess := size - jn.maxJobs
		if excess > len(terminal) {
			excess = len(terminal)
		}
		for i := 0; i < excess; i++ {
			jn.evict(terminal[i])
		}
	}

	retained := jn.registry.TerminalJobsOldestFirst()
	if len(retained) > jn.maxTerminalRetained {
		over := len(retained) - jn.maxTerminalRetained
		for i := 0; i < over; i++ {
			jn.evict(retained[i])
		}
	}
}

func (jn *Janitor) evict(j *Job) {
	if _, err := jn.registry.Delete(j.ID); err != nil {
		logger.Warn("janitor: failed to delete job record", "job_id", j.ID, "error", err)
		return
	}
	if j.WorkingDir != "" {
		if err := os.RemoveAll(j.WorkingDir); err != nil {
			logger.Warn("janitor: failed to remove working dir", "job_id", j.ID, "dir", j.WorkingDir, "error", err)
		}
	}
	logger.Debug("janitor: evicted terminal job", "job_id", j.ID, "status", j.Status)
}
