package progressbus

import (
	"testing"
	"time"

	"github.com/BleedingXiko/GhostStream/internal/jobs"
)

func TestHubRegisterUnregisterTracksClientCount(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	c := newTestClient()
	c.conn = nil // never written to in this test; Register/Unregister don't touch the connection

	if !h.Register(c) {
		t.Fatal("expected registration to succeed under the connection cap")
	}
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Unregister(c)
	waitFor(t, func() bool { return h.ClientCount() == 0 })
}

func TestHubPublishDispatchesToRegisteredClients(t *testing.T) {
	h := NewHub()
	go h.Run()
	defer h.Stop()

	c := newTestClient()
	h.Register(c)
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Publish(jobs.Event{Kind: "progress", Job: &jobs.Job{ID: "j1"}})

	waitFor(t, func() bool { return len(c.queue) == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
