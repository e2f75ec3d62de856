package jobs

import (
	"testing"
	"time"
)

func TestJanitorEvictsPastRetention(t *testing.T) {
	r := NewRegistry()
	job, _ := r.Submit(Request{Source: "s", Mode: ModeStream})
	live, _ := r.StartProcessing(job.ID, t.TempDir())
	r.Complete(live, "url")

	// Force it to look old by sweeping with a negative TTL.
	jn := NewJanitor(r, -time.Hour, 50, 10)
	jn.sweep()

	if _, err := r.Get(job.ID); err == nil {
		t.Fatal("expected job to be evicted past retention window")
	}
}

func TestJanitorRespectsHardCap(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		job, _ := r.Submit(Request{Source: "s", Mode: ModeStream})
		live, _ := r.StartProcessing(job.ID, t.TempDir())
		r.Complete(live, "url")
	}

	jn := NewJanitor(r, time.Hour, 2, 10) // TTL not expired, but hard cap of 2
	jn.sweep()

	if r.Size() != 2 {
		t.Fatalf("expected hard cap to reduce to 2 jobs, got %d", r.Size())
	}
}

func TestJanitorLeavesFreshTerminalJobsUnderCap(t *testing.T) {
	r := NewRegistry()
	job, _ := r.Submit(Request{Source: "s", Mode: ModeStream})
	live, _ := r.StartProcessing(job.ID, t.TempDir())
	r.Complete(live, "url")

	jn := NewJanitor(r, time.Hour, 50, 10)
	jn.sweep()

	if _, err := r.Get(job.ID); err != nil {
		t.Fatalf("expected fresh terminal job to survive sweep, got err=%v", err)
	}
}
