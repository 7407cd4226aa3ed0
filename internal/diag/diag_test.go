package diag

import (
	"testing"
	"time"

	"github.com/louisch/pintos-03/internal/frame"
	"github.com/louisch/pintos-03/internal/thread"
)

func TestDonationChainLengthFollowsLockHolder(t *testing.T) {
	low := thread.New(1, "low", 1, 0)
	high := thread.New(2, "high", 32, 0)

	lk := thread.NewLock()
	lk.Acquire(low)

	done := make(chan struct{})
	go func() {
		lk.Acquire(high)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for high.Blocker().Kind != thread.BlockLock && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if got := DonationChainLength(high); got != 1 {
		t.Fatalf("DonationChainLength = %d, want 1", got)
	}

	lk.Release(low)
	<-done
}

func TestDonationChainLengthZeroWhenNotBlocked(t *testing.T) {
	solo := thread.New(1, "solo", 10, 0)
	if got := DonationChainLength(solo); got != 0 {
		t.Fatalf("DonationChainLength = %d, want 0", got)
	}
}

func TestSnapshotIncludesCounters(t *testing.T) {
	sched := thread.NewScheduler(false)
	frames := frame.NewTable(4)

	ready := thread.New(3, "ready", thread.PriDefault, 0)
	sched.AddReady(ready)

	kaddr := frames.RequestFrame(nil)
	_ = kaddr

	snap := Snapshot(sched, frames, map[string]int{"blocked-thread": 2})

	wantMetrics := map[string]bool{
		"ready_depth":     false,
		"frames_pinned":   false,
		"frames_resident": false,
		"donation_chain":  false,
	}
	var donationValue int64 = -1
	for _, s := range snap.Sample {
		name := s.Location[0].Line[0].Function.Name
		if _, ok := wantMetrics[name]; ok {
			wantMetrics[name] = true
		}
		if name == "donation_chain" {
			donationValue = s.Value[0]
		}
		if name == "frames_pinned" && s.Value[0] != 1 {
			t.Fatalf("frames_pinned = %d, want 1", s.Value[0])
		}
		if name == "frames_resident" && s.Value[0] != 1 {
			t.Fatalf("frames_resident = %d, want 1", s.Value[0])
		}
	}
	for name, seen := range wantMetrics {
		if !seen {
			t.Fatalf("snapshot missing %s sample", name)
		}
	}
	if donationValue != 2 {
		t.Fatalf("donation_chain value = %d, want 2", donationValue)
	}
}
