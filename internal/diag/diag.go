/// Package diag builds profiling snapshots for the D_STAT/D_PROF devices
/// named in biscuit/src/defs/device.go: ready-queue depths, donation
/// chain lengths, and frame pin counts, rendered as a pprof profile so
/// existing pprof tooling can inspect a running kernel's scheduler/VM
/// state the same way it inspects a CPU profile.
package diag

import (
	"strconv"
	"time"

	"github.com/google/pprof/profile"

	"github.com/louisch/pintos-03/internal/frame"
	"github.com/louisch/pintos-03/internal/thread"
)

/// maxChainDepth bounds DonationChainLength's walk, per spec.md §9's
/// "bounded depth" resolution for the waits-for graph — a correctly
/// functioning kernel never has a chain this long; it exists only to
/// keep a self-check from looping forever if one ever did.
const maxChainDepth = 256

/// DonationChainLength walks t's blocker chain — t waits on a lock held
/// by some thread, which may itself be waiting on another lock, and so
/// on — and reports how many hops deep it goes before reaching a thread
/// that isn't blocked on a lock.
func DonationChainLength(t *thread.Thread) int {
	depth := 0
	cur := t
	for depth < maxChainDepth {
		b := cur.Blocker()
		if b.Kind != thread.BlockLock || b.Lock == nil {
			break
		}
		holder := b.Lock.Holder()
		if holder == nil || holder == cur {
			break
		}
		depth++
		cur = holder
	}
	return depth
}

type builder struct {
	p      *profile.Profile
	nextID uint64
}

func newBuilder() *builder {
	return &builder{p: &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
	}}
}

/// addSample records metric=value as a one-location, one-value pprof
/// sample, tagged with label. Real CPU profiles stack many samples under
/// one location; this snapshot instead gives every named counter its own
/// location, so each shows up as its own top-level entry in any pprof
/// viewer.
func (b *builder) addSample(metric string, value int64, label map[string][]string) {
	b.nextID++
	fn := &profile.Function{ID: b.nextID, Name: metric}
	loc := &profile.Location{ID: b.nextID, Line: []profile.Line{{Function: fn}}}
	b.p.Function = append(b.p.Function, fn)
	b.p.Location = append(b.p.Location, loc)
	b.p.Sample = append(b.p.Sample, &profile.Sample{
		Location: []*profile.Location{loc},
		Value:    []int64{value},
		Label:    label,
	})
}

/// Snapshot captures sched's ready-queue depths and frames' pin count
/// into a pprof profile. chains maps a label (e.g. a thread name) to its
/// donation chain length, for the threads the caller cares to report.
func Snapshot(sched *thread.Scheduler, frames *frame.Table, chains map[string]int) *profile.Profile {
	b := newBuilder()
	b.p.TimeNanos = time.Now().UnixNano()

	depths := sched.ReadyDepths()
	for pri, n := range depths {
		if n == 0 {
			continue
		}
		b.addSample("ready_depth", int64(n), map[string][]string{"priority": {strconv.Itoa(pri)}})
	}

	b.addSample("frames_pinned", int64(frames.PinnedCount()), nil)
	b.addSample("frames_resident", int64(frames.Len()), nil)

	for name, depth := range chains {
		b.addSample("donation_chain", int64(depth), map[string][]string{"thread": {name}})
	}

	return b.p
}
