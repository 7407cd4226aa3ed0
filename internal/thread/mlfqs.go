package thread

import "github.com/louisch/pintos-03/internal/fixedpoint"

/// MLFQS constants from original_source/threads/fixed-point.h and
/// thread.c: load_avg (with its 59/60 decay factor) and every thread's
/// recent_cpu are recomputed once per simulated second of 100 ticks
/// (TIMER_FREQ=100); priorities are recomputed every fourth tick.
const (
	priorityRecomputePeriod = 4
	recentCpuRecomputeTicks = 100 // once per simulated second
)

/// LoadAvg returns the system load average, meaningful only when the
/// scheduler is running in MLFQS mode.
func (s *Scheduler) LoadAvg() fixedpoint.FP {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadAvg
}

/// readyThreadCountLocked counts threads that are either running or sitting in
/// the MLFQS ready_array, the "ready" population the load_avg formula
/// advances on (original_source/threads/thread.c's thread_get_ready_threads,
/// spec.md §4.4).
func (s *Scheduler) readyThreadCountLocked(selfIsIdle bool) int {
	n := 0
	for p := PriMin; p <= PriMax; p++ {
		n += len(s.readyArr[p])
	}
	if s.current != nil && !selfIsIdle {
		n++
	}
	return n
}

/// TickMlfqs advances recent_cpu, load_avg, and priority bookkeeping by
/// one timer tick for every live thread, per spec.md §4.4's recompute
/// order: load_avg and every thread's recent_cpu recompute once a second,
/// strictly before current's own recent_cpu += 1 for that same tick;
/// priorities recompute every 4th tick. idleIsCurrent lets the caller mark
/// that the CPU is idle (the running "thread" is not a real schedulable
/// one) so it is excluded from the ready-thread count driving load_avg.
func (s *Scheduler) TickMlfqs(all []*Thread, idleIsCurrent bool) {
	if !s.mlfqs {
		return
	}
	s.mu.Lock()
	s.ticks++
	ticks := s.ticks
	cur := s.current
	s.mu.Unlock()

	if ticks%recentCpuRecomputeTicks == 0 {
		s.recomputeLoadAvg(idleIsCurrent)
		for _, t := range all {
			recomputeRecentCPU(t, s.LoadAvg())
		}
	}

	if cur != nil && !idleIsCurrent {
		cur.mu.Lock()
		cur.RecentCPU = cur.RecentCPU.AddInt(1)
		cur.mu.Unlock()
	}

	if ticks%priorityRecomputePeriod == 0 {
		for _, t := range all {
			recomputePriority(t)
		}
		s.resortReady()
	}
}

func (s *Scheduler) recomputeLoadAvg(idleIsCurrent bool) {
	s.mu.Lock()
	ready := s.readyThreadCountLocked(idleIsCurrent)
	// load_avg := (59/60)*load_avg + (1/60)*ready_threads
	factor := fixedpoint.FromInt(59).DivInt(60)
	s.loadAvg = s.loadAvg.Mul(factor).Add(fixedpoint.FromInt(ready).DivInt(60))
	s.mu.Unlock()
}

/// recomputeRecentCPU applies recent_cpu := (2*load_avg)/(2*load_avg+1) *
/// recent_cpu + nice, the formula from original_source/threads/thread.c.
func recomputeRecentCPU(t *Thread, loadAvg fixedpoint.FP) {
	t.mu.Lock()
	defer t.mu.Unlock()
	twoLoad := loadAvg.MulInt(2)
	coeff := twoLoad.Div(twoLoad.AddInt(1))
	t.RecentCPU = coeff.Mul(t.RecentCPU).AddInt(t.Nice)
}

/// recomputePriority applies priority := PRI_MAX - (recent_cpu/4) -
/// (nice*2), clamped to [PriMin, PriMax].
func recomputePriority(t *Thread) {
	t.mu.Lock()
	p := PriMax - t.RecentCPU.DivInt(4).ToIntTrunc() - t.Nice*2
	if p < PriMin {
		p = PriMin
	}
	if p > PriMax {
		p = PriMax
	}
	t.BasePriority = p
	t.mu.Unlock()
}

/// resortReady re-buckets every ready thread by its (possibly changed)
/// priority after a bulk priority recompute; it takes s.mu itself.
func (s *Scheduler) resortReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.mlfqs {
		return
	}
	var all []*Thread
	for p := PriMin; p <= PriMax; p++ {
		all = append(all, s.readyArr[p]...)
		s.readyArr[p] = nil
	}
	for _, t := range all {
		p := clampPriority(t.EffectivePriority())
		s.readyArr[p] = append(s.readyArr[p], t)
	}
}
