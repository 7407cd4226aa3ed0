/// Package frame implements the physical-frame table: allocation,
/// pinning, and second-chance eviction, grounded on spec.md §4.8 and
/// original_source/vm/frame.c. Concurrent evictions are bounded with
/// golang.org/x/sync/semaphore per SPEC_FULL.md §2 (models a bounded
/// number of simultaneous page-out operations rather than letting every
/// blocked allocator evict independently).
package frame

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/louisch/pintos-03/internal/defs"
)

/// Page is the mapped-page interface a frame refers back to; satisfied by
/// *vm.MappedPage. Kept as an interface here to avoid an import cycle
/// between internal/frame and internal/vm (vm depends on frame, not the
/// reverse).
type Page interface {
	// Accessed reports the hardware "accessed" bit this module simulates
	// per mapped page; ClearAccessed clears it.
	Accessed() bool
	ClearAccessed()
	// Evict writes the page's current frame contents back to swap or
	// file, per the mapped page's own backing policy, and returns the
	// swap slot used (defs.NotSwap if written to a file instead).
	Evict(frameData []byte) (slot int, err defs.Err_t)
	// ClearMapping removes this page's entry from its owning
	// page-directory, simulated as a callback rather than real MMU
	// state.
	ClearMapping()
	// Lock/Unlock are the mapped-page's own eviction mutex (spec.md
	// §4.7's "per-page eviction mutex serialises map-in and evict-out").
	Lock()
	Unlock()
}

/// Record is one physical-frame bookkeeping entry.
type Record struct {
	KAddr  uintptr
	Data   []byte
	Page   Page
	pinned bool
	slot   int
}

/// Table is the frame table: a lookup set, a FIFO eviction queue, and a
/// pinned counter with a "something changed" condition, all under one
/// mutex (spec.md §4.8).
type Table struct {
	mu         sync.Mutex
	changed    *sync.Cond
	byAddr     map[uintptr]*Record
	queue      []*Record
	pinned     int
	nextAddr   uintptr
	evictions  *semaphore.Weighted
	pool       []byte // backing store for the simulated user pool
	freeSlots  []int  // indices into pool not currently assigned to a frame
	npages     int
}

/// maxConcurrentEvictions bounds simultaneous second-chance scans.
const maxConcurrentEvictions = 4

/// NewTable returns a frame table backed by npages pages of simulated
/// physical memory.
func NewTable(npages int) *Table {
	t := &Table{
		byAddr:    make(map[uintptr]*Record),
		evictions: semaphore.NewWeighted(maxConcurrentEvictions),
		pool:      make([]byte, npages*defs.PGSIZE),
		npages:    npages,
		nextAddr:  0x1000, // arbitrary non-zero kernel-virtual base
	}
	for i := 0; i < npages; i++ {
		t.freeSlots = append(t.freeSlots, i)
	}
	t.changed = sync.NewCond(&t.mu)
	return t
}

/// RequestFrame obtains a frame for page, pinned at birth. If the pool is
/// exhausted it runs eviction; if every frame is pinned it waits on the
/// table's condition and retries (spec.md §4.8).
func (t *Table) RequestFrame(page Page) uintptr {
	t.mu.Lock()
	for {
		if kaddr, ok := t.allocFreeLocked(page); ok {
			t.mu.Unlock()
			return kaddr
		}
		if t.pinned == len(t.byAddr) {
			t.changed.Wait()
			continue
		}
		t.mu.Unlock()
		if t.evictOne() {
			t.mu.Lock()
			continue
		}
		t.mu.Lock()
		t.changed.Wait()
	}
}

/// allocFreeLocked hands out a free page slot from the simulated pool if
/// one remains. t.mu must be held.
func (t *Table) allocFreeLocked(page Page) (uintptr, bool) {
	if len(t.freeSlots) == 0 {
		return 0, false
	}
	slot := t.freeSlots[len(t.freeSlots)-1]
	t.freeSlots = t.freeSlots[:len(t.freeSlots)-1]
	start := slot * defs.PGSIZE
	data := t.pool[start : start+defs.PGSIZE]
	kaddr := t.nextAddr
	t.nextAddr += defs.PGSIZE
	rec := &Record{KAddr: kaddr, Data: data, Page: page, pinned: true, slot: slot}
	t.byAddr[kaddr] = rec
	t.queue = append(t.queue, rec)
	t.pinned++
	return kaddr, true
}

/// evictOne runs the second-chance clock algorithm, evicting at most one
/// frame. It makes up to two passes over the queue, so a frame whose
/// accessed bit was cleared on the first pass is taken on the second.
/// Returns false if no frame could be evicted because every queued frame
/// is pinned (caller should wait and retry).
func (t *Table) evictOne() bool {
	t.evictions.Acquire(context.Background(), 1)
	defer t.evictions.Release(1)

	t.mu.Lock()
	n := 2 * len(t.queue)
	for i := 0; i < n; i++ {
		front := t.queue[0]
		t.queue = t.queue[1:]
		if front.pinned {
			t.queue = append(t.queue, front)
			continue
		}
		if front.Page.Accessed() {
			front.Page.ClearAccessed()
			t.queue = append(t.queue, front)
			continue
		}
		// Selected for eviction.
		delete(t.byAddr, front.KAddr)
		t.mu.Unlock()

		front.Page.ClearMapping()
		front.Page.Lock()
		front.Page.Evict(front.Data)
		front.Page.Unlock()

		t.mu.Lock()
		t.freeSlots = append(t.freeSlots, front.slot)
		t.changed.Broadcast()
		t.mu.Unlock()
		return true
	}
	t.mu.Unlock()
	return false
}

/// Pin marks kaddr's frame ineligible for eviction.
func (t *Table) Pin(kaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.byAddr[kaddr]; ok && !rec.pinned {
		rec.pinned = true
		t.pinned++
	}
}

/// Unpin marks kaddr's frame eligible for eviction again and wakes
/// anyone waiting for a frame to free up.
func (t *Table) Unpin(kaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.byAddr[kaddr]; ok && rec.pinned {
		rec.pinned = false
		t.pinned--
	}
	t.changed.Broadcast()
}

/// Free removes kaddr's frame from the table entirely (used when a
/// process tears down its address space).
func (t *Table) Free(kaddr uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.byAddr[kaddr]
	if !ok {
		return
	}
	if rec.pinned {
		t.pinned--
	}
	delete(t.byAddr, kaddr)
	for i, r := range t.queue {
		if r == rec {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			break
		}
	}
	t.freeSlots = append(t.freeSlots, rec.slot)
	t.changed.Broadcast()
}

/// Data returns the backing bytes for kaddr, or nil if unknown.
func (t *Table) Data(kaddr uintptr) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok := t.byAddr[kaddr]; ok {
		return rec.Data
	}
	return nil
}

/// Len reports how many frames are currently resident, for tests and
/// self-checks.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byAddr)
}

/// PinnedCount reports how many resident frames are currently pinned,
/// for internal/diag's D_STAT snapshot.
func (t *Table) PinnedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinned
}
