/// Package swap implements the slot allocator over a block device that
/// backs evicted pages, grounded on spec.md §4.9 and the free-list merge
/// logic of original_source/vm/swap.c. Concurrent sector writes to the
/// simulated device are bounded with golang.org/x/sync/semaphore, per
/// SPEC_FULL.md §2's domain-stack wiring (models a finite DMA queue depth
/// rather than letting an unbounded number of evictions hit the device at
/// once).
package swap

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/louisch/pintos-03/internal/defs"
)

/// SectorsPerPage is how many device sectors one page occupies; device
/// sector size is the conventional 512 bytes.
const (
	sectorSize     = 512
	SectorsPerPage = defs.PGSIZE / sectorSize
)

/// maxInFlightWrites bounds how many goroutines may be mid-write to the
/// simulated device concurrently.
const maxInFlightWrites = 4

/// freeRange is a half-open slot interval [Start, End).
type freeRange struct {
	Start, End int
}

/// Device is the block device whose role is "swap" (spec.md's Swap
/// table). Slot numbers are page-granular, not sector-granular.
type Device struct {
	mu       sync.Mutex
	free     []freeRange
	sectors  map[int][]byte // sector number -> sector contents, the fake backing store
	inflight *semaphore.Weighted
}

/// New returns a swap device with numSlots page-sized slots, all free.
func New(numSlots int) *Device {
	d := &Device{
		sectors:  make(map[int][]byte),
		inflight: semaphore.NewWeighted(maxInFlightWrites),
	}
	if numSlots > 0 {
		d.free = []freeRange{{Start: 0, End: numSlots}}
	}
	return d
}

/// Write allocates the first free slot and writes page across its
/// SectorsPerPage sectors, returning the slot number. Panics if the
/// device is full — out-of-swap is a kernel panic per spec.md §7.
func (d *Device) Write(page []byte) int {
	if len(page) != defs.PGSIZE {
		panic("swap: page must be exactly PGSIZE bytes")
	}
	d.mu.Lock()
	if len(d.free) == 0 {
		d.mu.Unlock()
		panic("swap: device exhausted")
	}
	slot := d.free[0].Start
	d.free[0].Start++
	if d.free[0].Start == d.free[0].End {
		d.free = d.free[1:]
	}
	d.mu.Unlock()

	d.inflight.Acquire(context.Background(), 1)
	defer d.inflight.Release(1)

	base := slot * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		sector := make([]byte, sectorSize)
		copy(sector, page[i*sectorSize:(i+1)*sectorSize])
		d.mu.Lock()
		d.sectors[base+i] = sector
		d.mu.Unlock()
	}
	return slot
}

/// Retrieve reads slot's page into page (which must be PGSIZE bytes) and
/// frees the slot.
func (d *Device) Retrieve(slot int, page []byte) {
	if len(page) != defs.PGSIZE {
		panic("swap: page must be exactly PGSIZE bytes")
	}
	base := slot * SectorsPerPage
	for i := 0; i < SectorsPerPage; i++ {
		d.mu.Lock()
		sector := d.sectors[base+i]
		delete(d.sectors, base+i)
		d.mu.Unlock()
		copy(page[i*sectorSize:(i+1)*sectorSize], sector)
	}
	d.FreeSlot(slot)
}

/// FreeSlot returns slot to the free list, merging with adjacent ranges
/// so the list stays sorted, disjoint and maximally merged (spec.md §8
/// invariant 4).
func (d *Device) FreeSlot(slot int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := 0
	for i < len(d.free) && d.free[i].Start < slot {
		i++
	}

	mergeLeft := i > 0 && d.free[i-1].End == slot
	mergeRight := i < len(d.free) && d.free[i].Start == slot+1

	switch {
	case mergeLeft && mergeRight:
		d.free[i-1].End = d.free[i].End
		d.free = append(d.free[:i], d.free[i+1:]...)
	case mergeLeft:
		d.free[i-1].End = slot + 1
	case mergeRight:
		d.free[i].Start = slot
	default:
		d.free = append(d.free, freeRange{})
		copy(d.free[i+1:], d.free[i:])
		d.free[i] = freeRange{Start: slot, End: slot + 1}
	}
}

/// FreeRanges returns a snapshot of the free list, for invariant checks
/// and tests.
func (d *Device) FreeRanges() [][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][2]int, len(d.free))
	for i, r := range d.free {
		out[i] = [2]int{r.Start, r.End}
	}
	return out
}
