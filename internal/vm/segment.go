/// Package vm implements the per-process supplementary page table: the
/// segment list, mapped-page records, the page-fault handler (MapAddr),
/// and the stack-growth heuristic, grounded on spec.md §4.7/§4.11 and
/// original_source/vm/page.c.
package vm

import (
	"sync"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/frame"
)

/// FileBacking describes a segment's optional file-backed source.
type FileBacking struct {
	File      File
	Offset    int
	ReadBytes int
	Mmapped   bool
}

/// File is the subset of fsfile.File the VM core reads/writes through.
/// Declared locally (rather than importing internal/fsfile) so vm has no
/// dependency on the filesystem lock's concrete type; cmd/kernel wires the
/// two together.
type File interface {
	Read(buf []byte, off int) (int, defs.Err_t)
	Write(buf []byte, off int) (int, defs.Err_t)
}

/// FSLock is the global filesystem mutex interface the fault path
/// reentrantly acquires, matching fsfile.Lock's shape.
type FSLock interface {
	Acquire(self defs.Tid_t)
	Release(self defs.Tid_t)
	HeldBy(self defs.Tid_t) bool
}

/// Segment is a contiguous range of user address space sharing one
/// backing policy and writability (spec.md §3 Segment).
type Segment struct {
	Base     uintptr
	Size     int
	Writable bool
	Backing  *FileBacking // nil means zero-fill on demand

	mu     sync.Mutex
	pages  map[uintptr]*MappedPage
}

func (s *Segment) contains(addr uintptr) bool {
	return addr >= s.Base && addr < s.Base+uintptr(s.Size)
}

/// MappedPage is the record of a single page once touched within its
/// segment (spec.md §3 Mapped page).
type MappedPage struct {
	mu       sync.Mutex
	segment  *Segment
	addr     uintptr
	swapSlot int
	accessed bool
	kaddr    uintptr
	resident bool
	swap     SwapDevice // for writing out on eviction when not file-backed-in-range
}

func (p *MappedPage) Accessed() bool { return p.accessed }
func (p *MappedPage) ClearAccessed() { p.accessed = false }
func (p *MappedPage) Lock()          { p.mu.Lock() }
func (p *MappedPage) Unlock()        { p.mu.Unlock() }

/// ClearMapping simulates removing this page's page-directory entry.
/// There is no real MMU here; residency is tracked purely by p.resident.
func (p *MappedPage) ClearMapping() {
	p.resident = false
	p.kaddr = 0
}

/// Evict writes the page's current frame bytes back to swap or, for an
/// mmapped page within its file's read_bytes range (clean or dirty; there
/// is no dirty tracking), to the backing file — the path frame.Table's second-chance scan calls (spec.md
/// §4.8's eviction, case (i)/(ii)).
func (p *MappedPage) Evict(data []byte) (int, defs.Err_t) {
	if p.segment.Backing != nil && p.segment.Backing.Mmapped {
		offset := int(p.addr - p.segment.Base)
		if offset < p.segment.Backing.ReadBytes {
			n := p.segment.Backing.ReadBytes - offset
			if n > defs.PGSIZE {
				n = defs.PGSIZE
			}
			if _, errc := p.segment.Backing.File.Write(data[:n], p.segment.Backing.Offset+offset); errc != 0 {
				return defs.NotSwap, errc
			}
			return defs.NotSwap, 0
		}
	}
	slot := p.swap.Write(data)
	p.swapSlot = slot
	return slot, 0
}

/// writeBackIfMmapped writes data to the backing file if this page is a
/// clean-or-dirty mmapped page within its segment's read_bytes range, and
/// is a no-op otherwise. Used by teardown paths (process exit, munmap)
/// that want to flush mmapped pages without swapping out ordinary
/// anonymous ones (spec.md §4.5: "writing dirty mmapped pages back").
func (p *MappedPage) writeBackIfMmapped(data []byte) defs.Err_t {
	if p.segment.Backing == nil || !p.segment.Backing.Mmapped {
		return 0
	}
	offset := int(p.addr - p.segment.Base)
	if offset >= p.segment.Backing.ReadBytes {
		return 0
	}
	n := p.segment.Backing.ReadBytes - offset
	if n > defs.PGSIZE {
		n = defs.PGSIZE
	}
	_, errc := p.segment.Backing.File.Write(data[:n], p.segment.Backing.Offset+offset)
	return errc
}

/// SwapDevice is the subset of *swap.Device the VM core writes evicted
/// pages to and reads them back from. Declared locally to avoid an
/// import cycle between vm and swap (neither needs the other's package,
/// only this narrow shape).
type SwapDevice interface {
	Write(page []byte) int
	Retrieve(slot int, page []byte)
}

/// SupTable is one process's supplementary page table: an ordered
/// collection of segments (spec.md §3).
type SupTable struct {
	mu       sync.Mutex
	segments []*Segment
	frames   *frame.Table
	swap     SwapDevice
	fsLock   FSLock
	self     defs.Tid_t
}

/// NewSupTable returns an empty supplementary page table backed by the
/// given frame table and swap device.
func NewSupTable(frames *frame.Table, swapDev SwapDevice, fsLock FSLock, self defs.Tid_t) *SupTable {
	return &SupTable{frames: frames, swap: swapDev, fsLock: fsLock, self: self}
}

/// Frames returns the frame table backing this process's pages, used by
/// internal/diag for self-check snapshots and by tests that need to read
/// a mapped page's resident bytes directly.
func (st *SupTable) Frames() *frame.Table {
	return st.frames
}

/// CreateSegment inserts a new segment, failing if it overlaps an
/// existing one (spec.md §4.7).
func (st *SupTable) CreateSegment(base uintptr, writable bool, size int) (*Segment, defs.Err_t) {
	st.mu.Lock()
	defer st.mu.Unlock()
	newSeg := &Segment{Base: base, Size: size, Writable: writable, pages: make(map[uintptr]*MappedPage)}
	for _, s := range st.segments {
		if overlaps(s, newSeg) {
			return nil, defs.EEXIST
		}
	}
	st.segments = append(st.segments, newSeg)
	return newSeg, 0
}

func overlaps(a, b *Segment) bool {
	aEnd := a.Base + uintptr(a.Size)
	bEnd := b.Base + uintptr(b.Size)
	return a.Base < bEnd && b.Base < aEnd
}

/// SetFileData attaches file backing to segment (spec.md §4.7).
func (st *SupTable) SetFileData(segment *Segment, file File, offset, readBytes int, mmapped bool) {
	segment.Backing = &FileBacking{File: file, Offset: offset, ReadBytes: readBytes, Mmapped: mmapped}
}

/// LookupSegment returns the segment containing addr, or nil.
func (st *SupTable) LookupSegment(addr uintptr) *Segment {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.segments {
		if s.contains(addr) {
			return s
		}
	}
	return nil
}

/// FreeSegment tears down segment: every resident mmapped page within
/// read_bytes is written back to its file (clean or dirty; there is no
/// dirty tracking), every frame is freed, and the segment is removed from
/// the table.
func (st *SupTable) FreeSegment(segment *Segment) {
	segment.mu.Lock()
	pages := make([]*MappedPage, 0, len(segment.pages))
	for _, p := range segment.pages {
		pages = append(pages, p)
	}
	segment.mu.Unlock()

	for _, p := range pages {
		p.mu.Lock()
		if p.resident {
			data := st.frames.Data(p.kaddr)
			if data != nil {
				p.writeBackIfMmapped(data)
			}
			st.frames.Free(p.kaddr)
		}
		p.mu.Unlock()
	}

	st.mu.Lock()
	for i, s := range st.segments {
		if s == segment {
			st.segments = append(st.segments[:i], st.segments[i+1:]...)
			break
		}
	}
	st.mu.Unlock()
}

/// FreeAll tears down every segment.
func (st *SupTable) FreeAll() {
	st.mu.Lock()
	segs := append([]*Segment(nil), st.segments...)
	st.mu.Unlock()
	for _, s := range segs {
		st.FreeSegment(s)
	}
}
