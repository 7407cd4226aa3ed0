package vm

import "github.com/louisch/pintos-03/internal/defs"

/// MapAddr is the page-fault handler: given a fault address, resolve it
/// to a resident frame and install the mapping, exactly per spec.md
/// §4.7's map_addr contract.
func (st *SupTable) MapAddr(faultAddr uintptr) (uintptr, defs.Err_t) {
	u := defs.PgRoundDown(faultAddr)
	seg := st.LookupSegment(u)
	if seg == nil {
		return 0, defs.EFAULT
	}
	return st.mapInSegment(seg, u)
}

func (st *SupTable) mapInSegment(seg *Segment, u uintptr) (uintptr, defs.Err_t) {
	seg.mu.Lock()
	p, ok := seg.pages[u]
	if !ok {
		p = &MappedPage{segment: seg, addr: u, swapSlot: defs.NotSwap, swap: st.swap}
		seg.pages[u] = p
	}
	seg.mu.Unlock()

	p.Lock()
	defer p.Unlock()

	if p.resident {
		return p.kaddr, 0
	}

	kaddr := st.frames.RequestFrame(p)
	data := st.frames.Data(kaddr)

	switch {
	case p.swapSlot != defs.NotSwap:
		st.swap.Retrieve(p.swapSlot, data)
		p.swapSlot = defs.NotSwap
	case seg.Backing != nil:
		if errc := st.readPageFromFile(seg, u, data); errc != 0 {
			st.frames.Free(kaddr)
			return 0, errc
		}
	default:
		for i := range data {
			data[i] = 0
		}
	}

	p.kaddr = kaddr
	p.resident = true
	st.frames.Unpin(kaddr)
	return kaddr, 0
}

/// readPageFromFile reads one page's worth of seg's backing file into
/// data, zero-filling whatever falls past read_bytes, grounded on
/// original_source/userprog/read_page.c (SPEC_FULL.md §4's supplemented
/// feature). Only the fault-in path calls it; eviction and teardown
/// write-back go through MappedPage.Evict and writeBackIfMmapped.
func (st *SupTable) readPageFromFile(seg *Segment, u uintptr, data []byte) defs.Err_t {
	offsetIntoSeg := int(u - seg.Base)
	pageReadBytes := seg.Backing.ReadBytes - offsetIntoSeg
	if pageReadBytes < 0 {
		pageReadBytes = 0
	}
	if pageReadBytes > defs.PGSIZE {
		pageReadBytes = defs.PGSIZE
	}

	if pageReadBytes > 0 {
		reentrant := st.fsLock.HeldBy(st.self)
		if !reentrant {
			st.fsLock.Acquire(st.self)
		}
		_, errc := seg.Backing.File.Read(data[:pageReadBytes], seg.Backing.Offset+offsetIntoSeg)
		if !reentrant {
			st.fsLock.Release(st.self)
		}
		if errc != 0 {
			return errc
		}
	}
	for i := pageReadBytes; i < defs.PGSIZE; i++ {
		data[i] = 0
	}
	return 0
}
