/// Package mmap implements the user-visible memory-mapped-file handles
/// layered on internal/vm segments, exactly as spec.md §4.10.
package mmap

import (
	"sync"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/fsfile"
	"github.com/louisch/pintos-03/internal/vm"
)

/// File is the reopenable file handle mmap works with. It is simply
/// fsfile.File under another name: earlier packages in this module (vm,
/// frame) declare their own narrow local interfaces to avoid a real
/// import cycle, but fsfile never imports mmap, so there is no cycle to
/// avoid here — aliasing keeps every fsfile.File (including the process
/// fd table's entries) usable directly, without the subtly-broken
/// "structurally similar but nominally distinct interface" trap that
/// comes from redeclaring Reopen's return type under a different name.
type File = fsfile.File

/// Record is one process's memory-mapped-file entry (spec.md §3 Mmap
/// record).
type Record struct {
	MapId   int
	Segment *vm.Segment
	File    File
}

/// Table is a process's mmap-id counter plus mmap table.
type Table struct {
	mu      sync.Mutex
	nextId  int
	records map[int]*Record
}

/// NewTable returns an empty mmap table.
func NewTable() *Table {
	return &Table{records: make(map[int]*Record), nextId: 1}
}

/// Mmap maps fd's file at addr, per spec.md §4.10's rejection list:
/// fd must not be stdin/stdout, addr must be non-zero and page-aligned,
/// the file must be non-empty, and no page of the requested range may
/// already be covered by an existing segment.
func Mmap(sup *vm.SupTable, table *Table, fd int, file File, addr uintptr) (int, defs.Err_t) {
	if fd == 0 || fd == 1 {
		return 0, defs.EINVAL
	}
	if addr == 0 || addr%defs.PGSIZE != 0 {
		return 0, defs.EINVAL
	}
	length := file.Length()
	if length == 0 {
		return 0, defs.EINVAL
	}

	numPages := (length + defs.PGSIZE - 1) / defs.PGSIZE
	size := numPages * defs.PGSIZE

	for p := 0; p < numPages; p++ {
		if sup.LookupSegment(addr + uintptr(p*defs.PGSIZE)) != nil {
			return 0, defs.EINVAL
		}
	}

	reopened, errc := file.Reopen()
	if errc != 0 {
		return 0, errc
	}

	seg, errc := sup.CreateSegment(addr, true, size)
	if errc != 0 {
		reopened.Close()
		return 0, errc
	}
	sup.SetFileData(seg, reopened, 0, length, true)

	table.mu.Lock()
	id := table.nextId
	table.nextId++
	table.records[id] = &Record{MapId: id, Segment: seg, File: reopened}
	table.mu.Unlock()

	return id, 0
}

/// Munmap frees mapid's segment, writing back every dirty resident page
/// via the same path eviction uses, then closes the reopened handle. A
/// mapid not owned by this table is silently ignored (spec.md §9 Open
/// Question, decided).
func Munmap(sup *vm.SupTable, table *Table, mapid int) {
	table.mu.Lock()
	rec, ok := table.records[mapid]
	if ok {
		delete(table.records, mapid)
	}
	table.mu.Unlock()
	if !ok {
		return
	}

	sup.FreeSegment(rec.Segment)
	rec.File.Close()
}

/// FreeAll unmaps every mapping in the table, used by process exit.
func FreeAll(sup *vm.SupTable, table *Table) {
	table.mu.Lock()
	ids := make([]int, 0, len(table.records))
	for id := range table.records {
		ids = append(ids, id)
	}
	table.mu.Unlock()
	for _, id := range ids {
		Munmap(sup, table, id)
	}
}
