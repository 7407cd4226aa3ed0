package mmap

import (
	"testing"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/frame"
	"github.com/louisch/pintos-03/internal/fsfile"
	"github.com/louisch/pintos-03/internal/swap"
	"github.com/louisch/pintos-03/internal/vm"
)

func newSup() *vm.SupTable {
	return vm.NewSupTable(frame.NewTable(8), swap.New(16), &fsfile.Lock{}, 1)
}

func TestMmapRejectsStdFds(t *testing.T) {
	sup := newSup()
	tbl := NewTable()
	f := fsfile.NewMemFile(make([]byte, 100))
	if _, errc := Mmap(sup, tbl, 0, f, 0x5000); errc != defs.EINVAL {
		t.Errorf("fd=0: got %v, want EINVAL", errc)
	}
	if _, errc := Mmap(sup, tbl, 1, f, 0x5000); errc != defs.EINVAL {
		t.Errorf("fd=1: got %v, want EINVAL", errc)
	}
}

func TestMmapRejectsZeroLength(t *testing.T) {
	sup := newSup()
	tbl := NewTable()
	f := fsfile.NewMemFile(nil)
	if _, errc := Mmap(sup, tbl, 2, f, 0x5000); errc != defs.EINVAL {
		t.Errorf("zero-length file: got %v, want EINVAL", errc)
	}
}

func TestMmapRejectsUnalignedAddr(t *testing.T) {
	sup := newSup()
	tbl := NewTable()
	f := fsfile.NewMemFile(make([]byte, 100))
	if _, errc := Mmap(sup, tbl, 2, f, 0x5001); errc != defs.EINVAL {
		t.Errorf("unaligned addr: got %v, want EINVAL", errc)
	}
}

func TestMmapTwoPagesZeroTail(t *testing.T) {
	sup := newSup()
	tbl := NewTable()
	content := make([]byte, defs.PGSIZE+1)
	for i := range content {
		content[i] = 1
	}
	f := fsfile.NewMemFile(content)

	id, errc := Mmap(sup, tbl, 2, f, 0x6000)
	if errc != 0 {
		t.Fatalf("Mmap: %v", errc)
	}

	kaddr, errc := sup.MapAddr(0x6000 + uintptr(defs.PGSIZE))
	if errc != 0 {
		t.Fatalf("MapAddr second page: %v", errc)
	}
	data := sup.Frames().Data(kaddr)
	if data[0] != 1 {
		t.Errorf("first byte of second page should be file content, got %d", data[0])
	}
	for i := 1; i < defs.PGSIZE; i++ {
		if data[i] != 0 {
			t.Fatalf("byte %d past read_bytes = %d, want 0", i, data[i])
		}
	}

	Munmap(sup, tbl, id)
	if sup.LookupSegment(0x6000) != nil {
		t.Error("segment should be freed after munmap")
	}
}

func TestMunmapUnknownIdIgnored(t *testing.T) {
	sup := newSup()
	tbl := NewTable()
	Munmap(sup, tbl, 999) // must not panic
}
