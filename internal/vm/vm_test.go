package vm

import (
	"testing"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/frame"
	"github.com/louisch/pintos-03/internal/fsfile"
	"github.com/louisch/pintos-03/internal/swap"
)

func newTestTable(npages int) *SupTable {
	frames := frame.NewTable(npages)
	swapDev := swap.New(16)
	fsLock := &fsfile.Lock{}
	return NewSupTable(frames, swapDev, fsLock, 1)
}

func TestCreateSegmentRejectsOverlap(t *testing.T) {
	st := newTestTable(4)
	if _, errc := st.CreateSegment(0x1000, true, defs.PGSIZE); errc != 0 {
		t.Fatalf("first segment: %v", errc)
	}
	if _, errc := st.CreateSegment(0x1000, true, defs.PGSIZE); errc != defs.EEXIST {
		t.Fatalf("overlapping segment: got %v, want EEXIST", errc)
	}
	if _, errc := st.CreateSegment(0x1000+defs.PGSIZE, true, defs.PGSIZE); errc != 0 {
		t.Fatalf("adjacent non-overlapping segment: %v", errc)
	}
}

func TestMapAddrZeroFillOnDemand(t *testing.T) {
	st := newTestTable(4)
	st.CreateSegment(0x2000, true, defs.PGSIZE)

	kaddr, errc := st.MapAddr(0x2000 + 10)
	if errc != 0 {
		t.Fatalf("MapAddr: %v", errc)
	}
	data := st.frames.Data(kaddr)
	for i, b := range data {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 (zero-fill)", i, b)
		}
	}
}

func TestMapAddrFileBacked(t *testing.T) {
	st := newTestTable(4)
	seg, _ := st.CreateSegment(0x3000, false, defs.PGSIZE)
	content := make([]byte, 100)
	for i := range content {
		content[i] = byte(i + 1)
	}
	f := fsfile.NewMemFile(content)
	st.SetFileData(seg, f, 0, 100, false)

	kaddr, errc := st.MapAddr(0x3000)
	if errc != 0 {
		t.Fatalf("MapAddr: %v", errc)
	}
	data := st.frames.Data(kaddr)
	for i := 0; i < 100; i++ {
		if data[i] != byte(i+1) {
			t.Fatalf("byte %d = %d, want %d", i, data[i], i+1)
		}
	}
	for i := 100; i < defs.PGSIZE; i++ {
		if data[i] != 0 {
			t.Fatalf("byte %d past read_bytes = %d, want 0", i, data[i])
		}
	}
}

func TestFaultEvictionRoundTrip(t *testing.T) {
	st := newTestTable(1) // only one physical frame forces eviction
	seg, _ := st.CreateSegment(0x4000, true, 2*defs.PGSIZE)

	k1, errc := st.MapAddr(0x4000)
	if errc != 0 {
		t.Fatalf("first MapAddr: %v", errc)
	}
	data1 := st.frames.Data(k1)
	data1[0] = 0xAB

	// Touching the second page with only one physical frame forces the
	// first page out to swap.
	_, errc = st.MapAddr(0x4000 + uintptr(defs.PGSIZE))
	if errc != 0 {
		t.Fatalf("second MapAddr: %v", errc)
	}

	// Fault the first page back in; bytes must round-trip through swap.
	k1Again, errc := st.MapAddr(0x4000)
	if errc != 0 {
		t.Fatalf("re-fault: %v", errc)
	}
	data := st.frames.Data(k1Again)
	if data[0] != 0xAB {
		t.Errorf("byte 0 after swap round-trip = %d, want 0xAB", data[0])
	}
	_ = seg
}

func TestStackGrowthHeuristic(t *testing.T) {
	st := newTestTable(4)
	const physBase = 0xc0000000
	stack, _ := st.CreateStackSegment(physBase)

	esp := uintptr(physBase - 20)
	// A fault 4 bytes below esp (a PUSH) is within the 64-byte slack.
	if !StackGrowthAllowed(stack, esp-4, esp) {
		t.Error("fault 4 bytes below esp should be allowed")
	}
	// A fault far below esp is rejected.
	if StackGrowthAllowed(stack, esp-4096, esp) {
		t.Error("fault far below esp should be rejected")
	}
}

func TestMapAddrWithStackGrowthRejectsFarFault(t *testing.T) {
	st := newTestTable(4)
	const physBase = 0xc0000000
	stack, _ := st.CreateStackSegment(physBase)
	esp := uintptr(physBase - 20)

	if _, errc := st.MapAddrWithStackGrowth(esp-4, esp, stack); errc != 0 {
		t.Errorf("near-esp fault should be accepted, got %v", errc)
	}
	if _, errc := st.MapAddrWithStackGrowth(physBase-StackSize+4096*3, esp, stack); errc != defs.EFAULT {
		t.Errorf("far-from-esp untouched fault should be rejected, got %v", errc)
	}
}
