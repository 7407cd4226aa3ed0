package syscall

import (
	"testing"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/frame"
	"github.com/louisch/pintos-03/internal/fsfile"
	"github.com/louisch/pintos-03/internal/mmap"
	"github.com/louisch/pintos-03/internal/proc"
	"github.com/louisch/pintos-03/internal/swap"
	"github.com/louisch/pintos-03/internal/thread"
	"github.com/louisch/pintos-03/internal/vm"
)

const userBuf = 0x2000

func newTestContext(t *testing.T) (*Context, *proc.Process) {
	t.Helper()
	p := proc.NewInitProcess(1, "test", thread.PriDefault)
	sup := vm.NewSupTable(frame.NewTable(16), swap.New(32), &fsfile.Lock{}, p.Main.Id)
	if _, errc := sup.CreateSegment(userBuf, true, defs.PGSIZE*4); errc != 0 {
		t.Fatalf("CreateSegment: %v", errc)
	}
	p.Sup = sup
	p.Mmaps = mmap.NewTable()

	sched := thread.NewScheduler(false)
	fs := fsfile.NewMemFS()
	k := NewKernel(sched, fs)
	ctx := NewContext(k, p, nil)
	return ctx, p
}

// writeUser is a test-only helper that pokes bytes directly into a
// process's address space via the same fault path user code would take.
func writeUser(t *testing.T, sup *vm.SupTable, addr uintptr, data []byte) {
	t.Helper()
	if errc := writeUserBytes(sup, addr, data); errc != 0 {
		t.Fatalf("writeUserBytes: %v", errc)
	}
}

func TestConsoleWriteChunksAt256Bytes(t *testing.T) {
	ctx, p := newTestContext(t)
	buf := make([]byte, 300)
	for i := range buf {
		buf[i] = byte(i)
	}
	writeUser(t, p.Sup, userBuf, buf)

	var chunkSizes []int
	ctx.Out = func(chunk []byte) { chunkSizes = append(chunkSizes, len(chunk)) }

	n := ctx.Write(1, userBuf, 300)
	if n != 300 {
		t.Fatalf("Write returned %d, want 300", n)
	}
	if len(chunkSizes) != 2 || chunkSizes[0] != 256 || chunkSizes[1] != 44 {
		t.Fatalf("chunk sizes = %v, want [256 44]", chunkSizes)
	}
}

func TestCreateOpenWriteReadRoundTrip(t *testing.T) {
	ctx, p := newTestContext(t)

	nameBytes := append([]byte("report.txt"), 0)
	writeUser(t, p.Sup, userBuf, nameBytes)

	if ok := ctx.Create(userBuf, 128); !ok {
		t.Fatal("Create failed")
	}

	fd := ctx.Open(userBuf)
	if fd < 2 {
		t.Fatalf("Open returned fd %d", fd)
	}

	payload := []byte("hello, kernel")
	writeUser(t, p.Sup, userBuf+defs.PGSIZE, payload)

	written := ctx.Write(fd, userBuf+defs.PGSIZE, len(payload))
	if written != len(payload) {
		t.Fatalf("Write returned %d, want %d", written, len(payload))
	}

	ctx.Seek(fd, 0)
	if tell := ctx.Tell(fd); tell != 0 {
		t.Fatalf("Tell after Seek(0) = %d, want 0", tell)
	}

	readBack := ctx.Read(fd, userBuf+2*defs.PGSIZE, len(payload))
	if readBack != len(payload) {
		t.Fatalf("Read returned %d, want %d", readBack, len(payload))
	}

	got, errc := readUserBytes(p.Sup, userBuf+2*defs.PGSIZE, len(payload))
	if errc != 0 {
		t.Fatalf("readUserBytes: %v", errc)
	}
	if string(got) != string(payload) {
		t.Fatalf("round-tripped bytes = %q, want %q", got, payload)
	}

	ctx.Close(fd)
}

func TestRemoveUnknownFileReturnsFalse(t *testing.T) {
	ctx, p := newTestContext(t)
	nameBytes := append([]byte("missing.txt"), 0)
	writeUser(t, p.Sup, userBuf, nameBytes)

	if ok := ctx.Remove(userBuf); ok {
		t.Fatal("Remove of a nonexistent file should return false")
	}
}

func TestReadRejectsFdOneAndWriteRejectsFdZero(t *testing.T) {
	ctx, _ := newTestContext(t)
	if got := ctx.Read(1, userBuf, 10); got != defs.Abnormal {
		t.Fatalf("Read(fd=1) = %d, want %d", got, defs.Abnormal)
	}
	if got := ctx.Write(0, userBuf, 10); got != defs.Abnormal {
		t.Fatalf("Write(fd=0) = %d, want %d", got, defs.Abnormal)
	}
}

func TestNullAndKernelAddressesRejected(t *testing.T) {
	ctx, _ := newTestContext(t)
	if got := ctx.Write(1, 0, 10); got != defs.Abnormal {
		t.Fatalf("Write with null address = %d, want %d", got, defs.Abnormal)
	}
	if got := ctx.Write(1, KernelBase, 10); got != defs.Abnormal {
		t.Fatalf("Write with kernel address = %d, want %d", got, defs.Abnormal)
	}
}

func TestCreateRejectsOverlongName(t *testing.T) {
	ctx, p := newTestContext(t)
	long := make([]byte, maxPathLen+10)
	for i := range long {
		long[i] = 'a'
	}
	long = append(long, 0)
	writeUser(t, p.Sup, userBuf, long)

	if ok := ctx.Create(userBuf, 10); ok {
		t.Fatal("Create should reject a name past the max length")
	}
}
