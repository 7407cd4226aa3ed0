package proc

import (
	"testing"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/fsfile"
	"github.com/louisch/pintos-03/internal/thread"
)

// TestExecWaitRoundTrip reproduces spec.md §8 scenario 2: a parent execs
// a child, waits for it, observes the child's exit(42), and a second
// wait for the same pid returns the abnormal sentinel.
func TestExecWaitRoundTrip(t *testing.T) {
	sched := thread.NewScheduler(false)
	parentRecord := newPersistentRecord(1)
	parent := NewProcess(1, "parent", parentRecord)
	parent.Main = thread.New(1, "parent", thread.PriDefault, 0)

	var child *Process
	pid, errc := Exec(parent, 2, "child", sched, thread.PriDefault, func(c *Process) defs.Err_t {
		child = c
		return 0
	})
	if errc != 0 {
		t.Fatalf("Exec: %v", errc)
	}
	if pid != 2 {
		t.Fatalf("Exec returned pid %d, want 2", pid)
	}

	child.Exit(42)

	status := parent.Wait(pid)
	if status != 42 {
		t.Fatalf("Wait returned %d, want 42", status)
	}

	status = parent.Wait(pid)
	if status != defs.Abnormal {
		t.Fatalf("second Wait returned %d, want %d", status, defs.Abnormal)
	}
}

// TestExecLoadFailureReportsAbnormal covers the supplemented load-failure
// signal: a child whose loader fails never reaches user mode, and exec
// reports the failure to the caller instead of a pid.
func TestExecLoadFailureReportsAbnormal(t *testing.T) {
	sched := thread.NewScheduler(false)
	parentRecord := newPersistentRecord(1)
	parent := NewProcess(1, "parent", parentRecord)
	parent.Main = thread.New(1, "parent", thread.PriDefault, 0)

	_, errc := Exec(parent, 2, "badelf", sched, thread.PriDefault, func(child *Process) defs.Err_t {
		return defs.EINVAL
	})
	if errc == 0 {
		t.Fatalf("Exec should report the load failure")
	}

	status := parent.Wait(2)
	if status != defs.Abnormal {
		t.Fatalf("Wait on a failed-load child returned %d, want %d", status, defs.Abnormal)
	}
}

// TestWaitOnNonChildIsAbnormal covers waiting for a pid that was never a
// child (or was already waited for).
func TestWaitOnNonChildIsAbnormal(t *testing.T) {
	record := newPersistentRecord(1)
	p := NewProcess(1, "solo", record)
	p.Main = thread.New(1, "solo", thread.PriDefault, 0)

	if got := p.Wait(99); got != defs.Abnormal {
		t.Fatalf("Wait on unknown pid returned %d, want %d", got, defs.Abnormal)
	}
}

// TestFdTableStartsAtTwo ensures fd 0/1 stay reserved for the console.
func TestFdTableStartsAtTwo(t *testing.T) {
	record := newPersistentRecord(1)
	p := NewProcess(1, "solo", record)
	f := &fakeFile{}
	fd := p.OpenFile(f)
	if fd != firstUserFd {
		t.Fatalf("first OpenFile returned fd %d, want %d", fd, firstUserFd)
	}
}

type fakeFile struct{ closed bool }

func (f *fakeFile) Read(buf []byte, off int) (int, defs.Err_t)  { return 0, 0 }
func (f *fakeFile) Write(buf []byte, off int) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFile) Length() int                                 { return 0 }
func (f *fakeFile) Close() defs.Err_t                           { f.closed = true; return 0 }
func (f *fakeFile) DenyWrite()                                  {}
func (f *fakeFile) AllowWrite()                                 {}
func (f *fakeFile) Reopen() (fsfile.File, defs.Err_t)           { return f, 0 }
