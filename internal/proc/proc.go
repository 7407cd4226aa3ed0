/// Package proc implements the process lifecycle: process descriptors,
/// persistent parent-child join records, and exec/wait/exit, exactly as
/// spec.md §4.5, supplemented with an explicit load-success flag per
/// SPEC_FULL.md §3.5 (original_source/userprog/process.c's load-failure
/// signalling, which the distilled spec folds into prose).
package proc

import (
	"fmt"
	"sync"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/fsfile"
	"github.com/louisch/pintos-03/internal/mmap"
	"github.com/louisch/pintos-03/internal/thread"
	"github.com/louisch/pintos-03/internal/vm"
)

/// firstUserFd is the smallest file descriptor handed out by Open;
/// 0 and 1 are reserved for console input/output (spec.md §3 Process
/// descriptor).
const firstUserFd = 2

/// PersistentRecord is the shared survival state of a parent/child pair
/// (spec.md §3 Persistent record).
type PersistentRecord struct {
	mu         sync.Mutex
	ChildPid   defs.Pid_t
	ExitStatus int
	RefCount   int
	WaitSema   *thread.Semaphore
	Proc       *Process // nil once the child has fully exited
	LoadDone   bool
	LoadOk     bool
}

func newPersistentRecord(childPid defs.Pid_t) *PersistentRecord {
	return &PersistentRecord{
		ChildPid:   childPid,
		ExitStatus: defs.Abnormal,
		RefCount:   2,
		WaitSema:   thread.NewSemaphore(0),
	}
}

/// decRef drops the record's reference count by one; a record that
/// reaches zero becomes eligible for garbage collection (there is no
/// explicit free list — Go's GC reclaims it once unreferenced, which
/// satisfies spec.md §8 invariant 5 just as well as an explicit free).
func (r *PersistentRecord) decRef() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RefCount--
}

/// Process is one live process descriptor (spec.md §3).
type Process struct {
	mu       sync.Mutex
	Pid      defs.Pid_t
	Name     string
	Main     *thread.Thread
	Files    map[int]fsfile.File
	nextFd   int
	Children map[defs.Pid_t]*PersistentRecord
	Record   *PersistentRecord // this process's own record, shared with its parent
	ExecFile fsfile.File       // the running executable, deny-write until exit

	Sup   *vm.SupTable
	Mmaps *mmap.Table
}

/// NewProcess returns a process descriptor with an empty fd table and no
/// children.
func NewProcess(pid defs.Pid_t, name string, record *PersistentRecord) *Process {
	return &Process{
		Pid:      pid,
		Name:     name,
		Files:    make(map[int]fsfile.File),
		nextFd:   firstUserFd,
		Children: make(map[defs.Pid_t]*PersistentRecord),
		Record:   record,
	}
}

/// NewInitProcess returns the first process in the system. It has no
/// parent to share a persistent record with, so its record starts at a
/// reference count of 1 (only the process itself, and the eventual
/// exit-time decrement, ever touch it) rather than exec's usual 2;
/// nothing ever waits on it.
func NewInitProcess(pid defs.Pid_t, name string, basePriority int) *Process {
	rec := &PersistentRecord{
		ChildPid:   pid,
		ExitStatus: defs.Abnormal,
		RefCount:   1,
		WaitSema:   thread.NewSemaphore(0),
	}
	p := NewProcess(pid, name, rec)
	p.Main = thread.New(defs.Tid_t(pid), name, basePriority, 0)
	return p
}

/// OpenFile installs f in the process's fd table and returns its
/// descriptor.
func (p *Process) OpenFile(f fsfile.File) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	fd := p.nextFd
	p.nextFd++
	p.Files[fd] = f
	return fd
}

/// GetFile looks up fd.
func (p *Process) GetFile(fd int) (fsfile.File, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f, ok := p.Files[fd]
	return f, ok
}

/// CloseFile closes and removes fd.
func (p *Process) CloseFile(fd int) defs.Err_t {
	p.mu.Lock()
	f, ok := p.Files[fd]
	delete(p.Files, fd)
	p.mu.Unlock()
	if !ok {
		return defs.EBADF
	}
	return f.Close()
}

/// Starter is the child-side work exec hands off to a fresh process:
/// load the executable, build its address space, and report whether it
/// succeeded (spec.md §4.5's start_process).
type Starter func(child *Process) defs.Err_t

/// Exec creates a child process under parent, runs start via a goroutine
/// standing in for start_process, and blocks until start either signals
/// successful load or fails. On success it returns the child's pid; on
/// failure the child never reaches user mode and its persistent record
/// reports the abnormal exit status (spec.md §4.5).
func Exec(parent *Process, childPid defs.Pid_t, name string, sched *thread.Scheduler, childPriority int, start Starter) (defs.Pid_t, defs.Err_t) {
	rec := newPersistentRecord(childPid)
	child := NewProcess(childPid, name, rec)
	rec.Proc = child

	parent.mu.Lock()
	parent.Children[childPid] = rec
	parent.mu.Unlock()

	childThread := thread.New(defs.Tid_t(childPid), name, childPriority, 0)
	child.Main = childThread
	sched.AddReady(childThread)

	go func() {
		errc := start(child)
		rec.mu.Lock()
		rec.LoadDone = true
		rec.LoadOk = errc == 0
		rec.mu.Unlock()
		rec.WaitSema.Up()
		if errc != 0 {
			child.Exit(defs.Abnormal)
		}
	}()

	rec.WaitSema.Down(parent.Main)

	rec.mu.Lock()
	ok := rec.LoadOk
	rec.mu.Unlock()
	if !ok {
		return 0, defs.EINVAL
	}
	return childPid, 0
}

/// Wait looks up pid among the caller's children; if absent (never a
/// child, or already waited for) it returns the abnormal sentinel
/// immediately. Otherwise it blocks until the child exits, reads its
/// status, and retires the persistent record so a repeat wait on the
/// same pid fails by lookup (spec.md §4.5).
func (p *Process) Wait(pid defs.Pid_t) int {
	p.mu.Lock()
	rec, ok := p.Children[pid]
	if ok {
		delete(p.Children, pid)
	}
	p.mu.Unlock()
	if !ok {
		return defs.Abnormal
	}

	rec.WaitSema.Down(p.Main)

	rec.mu.Lock()
	status := rec.ExitStatus
	rec.mu.Unlock()
	rec.decRef()
	return status
}

/// Exit publishes status, wakes a waiting parent, releases this
/// process's own reference to its persistent record, closes every open
/// file (re-allowing writes on the executable first), orphans its
/// children's persistent records, tears down its address space, and
/// prints the exit line (spec.md §4.5).
func (p *Process) Exit(status int) {
	rec := p.Record
	rec.mu.Lock()
	rec.ExitStatus = status
	rec.mu.Unlock()
	rec.WaitSema.Up()
	rec.decRef()

	p.mu.Lock()
	files := p.Files
	p.Files = nil
	execFile := p.ExecFile
	p.ExecFile = nil
	children := p.Children
	p.Children = nil
	p.mu.Unlock()

	for _, f := range files {
		f.Close()
	}
	if execFile != nil {
		execFile.AllowWrite()
		execFile.Close()
	}
	for _, crec := range children {
		crec.decRef()
	}

	if p.Sup != nil {
		if p.Mmaps != nil {
			mmap.FreeAll(p.Sup, p.Mmaps)
		}
		p.Sup.FreeAll()
	}

	rec.mu.Lock()
	rec.Proc = nil
	rec.mu.Unlock()

	fmt.Printf("%s: exit(%d)\n", p.Name, status)
}
