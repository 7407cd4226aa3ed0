/// Package syscall implements the user/kernel ABI: argument validation
/// against the supplementary page table, the filesystem-lock discipline,
/// and the fifteen call handlers of spec.md §4.6/§6.
package syscall

import (
	"strings"
	"sync/atomic"

	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/fsfile"
	"github.com/louisch/pintos-03/internal/mmap"
	"github.com/louisch/pintos-03/internal/proc"
	"github.com/louisch/pintos-03/internal/thread"
)

/// maxPathLen bounds create/remove/open's filename argument;
/// maxCmdlineLen bounds exec's command-line argument (spec.md §4.6:
/// "String-shaped arguments are validated up to a maximum length").
const (
	maxPathLen    = 64
	maxCmdlineLen = 128
)

/// Kernel is the process-independent state every Context shares: the
/// scheduler, the filesystem namespace and its lock, and the pid
/// allocator (spec.md §6's external interfaces, minus the boot-time
/// command line, which cmd/kernel parses on its own).
type Kernel struct {
	Sched   *thread.Scheduler
	FS      fsfile.FS
	FSLock  *fsfile.Lock
	nextPid int64
}

/// NewKernel returns a Kernel wired to sched and fs.
func NewKernel(sched *thread.Scheduler, fs fsfile.FS) *Kernel {
	return &Kernel{Sched: sched, FS: fs, FSLock: &fsfile.Lock{}}
}

/// AllocPid hands out the next pid. Exported so cmd/kernel's boot harness
/// can allocate pids for the processes it execs directly, the same way
/// the Exec syscall handler does.
func (k *Kernel) AllocPid() defs.Pid_t {
	return defs.Pid_t(atomic.AddInt64(&k.nextPid, 1))
}

/// Context dispatches every syscall trapped by one running process.
type Context struct {
	K    *Kernel
	Proc *proc.Process
	Out  putbufFunc

	positions map[int]int
}

/// NewContext returns a dispatcher for proc, writing console output
/// through out (nil uses a discarding sink).
func NewContext(k *Kernel, p *proc.Process, out putbufFunc) *Context {
	if out == nil {
		out = func([]byte) {}
	}
	return &Context{K: k, Proc: p, Out: out, positions: make(map[int]int)}
}

func (ctx *Context) self() defs.Tid_t {
	return ctx.Proc.Main.Id
}

/// killOnFault terminates the calling process with the abnormal exit
/// status, matching the error taxonomy's "bad user pointer" policy
/// (spec.md §7).
func (ctx *Context) killOnFault() {
	ctx.Proc.Exit(defs.Abnormal)
}

/// failString turns a readUserString error into the caller's response: a
/// bad pointer is fatal to the calling thread, but a string that is
/// simply too long is an ordinary failed argument and only fails the
/// call (spec.md §7 distinguishes "bad user pointer" from nothing named
/// for ENAMETOOLONG, so it falls under the general "local" policy).
func (ctx *Context) failString(errc defs.Err_t) {
	if errc == defs.EFAULT {
		ctx.killOnFault()
	}
}

/// Halt never returns, matching the ABI table; the boot harness supplies
/// the actual shutdown behaviour by exiting the process that calls it.
func (ctx *Context) Halt(shutdown func()) {
	shutdown()
}

/// Exit implements call 1.
func (ctx *Context) Exit(status int) {
	ctx.Proc.Exit(status)
}

/// Exec implements call 2. start performs the loader's work (building the
/// child's address space); it is supplied by the caller because ELF
/// loading is an external collaborator (spec.md §1, §3.12).
func (ctx *Context) Exec(cmdAddr uintptr, start func(cmdline string, child *proc.Process) defs.Err_t) int {
	cmd, errc := readUserString(ctx.Proc.Sup, cmdAddr, maxCmdlineLen)
	if errc != 0 {
		ctx.failString(errc)
		return defs.Abnormal
	}
	cmdline := cmd.String()
	name := cmdline
	if i := strings.IndexByte(cmdline, ' '); i >= 0 {
		name = cmdline[:i]
	}

	pid := ctx.K.AllocPid()
	childPid, errc := proc.Exec(ctx.Proc, pid, name, ctx.K.Sched, thread.PriDefault, func(child *proc.Process) defs.Err_t {
		return start(cmdline, child)
	})
	if errc != 0 {
		return defs.Abnormal
	}
	return int(childPid)
}

/// Wait implements call 3.
func (ctx *Context) Wait(pid int) int {
	return ctx.Proc.Wait(defs.Pid_t(pid))
}

/// Create implements call 4.
func (ctx *Context) Create(nameAddr uintptr, size int) bool {
	name, errc := readUserString(ctx.Proc.Sup, nameAddr, maxPathLen)
	if errc != 0 {
		ctx.failString(errc)
		return false
	}
	ctx.K.FSLock.Acquire(ctx.self())
	defer ctx.K.FSLock.Release(ctx.self())
	return ctx.K.FS.Create(name.String(), size)
}

/// Remove implements call 5.
func (ctx *Context) Remove(nameAddr uintptr) bool {
	name, errc := readUserString(ctx.Proc.Sup, nameAddr, maxPathLen)
	if errc != 0 {
		ctx.failString(errc)
		return false
	}
	ctx.K.FSLock.Acquire(ctx.self())
	defer ctx.K.FSLock.Release(ctx.self())
	return ctx.K.FS.Remove(name.String())
}

/// Open implements call 6.
func (ctx *Context) Open(nameAddr uintptr) int {
	name, errc := readUserString(ctx.Proc.Sup, nameAddr, maxPathLen)
	if errc != 0 {
		ctx.failString(errc)
		return defs.Abnormal
	}
	ctx.K.FSLock.Acquire(ctx.self())
	f, errc := ctx.K.FS.Open(name.String())
	ctx.K.FSLock.Release(ctx.self())
	if errc != 0 {
		return defs.Abnormal
	}
	return ctx.Proc.OpenFile(f)
}

/// Filesize implements call 7.
func (ctx *Context) Filesize(fd int) int {
	f, ok := ctx.Proc.GetFile(fd)
	if !ok {
		return defs.Abnormal
	}
	ctx.K.FSLock.Acquire(ctx.self())
	defer ctx.K.FSLock.Release(ctx.self())
	return f.Length()
}

/// Read implements call 8. fd 1 (stdout) is never readable; fd 0
/// (console input) is out of scope for this core and always reports EOF.
func (ctx *Context) Read(fd int, bufAddr uintptr, n int) int {
	if fd == 1 {
		return defs.Abnormal
	}
	if fd == 0 {
		return 0
	}
	f, ok := ctx.Proc.GetFile(fd)
	if !ok {
		return defs.Abnormal
	}

	ctx.K.FSLock.Acquire(ctx.self())
	buf := make([]byte, n)
	got, errc := f.Read(buf, ctx.positions[fd])
	ctx.K.FSLock.Release(ctx.self())
	if errc != 0 {
		return defs.Abnormal
	}
	ctx.positions[fd] += got

	if errw := writeUserBytes(ctx.Proc.Sup, bufAddr, buf[:got]); errw != 0 {
		ctx.killOnFault()
		return defs.Abnormal
	}
	return got
}

/// Write implements call 9. Writes to fd 1 go through the chunked console
/// path (SPEC_FULL.md §4); writes to a real fd go through the filesystem
/// lock.
func (ctx *Context) Write(fd int, bufAddr uintptr, n int) int {
	if fd == 0 {
		return defs.Abnormal
	}
	data, errc := readUserBytes(ctx.Proc.Sup, bufAddr, n)
	if errc != 0 {
		ctx.killOnFault()
		return defs.Abnormal
	}
	if fd == 1 {
		return consoleWrite(ctx.Out, data)
	}

	f, ok := ctx.Proc.GetFile(fd)
	if !ok {
		return defs.Abnormal
	}
	ctx.K.FSLock.Acquire(ctx.self())
	written, errc := f.Write(data, ctx.positions[fd])
	ctx.K.FSLock.Release(ctx.self())
	if errc != 0 {
		return defs.Abnormal
	}
	ctx.positions[fd] += written
	return written
}

/// Seek implements call 10.
func (ctx *Context) Seek(fd int, pos int) {
	if _, ok := ctx.Proc.GetFile(fd); ok {
		ctx.positions[fd] = pos
	}
}

/// Tell implements call 11.
func (ctx *Context) Tell(fd int) int {
	if _, ok := ctx.Proc.GetFile(fd); !ok {
		return defs.Abnormal
	}
	return ctx.positions[fd]
}

/// Close implements call 12.
func (ctx *Context) Close(fd int) {
	delete(ctx.positions, fd)
	ctx.Proc.CloseFile(fd)
}

/// Mmap implements call 13.
func (ctx *Context) Mmap(table *mmap.Table, fd int, addr uintptr) int {
	f, ok := ctx.Proc.GetFile(fd)
	if !ok {
		return defs.Abnormal
	}
	id, errc := mmap.Mmap(ctx.Proc.Sup, table, fd, f, addr)
	if errc != 0 {
		return defs.Abnormal
	}
	return id
}

/// Munmap implements call 14.
func (ctx *Context) Munmap(table *mmap.Table, mapid int) {
	mmap.Munmap(ctx.Proc.Sup, table, mapid)
}
