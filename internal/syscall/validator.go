package syscall

import (
	"github.com/louisch/pintos-03/internal/defs"
	"github.com/louisch/pintos-03/internal/ustr"
	"github.com/louisch/pintos-03/internal/vm"
)

/// KernelBase is the user/kernel address-space split (PHYS_BASE in
/// original_source/threads/vaddr.h); any address at or above it is a
/// kernel address and is always rejected.
const KernelBase uintptr = 0xc0000000

/// maxStringProbe bounds how many raw bytes readUserString will walk
/// before giving up with ENAMETOOLONG, independent of a syscall's own
/// max-length argument — it exists only to keep a runaway unterminated
/// string from looping forever.
const maxStringProbe = 4096

/// checkAddr rejects the null pointer and any kernel address (spec.md
/// §4.6(i)).
func checkAddr(addr uintptr) defs.Err_t {
	if addr == 0 || addr >= KernelBase {
		return defs.EFAULT
	}
	return 0
}

/// readUserBytes validates every page touched by [addr, addr+n) against
/// the supplementary page table — faulting each one in exactly as a real
/// page fault would — and copies the bytes out (spec.md §4.6(ii)).
func readUserBytes(sup *vm.SupTable, addr uintptr, n int) ([]byte, defs.Err_t) {
	if n == 0 {
		return nil, 0
	}
	if errc := checkAddr(addr); errc != 0 {
		return nil, errc
	}
	if errc := checkAddr(addr + uintptr(n) - 1); errc != 0 {
		return nil, errc
	}
	out := make([]byte, n)
	copied := 0
	for copied < n {
		cur := addr + uintptr(copied)
		pageAddr := defs.PgRoundDown(cur)
		kaddr, errc := sup.MapAddr(pageAddr)
		if errc != 0 {
			return nil, defs.EFAULT
		}
		data := sup.Frames().Data(kaddr)
		if data == nil {
			return nil, defs.EFAULT
		}
		offset := int(cur - pageAddr)
		got := copy(out[copied:], data[offset:])
		copied += got
	}
	return out, 0
}

/// writeUserBytes is readUserBytes's write-side counterpart.
func writeUserBytes(sup *vm.SupTable, addr uintptr, buf []byte) defs.Err_t {
	if len(buf) == 0 {
		return 0
	}
	if errc := checkAddr(addr); errc != 0 {
		return errc
	}
	if errc := checkAddr(addr + uintptr(len(buf)) - 1); errc != 0 {
		return errc
	}
	written := 0
	for written < len(buf) {
		cur := addr + uintptr(written)
		pageAddr := defs.PgRoundDown(cur)
		kaddr, errc := sup.MapAddr(pageAddr)
		if errc != 0 {
			return defs.EFAULT
		}
		data := sup.Frames().Data(kaddr)
		if data == nil {
			return defs.EFAULT
		}
		offset := int(cur - pageAddr)
		put := copy(data[offset:], buf[written:])
		written += put
	}
	return 0
}

/// readUserString reads a NUL-terminated string starting at addr and
/// rejects it once its normalized length exceeds maxLen (spec.md §4.6:
/// "String-shaped arguments are validated up to a maximum length").
func readUserString(sup *vm.SupTable, addr uintptr, maxLen int) (ustr.Ustr, defs.Err_t) {
	buf := make([]byte, 0, 64)
	for i := 0; i < maxStringProbe; i++ {
		b, errc := readUserBytes(sup, addr+uintptr(i), 1)
		if errc != 0 {
			return nil, errc
		}
		if b[0] == 0 {
			s := ustr.Ustr(buf)
			if !s.WithinMax(maxLen) {
				return nil, defs.ENAMETOOLONG
			}
			return s, 0
		}
		buf = append(buf, b[0])
	}
	return nil, defs.ENAMETOOLONG
}
