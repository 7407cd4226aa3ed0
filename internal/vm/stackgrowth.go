package vm

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/louisch/pintos-03/internal/defs"
)

/// StackSize is the maximum stack segment size: 8 MiB below PHYS_BASE
/// (spec.md §4.11).
const StackSize = 8 * 1024 * 1024

/// stackGrowthSlack is the esp-k growth heuristic bound: accesses within
/// 64 bytes below esp are accepted as an implicit PUSH (spec.md §4.11,
/// §9's note that the literal bound of 64 must be matched exactly).
const stackGrowthSlack = 64

/// CreateStackSegment installs the top-of-address-space stack segment,
/// zero-fill and writable, spanning StackSize bytes below phys_base
/// (spec.md §4.11).
func (st *SupTable) CreateStackSegment(physBase uintptr) (*Segment, defs.Err_t) {
	base := physBase - StackSize
	return st.CreateSegment(base, true, StackSize)
}

/// StackGrowthAllowed reports whether a fault at faultAddr, with the
/// faulting thread's stack pointer at esp, is within the stack segment
/// and close enough to esp to be accepted as an implicit push (spec.md
/// §4.11's `|fault_addr - esp| < 64`).
func StackGrowthAllowed(seg *Segment, faultAddr, esp uintptr) bool {
	if !seg.contains(faultAddr) {
		return false
	}
	var delta uintptr
	if faultAddr >= esp {
		delta = faultAddr - esp
	} else {
		delta = esp - faultAddr
	}
	return delta < stackGrowthSlack
}

/// DecodeFaultingPush attempts to decode the faulting instruction at pc
/// as an x86 instruction that implicitly touches the stack (PUSH, CALL,
/// or an ENTER), corroborating the esp-64 heuristic with an actual
/// disassembly rather than trusting the offset bound alone. Returns a
/// human-readable mnemonic for diagnostics; ok is false if code does not
/// decode or is not a stack-touching form.
func DecodeFaultingPush(code []byte) (mnemonic string, ok bool) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return "", false
	}
	switch inst.Op {
	case x86asm.PUSH, x86asm.CALL, x86asm.ENTER, x86asm.PUSHA, x86asm.PUSHAD:
		return inst.Op.String(), true
	default:
		return inst.Op.String(), false
	}
}

/// MapAddrWithStackGrowth is MapAddr extended with the stack-growth
/// heuristic: a first-ever touch of a page inside the stack segment is
/// only honored if it falls within stackGrowthSlack bytes of esp;
/// previously-touched stack pages resolve through the ordinary fault
/// path regardless of esp, since they are already part of the process's
/// established stack.
func (st *SupTable) MapAddrWithStackGrowth(faultAddr, esp uintptr, stack *Segment) (uintptr, defs.Err_t) {
	u := defs.PgRoundDown(faultAddr)
	seg := st.LookupSegment(u)
	if seg == nil {
		return 0, defs.EFAULT
	}
	if seg == stack {
		seg.mu.Lock()
		_, touched := seg.pages[u]
		seg.mu.Unlock()
		if !touched && !StackGrowthAllowed(seg, faultAddr, esp) {
			return 0, defs.EFAULT
		}
	}
	return st.mapInSegment(seg, u)
}
