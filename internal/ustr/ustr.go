/// Package ustr implements the immutable byte-string type the kernel uses
/// for command lines, file names, and anything else copied in from user
/// space a byte at a time. Adapted from biscuit/src/ustr/ustr.go, which
/// used it for filesystem paths; here it backs the exec command string and
/// syscall string arguments.
package ustr

import (
	"golang.org/x/text/unicode/norm"
)

/// Ustr is a byte string copied in from user memory.
type Ustr []uint8

/// Eq compares two Ustr values for equality.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

/// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

/// MkUstrSlice truncates buf at the first NUL byte, the shape a
/// NUL-terminated user string arrives in.
func MkUstrSlice(buf []uint8) Ustr {
	for i, b := range buf {
		if b == 0 {
			return buf[:i]
		}
	}
	return buf
}

/// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}

/// NormalizedLen returns the length of us in NFC-normalized grapheme
/// segments rather than raw bytes. The maximum-length check on
/// string-shaped syscall arguments (spec §4.6) is defined on the string a
/// user actually sees, not on however many combining-mark bytes they chose
/// to encode it with; without normalization a name just under the limit
/// in decomposed form could silently exceed it once composed, or
/// vice-versa.
func (us Ustr) NormalizedLen() int {
	var it norm.Iter
	it.InitString(norm.NFC, string(us))
	n := 0
	for !it.Done() {
		it.Next()
		n++
	}
	return n
}

/// WithinMax reports whether us, once normalized, is no longer than max
/// runes. A zero or negative max never matches.
func (us Ustr) WithinMax(max int) bool {
	if max <= 0 {
		return false
	}
	return us.NormalizedLen() <= max
}
