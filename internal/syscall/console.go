package syscall

import "io"

/// consoleChunk is the largest single write the console driver accepts
/// in one call (spec.md §8's boundary behaviour: a 300-byte write to
/// fd 1 produces exactly two calls, of 256 and 44 bytes).
const consoleChunk = 256

/// putbufFunc mirrors original_source/userprog/syscall.c's putbuf: it
/// hands the console driver at most consoleChunk bytes at a time. Writing
/// console output through an indirection (rather than calling
/// io.Writer.Write directly in a loop) lets tests observe the exact
/// sequence of chunk sizes without needing a custom io.Writer.
type putbufFunc func(chunk []byte)

/// consoleWrite splits buf into consoleChunk-sized pieces and hands each
/// to put in order (SPEC_FULL.md §4's supplemented console chunking
/// feature).
func consoleWrite(put putbufFunc, buf []byte) int {
	written := 0
	for written < len(buf) {
		end := written + consoleChunk
		if end > len(buf) {
			end = len(buf)
		}
		put(buf[written:end])
		written = end
	}
	return written
}

/// writerPutbuf adapts an io.Writer into a putbufFunc for real console
/// output (cmd/kernel wires os.Stdout through this).
func writerPutbuf(w io.Writer) putbufFunc {
	return func(chunk []byte) {
		w.Write(chunk)
	}
}
