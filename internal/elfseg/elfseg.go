/// Package elfseg names the ELF loader's output contract: a slice of
/// segment descriptors that proc.Exec and vm.SupTable consume to build a
/// process's initial address space. The byte-level ELF parsing itself is
/// out of scope (spec.md §1); Loader is an interface so tests can
/// substitute a fake loader instead of a real ELF reader.
package elfseg

import "github.com/louisch/pintos-03/internal/defs"

/// Segment describes one loadable ELF program-header entry in the shape
/// vm.SupTable.CreateSegment/SetFileData expect.
type Segment struct {
	VAddr    uintptr
	MemSize  int
	FileSize int
	FileOff  int
	Writable bool
}

/// Loader produces the segment descriptors and entry point for a given
/// executable file.
type Loader interface {
	Load(file any) (segments []Segment, entry uintptr, err defs.Err_t)
}

/// flatFile is the narrow File surface FlatLoader needs.
type flatFile interface {
	Length() int
}

/// FlatLoader stands in for a real ELF program-header reader: it treats
/// the whole of the file as a single writable segment starting at base,
/// with no file-backed sharing (every loaded page is copied in from the
/// file once and then behaves like ordinary anonymous memory). Real ELF
/// parsing is out of scope (spec.md §1); this is what cmd/kernel's boot
/// harness uses to turn an opened executable into an address space.
type FlatLoader struct {
	Base uintptr
}

/// Load implements Loader.
func (l FlatLoader) Load(file any) ([]Segment, uintptr, defs.Err_t) {
	f, ok := file.(flatFile)
	if !ok {
		return nil, 0, defs.EINVAL
	}
	size := f.Length()
	if size == 0 {
		return nil, 0, defs.EINVAL
	}
	seg := Segment{
		VAddr:    l.Base,
		MemSize:  size,
		FileSize: size,
		FileOff:  0,
		Writable: true,
	}
	return []Segment{seg}, l.Base, 0
}
