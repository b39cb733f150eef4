package ir

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// RelocKind selects the base address a relocation is resolved against.
type RelocKind uint8

const (
	// RelocCode patches in the load address of the program code.
	RelocCode RelocKind = iota
	// RelocBuiltin patches in the load address of the builtin library.
	RelocBuiltin
	// RelocData patches in the address of the constant data segment.
	RelocData
)

func (k RelocKind) String() string {
	switch k {
	case RelocCode:
		return "code"
	case RelocBuiltin:
		return "builtin"
	case RelocData:
		return "data"
	}
	return fmt.Sprintf("reloc(%d)", uint8(k))
}

// RelocEntry describes one deferred patch of the binary.
//
// Data is the address relative to the base selected by Kind. When applied,
// (base+Data) is shifted by Bit (right for negative values) and masked
// with Mask before being OR-ed into the word at byte Offset.
type RelocEntry struct {
	Offset uint32
	Data   uint32
	Mask   uint32
	Bit    int8
	Kind   RelocKind
}

// RelocationTable lists the patches the driver applies once load
// addresses are known.
type RelocationTable struct {
	Entries []RelocEntry
}

// Add appends a relocation entry.
func (t *RelocationTable) Add(e RelocEntry) {
	t.Entries = append(t.Entries, e)
}

// Len returns the number of entries.
func (t *RelocationTable) Len() int { return len(t.Entries) }

// Apply patches code in place using the given base addresses.
func (t *RelocationTable) Apply(code []uint32, codeBase, libBase, dataBase uint32) error {
	for _, e := range t.Entries {
		var addr uint32
		switch e.Kind {
		case RelocCode:
			addr = codeBase
		case RelocBuiltin:
			addr = libBase
		case RelocData:
			addr = dataBase
		}
		addr += e.Data
		if e.Bit < 0 {
			addr >>= uint(-e.Bit)
		} else {
			addr <<= uint(e.Bit)
		}
		w := e.Offset / 4
		if int(w) >= len(code) {
			return errors.Wrapf(errdefs.ErrOutOfRange, "relocation at offset 0x%x outside of %d byte binary", e.Offset, len(code)*4)
		}
		code[w] = (code[w] &^ e.Mask) | (addr & e.Mask)
	}
	return nil
}
