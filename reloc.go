package bof

import (
	"encoding/binary"
	"math"
)

// rel32Bias maps each REL32 variant to the byte offset added to the
// patch site before computing the RIP-relative displacement. BOF
// toolchains emit REL32_1..REL32_5 when additional instruction bytes
// follow the 4-byte displacement before the next instruction begins
// (e.g. an immediate operand), so the effective "next instruction"
// address the CPU computes RIP from is shifted by that many bytes.
var rel32Bias = map[uint16]int64{
	RelAMD64Rel32:   0,
	RelAMD64Rel32_1: 1,
	RelAMD64Rel32_2: 2,
	RelAMD64Rel32_3: 3,
	RelAMD64Rel32_4: 4,
	RelAMD64Rel32_5: 5,
}

// Placement is what the Relocation Engine needs to know about where
// everything ended up: one base address per parsed section (same order
// as Image.Sections), the Function Mapping Table's base, and the slot
// index each external symbol table index was assigned.
type Placement struct {
	SectionBases []uintptr
	FMTBase      uintptr
	FMTSlot      map[uint32]int // symbol table index -> FMT slot index
	ImageBase    uintptr        // lowest section base, for ADDR32NB
}

// targetFor resolves the address a relocation's symbol refers to: either
// a concrete address inside a defined section, or the Function Mapping
// Table slot reserved for an external symbol.
func (p *Placement) targetFor(sym *Symbol, symIdx uint32) (uintptr, error) {
	switch {
	case sym.SectionNumber > 0:
		idx := int(sym.SectionNumber) - 1
		if idx < 0 || idx >= len(p.SectionBases) {
			return 0, newErr(KindBadSymbolIndex, "symbol %q references section %d, out of range", sym.Name, sym.SectionNumber)
		}
		return p.SectionBases[idx] + uintptr(sym.Value), nil
	case sym.SectionNumber == symSectionAbsolute:
		return uintptr(sym.Value), nil
	case sym.IsExternal():
		slot, ok := p.FMTSlot[symIdx]
		if !ok {
			return 0, newErr(KindUnresolvedSymbol, "no FMT slot assigned for external symbol %q", sym.Name)
		}
		return p.FMTBase + uintptr(slot*8), nil
	default:
		return 0, newErr(KindBadSymbolIndex, "symbol %q has unsupported section number %d", sym.Name, sym.SectionNumber)
	}
}

// Apply walks every section's relocation array and patches the section's
// backing bytes in place, using sections[i].Data as the writable mapped
// region for img.Sections[i].
func Apply(img *Image, sections []*Region, p *Placement) error {
	for i, sec := range img.Sections {
		data := sections[i].Data
		base := sections[i].Base
		for _, reloc := range sec.Relocations {
			if reloc.SymbolIndex >= uint32(len(img.Symbols)) {
				return newErr(KindBadSymbolIndex, "relocation references symbol index %d, table has %d entries", reloc.SymbolIndex, len(img.Symbols))
			}
			sym := img.Symbols[reloc.SymbolIndex]
			if sym == nil {
				return newErr(KindBadSymbolIndex, "relocation references symbol index %d, which is an auxiliary record", reloc.SymbolIndex)
			}
			target, err := p.targetFor(sym, reloc.SymbolIndex)
			if err != nil {
				return err
			}
			patchSite := base + uintptr(reloc.VirtualAddress)
			if err := patchOne(data, reloc, patchSite, target, p.ImageBase); err != nil {
				return err
			}
		}
	}
	return nil
}

func patchOne(data []byte, reloc Relocation, patchSite uintptr, target uintptr, imageBase uintptr) error {
	off := int(reloc.VirtualAddress)

	switch reloc.Type {
	case RelAMD64Rel32, RelAMD64Rel32_1, RelAMD64Rel32_2, RelAMD64Rel32_3, RelAMD64Rel32_4, RelAMD64Rel32_5:
		if off+4 > len(data) {
			return newErr(KindBadOffset, "REL32 patch site 0x%x out of section bounds", reloc.VirtualAddress)
		}
		addend := int64(int32(binary.LittleEndian.Uint32(data[off : off+4])))
		bias := rel32Bias[reloc.Type]
		disp := int64(target) + addend - (int64(patchSite) + 4 + bias)
		if disp < math.MinInt32 || disp > math.MaxInt32 {
			return newErr(KindRelocationOverflow, "REL32 displacement 0x%x does not fit in 32 bits", disp)
		}
		binary.LittleEndian.PutUint32(data[off:off+4], uint32(int32(disp)))

	case RelAMD64Addr64:
		if off+8 > len(data) {
			return newErr(KindBadOffset, "ADDR64 patch site 0x%x out of section bounds", reloc.VirtualAddress)
		}
		addend := binary.LittleEndian.Uint64(data[off : off+8])
		binary.LittleEndian.PutUint64(data[off:off+8], uint64(target)+addend)

	case RelAMD64Addr32, RelAMD64Addr32NB:
		if off+4 > len(data) {
			return newErr(KindBadOffset, "ADDR32 patch site 0x%x out of section bounds", reloc.VirtualAddress)
		}
		addend := int64(binary.LittleEndian.Uint32(data[off : off+4]))
		abs := int64(target) + addend
		if reloc.Type == RelAMD64Addr32NB {
			abs -= int64(imageBase)
		}
		if abs < 0 || abs > math.MaxUint32 {
			return newErr(KindRelocationOverflow, "ADDR32 value 0x%x does not fit in 32 bits", abs)
		}
		binary.LittleEndian.PutUint32(data[off:off+4], uint32(abs))

	default:
		return newErr(KindUnsupportedRelocationType, "relocation type 0x%04x", reloc.Type)
	}
	return nil
}
