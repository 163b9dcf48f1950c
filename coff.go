package bof

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// IMAGE_FILE_MACHINE_AMD64, the only machine type this loader accepts.
const machineAMD64 = 0x8664

// Section characteristics bits this loader cares about.
const (
	sectionCharCNTUninitializedData = 0x00000080
	sectionCharLnkNRelocOvfl        = 0x01000000
	sectionCharMemExecute           = 0x20000000
	sectionCharMemRead              = 0x40000000
	sectionCharMemWrite             = 0x80000000
)

// AMD64 relocation types. The Relocation Engine applies all of these
// except RelAMD64Absolute, which it rejects as unsupported.
const (
	RelAMD64Absolute = 0x0000
	RelAMD64Addr64   = 0x0001
	RelAMD64Addr32   = 0x0002
	RelAMD64Addr32NB = 0x0003
	RelAMD64Rel32    = 0x0004
	RelAMD64Rel32_1  = 0x0005
	RelAMD64Rel32_2  = 0x0006
	RelAMD64Rel32_3  = 0x0007
	RelAMD64Rel32_4  = 0x0008
	RelAMD64Rel32_5  = 0x0009
)

// Symbol section-number special values.
const (
	symSectionUndefined = 0
	symSectionAbsolute  = -1
	symSectionDebug     = -2
)

// fileHeader mirrors the COFF file header, the first structure after any
// optional leading bytes in a plain object file (BOFs carry no DOS/PE
// wrapper; the file starts directly with this header).
type fileHeader struct {
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16
}

// sectionHeader mirrors the on-disk COFF section header.
type sectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLinenumbers uint32
	NumberOfRelocations  uint16
	NumberOfLinenumbers  uint16
	Characteristics      uint32
}

// rawSymbol mirrors the 18-byte on-disk COFF symbol table record.
type rawSymbol struct {
	Name          [8]byte
	Value         uint32
	SectionNumber int16
	Type          uint16
	StorageClass  uint8
	NumAuxSymbols uint8
}

// rawReloc mirrors the 10-byte on-disk COFF relocation record.
type rawReloc struct {
	VirtualAddress uint32
	SymbolIndex    uint32
	Type           uint16
}

// Section is the parsed, still file-backed view of one COFF section: the
// header plus its raw content slice and relocation list. No allocation
// happens here; the Memory Manager does that once the whole image is parsed.
type Section struct {
	Name            string
	VirtualSize     uint32
	RawData         []byte
	Characteristics uint32
	Relocations     []Relocation
}

func (s *Section) isExecutable() bool { return s.Characteristics&sectionCharMemExecute != 0 }
func (s *Section) isWritable() bool   { return s.Characteristics&sectionCharMemWrite != 0 }
func (s *Section) isReadable() bool   { return s.Characteristics&sectionCharMemRead != 0 }
func (s *Section) isUninitialized() bool {
	return s.Characteristics&sectionCharCNTUninitializedData != 0
}

// Symbol is the parsed view of one COFF symbol table entry.
type Symbol struct {
	Name          string
	Value         uint32
	SectionNumber int16 // 0 = external, -1 = absolute, -2 = debug, else 1-based
	StorageClass  uint8
	Type          uint16
}

// IsExternal reports whether the symbol is an unresolved external
// reference that the Symbol Resolver must satisfy.
func (s *Symbol) IsExternal() bool { return s.SectionNumber == symSectionUndefined }

// Relocation is the parsed view of one per-section relocation record.
type Relocation struct {
	VirtualAddress uint32
	SymbolIndex    uint32
	Type           uint16
}

// Image is the fully parsed COFF object: sections and symbols, ready for
// the Memory Manager and Relocation Engine. All slices borrow from the
// original input buffer except where a fresh []byte was required (section
// raw data is copied later, by Executor.Run into the Memory Manager's
// regions, not here).
type Image struct {
	Sections []*Section
	Symbols  []*Symbol
}

// Parse decodes a COFF object file image from buf. buf is borrowed, not
// copied; the returned Image's Section.RawData slices alias into it.
func Parse(buf []byte) (*Image, error) {
	r := bytes.NewReader(buf)

	var fh fileHeader
	if err := binary.Read(r, binary.LittleEndian, &fh); err != nil {
		return nil, wrapErr(KindTruncated, err, "reading COFF file header")
	}
	if fh.Machine != machineAMD64 {
		return nil, newErr(KindUnsupportedArchitecture, "machine type 0x%04x, only x86_64 (0x%04x) is supported", fh.Machine, machineAMD64)
	}

	// Object files carry no optional header in practice, but honor the
	// field if a toolchain ever sets it so section headers are found at
	// the right offset.
	if fh.SizeOfOptionalHeader > 0 {
		if _, err := r.Seek(int64(fh.SizeOfOptionalHeader), 1); err != nil {
			return nil, wrapErr(KindBadOffset, err, "skipping optional header")
		}
	}

	rawSections := make([]sectionHeader, fh.NumberOfSections)
	for i := range rawSections {
		if err := binary.Read(r, binary.LittleEndian, &rawSections[i]); err != nil {
			return nil, wrapErr(KindTruncated, err, "reading section header %d", i)
		}
	}

	strTab, err := readStringTable(buf, fh)
	if err != nil {
		return nil, err
	}

	symbols, err := readSymbolTable(buf, fh, strTab)
	if err != nil {
		return nil, err
	}

	sections := make([]*Section, len(rawSections))
	for i, rs := range rawSections {
		sec, err := buildSection(buf, rs, strTab)
		if err != nil {
			return nil, wrapErr(KindBadOffset, err, "building section %d", i)
		}
		sections[i] = sec
	}

	return &Image{Sections: sections, Symbols: symbols}, nil
}

func buildSection(buf []byte, rs sectionHeader, strTab []byte) (*Section, error) {
	name, err := sectionName(rs.Name, strTab)
	if err != nil {
		return nil, err
	}

	sec := &Section{
		Name:            name,
		VirtualSize:     rs.VirtualSize,
		Characteristics: rs.Characteristics,
	}

	if !sec.isUninitialized() && rs.SizeOfRawData > 0 {
		data, err := sliceAt(buf, rs.PointerToRawData, rs.SizeOfRawData)
		if err != nil {
			return nil, err
		}
		sec.RawData = data
	}

	relocCount := uint32(rs.NumberOfRelocations)
	relocOff := rs.PointerToRelocations
	if rs.Characteristics&sectionCharLnkNRelocOvfl != 0 && relocCount == 0xFFFF {
		// COFF quirk: when the 16-bit relocation count overflows, the
		// true count is stashed in the VirtualAddress field of a first,
		// otherwise-unused relocation record immediately preceding the
		// real array.
		first, err := sliceAt(buf, relocOff, 10)
		if err != nil {
			return nil, err
		}
		relocCount = binary.LittleEndian.Uint32(first[0:4])
		relocOff += 10
	}

	relocs := make([]Relocation, 0, relocCount)
	for i := uint32(0); i < relocCount; i++ {
		raw, err := sliceAt(buf, relocOff+i*10, 10)
		if err != nil {
			return nil, err
		}
		var rr rawReloc
		rdr := bytes.NewReader(raw)
		if err := binary.Read(rdr, binary.LittleEndian, &rr); err != nil {
			return nil, wrapErr(KindTruncated, err, "reading relocation %d", i)
		}
		relocs = append(relocs, Relocation{
			VirtualAddress: rr.VirtualAddress,
			SymbolIndex:    rr.SymbolIndex,
			Type:           rr.Type,
		})
	}
	sec.Relocations = relocs

	return sec, nil
}

// sectionName resolves an 8-byte inline section name, following the `/N`
// string-table indirection COFF uses when a name doesn't fit in 8 bytes.
func sectionName(raw [8]byte, strTab []byte) (string, error) {
	if raw[0] == '/' {
		// ASCII decimal offset into the string table follows the slash.
		var off uint32
		for _, c := range raw[1:] {
			if c == 0 {
				break
			}
			if c < '0' || c > '9' {
				return "", newErr(KindBadOffset, "malformed section name indirection %q", raw)
			}
			off = off*10 + uint32(c-'0')
		}
		return stringAt(strTab, off)
	}
	return trimNulPadded(raw[:]), nil
}

func trimNulPadded(b []byte) string {
	if i := bytes.IndexByte(b, 0); i != -1 {
		b = b[:i]
	}
	return string(b)
}

// readStringTable locates the COFF string table, which immediately
// follows the symbol table: a leading u32 total size (including itself),
// then NUL-terminated strings.
func readStringTable(buf []byte, fh fileHeader) ([]byte, error) {
	symTabSize := fh.NumberOfSymbols * 18
	strTabOff := fh.PointerToSymbolTable + symTabSize
	if fh.NumberOfSymbols == 0 {
		return nil, nil
	}
	sizeBuf, err := sliceAt(buf, strTabOff, 4)
	if err != nil {
		// A missing string table is legal when no name needs it.
		return nil, nil
	}
	total := binary.LittleEndian.Uint32(sizeBuf)
	if total < 4 {
		return sizeBuf, nil
	}
	return sliceAt(buf, strTabOff, total)
}

func stringAt(strTab []byte, off uint32) (string, error) {
	if strTab == nil || int(off) >= len(strTab) {
		return "", newErr(KindBadOffset, "string table offset %d out of range", off)
	}
	end := bytes.IndexByte(strTab[off:], 0)
	if end == -1 {
		return string(strTab[off:]), nil
	}
	return string(strTab[off : int(off)+end]), nil
}

// readSymbolTable decodes the COFF symbol table, a sequence of 18-byte
// records where a symbol declaring NumAuxSymbols>0 is followed by that
// many 18-byte auxiliary records. A relocation's SymbolTableIndex counts
// every record including aux ones, so the returned slice keeps one entry
// per on-disk record too: aux slots get a nil placeholder rather than
// being compacted out, keeping img.Symbols[i] aligned with raw index i.
func readSymbolTable(buf []byte, fh fileHeader, strTab []byte) ([]*Symbol, error) {
	symbols := make([]*Symbol, fh.NumberOfSymbols)
	off := fh.PointerToSymbolTable
	i := uint32(0)
	for i < fh.NumberOfSymbols {
		raw, err := sliceAt(buf, off, 18)
		if err != nil {
			return nil, wrapErr(KindTruncated, err, "reading symbol %d", i)
		}
		var rs rawSymbol
		rdr := bytes.NewReader(raw)
		if err := binary.Read(rdr, binary.LittleEndian, &rs); err != nil {
			return nil, wrapErr(KindTruncated, err, "decoding symbol %d", i)
		}

		name, err := symbolName(raw[0:8], strTab)
		if err != nil {
			return nil, err
		}

		symbols[i] = &Symbol{
			Name:          name,
			Value:         rs.Value,
			SectionNumber: rs.SectionNumber,
			StorageClass:  rs.StorageClass,
			Type:          rs.Type,
		}

		off += 18
		i++
		aux := uint32(rs.NumAuxSymbols)
		if i+aux > fh.NumberOfSymbols {
			return nil, newErr(KindBadSymbolIndex, "symbol %d declares %d aux records past table end", i-1, aux)
		}
		off += 18 * aux
		i += aux
	}
	return symbols, nil
}

// symbolName resolves an 8-byte inline symbol name. When the first 4
// bytes are zero, the last 4 bytes hold a string-table offset instead.
func symbolName(raw []byte, strTab []byte) (string, error) {
	if raw[0] == 0 && raw[1] == 0 && raw[2] == 0 && raw[3] == 0 {
		off := binary.LittleEndian.Uint32(raw[4:8])
		return stringAt(strTab, off)
	}
	return trimNulPadded(raw), nil
}

func sliceAt(buf []byte, off, size uint32) ([]byte, error) {
	start := int64(off)
	end := start + int64(size)
	if start < 0 || end > int64(len(buf)) || start > end {
		return nil, fmt.Errorf("range [%d:%d) out of bounds (len %d)", start, end, len(buf))
	}
	return buf[start:end], nil
}
