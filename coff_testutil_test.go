package bof

import (
	"bytes"
	"encoding/binary"
)

// testSymbol is the input shape for buildCOFF's symbol table parameter;
// section is 0 for external, -1/-2 for absolute/debug, or 1-based.
// numAux, when nonzero, appends that many zeroed 18-byte auxiliary
// records after this symbol, consuming raw symbol-table indices the
// same way a real .file/section-definition symbol would.
type testSymbol struct {
	name    string
	value   uint32
	section int16
	numAux  uint8
}

// testSection is the input shape for buildCOFF's section parameter.
type testSection struct {
	name  string
	data  []byte
	flags uint32
	relocs []testReloc
}

type testReloc struct {
	addr    uint32
	symIdx  uint32
	relType uint16
}

// buildCOFF assembles a minimal, well-formed x86_64 COFF object byte
// stream from the given sections and symbols, used across this package's
// tests instead of shipping prebuilt binary fixtures.
func buildCOFF(sections []testSection, symbols []testSymbol) []byte {
	var strTab bytes.Buffer
	binary.Write(&strTab, binary.LittleEndian, uint32(0)) // placeholder size

	// encodeName returns the 8-byte inline name field, spilling to the
	// string table (via "/N" indirection) when the name is too long.
	encodeName := func(name string) [8]byte {
		var out [8]byte
		if len(name) <= 8 {
			copy(out[:], name)
			return out
		}
		off := strTab.Len()
		strTab.WriteString(name)
		strTab.WriteByte(0)
		s := fmtSlashOffset(off)
		copy(out[:], s)
		return out
	}

	numSymRecords := uint32(len(symbols))
	for _, sym := range symbols {
		numSymRecords += uint32(sym.numAux)
	}

	fh := fileHeader{
		Machine:          machineAMD64,
		NumberOfSections: uint16(len(sections)),
		NumberOfSymbols:  numSymRecords,
	}

	var sectionHdrs []sectionHeader
	var sectionData [][]byte
	var relocBlocks [][]byte

	headerSize := 20 + 40*len(sections)
	cursor := uint32(headerSize)

	for _, s := range sections {
		sh := sectionHeader{
			Name:            encodeName(s.name),
			VirtualSize:     uint32(len(s.data)),
			SizeOfRawData:   uint32(len(s.data)),
			Characteristics: s.flags,
		}
		if len(s.data) > 0 {
			sh.PointerToRawData = cursor
			cursor += uint32(len(s.data))
		}
		if len(s.relocs) > 0 {
			sh.PointerToRelocations = cursor
			sh.NumberOfRelocations = uint16(len(s.relocs))
			var rb bytes.Buffer
			for _, r := range s.relocs {
				binary.Write(&rb, binary.LittleEndian, rawReloc{
					VirtualAddress: r.addr,
					SymbolIndex:    r.symIdx,
					Type:           r.relType,
				})
			}
			relocBlocks = append(relocBlocks, rb.Bytes())
			cursor += uint32(rb.Len())
		} else {
			relocBlocks = append(relocBlocks, nil)
		}
		sectionHdrs = append(sectionHdrs, sh)
		sectionData = append(sectionData, s.data)
	}

	fh.PointerToSymbolTable = cursor

	var symTab bytes.Buffer
	for _, sym := range symbols {
		rs := rawSymbol{
			Value:         sym.value,
			SectionNumber: sym.section,
			NumAuxSymbols: sym.numAux,
		}
		if len(sym.name) <= 8 {
			copy(rs.Name[:], sym.name)
		} else {
			off := uint32(strTab.Len())
			strTab.WriteString(sym.name)
			strTab.WriteByte(0)
			binary.LittleEndian.PutUint32(rs.Name[4:8], off)
		}
		binary.Write(&symTab, binary.LittleEndian, rs)
		for a := uint8(0); a < sym.numAux; a++ {
			symTab.Write(make([]byte, 18))
		}
	}

	finalStrTab := strTab.Bytes()
	binary.LittleEndian.PutUint32(finalStrTab[0:4], uint32(len(finalStrTab)))

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, fh)
	for _, sh := range sectionHdrs {
		binary.Write(&out, binary.LittleEndian, sh)
	}
	for i, data := range sectionData {
		out.Write(data)
		out.Write(relocBlocks[i])
	}
	out.Write(symTab.Bytes())
	out.Write(finalStrTab)

	return out.Bytes()
}

func fmtSlashOffset(off int) string {
	if off == 0 {
		return "/0"
	}
	digits := []byte{}
	n := off
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return "/" + string(digits)
}
