package bof

import (
	"testing"
)

func TestParseRejectsNonAMD64(t *testing.T) {
	buf := buildCOFF(nil, nil)
	buf[0] = 0x4C // IMAGE_FILE_MACHINE_I386
	buf[1] = 0x01
	_, err := Parse(buf)
	var lerr *Error
	if !asError(err, &lerr) || lerr.Kind != KindUnsupportedArchitecture {
		t.Fatalf("Parse() error = %v, want UnsupportedArchitecture", err)
	}
}

// TestParseTruncated: the first 10 bytes of a valid object (shorter than
// a full 20-byte file header) must fail with Truncated.
func TestParseTruncated(t *testing.T) {
	buf := buildCOFF([]testSection{{name: ".text", data: []byte{0x90, 0x90}}}, nil)
	_, err := Parse(buf[:10])
	var lerr *Error
	if !asError(err, &lerr) || lerr.Kind != KindTruncated {
		t.Fatalf("Parse() error = %v, want Truncated", err)
	}
}

func TestParseSectionsAndSymbols(t *testing.T) {
	buf := buildCOFF(
		[]testSection{
			{name: ".text", data: []byte{0x90, 0x90, 0x90, 0x90}, flags: sectionCharMemExecute | sectionCharMemRead},
			{name: ".data", data: []byte{0x01, 0x02}, flags: sectionCharMemRead | sectionCharMemWrite},
		},
		[]testSymbol{
			{name: "go", value: 0, section: 1},
			{name: "ExternalThing", value: 0, section: 0},
		},
	)

	img, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(img.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(img.Sections))
	}
	if img.Sections[0].Name != ".text" {
		t.Errorf("section 0 name = %q, want .text", img.Sections[0].Name)
	}
	if !img.Sections[0].isExecutable() {
		t.Errorf("section 0 should be executable")
	}
	if len(img.Symbols) != 2 {
		t.Fatalf("got %d symbols, want 2", len(img.Symbols))
	}
	if img.Symbols[0].Name != "go" || img.Symbols[0].SectionNumber != 1 {
		t.Errorf("symbol 0 = %+v, want go/section 1", img.Symbols[0])
	}
	if !img.Symbols[1].IsExternal() {
		t.Errorf("symbol 1 should be external")
	}
}

// TestSectionNameIndirection: a section header name beginning with "/7"
// resolves to the string-table entry at offset 7.
func TestSectionNameIndirection(t *testing.T) {
	strTab := make([]byte, 7, 7+len("widget")+1)
	strTab = append(strTab, []byte("widget\x00")...)
	binaryPutUint32(strTab, uint32(len(strTab)))

	var raw [8]byte
	copy(raw[:], "/7")

	name, err := sectionName(raw, strTab)
	if err != nil {
		t.Fatalf("sectionName() error = %v", err)
	}
	if name != "widget" {
		t.Errorf("sectionName() = %q, want widget", name)
	}
}

func TestLongSymbolNameIndirection(t *testing.T) {
	buf := buildCOFF(nil, []testSymbol{
		{name: "a_symbol_name_longer_than_eight_bytes", value: 0x1234, section: -1},
	})
	img, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(img.Symbols) != 1 || img.Symbols[0].Name != "a_symbol_name_longer_than_eight_bytes" {
		t.Fatalf("got symbols %+v", img.Symbols)
	}
	if img.Symbols[0].SectionNumber != symSectionAbsolute {
		t.Errorf("SectionNumber = %d, want absolute(-1)", img.Symbols[0].SectionNumber)
	}
}

// TestSymbolTableIndexAlignmentWithAuxRecords: a symbol carrying aux
// records (as MSVC/MinGW emit for .file and section-definition symbols)
// must not shift the raw symbol-table index of the symbols that follow
// it, since relocations reference that raw index.
func TestSymbolTableIndexAlignmentWithAuxRecords(t *testing.T) {
	buf := buildCOFF(
		[]testSection{{name: ".text", data: []byte{0x90, 0x90}}},
		[]testSymbol{
			{name: ".file", section: symSectionDebug, numAux: 1},
			{name: ".text", section: 1, numAux: 1},
			{name: "go", section: 1},
		},
	)

	img, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(img.Symbols) != 5 {
		t.Fatalf("got %d symbol slots, want 5 (3 symbols + 2 aux)", len(img.Symbols))
	}
	if img.Symbols[1] != nil {
		t.Errorf("index 1 should be the .file symbol's aux placeholder, got %+v", img.Symbols[1])
	}
	if img.Symbols[2] == nil || img.Symbols[2].Name != ".text" {
		t.Fatalf("index 2 = %+v, want the .text symbol", img.Symbols[2])
	}
	if img.Symbols[3] != nil {
		t.Errorf("index 3 should be the .text symbol's aux placeholder, got %+v", img.Symbols[3])
	}
	if img.Symbols[4] == nil || img.Symbols[4].Name != "go" {
		t.Fatalf("index 4 = %+v, want the go symbol", img.Symbols[4])
	}
}

func asError(err error, target **Error) bool {
	le, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = le
	return true
}

func binaryPutUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
