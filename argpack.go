package bof

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// Packer serializes a heterogeneous argument list into the length-prefixed
// little-endian wire format a BOF entrypoint consumes via BeaconDataParse.
//
// It follows the single-use write-then-read discipline of a commit/reset
// buffer: append records with AddShort/AddInt/AddStr/AddWStr/AddBin in the
// order the BOF expects to read them, then call Emit once.
type Packer struct {
	body bytes.Buffer
	size uint32
}

// NewPacker returns an empty Packer.
func NewPacker() *Packer {
	return &Packer{}
}

// AddShort appends a little-endian int16 and advances size by 2.
func (p *Packer) AddShort(v int16) {
	binary.Write(&p.body, binary.LittleEndian, v)
	p.size += 2
}

// AddInt appends a little-endian int32 and advances size by 4.
func (p *Packer) AddInt(v int32) {
	binary.Write(&p.body, binary.LittleEndian, v)
	p.size += 4
}

// AddStr appends a length-prefixed, NUL-terminated string record:
// [u32 len(bytes)+1][bytes][0x00]. size advances by len+1+4, the prefix
// itself included in the running total.
func (p *Packer) AddStr(s string) {
	b := []byte(s)
	binary.Write(&p.body, binary.LittleEndian, uint32(len(b)+1))
	p.body.Write(b)
	p.body.WriteByte(0)
	p.size += uint32(len(b)+1) + 4
}

// AddWStr appends a length-prefixed, NUL-NUL-terminated UTF-16LE record:
// [u32 bytelen+2][units][0x0000]. size advances by units*2+2+4.
func (p *Packer) AddWStr(s string) {
	units := utf16.Encode([]rune(s))
	binary.Write(&p.body, binary.LittleEndian, uint32(len(units)*2+2))
	for _, u := range units {
		binary.Write(&p.body, binary.LittleEndian, u)
	}
	binary.Write(&p.body, binary.LittleEndian, uint16(0))
	p.size += uint32(len(units)*2+2) + 4
}

// AddBin appends a length-prefixed raw-byte record: [u32 len][bytes].
// size advances by len+4.
func (p *Packer) AddBin(b []byte) {
	binary.Write(&p.body, binary.LittleEndian, uint32(len(b)))
	p.body.Write(b)
	p.size += uint32(len(b)) + 4
}

// Emit returns the full blob: the running size as a leading u32, followed
// by every appended record in order.
func (p *Packer) Emit() []byte {
	out := make([]byte, 0, 4+p.body.Len())
	var szBuf [4]byte
	binary.LittleEndian.PutUint32(szBuf[:], p.size)
	out = append(out, szBuf[:]...)
	out = append(out, p.body.Bytes()...)
	return out
}

// Reader consumes a Packed Argument Blob in the order a BOF's
// BeaconDataParse/BeaconDataInt/Short/Extract calls expect.
//
// A Reader constructed over a nil or empty slice is a valid zero-length
// parser: all reads return zero values rather than failing, matching the
// BeaconDataParse-with-no-arguments contract.
type Reader struct {
	buf []byte
	pos int
}

// NewReader parses the leading size-prefixed blob and returns a Reader
// positioned at the first record. If buf is too short to contain the u32
// size prefix, the Reader is zero-length.
func NewReader(buf []byte) *Reader {
	if len(buf) < 4 {
		return &Reader{}
	}
	return &Reader{buf: buf[4:]}
}

// Int reads a little-endian int32, returning 0 past the end of the blob.
func (r *Reader) Int() int32 {
	if r.pos+4 > len(r.buf) {
		r.pos = len(r.buf)
		return 0
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v
}

// Short reads a little-endian int16, returning 0 past the end of the blob.
func (r *Reader) Short() int16 {
	if r.pos+2 > len(r.buf) {
		r.pos = len(r.buf)
		return 0
	}
	v := int16(binary.LittleEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v
}

// Extract reads a u32-prefixed raw byte slice as BeaconDataExtract does,
// returning nil past the end of the blob.
func (r *Reader) Extract() []byte {
	if r.pos+4 > len(r.buf) {
		r.pos = len(r.buf)
		return nil
	}
	n := int(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	if n < 0 || r.pos+n > len(r.buf) {
		r.pos = len(r.buf)
		return nil
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out
}

// Length reports the number of bytes remaining unread, the
// BeaconDataLength contract.
func (r *Reader) Length() int {
	return len(r.buf) - r.pos
}
