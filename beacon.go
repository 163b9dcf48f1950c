package bof

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CaptureBuffer is an append-only growable buffer with the same
// write-then-drain discipline as a SafeBuffer: callers append during
// execution and read only after the write phase ends. Unlike a
// SafeBuffer it is cleared via Reset rather than committed once; the
// Runtime resets it before every entrypoint invocation.
type CaptureBuffer struct {
	buf bytes.Buffer
}

func (c *CaptureBuffer) Write(p []byte) (int, error) { return c.buf.Write(p) }
func (c *CaptureBuffer) String() string              { return c.buf.String() }
func (c *CaptureBuffer) Reset()                      { c.buf.Reset() }

// FormatObject is one named growable buffer backing BeaconFormat*,
// keyed by an opaque handle the BOF holds until BeaconFormatFree.
type FormatObject struct {
	buf bytes.Buffer
}

// Runtime implements the Beacon API Runtime: the helper functions a BOF
// calls into. Executor.Run creates one Runtime per invocation and Resets
// it before calling the entrypoint. Only one BOF executes at a time, so
// there is no locking.
type Runtime struct {
	Output  CaptureBuffer
	formats map[uintptr]*FormatObject
	nextH   uintptr
	args    *Reader
}

// NewRuntime returns a Runtime ready for its first execution.
func NewRuntime() *Runtime {
	return &Runtime{formats: make(map[uintptr]*FormatObject)}
}

// Reset prepares the Runtime for a new entrypoint invocation: the Output
// Buffer is cleared and any argument blob is installed for
// BeaconDataParse to hand out.
func (rt *Runtime) Reset(argBlob []byte) {
	rt.Output.Reset()
	rt.args = NewReader(argBlob)
	for h := range rt.formats {
		delete(rt.formats, h)
	}
}

// BeaconDataParse installs buf as the argument blob subsequent
// BeaconDataInt/Short/Extract/Length calls consume. A nil or empty buf
// yields a valid zero-length parser rather than a panic, consistent with
// Reset(nil) already having done so.
func (rt *Runtime) BeaconDataParse(buf []byte) {
	rt.args = NewReader(buf)
}

// BeaconDataInt reads the next int32 from the argument parser, 0 past
// the end.
func (rt *Runtime) BeaconDataInt() int32 {
	if rt.args == nil {
		return 0
	}
	return rt.args.Int()
}

// BeaconDataShort reads the next int16, 0 past the end.
func (rt *Runtime) BeaconDataShort() int16 {
	if rt.args == nil {
		return 0
	}
	return rt.args.Short()
}

// BeaconDataExtract reads a length-prefixed byte slice, nil past the end.
func (rt *Runtime) BeaconDataExtract() []byte {
	if rt.args == nil {
		return nil
	}
	return rt.args.Extract()
}

// BeaconDataLength reports the bytes remaining in the argument parser.
func (rt *Runtime) BeaconDataLength() int {
	if rt.args == nil {
		return 0
	}
	return rt.args.Length()
}

// BeaconPrintf formats with Go's fmt verbs and appends to the Output
// Buffer. %d, %s, %x and %X read as they do in C; C-only verbs and length
// modifiers (%i, %u, %p, %ld, ...) are not translated and render as fmt's
// bad-verb markers. The type argument is accepted and ignored for output
// routing.
func (rt *Runtime) BeaconPrintf(msgType int32, format string, args ...any) {
	fmt.Fprintf(&rt.Output, format, args...)
}

// BeaconOutput appends raw bytes to the Output Buffer.
func (rt *Runtime) BeaconOutput(msgType int32, data []byte) {
	rt.Output.Write(data)
}

// BeaconFormatAlloc creates a new Format Object and returns its handle.
func (rt *Runtime) BeaconFormatAlloc() uintptr {
	rt.nextH++
	rt.formats[rt.nextH] = &FormatObject{}
	return rt.nextH
}

// BeaconFormatPrintf appends to the Format Object identified by handle.
func (rt *Runtime) BeaconFormatPrintf(handle uintptr, format string, args ...any) {
	fo, ok := rt.formats[handle]
	if !ok {
		return
	}
	fmt.Fprintf(&fo.buf, format, args...)
}

// BeaconFormatInt appends a little-endian int32 to the Format Object.
func (rt *Runtime) BeaconFormatInt(handle uintptr, v int32) {
	fo, ok := rt.formats[handle]
	if !ok {
		return
	}
	binary.Write(&fo.buf, binary.LittleEndian, v)
}

// BeaconFormatToString returns the Format Object's current contents
// without transferring ownership.
func (rt *Runtime) BeaconFormatToString(handle uintptr) []byte {
	fo, ok := rt.formats[handle]
	if !ok {
		return nil
	}
	return fo.buf.Bytes()
}

// BeaconFormatReset truncates the Format Object back to empty.
func (rt *Runtime) BeaconFormatReset(handle uintptr) {
	if fo, ok := rt.formats[handle]; ok {
		fo.buf.Reset()
	}
}

// BeaconFormatFree releases the Format Object; handle is invalid after.
func (rt *Runtime) BeaconFormatFree(handle uintptr) {
	delete(rt.formats, handle)
}

// BeaconUseToken, BeaconRevertToken, and BeaconIsAdmin are no-op stubs:
// this loader does not model Windows token impersonation.
func (rt *Runtime) BeaconUseToken(token uintptr) bool { return false }
func (rt *Runtime) BeaconRevertToken()                {}
func (rt *Runtime) BeaconIsAdmin() bool               { return false }
