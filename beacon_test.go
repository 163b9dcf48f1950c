package bof

import "testing"

// TestBeaconPrintfCapturesOutput: after a BeaconPrintf call, the Output
// Buffer holds the formatted text.
func TestBeaconPrintfCapturesOutput(t *testing.T) {
	rt := NewRuntime()
	rt.Reset(nil)
	rt.BeaconPrintf(0, "hello %d", 42)
	if got := rt.Output.String(); got != "hello 42" {
		t.Errorf("Output = %q, want %q", got, "hello 42")
	}
}

func TestBeaconOutputAppendsRawBytes(t *testing.T) {
	rt := NewRuntime()
	rt.Reset(nil)
	rt.BeaconOutput(0, []byte("raw"))
	rt.BeaconPrintf(0, "-%s", "fmt")
	if got := rt.Output.String(); got != "raw-fmt" {
		t.Errorf("Output = %q, want %q", got, "raw-fmt")
	}
}

func TestBeaconFormatLifecycle(t *testing.T) {
	rt := NewRuntime()
	rt.Reset(nil)

	h := rt.BeaconFormatAlloc()
	rt.BeaconFormatPrintf(h, "count=%d", 3)
	if got := string(rt.BeaconFormatToString(h)); got != "count=3" {
		t.Errorf("BeaconFormatToString() = %q, want %q", got, "count=3")
	}

	rt.BeaconFormatReset(h)
	if got := string(rt.BeaconFormatToString(h)); got != "" {
		t.Errorf("BeaconFormatToString() after reset = %q, want empty", got)
	}

	rt.BeaconFormatFree(h)
	if got := rt.BeaconFormatToString(h); got != nil {
		t.Errorf("BeaconFormatToString() after free = %v, want nil", got)
	}
}

func TestBeaconFormatUnknownHandleIsNoOp(t *testing.T) {
	rt := NewRuntime()
	rt.Reset(nil)
	rt.BeaconFormatPrintf(999, "ignored")
	rt.BeaconFormatInt(999, 1)
	rt.BeaconFormatReset(999)
	rt.BeaconFormatFree(999)
	if got := rt.BeaconFormatToString(999); got != nil {
		t.Errorf("BeaconFormatToString() = %v, want nil", got)
	}
}

// TestBeaconDataZeroLengthParser covers the resolved Open Question: a
// nil argument blob yields a parser that reads as empty rather than
// panicking.
func TestBeaconDataZeroLengthParser(t *testing.T) {
	rt := NewRuntime()
	rt.Reset(nil)

	if got := rt.BeaconDataLength(); got != 0 {
		t.Errorf("BeaconDataLength() = %d, want 0", got)
	}
	if got := rt.BeaconDataInt(); got != 0 {
		t.Errorf("BeaconDataInt() = %d, want 0", got)
	}
	if got := rt.BeaconDataShort(); got != 0 {
		t.Errorf("BeaconDataShort() = %d, want 0", got)
	}
	if got := rt.BeaconDataExtract(); got != nil {
		t.Errorf("BeaconDataExtract() = %v, want nil", got)
	}
}

func TestBeaconDataParseReadsPackedBlob(t *testing.T) {
	rt := NewRuntime()
	rt.Reset(nil)

	p := NewPacker()
	p.AddInt(7)
	p.AddBin([]byte("hi"))
	rt.BeaconDataParse(p.Emit())

	if got := rt.BeaconDataInt(); got != 7 {
		t.Errorf("BeaconDataInt() = %d, want 7", got)
	}
	if got := string(rt.BeaconDataExtract()); got != "hi" {
		t.Errorf("BeaconDataExtract() = %q, want %q", got, "hi")
	}
}

// TestResetClearsStateBetweenExecutions: the Output Buffer and Format
// Objects do not leak across loads.
func TestResetClearsStateBetweenExecutions(t *testing.T) {
	rt := NewRuntime()
	rt.Reset(nil)
	rt.BeaconPrintf(0, "first run")
	h := rt.BeaconFormatAlloc()
	rt.BeaconFormatPrintf(h, "leftover")

	rt.Reset(nil)

	if got := rt.Output.String(); got != "" {
		t.Errorf("Output after Reset = %q, want empty", got)
	}
	if got := rt.BeaconFormatToString(h); got != nil {
		t.Errorf("format object survived Reset: %v", got)
	}
}
