//go:build windows && amd64

package bof

// callEntrypoint is implemented in trampoline_windows_amd64.s: it calls
// entry under the Microsoft x64 calling convention (first argument in
// RCX, second in RDX), the ABI the BOF's "go" function expects, which
// differs from the Go compiler's own internal calling convention.
func callEntrypoint(entry, argPtr, argLen uintptr) uintptr

func invokeEntrypoint(addr uintptr, argPtr uintptr, argLen int) error {
	callEntrypoint(addr, argPtr, uintptr(argLen))
	return nil
}
