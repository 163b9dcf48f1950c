//go:build windows && !amd64

package bof

// invokeEntrypoint has no trampoline on non-amd64 Windows: the BOF ABI
// this loader targets is x86_64 Microsoft-ABI only.
func invokeEntrypoint(addr uintptr, argPtr uintptr, argLen int) error {
	return newErr(KindUnsupportedArchitecture, "entrypoint invocation requires windows/amd64")
}
