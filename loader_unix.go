//go:build !windows

package bof

// invokeEntrypoint is unreachable in practice: Run returns
// ErrUnsupportedPlatform before ever calling it on this platform. It
// exists so loader.go compiles without a build-tag split in its own
// body.
func invokeEntrypoint(addr uintptr, argPtr uintptr, argLen int) error {
	return ErrUnsupportedPlatform
}
