//go:build !windows

package bof

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// platformAlloc backs section and FMT regions with an anonymous mmap on
// non-Windows hosts, so the Memory Manager, COFF Parser, Relocation
// Engine, and Beacon API Runtime can all be exercised outside Windows
// even though Executor.Run's native call is Windows-only (see loadLibrary
// below).
func platformAlloc(size int) (uintptr, []byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, nil, err
	}
	return uintptr(unsafe.Pointer(&data[0])), data, nil
}

func platformProtect(base uintptr, size int, prot Protection) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	var p int
	switch prot {
	case ProtRW:
		p = unix.PROT_READ | unix.PROT_WRITE
	case ProtRX:
		p = unix.PROT_READ | unix.PROT_EXEC
	case ProtRWX:
		p = unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	case ProtNone:
		p = unix.PROT_NONE
	}
	return unix.Mprotect(data, p)
}

func platformRelease(base uintptr, size int) error {
	data := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	return unix.Munmap(data)
}

// loadLibrary, getProcAddress, and freeLibrary have no portable
// equivalent in golang.org/x/sys/unix (no dlopen/dlsym wrapper is
// exposed there); the Symbol Resolver reports UnresolvedSymbol for
// library$function references on this build rather than silently
// stubbing dynamic imports.
func loadLibrary(name string) (uintptr, error) {
	return 0, fmt.Errorf("dynamic library loading is only supported on windows")
}

func getProcAddress(handle uintptr, name string) (uintptr, error) {
	return 0, fmt.Errorf("dynamic symbol resolution is only supported on windows")
}

func freeLibrary(handle uintptr) error {
	return fmt.Errorf("dynamic library loading is only supported on windows")
}

const dynamicImportsSupported = false
