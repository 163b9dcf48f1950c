//go:build windows

package bof

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// platformAlloc reserves and commits a RW region via VirtualAlloc, the
// primitive the BOF ABI's host loader is specified against.
func platformAlloc(size int) (uintptr, []byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, nil, err
	}
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return addr, data, nil
}

func platformProtect(base uintptr, size int, prot Protection) error {
	var newProt uint32
	switch prot {
	case ProtRW:
		newProt = windows.PAGE_READWRITE
	case ProtRX:
		newProt = windows.PAGE_EXECUTE_READ
	case ProtRWX:
		newProt = windows.PAGE_EXECUTE_READWRITE
	case ProtNone:
		newProt = windows.PAGE_NOACCESS
	}
	var old uint32
	return windows.VirtualProtect(base, uintptr(size), newProt, &old)
}

func platformRelease(base uintptr, _ int) error {
	return windows.VirtualFree(base, 0, windows.MEM_RELEASE)
}

// loadLibrary and getProcAddress forward to the OS dynamic linker for
// the Symbol Resolver's `library$function` and GetProcAddress/LoadLibraryA
// beacon API entries.
func loadLibrary(name string) (uintptr, error) {
	h, err := windows.LoadLibrary(name)
	return uintptr(h), err
}

func getProcAddress(handle uintptr, name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(windows.Handle(handle), name)
	return addr, err
}

func freeLibrary(handle uintptr) error {
	return windows.FreeLibrary(windows.Handle(handle))
}

const dynamicImportsSupported = true
