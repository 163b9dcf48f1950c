//go:build windows

package bof

import (
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// cStringAt reads a NUL-terminated string starting at a raw address
// handed to us by loaded machine code. Unsafe by construction: the BOF
// is trusted the same way any other in-process extension is.
func cStringAt(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	var b []byte
	p := (*byte)(unsafe.Pointer(addr))
	for i := 0; ; i++ {
		c := *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(i)))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}

// formatFromRegisters renders format against raw register-passed
// arguments. BeaconPrintf's C-side callers pass a variable argument
// list; this loader, lacking a variadic-capable callback ABI, only
// reads the four argument slots its callbacks declare beyond the two
// fixed parameters (msgType, format). Verbs past the fourth get no
// argument, and fmt renders them as %!verb(MISSING).
func formatFromRegisters(format string, regs [4]uintptr) []any {
	var out []any
	ri := 0
	for i := 0; i < len(format) && ri < len(regs); i++ {
		if format[i] != '%' || i+1 >= len(format) {
			continue
		}
		switch format[i+1] {
		case 's':
			out = append(out, cStringAt(regs[ri]))
			ri++
		case 'd', 'i', 'u', 'x', 'X', 'p':
			out = append(out, regs[ri])
			ri++
		}
	}
	return out
}

// apiCallback wraps an idiomatic Runtime method into a C-callable
// function pointer via syscall.NewCallback, the standard technique for
// handing Go-implemented functions to foreign code on Windows.
func apiCallback(fn func(a0, a1, a2, a3, a4, a5 uintptr) uintptr) uintptr {
	return syscall.NewCallback(fn)
}

// APITable builds the Beacon API address table: one callback per
// exported function name, plus the dynamic-linker forwards.
func APITable(rt *Runtime) map[string]uintptr {
	return map[string]uintptr{
		"BeaconDataParse": apiCallback(func(_, bufPtr, bufLen, _, _, _ uintptr) uintptr {
			if bufPtr == 0 {
				rt.BeaconDataParse(nil)
				return 0
			}
			data := unsafe.Slice((*byte)(unsafe.Pointer(bufPtr)), int(bufLen))
			rt.BeaconDataParse(data)
			return 0
		}),
		"BeaconDataInt": apiCallback(func(_, _, _, _, _, _ uintptr) uintptr {
			return uintptr(int32(rt.BeaconDataInt()))
		}),
		"BeaconDataShort": apiCallback(func(_, _, _, _, _, _ uintptr) uintptr {
			return uintptr(int16(rt.BeaconDataShort()))
		}),
		"BeaconDataLength": apiCallback(func(_, _, _, _, _, _ uintptr) uintptr {
			return uintptr(rt.BeaconDataLength())
		}),
		"BeaconDataExtract": apiCallback(func(_, outLenPtr, _, _, _, _ uintptr) uintptr {
			b := rt.BeaconDataExtract()
			if outLenPtr != 0 {
				*(*uint32)(unsafe.Pointer(outLenPtr)) = uint32(len(b))
			}
			if len(b) == 0 {
				return 0
			}
			return uintptr(unsafe.Pointer(&b[0]))
		}),
		"BeaconPrintf": apiCallback(func(msgType, fmtPtr, a0, a1, a2, a3 uintptr) uintptr {
			format := cStringAt(fmtPtr)
			args := formatFromRegisters(format, [4]uintptr{a0, a1, a2, a3})
			rt.BeaconPrintf(int32(msgType), format, args...)
			return 0
		}),
		"BeaconOutput": apiCallback(func(msgType, dataPtr, dataLen, _, _, _ uintptr) uintptr {
			if dataPtr == 0 {
				return 0
			}
			data := unsafe.Slice((*byte)(unsafe.Pointer(dataPtr)), int(dataLen))
			rt.BeaconOutput(int32(msgType), data)
			return 0
		}),
		"BeaconFormatAlloc": apiCallback(func(_, _, _, _, _, _ uintptr) uintptr {
			return rt.BeaconFormatAlloc()
		}),
		"BeaconFormatPrintf": apiCallback(func(handle, fmtPtr, a0, a1, a2, a3 uintptr) uintptr {
			format := cStringAt(fmtPtr)
			args := formatFromRegisters(format, [4]uintptr{a0, a1, a2, a3})
			rt.BeaconFormatPrintf(handle, format, args...)
			return 0
		}),
		"BeaconFormatInt": apiCallback(func(handle, v, _, _, _, _ uintptr) uintptr {
			rt.BeaconFormatInt(handle, int32(v))
			return 0
		}),
		"BeaconFormatToString": apiCallback(func(handle, outLenPtr, _, _, _, _ uintptr) uintptr {
			b := rt.BeaconFormatToString(handle)
			if outLenPtr != 0 {
				*(*uint32)(unsafe.Pointer(outLenPtr)) = uint32(len(b))
			}
			if len(b) == 0 {
				return 0
			}
			return uintptr(unsafe.Pointer(&b[0]))
		}),
		"BeaconFormatReset": apiCallback(func(handle, _, _, _, _, _ uintptr) uintptr {
			rt.BeaconFormatReset(handle)
			return 0
		}),
		"BeaconFormatFree": apiCallback(func(handle, _, _, _, _, _ uintptr) uintptr {
			rt.BeaconFormatFree(handle)
			return 0
		}),
		"BeaconUseToken": apiCallback(func(token, _, _, _, _, _ uintptr) uintptr {
			if rt.BeaconUseToken(token) {
				return 1
			}
			return 0
		}),
		"BeaconRevertToken": apiCallback(func(_, _, _, _, _, _ uintptr) uintptr {
			rt.BeaconRevertToken()
			return 0
		}),
		"BeaconIsAdmin": apiCallback(func(_, _, _, _, _, _ uintptr) uintptr {
			if rt.BeaconIsAdmin() {
				return 1
			}
			return 0
		}),
		"toWideChar": apiCallback(func(strPtr, _, _, _, _, _ uintptr) uintptr {
			s := cStringAt(strPtr)
			u, err := windows.UTF16PtrFromString(s)
			if err != nil {
				return 0
			}
			return uintptr(unsafe.Pointer(u))
		}),
		"GetProcAddress": apiCallback(func(handle, namePtr, _, _, _, _ uintptr) uintptr {
			addr, err := getProcAddress(handle, cStringAt(namePtr))
			if err != nil {
				return 0
			}
			return addr
		}),
		"LoadLibraryA": apiCallback(func(namePtr, _, _, _, _, _ uintptr) uintptr {
			h, err := loadLibrary(cStringAt(namePtr))
			if err != nil {
				return 0
			}
			return h
		}),
		"GetModuleHandleA": apiCallback(func(namePtr, _, _, _, _, _ uintptr) uintptr {
			name := cStringAt(namePtr)
			h, err := windows.GetModuleHandle(strOrEmpty(name))
			if err != nil {
				return 0
			}
			return uintptr(h)
		}),
		"FreeLibrary": apiCallback(func(handle, _, _, _, _, _ uintptr) uintptr {
			if freeLibrary(handle) != nil {
				return 0
			}
			return 1
		}),
	}
}

func strOrEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}
