package bof

import (
	"encoding/binary"
	"log/slog"
	"unsafe"
)

// ErrUnsupportedPlatform is returned by Executor.Run outside Windows:
// dynamic library$function imports and the Microsoft x64 calling
// convention trampoline both require it. Every earlier pipeline stage
// (parse, resolve, allocate, relocate, protect, locate the entrypoint)
// still runs on any platform; only the final native call is gated.
// Outside Windows the Beacon API table is empty (see beacon_unix.go), so
// an object with any external reference fails resolution with
// UnresolvedSymbol before this error is reached.
var ErrUnsupportedPlatform = newErr(KindExecutionFault, "executing a BOF requires windows (VirtualAlloc/LoadLibrary/the Microsoft x64 calling convention)")

// Executor ties the COFF Parser, Memory Manager, Symbol Resolver,
// Relocation Engine, and Beacon API Runtime together into the single
// Load/relocate/execute/teardown pipeline spec'd for one BOF invocation.
type Executor struct {
	Logger *slog.Logger
}

// NewExecutor returns an Executor logging through logger, or
// slog.Default() if logger is nil.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Logger: logger}
}

func (e *Executor) log() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Run parses buf as a COFF object, maps and relocates it, locates
// entrypoint (falling back to "_"+entrypoint), invokes it with argBlob,
// and returns the captured Output Buffer contents.
func (e *Executor) Run(buf []byte, entrypoint string, argBlob []byte) (string, error) {
	img, err := Parse(buf)
	if err != nil {
		e.log().Error("parse failed", "error", err)
		return "", err
	}
	e.log().Debug("parsed image", "sections", len(img.Sections), "symbols", len(img.Symbols))

	rt := NewRuntime()
	resolver := NewResolver(APITable(rt))
	slots, addrs, rerr := ResolveAll(resolver, img)
	if rerr != nil {
		e.log().Error("symbol resolution failed", "error", rerr)
		return "", rerr
	}
	e.log().Debug("resolved imports", "count", len(addrs))

	mgr := NewManager()
	defer func() {
		if rerr := mgr.Release(); rerr != nil {
			e.log().Warn("releasing regions", "error", rerr)
		}
	}()

	sectionSizes := make([]int, len(img.Sections))
	reserveSize := 0
	for i, sec := range img.Sections {
		size := int(sec.VirtualSize)
		if len(sec.RawData) > size {
			size = len(sec.RawData)
		}
		sectionSizes[i] = size
		reserveSize += regionFootprint(size)
	}
	reserveSize += regionFootprint(len(addrs) * 8)

	// One reservation covering every section and the FMT is what actually
	// guarantees they all land within the 2GiB window rel32 relocations
	// can reach; independent OS allocations per region give no such
	// guarantee.
	if werr := mgr.Reserve(reserveSize); werr != nil {
		e.log().Error("reservation failed", "error", werr)
		return "", werr
	}

	sectionRegions := make([]*Region, len(img.Sections))
	sectionBases := make([]uintptr, len(img.Sections))
	for i, sec := range img.Sections {
		region, aerr := mgr.AllocateSection(sectionSizes[i])
		if aerr != nil {
			return "", aerr
		}
		copy(region.Data, sec.RawData)
		sectionRegions[i] = region
		sectionBases[i] = region.Base
	}

	fmtRegion, aerr := mgr.AllocateFMT(len(addrs))
	if aerr != nil {
		return "", aerr
	}
	for i, addr := range addrs {
		binary.LittleEndian.PutUint64(fmtRegion.Data[i*8:i*8+8], uint64(addr))
	}

	imageBase := sectionBases[0]
	for _, b := range sectionBases {
		if b < imageBase {
			imageBase = b
		}
	}
	placement := &Placement{
		SectionBases: sectionBases,
		FMTBase:      fmtRegion.Base,
		FMTSlot:      slots,
		ImageBase:    imageBase,
	}

	if aerr := Apply(img, sectionRegions, placement); aerr != nil {
		e.log().Error("relocation failed", "error", aerr)
		return "", aerr
	}

	for i, sec := range img.Sections {
		if perr := mgr.Protect(sectionRegions[i], protectionFor(sec)); perr != nil {
			return "", perr
		}
	}

	entryIdx, eerr := findEntrypoint(img, entrypoint)
	if eerr != nil {
		e.log().Error("entrypoint lookup failed", "error", eerr)
		return "", eerr
	}
	entrySym := img.Symbols[entryIdx]
	entryAddr := sectionBases[int(entrySym.SectionNumber)-1] + uintptr(entrySym.Value)

	if !dynamicImportsSupported {
		return "", ErrUnsupportedPlatform
	}

	rt.Reset(argBlob)
	e.log().Info("invoking entrypoint", "name", entrypoint, "args", len(argBlob))
	if derr := dispatch(entryAddr, argBlob); derr != nil {
		e.log().Error("execution fault", "error", derr)
		return "", derr
	}

	return rt.Output.String(), nil
}

// findEntrypoint searches for a defined symbol named name, falling back
// to "_"+name for toolchains that prepend an underscore.
func findEntrypoint(img *Image, name string) (int, error) {
	for _, candidate := range []string{name, "_" + name} {
		for i, sym := range img.Symbols {
			if sym == nil || sym.Name != candidate || sym.SectionNumber <= 0 {
				continue
			}
			if int(sym.SectionNumber) > len(img.Sections) {
				return 0, newErr(KindBadSymbolIndex, "entrypoint symbol %q references section %d, object has %d", candidate, sym.SectionNumber, len(img.Sections))
			}
			return i, nil
		}
	}
	return 0, newErr(KindEntrypointNotFound, "no defined symbol %q (or %q) in symbol table", name, "_"+name)
}

func protectionFor(sec *Section) Protection {
	switch {
	case sec.isExecutable() && sec.isWritable():
		return ProtRWX
	case sec.isExecutable():
		return ProtRX
	default:
		return ProtRW
	}
}

// dispatch invokes the entrypoint at addr with the packed-argument blob,
// converting any recovered panic into an ExecutionFault rather than
// propagating a crash up through the loader.
func dispatch(addr uintptr, argBlob []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newErr(KindExecutionFault, "entrypoint raised: %v", r)
		}
	}()

	var argPtr uintptr
	if len(argBlob) > 0 {
		argPtr = uintptr(unsafe.Pointer(&argBlob[0]))
	}
	return invokeEntrypoint(addr, argPtr, len(argBlob))
}
