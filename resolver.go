package bof

import "strings"

// LibraryCache holds one entry per distinct OS library opened to satisfy
// library$function imports. Entries are kept resident for the process
// lifetime, matching real Beacon semantics where a BOF commonly expects a
// DLL it loaded to stay mapped; the loader does not free them on its own.
type LibraryCache struct {
	entries map[string]uintptr
}

// NewLibraryCache returns an empty cache.
func NewLibraryCache() *LibraryCache {
	return &LibraryCache{entries: make(map[string]uintptr)}
}

func (c *LibraryCache) handle(name string) (uintptr, error) {
	if h, ok := c.entries[name]; ok {
		return h, nil
	}
	h, err := loadLibrary(name)
	if err != nil {
		return 0, err
	}
	c.entries[name] = h
	return h, nil
}

// Resolver classifies and resolves external COFF symbol names per the
// three forms the loaded code may use: __imp_-prefixed indirection,
// library$function dynamic imports, and the built-in Beacon API.
type Resolver struct {
	beacon map[string]uintptr
	libs   *LibraryCache
}

// NewResolver builds a Resolver backed by the given Beacon API address
// table (name -> callable address, see beacon.go's APITable).
func NewResolver(beacon map[string]uintptr) *Resolver {
	return &Resolver{beacon: beacon, libs: NewLibraryCache()}
}

// Resolve returns the address to place in the symbol's FMT slot, or an
// UnresolvedSymbol error naming it.
func (r *Resolver) Resolve(name string) (uintptr, error) {
	stripped := strings.TrimPrefix(name, "__imp_")

	if lib, fn, ok := strings.Cut(stripped, "$"); ok {
		handle, err := r.libs.handle(lib)
		if err != nil {
			return 0, wrapErr(KindUnresolvedSymbol, err, "loading library %q for %q", lib, name)
		}
		addr, err := getProcAddress(handle, fn)
		if err != nil {
			return 0, wrapErr(KindUnresolvedSymbol, err, "resolving %q in %q", fn, lib)
		}
		return addr, nil
	}

	if addr, ok := r.beacon[stripped]; ok {
		return addr, nil
	}

	return 0, newErr(KindUnresolvedSymbol, "%s", name)
}

// ResolveAll assigns one FMT slot per distinct external symbol table
// index in img and resolves each, returning the placement map the
// Relocation Engine needs. Resolution happens exactly once per symbol,
// before any relocation referencing it is applied.
func ResolveAll(r *Resolver, img *Image) (slots map[uint32]int, addrs []uintptr, err error) {
	slots = make(map[uint32]int)
	for idx, sym := range img.Symbols {
		if sym == nil || !sym.IsExternal() {
			// nil entries are aux-symbol placeholders (see readSymbolTable);
			// they carry no name to resolve and are never relocated against.
			continue
		}
		addr, rerr := r.Resolve(sym.Name)
		if rerr != nil {
			return nil, nil, rerr
		}
		slots[uint32(idx)] = len(addrs)
		addrs = append(addrs, addr)
	}
	return slots, addrs, nil
}
