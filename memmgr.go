package bof

// Protection is the page protection mode of a mapped Region.
type Protection int

const (
	ProtRW Protection = iota
	ProtRX
	ProtRWX
	ProtNone
)

// reservationWindow bounds every allocation the Memory Manager makes:
// rel32 relocations can only reach ±2GiB, so sections and the Function
// Mapping Table must all live inside a window no larger than this.
const reservationWindow = uint64(1) << 31

// pageSize is the granularity every sub-allocation inside the arena is
// rounded up to, so that Protect (VirtualProtect/mprotect) never changes
// protection on a page shared with a neighboring section or the FMT.
const pageSize = 4096

// Region is one page-backed range owned by a single load session: either
// a COFF section's backing store or the Function Mapping Table. Data
// aliases the live mapping; writes to it are writes to the mapped pages
// themselves.
type Region struct {
	Base uintptr
	Data []byte
	prot Protection
}

// Manager owns the single reservation a load session allocates and
// carves every Region out of it, which is what actually establishes the
// 2GiB placement window rel32 relocations require: sections and the FMT
// never get independent OS allocations that could land arbitrarily far
// apart, they are sub-ranges of one mapping.
type Manager struct {
	arena   *Region
	cursor  int
	regions []*Region
}

// NewManager returns a Manager with no reservation yet; call Reserve
// before AllocateSection/AllocateFMT.
func NewManager() *Manager {
	return &Manager{}
}

// Reserve allocates one RW region of size bytes that every section and
// the Function Mapping Table are subsequently carved out of. size must
// not exceed the 2GiB rel32 window; callers compute it as the sum of
// every section's page-rounded size plus the FMT's, before any
// AllocateSection/AllocateFMT call.
func (m *Manager) Reserve(size int) error {
	if size <= 0 {
		size = 1
	}
	if uint64(size) > reservationWindow {
		return newErr(KindRelocationOverflow, "reservation of %d bytes exceeds the 2GiB rel32 window", size)
	}
	base, data, err := platformAlloc(size)
	if err != nil {
		return wrapErr(KindExecutionFault, err, "reserving %d bytes", size)
	}
	m.arena = &Region{Base: base, Data: data, prot: ProtRW}
	return nil
}

// AllocateSection carves a region at least size bytes for one COFF
// section's backing store out of the reservation.
func (m *Manager) AllocateSection(size int) (*Region, error) {
	return m.carve(size)
}

// AllocateFMT carves a region sized to hold numImports 64-bit slots out
// of the reservation: the Function Mapping Table.
func (m *Manager) AllocateFMT(numImports int) (*Region, error) {
	return m.carve(numImports * 8)
}

func (m *Manager) carve(size int) (*Region, error) {
	if m.arena == nil {
		return nil, newErr(KindExecutionFault, "Reserve must be called before allocating sections or the FMT")
	}
	sliceLen := size
	if sliceLen < 0 {
		sliceLen = 0
	}
	aligned := regionFootprint(size)
	if m.cursor+aligned > len(m.arena.Data) {
		return nil, newErr(KindRelocationOverflow, "reservation of %d bytes exhausted", len(m.arena.Data))
	}
	r := &Region{
		Base: m.arena.Base + uintptr(m.cursor),
		Data: m.arena.Data[m.cursor : m.cursor+sliceLen],
		prot: ProtRW,
	}
	m.cursor += aligned
	m.regions = append(m.regions, r)
	return r, nil
}

// regionFootprint is the page-rounded reservation space a carve of size
// bytes actually consumes (a zero-byte carve still reserves one page, so
// its neighbor doesn't share a page with it). Callers sizing a
// reservation up front with Reserve must sum this, not the raw size, to
// match what AllocateSection/AllocateFMT will later consume.
func regionFootprint(size int) int {
	if size <= 0 {
		size = 1
	}
	return alignUp(size, pageSize)
}

func alignUp(size, align int) int {
	return (size + align - 1) / align * align
}

// Protect transitions a region's page protection.
func (m *Manager) Protect(r *Region, prot Protection) error {
	if err := platformProtect(r.Base, len(r.Data), prot); err != nil {
		return wrapErr(KindExecutionFault, err, "protecting region at 0x%x", r.Base)
	}
	r.prot = prot
	return nil
}

// Release unmaps the reservation backing every Region this Manager
// carved. Safe to call more than once; later calls are no-ops.
func (m *Manager) Release() error {
	for _, r := range m.regions {
		r.Data = nil
	}
	m.regions = nil
	m.cursor = 0
	if m.arena == nil || m.arena.Data == nil {
		return nil
	}
	err := platformRelease(m.arena.Base, len(m.arena.Data))
	m.arena.Data = nil
	if err != nil {
		return wrapErr(KindExecutionFault, err, "releasing reservation at 0x%x", m.arena.Base)
	}
	return nil
}
