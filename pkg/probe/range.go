package probe

// RebaseOrigin is the synthetic load address used for normalized addresses.
const RebaseOrigin uint64 = 0x10000000

// AddressRange is the [Base, Top) span of the target module.
type AddressRange struct {
	Base   uint64
	Top    uint64
	Loaded bool
}

// Contains reports whether addr is inside a loaded range.
func (r AddressRange) Contains(addr uint64) bool {
	return r.Loaded && addr >= r.Base && addr < r.Top
}

// Rebase translates addr onto RebaseOrigin and truncates the result to 32 bits.
// The caller is expected to have checked Contains.
func (r AddressRange) Rebase(addr uint64) uint64 {
	return uint64(uint32(RebaseOrigin + (addr - r.Base)))
}

// Size returns the number of bytes spanned by the range.
func (r AddressRange) Size() uint64 {
	if !r.Loaded {
		return 0
	}
	return r.Top - r.Base
}
