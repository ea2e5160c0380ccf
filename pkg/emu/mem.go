package emu

import (
	"fmt"
	"sort"
	"strings"
)

// PageSize is the granularity of emulator memory mappings.
const PageSize = 0x1000

// Align returns the page aligned range covering [addr, addr+size).
func Align(addr, size uint64) (uint64, uint64) {
	mask := ^uint64(PageSize - 1)
	right := (addr + size + PageSize - 1) & mask
	addr &= mask
	return addr, right - addr
}

type Page struct {
	Addr uint64
	Size uint64
}

func (p *Page) End() uint64 {
	return p.Addr + p.Size
}

func (p *Page) Contains(addr uint64) bool {
	return p.Addr <= addr && addr < p.End()
}

func (p *Page) Overlaps(addr, size uint64) bool {
	return p.Addr < addr+size && addr < p.End()
}

// MemMap tracks the ranges mapped into the emulator. Pages are kept sorted
// and never overlap.
type MemMap struct {
	Pages []*Page
}

func NewMemMap() *MemMap {
	return &MemMap{}
}

func (m *MemMap) Contains(addr uint64) bool {
	for _, p := range m.Pages {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func (m *MemMap) Overlaps(addr, size uint64) bool {
	for _, p := range m.Pages {
		if p.Overlaps(addr, size) {
			return true
		}
	}
	return false
}

// Map records the page aligned range covering [addr, addr+size) and returns
// it. Overlapping an existing range is an error.
func (m *MemMap) Map(addr, size uint64) (uint64, uint64, error) {
	if size == 0 {
		return 0, 0, fmt.Errorf("cannot map empty range at %#x", addr)
	}
	addr, size = Align(addr, size)
	if addr+size < addr {
		return 0, 0, fmt.Errorf("range %#x+%#x wraps the address space", addr, size)
	}
	if m.Overlaps(addr, size) {
		return 0, 0, fmt.Errorf("range %#x-%#x overlaps an existing mapping", addr, addr+size)
	}
	m.Pages = append(m.Pages, &Page{Addr: addr, Size: size})
	sort.Slice(m.Pages, func(i, j int) bool {
		return m.Pages[i].Addr < m.Pages[j].Addr
	})
	return addr, size, nil
}

// Remove forgets the page aligned range covering [addr, addr+size), splitting
// any mapping it cuts through.
func (m *MemMap) Remove(addr, size uint64) {
	addr, size = Align(addr, size)
	end := addr + size

	var pages []*Page
	for _, p := range m.Pages {
		if !p.Overlaps(addr, size) {
			pages = append(pages, p)
			continue
		}
		if p.Addr < addr {
			pages = append(pages, &Page{Addr: p.Addr, Size: addr - p.Addr})
		}
		if p.End() > end {
			pages = append(pages, &Page{Addr: end, Size: p.End() - end})
		}
	}
	m.Pages = pages
}

func (m *MemMap) String() string {
	var sb strings.Builder
	for _, p := range m.Pages {
		fmt.Fprintf(&sb, "%#x-%#x\n", p.Addr, p.End())
	}
	return sb.String()
}
