package emu

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAlign(t *testing.T) {
	tests := []struct {
		addr, size         uint64
		wantAddr, wantSize uint64
	}{
		{0x1000, 0x1000, 0x1000, 0x1000},
		{0x1001, 0x10, 0x1000, 0x1000},
		{0x1ff0, 0x20, 0x1000, 0x2000},
		{0x0, 0x1, 0x0, 0x1000},
		{0x100000fa0, 0x64, 0x100000000, 0x2000},
	}
	for _, tt := range tests {
		gotAddr, gotSize := Align(tt.addr, tt.size)
		if gotAddr != tt.wantAddr || gotSize != tt.wantSize {
			t.Errorf("Align(%#x, %#x) = %#x, %#x; want %#x, %#x", tt.addr, tt.size, gotAddr, gotSize, tt.wantAddr, tt.wantSize)
		}
	}
}

func TestMemMapMap(t *testing.T) {
	m := NewMemMap()

	addr, size, err := m.Map(0x100000f00, 0x200)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x100000000 || size != 0x2000 {
		t.Errorf("Map() = %#x, %#x", addr, size)
	}
	if _, _, err := m.Map(0x100001800, 0x10); err == nil {
		t.Error("expected overlap error")
	}
	if _, _, err := m.Map(0x60000000, 0); err == nil {
		t.Error("expected error for empty range")
	}
	if _, _, err := m.Map(0x60000000, 0x800000); err != nil {
		t.Fatal(err)
	}

	if !m.Contains(0x100001fff) || m.Contains(0x100002000) {
		t.Error("Contains() misreports the end of the first mapping")
	}

	want := "0x60000000-0x60800000\n0x100000000-0x100002000\n"
	if diff := cmp.Diff(want, m.String()); diff != "" {
		t.Errorf("String() mismatch (-want +got):\n%s", diff)
	}
}

func TestMemMapRemove(t *testing.T) {
	m := NewMemMap()
	if _, _, err := m.Map(0x10000, 0x5000); err != nil {
		t.Fatal(err)
	}

	m.Remove(0x12000, 0x1000)
	want := []*Page{
		{Addr: 0x10000, Size: 0x2000},
		{Addr: 0x13000, Size: 0x2000},
	}
	if diff := cmp.Diff(want, m.Pages); diff != "" {
		t.Errorf("split mismatch (-want +got):\n%s", diff)
	}

	m.Remove(0x10000, 0x2000)
	m.Remove(0x14000, 0x1000)
	want = []*Page{{Addr: 0x13000, Size: 0x1000}}
	if diff := cmp.Diff(want, m.Pages); diff != "" {
		t.Errorf("trim mismatch (-want +got):\n%s", diff)
	}

	// the freed range can be mapped again
	if _, _, err := m.Map(0x10000, 0x3000); err != nil {
		t.Errorf("Map() after Remove() error = %v", err)
	}
}
