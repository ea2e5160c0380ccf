package disass

import (
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

type regFile map[string]uint64

func (r regFile) ReadRegister(name string) (uint64, error) {
	v, ok := r[name]
	if !ok {
		return 0, fmt.Errorf("no register %q", name)
	}
	return v, nil
}

type memory map[uint64]uint64

func (m memory) ReadMemory(buf []byte, addr uint64) (int, error) {
	v, ok := m[addr]
	if !ok {
		return 0, fmt.Errorf("unmapped %#x", addr)
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return copy(buf, tmp[:]), nil
}

func TestDecodeAMD64(t *testing.T) {
	// AMD64 instruction encodings:
	// call rel32               = 0xE8 <4 bytes rel32>
	// call rax                 = 0xFF 0xD0
	// call r11                 = 0x41 0xFF 0xD3
	// call [rip+disp32]        = 0xFF 0x15 <4 bytes disp32>
	// jmp rax                  = 0xFF 0xE0
	// jne rel8                 = 0x75 <1 byte rel8>
	tests := []struct {
		name         string
		code         []byte
		addr         uint64
		wantLen      int
		wantKind     Kind
		wantCall     bool
		wantDirect   bool
		wantIndirect bool
		wantTarget   uint64
	}{
		{
			name:       "call-rel32",
			code:       []byte{0xE8, 0x0B, 0x00, 0x00, 0x00},
			addr:       0x1000,
			wantLen:    5,
			wantKind:   KindCall,
			wantCall:   true,
			wantDirect: true,
			wantTarget: 0x1010,
		},
		{
			name:       "call-rel32-negative",
			code:       []byte{0xE8, 0xE0, 0xFF, 0xFF, 0xFF},
			addr:       0x100,
			wantLen:    5,
			wantKind:   KindCall,
			wantCall:   true,
			wantDirect: true,
			wantTarget: 0xE5,
		},
		{
			name:         "call-rax",
			code:         []byte{0xFF, 0xD0},
			addr:         0x2000,
			wantLen:      2,
			wantKind:     KindCall,
			wantCall:     true,
			wantIndirect: true,
		},
		{
			name:         "call-r11",
			code:         []byte{0x41, 0xFF, 0xD3},
			addr:         0x2000,
			wantLen:      3,
			wantKind:     KindCall,
			wantCall:     true,
			wantIndirect: true,
		},
		{
			name:         "call-rip-relative",
			code:         []byte{0xFF, 0x15, 0x34, 0x12, 0x00, 0x00},
			addr:         0x1000,
			wantLen:      6,
			wantKind:     KindCall,
			wantCall:     true,
			wantIndirect: true,
		},
		{
			name:         "jmp-rax",
			code:         []byte{0xFF, 0xE0},
			addr:         0x400,
			wantLen:      2,
			wantKind:     KindJump,
			wantIndirect: true,
		},
		{
			name:       "jne-rel8",
			code:       []byte{0x75, 0x10},
			addr:       0x400,
			wantLen:    2,
			wantKind:   KindCondJump,
			wantTarget: 0x412,
		},
		{
			name:         "ret",
			code:         []byte{0xC3},
			addr:         0x400,
			wantLen:      1,
			wantKind:     KindReturn,
			wantIndirect: true,
		},
		{
			name:     "syscall",
			code:     []byte{0x0F, 0x05},
			addr:     0x400,
			wantLen:  2,
			wantKind: KindSyscall,
		},
		{
			name:     "endbr64",
			code:     []byte{0xF3, 0x0F, 0x1E, 0xFA, 0x90},
			addr:     0x400,
			wantLen:  4,
			wantKind: KindOther,
		},
		{
			name:     "nop",
			code:     []byte{0x90},
			addr:     0x400,
			wantLen:  1,
			wantKind: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, err := Decode(ArchAMD64, tt.code, tt.addr)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if ins.Len != tt.wantLen {
				t.Errorf("Len = %d, want %d", ins.Len, tt.wantLen)
			}
			if ins.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ins.Kind, tt.wantKind)
			}
			if ins.IsCall() != tt.wantCall {
				t.Errorf("IsCall() = %v, want %v", ins.IsCall(), tt.wantCall)
			}
			if ins.IsDirectCall() != tt.wantDirect {
				t.Errorf("IsDirectCall() = %v, want %v", ins.IsDirectCall(), tt.wantDirect)
			}
			if ins.IsIndirectBranchOrCall() != tt.wantIndirect {
				t.Errorf("IsIndirectBranchOrCall() = %v, want %v", ins.IsIndirectBranchOrCall(), tt.wantIndirect)
			}
			if ins.DirectTarget() != tt.wantTarget {
				t.Errorf("DirectTarget() = %#x, want %#x", ins.DirectTarget(), tt.wantTarget)
			}
			if ins.Address() != tt.addr {
				t.Errorf("Address() = %#x, want %#x", ins.Address(), tt.addr)
			}
		})
	}
}

func TestDecodeARM64(t *testing.T) {
	tests := []struct {
		name         string
		code         []byte
		addr         uint64
		wantKind     Kind
		wantDirect   bool
		wantIndirect bool
		wantTarget   uint64
	}{
		{
			name:       "bl",
			code:       []byte{0x04, 0x00, 0x00, 0x94}, // bl #+0x10
			addr:       0x1000,
			wantKind:   KindCall,
			wantDirect: true,
			wantTarget: 0x1010,
		},
		{
			name:       "bl-negative",
			code:       []byte{0xFC, 0xFF, 0xFF, 0x97}, // bl #-0x10
			addr:       0x1000,
			wantKind:   KindCall,
			wantDirect: true,
			wantTarget: 0xFF0,
		},
		{
			name:         "blr-x8",
			code:         []byte{0x00, 0x01, 0x3F, 0xD6},
			addr:         0x1000,
			wantKind:     KindCall,
			wantIndirect: true,
		},
		{
			name:         "br-x16",
			code:         []byte{0x00, 0x02, 0x1F, 0xD6},
			addr:         0x1000,
			wantKind:     KindJump,
			wantIndirect: true,
		},
		{
			name:       "b",
			code:       []byte{0x08, 0x00, 0x00, 0x14}, // b #+0x20
			addr:       0x1000,
			wantKind:   KindJump,
			wantTarget: 0x1020,
		},
		{
			name:       "b-ne",
			code:       []byte{0x41, 0x00, 0x00, 0x54}, // b.ne #+0x8
			addr:       0x1000,
			wantKind:   KindCondJump,
			wantTarget: 0x1008,
		},
		{
			name:         "ret",
			code:         []byte{0xC0, 0x03, 0x5F, 0xD6},
			addr:         0x1000,
			wantKind:     KindReturn,
			wantIndirect: true,
		},
		{
			name:     "svc",
			code:     []byte{0x01, 0x10, 0x00, 0xD4}, // svc #0x80
			addr:     0x1000,
			wantKind: KindSyscall,
		},
		{
			name:     "nop",
			code:     []byte{0x1F, 0x20, 0x03, 0xD5},
			addr:     0x1000,
			wantKind: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, err := Decode(ArchARM64, tt.code, tt.addr)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if ins.Len != 4 {
				t.Errorf("Len = %d, want 4", ins.Len)
			}
			if ins.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", ins.Kind, tt.wantKind)
			}
			if ins.IsDirectCall() != tt.wantDirect {
				t.Errorf("IsDirectCall() = %v, want %v", ins.IsDirectCall(), tt.wantDirect)
			}
			if ins.IsIndirectBranchOrCall() != tt.wantIndirect {
				t.Errorf("IsIndirectBranchOrCall() = %v, want %v", ins.IsIndirectBranchOrCall(), tt.wantIndirect)
			}
			if ins.DirectTarget() != tt.wantTarget {
				t.Errorf("DirectTarget() = %#x, want %#x", ins.DirectTarget(), tt.wantTarget)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode("mips", []byte{0, 0, 0, 0}, 0); !errors.Is(err, ErrUnsupportedArch) {
		t.Errorf("expected ErrUnsupportedArch, got %v", err)
	}
	if _, err := Decode(ArchARM64, []byte{0x00, 0x01}, 0); err == nil {
		t.Error("expected error for truncated arm64 instruction")
	}
	for _, code := range [][]byte{{0xE8, 0x00}, {0x0F}} {
		if ins, err := Decode(ArchAMD64, code, 0); !errors.Is(err, x86asm.ErrTruncated) {
			t.Errorf("Decode(% x) = %v, %v; want ErrTruncated", code, ins, err)
		}
	}
}

func TestResolveTarget(t *testing.T) {
	regs := regFile{
		"rax":     0x7f00_0000_1000,
		"rbx":     0x5000,
		"rcx":     3,
		"r11":     0x4242,
		"fs_base": 0x7ff0_0000_0000,
		"x8":      0xdead_beef,
		"x30":     0x1004,
	}
	mem := memory{
		0x223A:                        0x6000,
		0x5010:                        0x7000,
		0x7f00_0000_1000 + 3*8 + 0x20: 0x8000,
		0x7ff0_0000_0028:              0x9000,
	}

	tests := []struct {
		name string
		arch Arch
		code []byte
		addr uint64
		want uint64
	}{
		{"call-rel32", ArchAMD64, []byte{0xE8, 0x0B, 0x00, 0x00, 0x00}, 0x1000, 0x1010},
		{"call-rax", ArchAMD64, []byte{0xFF, 0xD0}, 0x1000, 0x7f00_0000_1000},
		{"call-r11", ArchAMD64, []byte{0x41, 0xFF, 0xD3}, 0x1000, 0x4242},
		{"call-rip-relative", ArchAMD64, []byte{0xFF, 0x15, 0x34, 0x12, 0x00, 0x00}, 0x1000, 0x6000},
		{"call-base-disp", ArchAMD64, []byte{0xFF, 0x53, 0x10}, 0x1000, 0x7000},
		{"call-base-index-scale", ArchAMD64, []byte{0xFF, 0x54, 0xC8, 0x20}, 0x1000, 0x8000},
		{"call-fs-absolute", ArchAMD64, []byte{0x64, 0xFF, 0x14, 0x25, 0x28, 0x00, 0x00, 0x00}, 0x1000, 0x9000},
		{"bl", ArchARM64, []byte{0x04, 0x00, 0x00, 0x94}, 0x1000, 0x1010},
		{"blr-x8", ArchARM64, []byte{0x00, 0x01, 0x3F, 0xD6}, 0x1000, 0xdead_beef},
		{"ret", ArchARM64, []byte{0xC0, 0x03, 0x5F, 0xD6}, 0x1000, 0x1004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ins, err := Decode(tt.arch, tt.code, tt.addr)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			got, err := ins.ResolveTarget(regs, mem)
			if err != nil {
				t.Fatalf("ResolveTarget() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveTarget() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestResolveTargetUnmappedMemory(t *testing.T) {
	ins, err := Decode(ArchAMD64, []byte{0xFF, 0x53, 0x10}, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ins.ResolveTarget(regFile{"rbx": 0x1}, memory{}); err == nil {
		t.Fatal("expected error reading unmapped target")
	}
}
