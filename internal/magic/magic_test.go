package magic

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestIdentify(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Kind
	}{
		{"elf", []byte{0x7f, 'E', 'L', 'F', 2, 1, 1}, ELF},
		{"macho64", []byte{0xcf, 0xfa, 0xed, 0xfe, 0x0c}, MachO},
		{"macho32", []byte{0xce, 0xfa, 0xed, 0xfe}, MachO},
		{"fat", []byte{0xca, 0xfe, 0xba, 0xbe}, MachOFat},
		{"raw", []byte{0x55, 0x48, 0x89, 0xe5}, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Identify(bytes.NewReader(tt.data))
			if err != nil {
				t.Fatalf("Identify() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Identify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIdentifyShort(t *testing.T) {
	if _, err := Identify(bytes.NewReader([]byte{0x7f})); err == nil {
		t.Fatal("expected error for truncated magic")
	}
}

func TestIdentifyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.out")
	if err := os.WriteFile(path, []byte{0xcf, 0xfa, 0xed, 0xfe}, 0o644); err != nil {
		t.Fatal(err)
	}

	if kind, err := IdentifyFile(path); kind != MachO || err != nil {
		t.Errorf("IdentifyFile(%s) = %s, %v", path, kind, err)
	}
	if _, err := IdentifyFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}
