package emu

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	data := `registers:
  X0: 0x1000
  x1: 42
  x2: "0b101"
  rip: 0xffffffffffffff00
stack:
  addr: "0x60000f00"
  data_base64: AAECAw==
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	state, err := ParseState(path)
	if err != nil {
		t.Fatalf("ParseState() error = %v", err)
	}

	regs, err := state.RegisterValues()
	if err != nil {
		t.Fatalf("RegisterValues() error = %v", err)
	}
	want := map[string]uint64{
		"x0":  0x1000,
		"x1":  42,
		"x2":  5,
		"rip": 0xffffffffffffff00,
	}
	if diff := cmp.Diff(want, regs); diff != "" {
		t.Errorf("RegisterValues() mismatch (-want +got):\n%s", diff)
	}

	addr, stk, err := state.StackData()
	if err != nil {
		t.Fatalf("StackData() error = %v", err)
	}
	if addr != 0x60000f00 {
		t.Errorf("stack addr = %#x", addr)
	}
	if diff := cmp.Diff([]byte{0, 1, 2, 3}, stk); diff != "" {
		t.Errorf("stack data mismatch (-want +got):\n%s", diff)
	}

	out, err := state.DumpYaml()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "data_base64: AAECAw==") {
		t.Errorf("DumpYaml() = %s", out)
	}
}

func TestStateErrors(t *testing.T) {
	if _, err := ParseState(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := parseState([]byte("registers: [1, 2")); err == nil {
		t.Error("expected error for malformed yaml")
	}

	state, err := parseState([]byte("registers:\n  x0: bogus\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := state.RegisterValues(); err == nil {
		t.Error("expected error for non numeric register value")
	}

	state, err = parseState([]byte("stack:\n  data_base64: '!!!'\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := state.StackData(); err == nil {
		t.Error("expected error for bad base64")
	}
}

func TestStateWithoutStack(t *testing.T) {
	state, err := parseState([]byte("registers:\n  rax: 1\n"))
	if err != nil {
		t.Fatal(err)
	}
	addr, data, err := state.StackData()
	if err != nil || addr != 0 || data != nil {
		t.Errorf("StackData() = %#x, %v, %v", addr, data, err)
	}
}
