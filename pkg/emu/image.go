package emu

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/blacktop/calltrace/internal/magic"
	"github.com/blacktop/calltrace/pkg/disass"
	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

// Segment is a piece of an image to be mapped at Addr. Memory between
// len(Data) and Memsz is zero filled.
type Segment struct {
	Name  string
	Addr  uint64
	Memsz uint64
	Data  []byte
}

// Image is an executable ready to be mapped into the emulator.
type Image struct {
	Name     string
	Arch     disass.Arch
	Entry    uint64
	Segments []Segment
}

// Bounds returns the lowest and the (exclusive) highest address covered by
// the image's segments.
func (i *Image) Bounds() (low, high uint64) {
	for idx, seg := range i.Segments {
		end := seg.Addr + max(seg.Memsz, uint64(len(seg.Data)))
		if idx == 0 || seg.Addr < low {
			low = seg.Addr
		}
		if end > high {
			high = end
		}
	}
	return low, high
}

// OpenImage loads the Mach-O, ELF or raw code blob at path. arch selects the
// slice of a universal Mach-O and is required for raw blobs, which are placed
// at base.
func OpenImage(path string, arch disass.Arch, base uint64) (*Image, error) {
	kind, err := magic.IdentifyFile(path)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}

	var img *Image
	switch kind {
	case magic.MachO, magic.MachOFat:
		img, err = openMachO(path, arch)
	case magic.ELF:
		img, err = openELF(path)
	default:
		img, err = openRaw(path, arch, base)
	}
	if err != nil {
		return nil, err
	}

	if abs, err := filepath.Abs(path); err == nil {
		img.Name = abs
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%s has no loadable segments", path)
	}
	return img, nil
}

func machoArch(cpu types.CPU) (disass.Arch, error) {
	switch cpu {
	case types.CPUAmd64:
		return disass.ArchAMD64, nil
	case types.CPUArm64:
		return disass.ArchARM64, nil
	default:
		return "", fmt.Errorf("%w: %s", disass.ErrUnsupportedArch, cpu)
	}
}

func openMachO(path string, arch disass.Arch) (*Image, error) {
	var m *macho.File

	fat, err := macho.OpenFat(path)
	if err != nil {
		if err != macho.ErrNotFat {
			return nil, fmt.Errorf("failed to open universal Mach-O %s: %v", path, err)
		}
		m, err = macho.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Mach-O %s: %v", path, err)
		}
		defer m.Close()
	} else {
		defer fat.Close()
		if arch == "" {
			return nil, fmt.Errorf("--arch is required for universal binaries")
		}
		for _, farch := range fat.Arches {
			if a, err := machoArch(farch.CPU); err == nil && a == arch {
				m = farch.File
				break
			}
		}
		if m == nil {
			return nil, fmt.Errorf("universal binary %s has no %s slice", path, arch)
		}
	}

	a, err := machoArch(m.CPU)
	if err != nil {
		return nil, err
	}
	img := &Image{Name: path, Arch: a}

	for _, seg := range m.Segments() {
		if seg.Memsz == 0 || seg.Prot == 0 { // __PAGEZERO
			continue
		}
		data, err := seg.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to read segment %s: %v", seg.Name, err)
		}
		img.Segments = append(img.Segments, Segment{
			Name:  seg.Name,
			Addr:  seg.Addr,
			Memsz: seg.Memsz,
			Data:  data,
		})
	}

	if addr, err := m.FindSymbolAddress("_main"); err == nil {
		img.Entry = addr
	} else if text := m.Section("__TEXT", "__text"); text != nil {
		img.Entry = text.Addr
	}

	return img, nil
}

func openELF(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF %s: %v", path, err)
	}
	defer f.Close()

	img := &Image{Name: path, Entry: f.Entry}
	switch f.Machine {
	case elf.EM_X86_64:
		img.Arch = disass.ArchAMD64
	case elf.EM_AARCH64:
		img.Arch = disass.ArchARM64
	default:
		return nil, fmt.Errorf("%w: %s", disass.ErrUnsupportedArch, f.Machine)
	}

	for idx, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		data := make([]byte, prog.Filesz)
		if len(data) > 0 {
			if _, err := prog.ReadAt(data, 0); err != nil {
				return nil, fmt.Errorf("failed to read program header %d: %v", idx, err)
			}
		}
		img.Segments = append(img.Segments, Segment{
			Name:  fmt.Sprintf("LOAD[%d] %s", idx, prog.Flags),
			Addr:  prog.Vaddr,
			Memsz: prog.Memsz,
			Data:  data,
		})
	}

	return img, nil
}

func openRaw(path string, arch disass.Arch, base uint64) (*Image, error) {
	if arch.MaxLen() == 0 {
		return nil, fmt.Errorf("--arch is required for raw code (amd64 or arm64)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %v", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	return &Image{
		Name:  path,
		Arch:  arch,
		Entry: base,
		Segments: []Segment{{
			Name:  "raw",
			Addr:  base,
			Memsz: uint64(len(data)),
			Data:  data,
		}},
	}, nil
}
