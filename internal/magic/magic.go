package magic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

type Magic uint32

const (
	Magic32    Magic = 0xfeedface
	Magic64    Magic = 0xfeedfacf
	MagicFatBE Magic = 0xcafebabe
	MagicFatLE Magic = 0xbebafeca
)

// Kind is the container format of an executable image.
type Kind uint8

const (
	Unknown Kind = iota
	MachO
	MachOFat
	ELF
)

func (k Kind) String() string {
	switch k {
	case MachO:
		return "Mach-O"
	case MachOFat:
		return "universal Mach-O"
	case ELF:
		return "ELF"
	default:
		return "unknown"
	}
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Identify returns the container format of the data read from r.
func Identify(r io.Reader) (Kind, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Unknown, fmt.Errorf("failed to read magic: %w", err)
	}

	if bytes.Equal(magic[:], elfMagic) {
		return ELF, nil
	}

	switch Magic(binary.LittleEndian.Uint32(magic[:])) {
	case Magic32, Magic64:
		return MachO, nil
	case MagicFatBE, MagicFatLE:
		return MachOFat, nil
	default:
		return Unknown, nil
	}
}

// IdentifyFile returns the container format of the file at filePath.
func IdentifyFile(filePath string) (Kind, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Unknown, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	return Identify(f)
}
