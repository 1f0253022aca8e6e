package sbpfasm

import (
	"debug/elf"
	"encoding/binary"

	"github.com/Overclock-Validator/quartz/pkg/sbpf"
)

const (
	elfHeaderSize     = 64
	elfSectHeaderSize = 64
	// MachineSBF is the ELF machine number of SBF objects.
	MachineSBF = elf.Machine(263)
)

// ELFOptions tweaks the generated image.
type ELFOptions struct {
	Machine elf.Machine
	// Entry is the slot index of the entrypoint.
	Entry uint64
}

// BuildELF wraps text and rodata into a minimal ELF64 shared object with
// .text, .rodata and .shstrtab sections. Section addresses equal file
// offsets. Calls in text are expected to be pre-resolved (syscall hashes and
// relative local calls), so no relocations are emitted.
func BuildELF(text, rodata []byte) []byte {
	return BuildELFWithOptions(text, rodata, ELFOptions{Machine: elf.EM_BPF})
}

func BuildELFWithOptions(text, rodata []byte, opts ELFOptions) []byte {
	align8 := func(n int) int { return (n + 7) &^ 7 }

	shstrtab := []byte("\x00.text\x00.rodata\x00.shstrtab\x00")
	const (
		nameText     = 1
		nameRodata   = 7
		nameShstrtab = 15
	)

	textOff := elfHeaderSize
	rodataOff := align8(textOff + len(text))
	strOff := align8(rodataOff + len(rodata))
	shOff := align8(strOff + len(shstrtab))

	numSections := 4
	out := make([]byte, shOff+numSections*elfSectHeaderSize)
	le := binary.LittleEndian

	// ELF header
	copy(out[0:], []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	le.PutUint16(out[16:], uint16(elf.ET_DYN))
	le.PutUint16(out[18:], uint16(opts.Machine))
	le.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(out[24:], uint64(textOff)+opts.Entry*sbpf.SlotSize)
	le.PutUint64(out[32:], 0) // phoff
	le.PutUint64(out[40:], uint64(shOff))
	le.PutUint32(out[48:], 0) // flags
	le.PutUint16(out[52:], elfHeaderSize)
	le.PutUint16(out[54:], 56)
	le.PutUint16(out[56:], 0)
	le.PutUint16(out[58:], elfSectHeaderSize)
	le.PutUint16(out[60:], uint16(numSections))
	le.PutUint16(out[62:], 3) // shstrndx

	copy(out[textOff:], text)
	copy(out[rodataOff:], rodata)
	copy(out[strOff:], shstrtab)

	writeSection := func(i int, name uint32, typ elf.SectionType, flags elf.SectionFlag, off, size int) {
		sh := out[shOff+i*elfSectHeaderSize:]
		le.PutUint32(sh[0:], name)
		le.PutUint32(sh[4:], uint32(typ))
		le.PutUint64(sh[8:], uint64(flags))
		if flags&elf.SHF_ALLOC != 0 {
			le.PutUint64(sh[16:], uint64(off))
		}
		le.PutUint64(sh[24:], uint64(off))
		le.PutUint64(sh[32:], uint64(size))
		le.PutUint64(sh[48:], 8)
	}
	writeSection(1, nameText, elf.SHT_PROGBITS, elf.SHF_ALLOC|elf.SHF_EXECINSTR, textOff, len(text))
	writeSection(2, nameRodata, elf.SHT_PROGBITS, elf.SHF_ALLOC, rodataOff, len(rodata))
	writeSection(3, nameShstrtab, elf.SHT_STRTAB, 0, strOff, len(shstrtab))
	return out
}
