// Package loader parses sBPF ELF objects into verified programs.
package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"k8s.io/klog/v2"
)

const (
	// MaxProgramSize bounds the ELF image and its read-only mapping.
	MaxProgramSize = 10 * 1024 * 1024

	machineSBF = elf.Machine(263)
)

// Relocation types
const (
	R_BPF_NONE        = 0
	R_BPF_64_64       = 1
	R_BPF_64_RELATIVE = 8
	R_BPF_64_32       = 10
)

var (
	ErrTooLarge          = errors.New("program too large")
	ErrUnsupportedFormat = errors.New("unsupported ELF format")
	ErrMissingText       = errors.New("missing .text section")
	ErrInvalidEntrypoint = errors.New("invalid entrypoint")
	ErrWritableSection   = errors.New("writable sections are not supported")
	ErrRelocation        = errors.New("invalid relocation")
	ErrUnresolvedSymbol  = errors.New("unresolved symbol")
	ErrSymbolCollision   = errors.New("symbol hash collision")
)

// LoadError wraps the reason a program could not be loaded.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return "load program: " + e.Err.Error()
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader converts an ELF image into a Program.
type Loader struct {
	buf  []byte
	file *elf.File

	ro       []byte
	textAddr uint64
	textSize uint64
	funcs    map[uint32]int64
}

// NewLoaderFromBytes parses the ELF headers of buf.
func NewLoaderFromBytes(buf []byte) (*Loader, error) {
	if len(buf) > MaxProgramSize {
		return nil, &LoadError{ErrTooLarge}
	}
	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, &LoadError{fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)}
	}
	return &Loader{buf: buf, file: f, funcs: make(map[uint32]int64)}, nil
}

// Load parses, relocates and verifies an ELF image.
func Load(buf []byte, syscalls sbpf.SyscallRegistry) (*sbpf.Program, error) {
	l, err := NewLoaderFromBytes(buf)
	if err != nil {
		return nil, err
	}
	return l.Load(syscalls)
}

// Load produces a verified program. Calls to undefined symbols must resolve
// to entries of syscalls.
func (l *Loader) Load(syscalls sbpf.SyscallRegistry) (*sbpf.Program, error) {
	if err := l.checkHeader(); err != nil {
		return nil, &LoadError{err}
	}
	if err := l.mapSections(); err != nil {
		return nil, &LoadError{err}
	}
	entry, err := l.entrypoint()
	if err != nil {
		return nil, &LoadError{err}
	}
	if err := l.registerSymbols(syscalls); err != nil {
		return nil, &LoadError{err}
	}
	if err := l.relocate(syscalls); err != nil {
		return nil, &LoadError{err}
	}
	if err := l.registerFunc(syscalls, sbpf.EntrypointHash, entry); err != nil {
		return nil, &LoadError{err}
	}

	p := &sbpf.Program{
		RO:         l.ro,
		Text:       l.ro[l.textAddr : l.textAddr+l.textSize],
		TextVA:     sbpf.VaddrProgram + l.textAddr,
		Entrypoint: uint64(entry),
		Funcs:      l.funcs,
	}
	if err := sbpf.Verify(p, syscalls); err != nil {
		return nil, &LoadError{err}
	}
	klog.V(5).Infof("loaded program: %d slots, %d bytes rodata, %d functions", p.NumSlots(), len(p.RO), len(p.Funcs))
	return p, nil
}

func (l *Loader) checkHeader() error {
	h := l.file.FileHeader
	if h.Class != elf.ELFCLASS64 || h.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("%w: class %s, data %s", ErrUnsupportedFormat, h.Class, h.Data)
	}
	if h.Machine != elf.EM_BPF && h.Machine != machineSBF {
		return fmt.Errorf("%w: machine %s", ErrUnsupportedFormat, h.Machine)
	}
	if h.Type != elf.ET_DYN && h.Type != elf.ET_EXEC {
		return fmt.Errorf("%w: type %s", ErrUnsupportedFormat, h.Type)
	}
	return nil
}

// mapSections copies all allocated sections into the read-only image at
// their virtual addresses.
func (l *Loader) mapSections() error {
	var end uint64
	var text *elf.Section
	for _, s := range l.file.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		if s.Flags&elf.SHF_WRITE != 0 && s.Type != elf.SHT_NOBITS {
			return fmt.Errorf("%w: %s", ErrWritableSection, s.Name)
		}
		if s.Addr+s.Size < s.Addr || s.Addr+s.Size > MaxProgramSize {
			return fmt.Errorf("%w: section %s out of bounds", ErrTooLarge, s.Name)
		}
		end = max(end, s.Addr+s.Size)
		if s.Name == ".text" {
			text = s
		}
	}
	if text == nil {
		return ErrMissingText
	}
	if text.Size%sbpf.SlotSize != 0 {
		return fmt.Errorf("%w: text size %d", ErrUnsupportedFormat, text.Size)
	}

	l.ro = make([]byte, end)
	for _, s := range l.file.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return fmt.Errorf("%w: section %s: %v", ErrUnsupportedFormat, s.Name, err)
		}
		copy(l.ro[s.Addr:], data)
	}
	l.textAddr = text.Addr
	l.textSize = text.Size
	return nil
}

func (l *Loader) entrypoint() (int64, error) {
	e := l.file.Entry
	if e < l.textAddr || e >= l.textAddr+l.textSize || (e-l.textAddr)%sbpf.SlotSize != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrInvalidEntrypoint, e)
	}
	return int64((e - l.textAddr) / sbpf.SlotSize), nil
}

func (l *Loader) registerFunc(syscalls sbpf.SyscallRegistry, hash uint32, pc int64) error {
	if syscalls.ExistsByHash(hash) {
		return fmt.Errorf("%w: %#08x", ErrSymbolCollision, hash)
	}
	if prev, ok := l.funcs[hash]; ok && prev != pc {
		return fmt.Errorf("%w: %#08x", ErrSymbolCollision, hash)
	}
	l.funcs[hash] = pc
	return nil
}

// registerSymbols registers every function symbol defined in .text.
func (l *Loader) registerSymbols(syscalls sbpf.SyscallRegistry) error {
	syms, _ := l.file.Symbols()
	dyn, _ := l.file.DynamicSymbols()
	for _, sym := range append(syms, dyn...) {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF {
			continue
		}
		pc, ok := l.textPC(sym.Value)
		if !ok {
			continue
		}
		if err := l.registerFunc(syscalls, sbpf.PCHash(uint64(pc)), pc); err != nil {
			return err
		}
		if sym.Name == "entrypoint" {
			if err := l.registerFunc(syscalls, sbpf.EntrypointHash, pc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) textPC(addr uint64) (int64, bool) {
	if addr < l.textAddr || addr >= l.textAddr+l.textSize || (addr-l.textAddr)%sbpf.SlotSize != 0 {
		return 0, false
	}
	return int64((addr - l.textAddr) / sbpf.SlotSize), true
}

func (l *Loader) inText(off uint64) bool {
	return off >= l.textAddr && off < l.textAddr+l.textSize
}

// relocate applies the dynamic relocations in place on the read-only image.
func (l *Loader) relocate(syscalls sbpf.SyscallRegistry) error {
	dyn, _ := l.file.DynamicSymbols()
	le := binary.LittleEndian
	for _, s := range l.file.Sections {
		if s.Type != elf.SHT_REL {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRelocation, err)
		}
		if len(data)%16 != 0 {
			return fmt.Errorf("%w: section %s size %d", ErrRelocation, s.Name, len(data))
		}
		for i := 0; i < len(data); i += 16 {
			off := le.Uint64(data[i:])
			info := le.Uint64(data[i+8:])
			typ := uint32(info)
			symIdx := info >> 32
			inBounds := func(n uint64) bool {
				return off+n >= off && off+n <= uint64(len(l.ro))
			}

			var sym *elf.Symbol
			if symIdx > 0 {
				if symIdx-1 >= uint64(len(dyn)) {
					return fmt.Errorf("%w: symbol index %d", ErrRelocation, symIdx)
				}
				sym = &dyn[symIdx-1]
			}

			switch typ {
			case R_BPF_NONE:
			case R_BPF_64_64:
				if sym == nil || !inBounds(16) {
					return fmt.Errorf("%w: R_BPF_64_64 at %#x", ErrRelocation, off)
				}
				addr := sym.Value + uint64(le.Uint32(l.ro[off+4:]))
				if addr < sbpf.VaddrProgram {
					addr += sbpf.VaddrProgram
				}
				le.PutUint32(l.ro[off+4:], uint32(addr))
				le.PutUint32(l.ro[off+12:], uint32(addr>>32))
			case R_BPF_64_RELATIVE:
				if l.inText(off) {
					if !inBounds(16) {
						return fmt.Errorf("%w: offset %#x out of bounds", ErrRelocation, off)
					}
					addr := uint64(le.Uint32(l.ro[off+4:]))
					if addr < sbpf.VaddrProgram {
						addr += sbpf.VaddrProgram
					}
					le.PutUint32(l.ro[off+4:], uint32(addr))
					le.PutUint32(l.ro[off+12:], uint32(addr>>32))
				} else {
					if !inBounds(8) {
						return fmt.Errorf("%w: offset %#x out of bounds", ErrRelocation, off)
					}
					addr := le.Uint64(l.ro[off:])
					if addr < sbpf.VaddrProgram {
						addr += sbpf.VaddrProgram
					}
					le.PutUint64(l.ro[off:], addr)
				}
			case R_BPF_64_32:
				if sym == nil || !inBounds(8) {
					return fmt.Errorf("%w: R_BPF_64_32 at %#x", ErrRelocation, off)
				}
				var hash uint32
				if elf.ST_TYPE(sym.Info) == elf.STT_FUNC && sym.Section != elf.SHN_UNDEF {
					pc, ok := l.textPC(sym.Value)
					if !ok {
						return fmt.Errorf("%w: function %s outside of text", ErrRelocation, sym.Name)
					}
					hash = sbpf.PCHash(uint64(pc))
					if err := l.registerFunc(syscalls, hash, pc); err != nil {
						return err
					}
				} else {
					hash = sbpf.SymbolHash(sym.Name)
					if !syscalls.ExistsByHash(hash) {
						return fmt.Errorf("%w: %s", ErrUnresolvedSymbol, sym.Name)
					}
				}
				le.PutUint32(l.ro[off+4:], hash)
			default:
				return fmt.Errorf("%w: unknown type %d", ErrRelocation, typ)
			}
		}
	}
	return nil
}
