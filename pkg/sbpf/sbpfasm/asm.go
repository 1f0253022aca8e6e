// Package sbpfasm assembles sBPF instruction sequences and wraps them into
// loadable ELF images. It is used to build programs for tests and tools.
package sbpfasm

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/sbpf"
)

type fixup struct {
	index int
	label string
	call  bool
}

// Assembler builds a text section with symbolic jump labels.
type Assembler struct {
	slots  []sbpf.Slot
	labels map[string]int
	fixups []fixup
}

func New() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// PC returns the slot index of the next emitted instruction.
func (a *Assembler) PC() int {
	return len(a.slots)
}

// Label binds name to the next emitted instruction.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = len(a.slots)
	return a
}

// Emit appends a raw instruction.
func (a *Assembler) Emit(op uint8, dst, src uint8, off int16, imm int32) *Assembler {
	a.slots = append(a.slots, sbpf.NewSlot(op, dst, src, off, imm))
	return a
}

// Alu emits an ALU instruction with an immediate operand.
func (a *Assembler) Alu(op uint8, dst uint8, imm int32) *Assembler {
	return a.Emit(op, dst, 0, 0, imm)
}

// AluReg emits an ALU instruction with a register operand.
func (a *Assembler) AluReg(op uint8, dst, src uint8) *Assembler {
	return a.Emit(op, dst, src, 0, 0)
}

func (a *Assembler) Mov64Imm(dst uint8, imm int32) *Assembler {
	return a.Alu(sbpf.OpMov64Imm, dst, imm)
}

func (a *Assembler) Mov64Reg(dst, src uint8) *Assembler {
	return a.AluReg(sbpf.OpMov64Reg, dst, src)
}

func (a *Assembler) Add64Imm(dst uint8, imm int32) *Assembler {
	return a.Alu(sbpf.OpAdd64Imm, dst, imm)
}

// Lddw loads a 64-bit immediate.
func (a *Assembler) Lddw(dst uint8, imm uint64) *Assembler {
	a.Emit(sbpf.OpLddw, dst, 0, 0, int32(uint32(imm)))
	a.slots = append(a.slots, sbpf.NewSlot(0, 0, 0, 0, int32(uint32(imm>>32))))
	return a
}

// Ldx emits a memory load dst = *(src + off).
func (a *Assembler) Ldx(op uint8, dst, src uint8, off int16) *Assembler {
	return a.Emit(op, dst, src, off, 0)
}

// Stx emits a memory store *(dst + off) = src.
func (a *Assembler) Stx(op uint8, dst, src uint8, off int16) *Assembler {
	return a.Emit(op, dst, src, off, 0)
}

// St emits a memory store *(dst + off) = imm.
func (a *Assembler) St(op uint8, dst uint8, off int16, imm int32) *Assembler {
	return a.Emit(op, dst, 0, off, imm)
}

// Ja emits an unconditional jump to label.
func (a *Assembler) Ja(label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.slots), label: label})
	return a.Emit(sbpf.OpJa, 0, 0, 0, 0)
}

// JmpImm emits a conditional jump comparing dst against imm.
func (a *Assembler) JmpImm(op uint8, dst uint8, imm int32, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.slots), label: label})
	return a.Emit(op, dst, 0, 0, imm)
}

// JmpReg emits a conditional jump comparing dst against src.
func (a *Assembler) JmpReg(op uint8, dst, src uint8, label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.slots), label: label})
	return a.Emit(op, dst, src, 0, 0)
}

// Syscall emits a call to the named syscall.
func (a *Assembler) Syscall(name string) *Assembler {
	return a.Emit(sbpf.OpCall, 0, 0, 0, int32(sbpf.SymbolHash(name)))
}

// Call emits a relative call to a local function label.
func (a *Assembler) Call(label string) *Assembler {
	a.fixups = append(a.fixups, fixup{index: len(a.slots), label: label, call: true})
	return a.Emit(sbpf.OpCall, 0, 1, 0, 0)
}

// Callx emits an indirect call through register reg.
func (a *Assembler) Callx(reg uint8) *Assembler {
	return a.Emit(sbpf.OpCallx, 0, 0, 0, int32(reg))
}

func (a *Assembler) Exit() *Assembler {
	return a.Emit(sbpf.OpExit, 0, 0, 0, 0)
}

// Assemble resolves labels and returns the text section.
func (a *Assembler) Assemble() ([]byte, error) {
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		rel := target - f.index - 1
		ins := a.slots[f.index]
		if f.call {
			a.slots[f.index] = sbpf.NewSlot(ins.Op(), ins.Dst(), ins.Src(), ins.Off(), int32(rel))
		} else {
			if rel < -32768 || rel > 32767 {
				return nil, fmt.Errorf("jump to %q out of range", f.label)
			}
			a.slots[f.index] = sbpf.NewSlot(ins.Op(), ins.Dst(), ins.Src(), int16(rel), ins.Imm())
		}
	}
	text := make([]byte, 0, len(a.slots)*sbpf.SlotSize)
	for _, s := range a.slots {
		text = append(text, s.Bytes()...)
	}
	return text, nil
}

// MustAssemble is like Assemble but panics on error.
func (a *Assembler) MustAssemble() []byte {
	text, err := a.Assemble()
	if err != nil {
		panic(err)
	}
	return text
}
