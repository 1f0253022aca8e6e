package sbpf

import (
	"fmt"
	"strings"
)

// DisassembleAt renders the instruction at slot pc of text.
func DisassembleAt(text []byte, pc int64) string {
	ins := GetSlot(text[pc*SlotSize:])
	var next Slot
	if IsLongIns(ins.Op()) && (pc+2)*SlotSize <= int64(len(text)) {
		next = GetSlot(text[(pc+1)*SlotSize:])
	}
	return disassemble(ins, next)
}

// Disassemble renders all instructions of text, one per line, skipping
// the second slot of lddw.
func Disassemble(text []byte) []string {
	var out []string
	n := int64(len(text) / SlotSize)
	for pc := int64(0); pc < n; pc++ {
		out = append(out, fmt.Sprintf("%5d: %s", pc, DisassembleAt(text, pc)))
		if IsLongIns(GetSlot(text[pc*SlotSize:]).Op()) {
			pc++
		}
	}
	return out
}

func disassemble(ins Slot, next Slot) string {
	op := ins.Op()
	name, ok := mnemonics[op]
	if !ok {
		return fmt.Sprintf("invalid %#02x", op)
	}
	dst := fmt.Sprintf("r%d", ins.Dst())
	src := fmt.Sprintf("r%d", ins.Src())
	switch op & 0x07 {
	case ClassLd:
		return fmt.Sprintf("%s %s, %#x", name, dst, uint64(ins.Uimm())|uint64(next.Uimm())<<32)
	case ClassLdx:
		return fmt.Sprintf("%s %s, [%s%s]", name, dst, src, fmtOff(ins.Off()))
	case ClassSt:
		return fmt.Sprintf("%s [%s%s], %d", name, dst, fmtOff(ins.Off()), ins.Imm())
	case ClassStx:
		return fmt.Sprintf("%s [%s%s], %s", name, dst, fmtOff(ins.Off()), src)
	case ClassAlu, ClassAlu64:
		switch {
		case op == OpNeg32 || op == OpNeg64:
			return fmt.Sprintf("%s %s", name, dst)
		case op == OpLe || op == OpBe:
			return fmt.Sprintf("%s%d %s", name, ins.Imm(), dst)
		case op&SrcX != 0:
			return fmt.Sprintf("%s %s, %s", name, dst, src)
		default:
			return fmt.Sprintf("%s %s, %d", name, dst, ins.Imm())
		}
	case ClassJmp:
		switch {
		case op == OpExit:
			return name
		case op == OpCall && ins.Src() == 1:
			return fmt.Sprintf("call %+d", ins.Imm())
		case op == OpCall:
			return fmt.Sprintf("call 0x%08x", ins.Uimm())
		case op == OpCallx:
			return fmt.Sprintf("callx r%d", ins.Imm())
		case op == OpJa:
			return fmt.Sprintf("ja %+d", ins.Off())
		case op&SrcX != 0:
			return fmt.Sprintf("%s %s, %s, %+d", name, dst, src, ins.Off())
		default:
			return fmt.Sprintf("%s %s, %d, %+d", name, dst, ins.Imm(), ins.Off())
		}
	}
	return strings.TrimSpace(name)
}

func fmtOff(off int16) string {
	if off < 0 {
		return fmt.Sprintf("-%d", -int32(off))
	}
	return fmt.Sprintf("+%d", off)
}
