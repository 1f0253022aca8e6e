package sbpf

import "fmt"

// VerifierError describes why a program was rejected.
type VerifierError struct {
	PC     int64
	Reason string
}

func (e *VerifierError) Error() string {
	return fmt.Sprintf("invalid program at slot %d: %s", e.PC, e.Reason)
}

// Verify runs the static verifier over p. Executors rely on the
// invariants checked here.
func Verify(p *Program, syscalls SyscallRegistry) error {
	if len(p.Text) == 0 {
		return &VerifierError{PC: 0, Reason: "empty text section"}
	}
	if len(p.Text)%SlotSize != 0 {
		return &VerifierError{PC: 0, Reason: "text size not a multiple of 8"}
	}
	n := p.NumSlots()
	if int64(p.Entrypoint) >= n {
		return &VerifierError{PC: int64(p.Entrypoint), Reason: "entrypoint out of bounds"}
	}

	// first pass: find the second slots of lddw
	tail := make([]bool, n)
	for pc := int64(0); pc < n; pc++ {
		if GetSlot(p.Text[pc*SlotSize:]).Op() == OpLddw {
			if pc+1 >= n {
				return &VerifierError{PC: pc, Reason: "incomplete lddw"}
			}
			tail[pc+1] = true
			pc++
		}
	}

	fail := func(pc int64, format string, args ...any) error {
		return &VerifierError{PC: pc, Reason: fmt.Sprintf(format, args...)}
	}
	checkTarget := func(pc, target int64) error {
		if target < 0 || target >= n {
			return fail(pc, "jump out of bounds to %d", target)
		}
		if tail[target] {
			return fail(pc, "jump into the middle of lddw at %d", target)
		}
		return nil
	}

	for pc := int64(0); pc < n; pc++ {
		ins := GetSlot(p.Text[pc*SlotSize:])
		op := ins.Op()
		if tail[pc] {
			if op != 0 {
				return fail(pc, "invalid lddw second slot")
			}
			continue
		}
		if !IsValidOpcode(op) {
			return fail(pc, "unknown opcode %#02x", op)
		}
		if ins.Dst() > 10 || ins.Src() > 10 {
			return fail(pc, "invalid register")
		}

		switch op & 0x07 {
		case ClassLd, ClassLdx, ClassAlu, ClassAlu64:
			if ins.Dst() == 10 {
				return fail(pc, "cannot write to r10")
			}
		}

		switch op {
		case OpDiv32Imm, OpDiv64Imm, OpMod32Imm, OpMod64Imm, OpSdiv32Imm, OpSdiv64Imm:
			if ins.Imm() == 0 {
				return fail(pc, "division by zero")
			}
		case OpLsh32Imm, OpRsh32Imm, OpArsh32Imm:
			if ins.Uimm() >= 32 {
				return fail(pc, "shift out of range")
			}
		case OpLsh64Imm, OpRsh64Imm, OpArsh64Imm:
			if ins.Uimm() >= 64 {
				return fail(pc, "shift out of range")
			}
		case OpLe, OpBe:
			switch ins.Imm() {
			case 16, 32, 64:
			default:
				return fail(pc, "invalid endianness width %d", ins.Imm())
			}
		case OpCall:
			if ins.Src() == 1 {
				if err := checkTarget(pc, pc+int64(ins.Imm())+1); err != nil {
					return err
				}
				continue
			}
			hash := ins.Uimm()
			if !syscalls.ExistsByHash(hash) {
				if _, ok := p.Funcs[hash]; !ok {
					return fail(pc, "unresolved symbol 0x%08x", hash)
				}
			}
		case OpCallx:
			if ins.Imm() < 0 || ins.Imm() > 9 {
				return fail(pc, "invalid callx register %d", ins.Imm())
			}
		}

		if op == OpJa || isConditionalJump(op) {
			if err := checkTarget(pc, pc+int64(ins.Off())+1); err != nil {
				return err
			}
		}
	}

	for hash, target := range p.Funcs {
		if target < 0 || target >= n || tail[target] {
			return fail(target, "function 0x%08x out of bounds", hash)
		}
	}
	return nil
}
