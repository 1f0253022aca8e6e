package sbpf

import (
	"errors"

	"github.com/Overclock-Validator/quartz/pkg/cu"
)

// Interpreter decodes and executes one slot at a time. It is the reference
// strategy: every instruction is charged and traced as it is reached.
type Interpreter struct {
	machine
}

// NewInterpreter creates a new interpreter instance for a program execution.
//
// The caller must create a new interpreter object for every new execution.
// In other words, Run may only be called once per interpreter.
func NewInterpreter(p *Program, opts *VMOpts) *Interpreter {
	return &Interpreter{machine: newMachine(p, opts)}
}

// Run executes the program.
//
// The program must have passed the static verifier, which rules out
// division by an immediate zero, out-of-range shift immediates and jumps
// outside the text.
func (ip *Interpreter) Run() (ret uint64, cuConsumed uint64, err error) {
	var r [11]uint64
	r[1] = VaddrInput
	r[10] = ip.stack.GetFramePtr()
	pc := int64(ip.program.Entrypoint)
	nslots := ip.numSlots()

	for step := uint64(0); ; step++ {
		if pc < 0 || pc >= nslots {
			err = &Exception{PC: pc, Detail: ExcExecutionOverrun}
			break
		}
		ins := ip.getSlot(pc)
		if ip.tracer != nil {
			ip.tracer.Step(TraceStep{Index: step, PC: pc, Regs: r, CU: ip.computeMeter.Remaining()})
		}
		if ip.computeMeter.Consume(1) != nil {
			err = &Exception{PC: pc, Detail: ExcOutOfCU}
			break
		}

		next, exit, xerr := ip.exec(ins, pc, &r)
		if xerr != nil {
			if errors.Is(xerr, cu.ErrComputeExceeded) {
				xerr = ExcOutOfCU
			}
			err = &Exception{PC: pc, Detail: xerr}
			break
		}
		if exit {
			ret = r[0]
			break
		}
		pc = next
	}

	cuConsumed = ip.initialMeter - ip.computeMeter.Remaining()
	if err != nil {
		ret = 0
	}
	return
}

// exec runs the instruction at pc and returns the slot to continue at.
func (ip *Interpreter) exec(ins Slot, pc int64, r *[11]uint64) (next int64, exit bool, err error) {
	op := ins.Op()
	dst := ins.Dst()

	switch op & 0x07 {
	case ClassLdx:
		if op&0xe0 != ModeMem {
			break
		}
		addr := uint64(int64(r[ins.Src()]) + int64(ins.Off()))
		r[dst], err = ip.load(op&0x18, addr)
		return pc + 1, false, err

	case ClassSt, ClassStx:
		if op&0xe0 != ModeMem {
			break
		}
		v := uint64(ins.Imm())
		if op&0x07 == ClassStx {
			v = r[ins.Src()]
		}
		addr := uint64(int64(r[dst]) + int64(ins.Off()))
		return pc + 1, false, ip.store(op&0x18, addr, v)

	case ClassAlu, ClassAlu64:
		fn := aluTable[op]
		if fn == nil {
			break
		}
		v, err := fn(r[dst], operand(ins, r))
		if err != nil {
			return 0, false, err
		}
		r[dst] = v
		return pc + 1, false, nil

	case ClassLd:
		if op != OpLddw {
			break
		}
		r[dst] = ip.lddwImm(pc)
		return pc + 2, false, nil

	case ClassJmp:
		return ip.branch(ins, pc, r)
	}
	return 0, false, ExcInvalidInstruction
}

func (ip *Interpreter) branch(ins Slot, pc int64, r *[11]uint64) (int64, bool, error) {
	switch ins.Op() {
	case OpJa:
		return pc + int64(ins.Off()) + 1, false, nil

	case OpExit:
		fp, ret, ok := ip.stack.Pop((*[4]uint64)(r[6:10]))
		if !ok {
			return 0, true, nil
		}
		r[10] = fp
		return ret, false, nil

	case OpCall:
		if ins.Src() == 1 {
			return ip.enter(r, pc, pc+int64(ins.Imm())+1)
		}
		hash := ins.Uimm()
		if sc, ok := ip.syscalls[hash]; ok {
			var err error
			r[0], err = sc.Invoke(ip, r[1], r[2], r[3], r[4], r[5])
			return pc + 1, false, err
		}
		if target, ok := ip.funcs[hash]; ok {
			return ip.enter(r, pc, target)
		}
		return 0, false, ExcCallDest{hash}

	case OpCallx:
		target, err := ip.callxTarget(r[ins.Uimm()])
		if err != nil {
			return 0, false, err
		}
		return ip.enter(r, pc, target)
	}

	cond := condTable[ins.Op()]
	if cond == nil {
		return 0, false, ExcInvalidInstruction
	}
	if cond(r[ins.Dst()], operand(ins, r)) {
		return pc + int64(ins.Off()) + 1, false, nil
	}
	return pc + 1, false, nil
}

// enter pushes a call frame returning to the slot after pc.
func (ip *Interpreter) enter(r *[11]uint64, pc, target int64) (int64, bool, error) {
	fp, ok := ip.stack.Push((*[4]uint64)(r[6:10]), pc+1)
	if !ok {
		return 0, false, ExcCallDepth
	}
	r[10] = fp
	return target, false, nil
}
