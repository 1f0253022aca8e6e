package sbpf

import (
	"errors"
	"sync"

	"github.com/Overclock-Validator/quartz/pkg/cu"
)

// The compiled strategy translates a program once into basic blocks of
// pre-decoded closures. Blocks start at leaders (entrypoint, functions,
// jump and call targets, instructions following a branch) and end at a
// branch. Indirect calls into the middle of a block build a new block
// starting there on first use.
//
// Compute is charged lazily: each block entry checks that the remaining
// budget covers the whole block, and pending units are settled before
// every syscall and at exit. Blocks that would cross the budget, and all
// blocks when tracing, fall back to per-instruction charging so that the
// faulting instruction, the trace and the consumed units match the
// interpreter exactly.

type opFunc func(c *Compiled, r *[11]uint64) error

type termFunc func(c *Compiled, r *[11]uint64) (next int64, exit bool, err error)

type block struct {
	pcs  []int64
	ops  []opFunc
	term termFunc // nil if the block falls through to next
	next int64
}

type compiledProgram struct {
	text    []byte
	leaders []bool

	mu     sync.RWMutex
	blocks []*block
}

func (p *Program) compile() *compiledProgram {
	p.compileOnce.Do(func() {
		p.compiled = newCompiledProgram(p)
	})
	return p.compiled
}

func newCompiledProgram(p *Program) *compiledProgram {
	n := p.NumSlots()
	cp := &compiledProgram{
		text:    p.Text,
		leaders: make([]bool, n),
		blocks:  make([]*block, n),
	}
	mark := func(pc int64) {
		if pc >= 0 && pc < n {
			cp.leaders[pc] = true
		}
	}
	mark(int64(p.Entrypoint))
	for _, target := range p.Funcs {
		mark(target)
	}
	for pc := int64(0); pc < n; pc++ {
		ins := cp.slot(pc)
		op := ins.Op()
		switch {
		case op == OpLddw:
			pc++
		case op == OpJa || isConditionalJump(op):
			mark(pc + int64(ins.Off()) + 1)
			mark(pc + 1)
		case op == OpCall && ins.Src() == 1:
			mark(pc + int64(ins.Imm()) + 1)
			mark(pc + 1)
		case op == OpCall || op == OpCallx || op == OpExit:
			mark(pc + 1)
		}
	}
	for pc := int64(0); pc < n; pc++ {
		if cp.leaders[pc] {
			cp.blocks[pc] = cp.build(pc)
		}
	}
	return cp
}

func (cp *compiledProgram) slot(pc int64) Slot {
	return GetSlot(cp.text[pc*SlotSize:])
}

func (cp *compiledProgram) numSlots() int64 {
	return int64(len(cp.text) / SlotSize)
}

func (cp *compiledProgram) blockAt(pc int64) *block {
	cp.mu.RLock()
	b := cp.blocks[pc]
	cp.mu.RUnlock()
	if b != nil {
		return b
	}

	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.blocks[pc] == nil {
		cp.blocks[pc] = cp.build(pc)
	}
	return cp.blocks[pc]
}

func (cp *compiledProgram) build(start int64) *block {
	b := new(block)
	n := cp.numSlots()
	pc := start
	for pc < n {
		if pc != start && cp.leaders[pc] {
			b.next = pc
			return b
		}
		ins := cp.slot(pc)
		op := ins.Op()
		switch {
		case op == OpLddw:
			b.pcs = append(b.pcs, pc)
			if pc+1 >= n {
				b.ops = append(b.ops, trap(ExcInvalidInstruction))
				pc++
				continue
			}
			imm := uint64(ins.Uimm()) | uint64(cp.slot(pc+1).Uimm())<<32
			dst := ins.Dst()
			b.ops = append(b.ops, func(_ *Compiled, r *[11]uint64) error {
				r[dst] = imm
				return nil
			})
			pc += 2
		case IsBranch(op):
			b.pcs = append(b.pcs, pc)
			b.term = compileBranch(ins, pc)
			return b
		default:
			b.pcs = append(b.pcs, pc)
			b.ops = append(b.ops, compileOp(ins))
			pc++
		}
	}
	b.next = pc
	return b
}

func trap(err error) opFunc {
	return func(*Compiled, *[11]uint64) error {
		return err
	}
}

// Compiled executes a program using its compiled basic blocks.
type Compiled struct {
	machine

	due   uint64 // instructions executed but not yet charged
	limit uint64 // meter balance at the last settlement
	steps uint64
}

// NewCompiled creates a single-use executor for the compiled strategy.
func NewCompiled(p *Program, opts *VMOpts) *Compiled {
	return &Compiled{machine: newMachine(p, opts)}
}

// Run executes the program.
func (c *Compiled) Run() (ret uint64, cuConsumed uint64, err error) {
	cp := c.program.compile()
	nslots := c.numSlots()

	var r [11]uint64
	r[1] = VaddrInput
	r[10] = c.stack.GetFramePtr()
	pc := int64(c.program.Entrypoint)
	c.limit = c.computeMeter.Remaining()

	for {
		if pc < 0 || pc >= nslots {
			err = &Exception{PC: pc, Detail: ExcExecutionOverrun}
			break
		}
		var exit bool
		pc, exit, err = c.runBlock(cp.blockAt(pc), &r)
		if err != nil {
			break
		}
		if exit {
			ret = r[0]
			break
		}
	}
	c.settle()

	cuConsumed = c.initialMeter - c.computeMeter.Remaining()
	if err != nil {
		ret = 0
	}
	return
}

func (c *Compiled) runBlock(b *block, r *[11]uint64) (next int64, exit bool, err error) {
	fast := c.tracer == nil && c.due+uint64(len(b.pcs)) <= c.limit
	for i, op := range b.ops {
		if fast {
			c.due++
		} else if err = c.step(b.pcs[i], r); err != nil {
			return 0, false, err
		}
		if err = op(c, r); err != nil {
			return 0, false, c.fault(b.pcs[i], err)
		}
	}
	if b.term == nil {
		return b.next, false, nil
	}

	pc := b.pcs[len(b.pcs)-1]
	if fast {
		c.due++
	} else if err = c.step(pc, r); err != nil {
		return 0, false, err
	}
	next, exit, err = b.term(c, r)
	if err != nil {
		return 0, false, c.fault(pc, err)
	}
	return next, exit, nil
}

// step charges a single instruction, recording a trace step first.
func (c *Compiled) step(pc int64, r *[11]uint64) error {
	if c.tracer != nil {
		c.tracer.Step(TraceStep{Index: c.steps, PC: pc, Regs: *r, CU: c.limit - c.due})
	}
	c.steps++
	c.due++
	if c.due > c.limit {
		c.settle()
		return &Exception{PC: pc, Detail: ExcOutOfCU}
	}
	return nil
}

// settle charges pending instructions to the meter.
func (c *Compiled) settle() error {
	due := c.due
	c.due = 0
	err := c.computeMeter.Consume(due)
	c.limit = c.computeMeter.Remaining()
	return err
}

func (c *Compiled) fault(pc int64, err error) error {
	c.settle()
	if errors.Is(err, cu.ErrComputeExceeded) {
		err = ExcOutOfCU
	}
	return &Exception{PC: pc, Detail: err}
}

func (c *Compiled) invokeSyscall(sc Syscall, r *[11]uint64) error {
	if err := c.settle(); err != nil {
		return err
	}
	var err error
	r[0], err = sc.Invoke(c, r[1], r[2], r[3], r[4], r[5])
	c.limit = c.computeMeter.Remaining()
	return err
}

func compileBranch(ins Slot, pc int64) termFunc {
	op := ins.Op()
	dst, src := ins.Dst(), ins.Src()
	imm := uint64(ins.Imm())
	taken := pc + int64(ins.Off()) + 1
	fall := pc + 1

	switch op {
	case OpJa:
		return func(*Compiled, *[11]uint64) (int64, bool, error) {
			return taken, false, nil
		}
	case OpExit:
		return func(c *Compiled, r *[11]uint64) (int64, bool, error) {
			fp, ret, ok := c.stack.Pop((*[4]uint64)(r[6:10]))
			if !ok {
				return 0, true, nil
			}
			r[10] = fp
			return ret, false, nil
		}
	case OpCall:
		if src == 1 {
			target := pc + int64(ins.Imm()) + 1
			return func(c *Compiled, r *[11]uint64) (int64, bool, error) {
				fp, ok := c.stack.Push((*[4]uint64)(r[6:10]), fall)
				if !ok {
					return 0, false, ExcCallDepth
				}
				r[10] = fp
				return target, false, nil
			}
		}
		hash := ins.Uimm()
		return func(c *Compiled, r *[11]uint64) (int64, bool, error) {
			if sc, ok := c.syscalls[hash]; ok {
				return fall, false, c.invokeSyscall(sc, r)
			}
			target, ok := c.funcs[hash]
			if !ok {
				return 0, false, ExcCallDest{hash}
			}
			fp, ok := c.stack.Push((*[4]uint64)(r[6:10]), fall)
			if !ok {
				return 0, false, ExcCallDepth
			}
			r[10] = fp
			return target, false, nil
		}
	case OpCallx:
		reg := ins.Uimm()
		return func(c *Compiled, r *[11]uint64) (int64, bool, error) {
			target, err := c.callxTarget(r[reg])
			if err != nil {
				return 0, false, err
			}
			fp, ok := c.stack.Push((*[4]uint64)(r[6:10]), fall)
			if !ok {
				return 0, false, ExcCallDepth
			}
			r[10] = fp
			return target, false, nil
		}
	}

	cmp := condTable[op]
	if cmp == nil {
		return func(*Compiled, *[11]uint64) (int64, bool, error) {
			return 0, false, ExcInvalidInstruction
		}
	}
	if readsSrc(op) {
		return func(_ *Compiled, r *[11]uint64) (int64, bool, error) {
			if cmp(r[dst], r[src]) {
				return taken, false, nil
			}
			return fall, false, nil
		}
	}
	return func(_ *Compiled, r *[11]uint64) (int64, bool, error) {
		if cmp(r[dst], imm) {
			return taken, false, nil
		}
		return fall, false, nil
	}
}

func compileOp(ins Slot) opFunc {
	op := ins.Op()
	dst, src := ins.Dst(), ins.Src()
	off := int64(ins.Off())
	size := op & 0x18

	switch op & 0x07 {
	case ClassLdx:
		if op&0xe0 != ModeMem {
			break
		}
		return func(c *Compiled, r *[11]uint64) error {
			v, err := c.load(size, uint64(int64(r[src])+off))
			r[dst] = v
			return err
		}
	case ClassSt:
		if op&0xe0 != ModeMem {
			break
		}
		imm := uint64(ins.Imm())
		return func(c *Compiled, r *[11]uint64) error {
			return c.store(size, uint64(int64(r[dst])+off), imm)
		}
	case ClassStx:
		if op&0xe0 != ModeMem {
			break
		}
		return func(c *Compiled, r *[11]uint64) error {
			return c.store(size, uint64(int64(r[dst])+off), r[src])
		}
	case ClassAlu, ClassAlu64:
		fn := aluTable[op]
		if fn == nil {
			break
		}
		if readsSrc(op) {
			return aluReg(dst, src, fn)
		}
		return aluImm(dst, immOperand(ins), fn)
	}
	return trap(ExcInvalidInstruction)
}

func aluReg(dst, src uint8, fn aluFunc) opFunc {
	return func(_ *Compiled, r *[11]uint64) error {
		v, err := fn(r[dst], r[src])
		if err != nil {
			return err
		}
		r[dst] = v
		return nil
	}
}

func aluImm(dst uint8, imm uint64, fn aluFunc) opFunc {
	return func(_ *Compiled, r *[11]uint64) error {
		v, err := fn(r[dst], imm)
		if err != nil {
			return err
		}
		r[dst] = v
		return nil
	}
}
