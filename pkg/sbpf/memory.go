package sbpf

import (
	"encoding/binary"
	"math"

	"github.com/Overclock-Validator/quartz/pkg/cu"
)

// machine is the state shared by both execution strategies: memory
// regions, call stack, syscall bindings and compute meter.
type machine struct {
	program *Program
	textVA  uint64
	text    []byte
	ro      []byte
	stack   Stack
	heap    []byte
	input   []byte

	heapSize uint64

	syscalls     SyscallRegistry
	funcs        map[uint32]int64
	vmContext    any
	tracer       Tracer
	computeMeter *cu.ComputeMeter
	initialMeter uint64
}

func newMachine(p *Program, opts *VMOpts) machine {
	heapMax := opts.HeapMax
	if heapMax <= 0 {
		heapMax = DefaultHeapSize
	}
	meter := opts.ComputeMeter
	if meter == nil {
		m := cu.NewComputeMeterDefault()
		meter = &m
	}
	return machine{
		program:      p,
		textVA:       p.TextVA,
		text:         p.Text,
		ro:           p.RO,
		stack:        NewStack(opts.MaxCallDepth),
		heap:         make([]byte, heapMax),
		input:        opts.Input,
		syscalls:     opts.Syscalls,
		funcs:        p.Funcs,
		vmContext:    opts.Context,
		tracer:       opts.Tracer,
		computeMeter: meter,
		initialMeter: meter.Remaining(),
	}
}

func (m *machine) numSlots() int64 {
	return int64(len(m.text) / SlotSize)
}

func (m *machine) getSlot(pc int64) Slot {
	return GetSlot(m.text[pc*SlotSize:])
}

// lddwImm returns the 64-bit immediate of the lddw at pc.
func (m *machine) lddwImm(pc int64) uint64 {
	lo := m.getSlot(pc).Uimm()
	hi := m.getSlot(pc + 1).Uimm()
	return uint64(lo) | uint64(hi)<<32
}

// callxTarget converts a callx target address into a slot index.
func (m *machine) callxTarget(target uint64) (int64, error) {
	target &= ^uint64(SlotSize - 1)
	if target < m.textVA || target >= m.textVA+uint64(len(m.text)) {
		return 0, ExcCallxTarget{Target: target}
	}
	return int64((target - m.textVA) / SlotSize), nil
}

func (m *machine) VMContext() any {
	return m.vmContext
}

func (m *machine) HeapMax() uint64 {
	return uint64(len(m.heap))
}

func (m *machine) HeapSize() uint64 {
	return m.heapSize
}

func (m *machine) UpdateHeapSize(size uint64) {
	m.heapSize = size
}

func (m *machine) ComputeMeter() *cu.ComputeMeter {
	return m.computeMeter
}

// StackDepth returns the number of active internal call frames.
func (m *machine) StackDepth() int {
	return m.stack.Depth()
}

func (m *machine) translateInternal(addr uint64, size uint64, write bool) ([]byte, error) {
	hi, lo := addr>>32, addr&math.MaxUint32
	if lo+size < lo {
		return nil, NewExcBadAccess(addr, size, write, "address overflow")
	}
	switch hi {
	case VaddrProgram >> 32:
		if write {
			return nil, NewExcBadAccess(addr, size, write, "write to program")
		}
		if lo+size > uint64(len(m.ro)) {
			return nil, NewExcBadAccess(addr, size, write, "out-of-bounds program read")
		}
		return m.ro[lo : lo+size], nil
	case VaddrStack >> 32:
		mem := m.stack.GetFrame(uint32(lo))
		if size > uint64(len(mem)) {
			return nil, NewExcBadAccess(addr, size, write, "out-of-bounds stack access")
		}
		return mem[:size], nil
	case VaddrHeap >> 32:
		if lo+size > uint64(len(m.heap)) {
			return nil, NewExcBadAccess(addr, size, write, "out-of-bounds heap access")
		}
		return m.heap[lo : lo+size], nil
	case VaddrInput >> 32:
		if lo+size > uint64(len(m.input)) {
			return nil, NewExcBadAccess(addr, size, write, "out-of-bounds input access")
		}
		return m.input[lo : lo+size], nil
	default:
		return nil, NewExcBadAccess(addr, size, write, "unmapped region")
	}
}

// Translate maps a virtual address range to host memory.
func (m *machine) Translate(addr uint64, size uint64, write bool) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return m.translateInternal(addr, size, write)
}

func (m *machine) Read(addr uint64, p []byte) error {
	mem, err := m.translateInternal(addr, uint64(len(p)), false)
	if err != nil {
		return err
	}
	copy(p, mem)
	return nil
}

func (m *machine) Read8(addr uint64) (uint8, error) {
	mem, err := m.translateInternal(addr, 1, false)
	if err != nil {
		return 0, err
	}
	return mem[0], nil
}

func (m *machine) Read16(addr uint64) (uint16, error) {
	mem, err := m.translateInternal(addr, 2, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(mem), nil
}

func (m *machine) Read32(addr uint64) (uint32, error) {
	mem, err := m.translateInternal(addr, 4, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(mem), nil
}

func (m *machine) Read64(addr uint64) (uint64, error) {
	mem, err := m.translateInternal(addr, 8, false)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(mem), nil
}

func (m *machine) Write(addr uint64, p []byte) error {
	mem, err := m.translateInternal(addr, uint64(len(p)), true)
	if err != nil {
		return err
	}
	copy(mem, p)
	return nil
}

func (m *machine) Write8(addr uint64, x uint8) error {
	mem, err := m.translateInternal(addr, 1, true)
	if err != nil {
		return err
	}
	mem[0] = x
	return nil
}

func (m *machine) Write16(addr uint64, x uint16) error {
	mem, err := m.translateInternal(addr, 2, true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(mem, x)
	return nil
}

func (m *machine) Write32(addr uint64, x uint32) error {
	mem, err := m.translateInternal(addr, 4, true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(mem, x)
	return nil
}

func (m *machine) Write64(addr uint64, x uint64) error {
	mem, err := m.translateInternal(addr, 8, true)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(mem, x)
	return nil
}

// load reads a value of the given size modifier at addr, zero-extended.
func (m *machine) load(size uint8, addr uint64) (uint64, error) {
	switch size {
	case SizeB:
		v, err := m.Read8(addr)
		return uint64(v), err
	case SizeH:
		v, err := m.Read16(addr)
		return uint64(v), err
	case SizeW:
		v, err := m.Read32(addr)
		return uint64(v), err
	default:
		return m.Read64(addr)
	}
}

// store writes the low bytes of v selected by the size modifier.
func (m *machine) store(size uint8, addr uint64, v uint64) error {
	switch size {
	case SizeB:
		return m.Write8(addr, uint8(v))
	case SizeH:
		return m.Write16(addr, uint16(v))
	case SizeW:
		return m.Write32(addr, uint32(v))
	default:
		return m.Write64(addr, v)
	}
}
