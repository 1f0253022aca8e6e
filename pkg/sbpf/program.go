package sbpf

import "sync"

// Program is a loaded and verified sBPF module.
//
// A Program is immutable after loading and may be shared by concurrent
// executions.
type Program struct {
	RO         []byte // read-only data mapped at VaddrProgram
	Text       []byte // instruction slots, a sub-slice of RO
	TextVA     uint64 // virtual address of Text
	Entrypoint uint64 // slot index of the entrypoint
	Funcs      map[uint32]int64

	compileOnce sync.Once
	compiled    *compiledProgram
}

// NumSlots returns the number of instruction slots.
func (p *Program) NumSlots() int64 {
	return int64(len(p.Text) / SlotSize)
}

// NewProgram wraps raw instruction slots into a program whose entrypoint is
// the first slot. The read-only region contains the text followed by rodata.
func NewProgram(text []byte, rodata []byte) *Program {
	ro := make([]byte, len(text)+len(rodata))
	copy(ro, text)
	copy(ro[len(text):], rodata)
	return &Program{
		RO:     ro,
		Text:   ro[:len(text)],
		TextVA: VaddrProgram,
		Funcs: map[uint32]int64{
			EntrypointHash: 0,
			PCHash(0):      0,
		},
	}
}
