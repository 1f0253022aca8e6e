package sbpf

// Frame is a call frame.
type Frame struct {
	FramePtr uint64
	NVRegs   [4]uint64
	RetAddr  int64
}

// Stack is the VM call stack.
//
// Frames are laid out contiguously starting at VaddrStack. The frame
// pointer r10 points to the end of the current frame.
type Stack struct {
	mem      []byte
	frames   []Frame
	maxDepth int
}

func NewStack(maxDepth int) Stack {
	if maxDepth <= 0 {
		maxDepth = StackDepth
	}
	s := Stack{
		mem:      make([]byte, maxDepth*StackFrameSize),
		frames:   make([]Frame, 1, maxDepth),
		maxDepth: maxDepth,
	}
	s.frames[0] = Frame{FramePtr: VaddrStack + StackFrameSize}
	return s
}

// GetFramePtr returns the frame pointer of the current frame.
func (s *Stack) GetFramePtr() uint64 {
	return s.frames[len(s.frames)-1].FramePtr
}

// GetFrame returns the stack memory starting at the given region offset.
func (s *Stack) GetFrame(addr uint32) []byte {
	if uint64(addr) >= uint64(len(s.mem)) {
		return nil
	}
	return s.mem[addr:]
}

// Depth returns the number of active frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Push allocates a new frame, saving the non-volatile registers and the
// return address. Returns false if the depth limit is reached.
func (s *Stack) Push(nvRegs *[4]uint64, ret int64) (fp uint64, ok bool) {
	if len(s.frames) >= s.maxDepth {
		return 0, false
	}
	fp = s.GetFramePtr() + StackFrameSize
	s.frames = append(s.frames, Frame{
		FramePtr: fp,
		NVRegs:   *nvRegs,
		RetAddr:  ret,
	})
	return fp, true
}

// Pop exits the current frame, restoring the non-volatile registers.
// Returns false when called on the root frame.
func (s *Stack) Pop(nvRegs *[4]uint64) (fp uint64, ret int64, ok bool) {
	if len(s.frames) <= 1 {
		return 0, 0, false
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	*nvRegs = top.NVRegs
	return s.GetFramePtr(), top.RetAddr, true
}
