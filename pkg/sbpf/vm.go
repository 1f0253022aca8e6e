package sbpf

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/cu"
)

// Memory regions
const (
	VaddrProgram = uint64(0x1_0000_0000)
	VaddrStack   = uint64(0x2_0000_0000)
	VaddrHeap    = uint64(0x3_0000_0000)
	VaddrInput   = uint64(0x4_0000_0000)
)

const (
	// StackFrameSize is the size of one stack frame.
	StackFrameSize = 0x1000
	// StackDepth is the default number of stack frames.
	StackDepth = 64
	// DefaultHeapSize is the heap size handed to programs by default.
	DefaultHeapSize = 32 * 1024
	// MaxHeapSize bounds requested heap sizes.
	MaxHeapSize = 256 * 1024
)

// VM is the interface exposed to syscalls.
type VM interface {
	VMContext() any

	HeapMax() uint64
	HeapSize() uint64
	UpdateHeapSize(size uint64)
	ComputeMeter() *cu.ComputeMeter

	Translate(addr uint64, size uint64, write bool) ([]byte, error)

	Read(addr uint64, p []byte) error
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)

	Write(addr uint64, p []byte) error
	Write8(addr uint64, x uint8) error
	Write16(addr uint64, x uint16) error
	Write32(addr uint64, x uint32) error
	Write64(addr uint64, x uint64) error
}

// Strategy selects how a program is executed.
type Strategy int

const (
	StrategyInterpreter Strategy = iota
	StrategyCompiled
)

func (s Strategy) String() string {
	switch s {
	case StrategyInterpreter:
		return "interpreter"
	case StrategyCompiled:
		return "compiled"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses the name returned by Strategy.String.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "interpreter", "interp":
		return StrategyInterpreter, nil
	case "compiled", "jit":
		return StrategyCompiled, nil
	default:
		return 0, fmt.Errorf("unknown execution strategy %q", s)
	}
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := ParseStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// VMOpts holds the bindings of one program execution.
type VMOpts struct {
	// Execution strategy
	Strategy Strategy

	// Machine parameters
	HeapMax      int
	MaxCallDepth int

	// Execution parameters
	Syscalls     SyscallRegistry
	Context      any // passed to syscalls
	ComputeMeter *cu.ComputeMeter
	Input        []byte // mapped at VaddrInput
	Tracer       Tracer
}

// Executor runs a loaded program once.
type Executor interface {
	VM
	Run() (ret uint64, cuConsumed uint64, err error)
}

// NewExecutor creates a fresh executor for the strategy named in opts.
// Executors are single use.
func NewExecutor(p *Program, opts *VMOpts) Executor {
	switch opts.Strategy {
	case StrategyCompiled:
		return NewCompiled(p, opts)
	default:
		return NewInterpreter(p, opts)
	}
}
