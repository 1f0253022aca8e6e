package sbpf

import (
	"errors"
	"fmt"
)

// Exception is a VM abort with the program counter it occurred at.
type Exception struct {
	PC     int64
	Detail error
}

func (e *Exception) Error() string {
	return fmt.Sprintf("exception at %d: %s", e.PC, e.Detail)
}

func (e *Exception) Unwrap() error {
	return e.Detail
}

var (
	ExcDivideByZero       = errors.New("division by zero")
	ExcDivideOverflow     = errors.New("divide overflow")
	ExcCallDepth          = errors.New("call depth exceeded")
	ExcOutOfCU            = errors.New("compute unit overrun")
	ExcExecutionOverrun   = errors.New("execution overrun")
	ExcInvalidInstruction = errors.New("invalid instruction")
)

// ExcBadAccess is an invalid memory access.
type ExcBadAccess struct {
	Addr   uint64
	Size   uint64
	Write  bool
	Reason string
}

func NewExcBadAccess(addr uint64, size uint64, write bool, reason string) ExcBadAccess {
	return ExcBadAccess{
		Addr:   addr,
		Size:   size,
		Write:  write,
		Reason: reason,
	}
}

func (e ExcBadAccess) Error() string {
	return fmt.Sprintf("bad memory access at %#x (size=%d write=%v), reason: %s", e.Addr, e.Size, e.Write, e.Reason)
}

// ExcCallDest is a call to an unknown function or syscall.
type ExcCallDest struct {
	Imm uint32
}

func (e ExcCallDest) Error() string {
	return fmt.Sprintf("unknown symbol or syscall 0x%08x", e.Imm)
}

// ExcCallxTarget is an indirect call to an address outside of the text.
type ExcCallxTarget struct {
	Target uint64
}

func (e ExcCallxTarget) Error() string {
	return fmt.Sprintf("callx to invalid address %#x", e.Target)
}
