package sealevel

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/sbpf"
)

func SyscallAbortImpl(vm sbpf.VM) (uint64, error) {
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}
	return syscallErr(SyscallErrAbort)
}

var SyscallAbort = sbpf.SyscallFunc0(SyscallAbortImpl)

// SyscallPanicImpl is the implementation for the panic (sol_panic_) syscall.
func SyscallPanicImpl(vm sbpf.VM, fileNameAddr, length, line, column uint64) (uint64, error) {
	if err := consume(vm, length); err != nil {
		return syscallErr(err)
	}

	fileName, err := translateString(vm, fileNameAddr, length)
	if err != nil {
		return syscallErr(err)
	}
	logf(executionCtx(vm).Log, "Program panicked in %s at %d:%d", fileName, line, column)
	return syscallErr(fmt.Errorf("%w: %s:%d:%d", SyscallErrPanic, fileName, line, column))
}

var SyscallPanic = sbpf.SyscallFunc4(SyscallPanicImpl)

// SyscallRemainingComputeUnitsImpl is the implementation of the sol_remaining_compute_units syscall
func SyscallRemainingComputeUnitsImpl(vm sbpf.VM) (uint64, error) {
	execCtx := executionCtx(vm)
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}
	return syscallSuccess(execCtx.ComputeMeter.Remaining())
}

var SyscallRemainingComputeUnits = sbpf.SyscallFunc0(SyscallRemainingComputeUnitsImpl)
