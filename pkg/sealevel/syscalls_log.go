package sealevel

import (
	"encoding/base64"
	"strings"

	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/gagliardetto/solana-go"
)

// SyscallLogImpl is the implementation of the sol_log_ syscall
func SyscallLogImpl(vm sbpf.VM, ptr, strlen uint64) (uint64, error) {
	cost := strlen
	if cost < CUSyscallBaseCost {
		cost = CUSyscallBaseCost
	}
	if err := consume(vm, cost); err != nil {
		return syscallErr(err)
	}

	msg, err := translateString(vm, ptr, strlen)
	if err != nil {
		return syscallErr(err)
	}
	logf(executionCtx(vm).Log, "Program log: %s", msg)
	return syscallSuccess(0)
}

var SyscallLog = sbpf.SyscallFunc2(SyscallLogImpl)

// SyscallLog64Impl is the implementation of the sol_log_64_ syscall
func SyscallLog64Impl(vm sbpf.VM, r1, r2, r3, r4, r5 uint64) (uint64, error) {
	if err := consume(vm, CULog64Units); err != nil {
		return syscallErr(err)
	}
	logf(executionCtx(vm).Log, "Program log: %#x, %#x, %#x, %#x, %#x", r1, r2, r3, r4, r5)
	return syscallSuccess(0)
}

var SyscallLog64 = sbpf.SyscallFunc5(SyscallLog64Impl)

// SyscallLogCUsImpl is the implementation of the sol_log_compute_units_ syscall
func SyscallLogCUsImpl(vm sbpf.VM) (uint64, error) {
	execCtx := executionCtx(vm)
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}
	logf(execCtx.Log, "Program consumption: %d units remaining", execCtx.ComputeMeter.Remaining())
	return syscallSuccess(0)
}

var SyscallLogCUs = sbpf.SyscallFunc0(SyscallLogCUsImpl)

// SyscallLogPubkeyImpl is the implementation of the sol_log_pubkey syscall
func SyscallLogPubkeyImpl(vm sbpf.VM, pubkeyAddr uint64) (uint64, error) {
	if err := consume(vm, CULogPubkeyUnits); err != nil {
		return syscallErr(err)
	}

	var pubkey solana.PublicKey
	if err := vm.Read(pubkeyAddr, pubkey[:]); err != nil {
		return syscallErr(err)
	}
	logf(executionCtx(vm).Log, "Program log: %s", pubkey)
	return syscallSuccess(0)
}

var SyscallLogPubkey = sbpf.SyscallFunc1(SyscallLogPubkeyImpl)

// SyscallLogDataImpl is the implementation of the sol_log_data syscall
func SyscallLogDataImpl(vm sbpf.VM, addr uint64, count uint64) (uint64, error) {
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}

	fields, err := translateSlices(vm, addr, count)
	if err != nil {
		return syscallErr(err)
	}

	if err = consume(vm, safemath.SaturatingMulU64(count, CUSyscallBaseCost)); err != nil {
		return syscallErr(err)
	}

	encoded := make([]string, 0, len(fields))
	for _, field := range fields {
		if err = consume(vm, uint64(len(field))); err != nil {
			return syscallErr(err)
		}
		encoded = append(encoded, base64.StdEncoding.EncodeToString(field))
	}

	logf(executionCtx(vm).Log, "Program data: %s", strings.Join(encoded, " "))
	return syscallSuccess(0)
}

var SyscallLogData = sbpf.SyscallFunc2(SyscallLogDataImpl)
