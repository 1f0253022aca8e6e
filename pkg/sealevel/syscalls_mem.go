package sealevel

import (
	"bytes"

	"github.com/Overclock-Validator/quartz/pkg/sbpf"
)

func MemOpConsume(vm sbpf.VM, n uint64) error {
	cost := n / CUCpiBytesPerUnit
	if cost < CUMemOpBaseCost {
		cost = CUMemOpBaseCost
	}
	return consume(vm, cost)
}

// SyscallMemcpyImpl is the implementation of the memcpy (sol_memcpy_) syscall.
// Overlapping src and dst for a given n bytes to be copied results in an error being returned.
func SyscallMemcpyImpl(vm sbpf.VM, dst, src, n uint64) (uint64, error) {
	if err := MemOpConsume(vm, n); err != nil {
		return syscallErr(err)
	}

	if !isNonOverlapping(src, n, dst, n) {
		return syscallErr(SyscallErrCopyOverlapping)
	}

	srcBuf, err := vm.Translate(src, n, false)
	if err != nil {
		return syscallErr(err)
	}
	dstBuf, err := vm.Translate(dst, n, true)
	if err != nil {
		return syscallErr(err)
	}
	copy(dstBuf, srcBuf)
	return syscallSuccess(0)
}

var SyscallMemcpy = sbpf.SyscallFunc3(SyscallMemcpyImpl)

// SyscallMemmoveImpl is the implementation for the memmove (sol_memmove_) syscall.
func SyscallMemmoveImpl(vm sbpf.VM, dst, src, n uint64) (uint64, error) {
	if err := MemOpConsume(vm, n); err != nil {
		return syscallErr(err)
	}

	srcBuf, err := vm.Translate(src, n, false)
	if err != nil {
		return syscallErr(err)
	}
	dstBuf, err := vm.Translate(dst, n, true)
	if err != nil {
		return syscallErr(err)
	}
	// copy handles overlap
	copy(dstBuf, srcBuf)
	return syscallSuccess(0)
}

var SyscallMemmove = sbpf.SyscallFunc3(SyscallMemmoveImpl)

// SyscallMemcmpImpl is the implementation for the memcmp (sol_memcmp_) syscall.
func SyscallMemcmpImpl(vm sbpf.VM, addr1, addr2, n, resultAddr uint64) (uint64, error) {
	if err := MemOpConsume(vm, n); err != nil {
		return syscallErr(err)
	}

	slice1, err := vm.Translate(addr1, n, false)
	if err != nil {
		return syscallErr(err)
	}
	slice2, err := vm.Translate(addr2, n, false)
	if err != nil {
		return syscallErr(err)
	}
	if err = checkAligned(vm, resultAddr, 4); err != nil {
		return syscallErr(err)
	}

	var cmpResult int32
	if i := mismatch(slice1, slice2); i >= 0 {
		cmpResult = int32(slice1[i]) - int32(slice2[i])
	}
	if err = vm.Write32(resultAddr, uint32(cmpResult)); err != nil {
		return syscallErr(err)
	}
	return syscallSuccess(0)
}

var SyscallMemcmp = sbpf.SyscallFunc4(SyscallMemcmpImpl)

func mismatch(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return -1
}

// SyscallMemsetImpl is the implementation for the memset (sol_memset_) syscall.
func SyscallMemsetImpl(vm sbpf.VM, dst, c, n uint64) (uint64, error) {
	if err := MemOpConsume(vm, n); err != nil {
		return syscallErr(err)
	}

	mem, err := vm.Translate(dst, n, true)
	if err != nil {
		return syscallErr(err)
	}
	for i := range mem {
		mem[i] = byte(c)
	}
	return syscallSuccess(0)
}

var SyscallMemset = sbpf.SyscallFunc3(SyscallMemsetImpl)

// SyscallAllocFreeImpl is the implementation of the sol_alloc_free_ syscall.
// The heap is a bump allocator: frees are ignored and a failed allocation
// returns a null pointer.
func SyscallAllocFreeImpl(vm sbpf.VM, size, freeAddr uint64) (uint64, error) {
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}
	if freeAddr != 0 {
		return syscallSuccess(0)
	}

	align := uint64(1)
	if executionCtx(vm).CheckAligned() {
		align = BpfAlignOfU128
	}

	pos := vm.HeapSize()
	pos = (pos + align - 1) &^ (align - 1)
	end := pos + size
	if end < pos || end > vm.HeapMax() {
		return syscallSuccess(0)
	}
	vm.UpdateHeapSize(end)
	return syscallSuccess(sbpf.VaddrHeap + pos)
}

var SyscallAllocFree = sbpf.SyscallFunc2(SyscallAllocFreeImpl)
