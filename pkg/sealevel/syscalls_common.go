package sealevel

import (
	"bytes"
	"math"
	"unicode/utf8"

	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	bin "github.com/gagliardetto/binary"
)

func isNonOverlapping(src, srcLen, dst, dstLen uint64) bool {
	if src > dst {
		return src-dst >= dstLen
	}
	return dst-src >= srcLen
}

func syscallErr(err error) (uint64, error) {
	return math.MaxUint64, err
}

func syscallSuccess(result uint64) (uint64, error) {
	return result, nil
}

// consume charges cost to the meter of the executing frame.
func consume(vm sbpf.VM, cost uint64) error {
	return executionCtx(vm).ComputeMeter.Consume(cost)
}

func checkAligned(vm sbpf.VM, addr uint64, align uint64) error {
	if executionCtx(vm).CheckAligned() && addr%align != 0 {
		return SyscallErrUnalignedPointer
	}
	return nil
}

// translateString reads a UTF-8 string. Without the
// StopTruncatingStringsInSyscalls feature the string ends at the first NUL.
func translateString(vm sbpf.VM, addr, length uint64) (string, error) {
	data, err := vm.Translate(addr, length, false)
	if err != nil {
		return "", err
	}
	if !getFeatures(vm).IsActive(features.StopTruncatingStringsInSyscalls) {
		if idx := bytes.IndexByte(data, 0); idx >= 0 {
			data = data[:idx]
		}
	}
	if !utf8.Valid(data) {
		return "", SyscallErrInvalidString
	}
	return string(data), nil
}

// translateSlices resolves an array of (addr, len) descriptors into host
// slices.
func translateSlices(vm sbpf.VM, addr, count uint64) ([][]byte, error) {
	descrBytes, err := vm.Translate(addr, safemath.SaturatingMulU64(count, 16), false)
	if err != nil {
		return nil, err
	}
	decoder := bin.NewBinDecoder(descrBytes)
	out := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		var vec VectorDescrC
		if err = vec.UnmarshalWithDecoder(decoder); err != nil {
			return nil, err
		}
		data, err := vm.Translate(vec.Addr, vec.Len, false)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}
