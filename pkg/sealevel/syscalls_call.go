package sealevel

import (
	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const MaxReturnData = 1024

// SyscallGetStackHeightImpl is an implementation of the sol_get_stack_height syscall
func SyscallGetStackHeightImpl(vm sbpf.VM) (uint64, error) {
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}
	return syscallSuccess(transactionCtx(vm).InstructionCtxStackHeight())
}

var SyscallGetStackHeight = sbpf.SyscallFunc0(SyscallGetStackHeightImpl)

// SyscallGetReturnDataImpl is an implementation of the sol_get_return_data syscall.
// It copies at most length bytes and returns the full length of the
// return data.
func SyscallGetReturnDataImpl(vm sbpf.VM, returnDataAddr, length, programIdAddr uint64) (uint64, error) {
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}

	programId, returnData := transactionCtx(vm).ReturnData()
	if length > uint64(len(returnData)) {
		length = uint64(len(returnData))
	}

	if length != 0 {
		cost := safemath.SaturatingAddU64(length, solana.PublicKeyLength) / CUCpiBytesPerUnit
		if err := consume(vm, cost); err != nil {
			return syscallErr(err)
		}
		if !isNonOverlapping(returnDataAddr, length, programIdAddr, solana.PublicKeyLength) {
			return syscallErr(SyscallErrCopyOverlapping)
		}

		dataOut, err := vm.Translate(returnDataAddr, length, true)
		if err != nil {
			return syscallErr(err)
		}
		copy(dataOut, returnData[:length])

		if err = vm.Write(programIdAddr, programId[:]); err != nil {
			return syscallErr(err)
		}
	}

	return syscallSuccess(uint64(len(returnData)))
}

var SyscallGetReturnData = sbpf.SyscallFunc3(SyscallGetReturnDataImpl)

// SyscallSetReturnDataImpl is an implementation of the sol_set_return_data syscall
func SyscallSetReturnDataImpl(vm sbpf.VM, addr, length uint64) (uint64, error) {
	cost := safemath.SaturatingAddU64(length/CUCpiBytesPerUnit, CUSyscallBaseCost)
	if err := consume(vm, cost); err != nil {
		return syscallErr(err)
	}
	if length > MaxReturnData {
		return syscallErr(SyscallErrReturnDataTooLarge)
	}

	returnData := make([]byte, length)
	if length != 0 {
		if err := vm.Read(addr, returnData); err != nil {
			return syscallErr(err)
		}
	}

	txCtx := transactionCtx(vm)
	ixCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return syscallErr(err)
	}
	programId, err := ixCtx.LastProgramKey(txCtx)
	if err != nil {
		return syscallErr(err)
	}

	txCtx.SetReturnData(programId, returnData)
	return syscallSuccess(0)
}

var SyscallSetReturnData = sbpf.SyscallFunc2(SyscallSetReturnDataImpl)

// findSiblingInstruction walks the trace backwards and returns the
// index-th most recent instruction processed at the current stack height.
func findSiblingInstruction(txCtx *TransactionCtx, index uint64) (*InstructionCtx, error) {
	stackHeight := txCtx.InstructionCtxStackHeight()
	var reverseIndexAtStackHeight uint64

	for indexInTrace := txCtx.InstructionTraceLength(); indexInTrace > 0; indexInTrace-- {
		instrCtx, err := txCtx.InstructionCtxAtIndexInTrace(indexInTrace - 1)
		if err != nil {
			return nil, err
		}
		if instrCtx.StackHeight() < stackHeight {
			break
		}
		if instrCtx.StackHeight() == stackHeight {
			if safemath.SaturatingAddU64(index, 1) == reverseIndexAtStackHeight {
				return instrCtx, nil
			}
			reverseIndexAtStackHeight++
		}
	}
	return nil, nil
}

// SyscallGetProcessedSiblingInstructionImpl is an implementation of the sol_get_processed_sibling_instruction syscall.
// The header at metaAddr carries the caller's buffer sizes. Instruction
// data and account metas are only copied out when they match.
func SyscallGetProcessedSiblingInstructionImpl(vm sbpf.VM, index, metaAddr, programIdAddr, dataAddr, accountsAddr uint64) (uint64, error) {
	if err := consume(vm, CUSyscallBaseCost); err != nil {
		return syscallErr(err)
	}

	txCtx := transactionCtx(vm)
	sibling, err := findSiblingInstruction(txCtx, index)
	if err != nil {
		return syscallErr(err)
	}
	if sibling == nil {
		return syscallSuccess(0)
	}

	if err = checkAligned(vm, metaAddr, 8); err != nil {
		return syscallErr(err)
	}
	headerBytes, err := vm.Translate(metaAddr, ProcessedSiblingInstructionSize, true)
	if err != nil {
		return syscallErr(err)
	}
	var header ProcessedSiblingInstruction
	if err = header.UnmarshalWithDecoder(bin.NewBinDecoder(headerBytes)); err != nil {
		return syscallErr(err)
	}

	numAccts := sibling.NumberOfInstructionAccounts()
	if header.DataLen == uint64(len(sibling.Data)) && header.AccountsLen == numAccts {
		metasLen := safemath.SaturatingMulU64(header.AccountsLen, AccountMetaSize)
		if !isNonOverlapping(metaAddr, ProcessedSiblingInstructionSize, programIdAddr, solana.PublicKeyLength) ||
			!isNonOverlapping(metaAddr, ProcessedSiblingInstructionSize, accountsAddr, metasLen) ||
			!isNonOverlapping(metaAddr, ProcessedSiblingInstructionSize, dataAddr, header.DataLen) ||
			!isNonOverlapping(programIdAddr, solana.PublicKeyLength, dataAddr, header.DataLen) ||
			!isNonOverlapping(programIdAddr, solana.PublicKeyLength, accountsAddr, metasLen) ||
			!isNonOverlapping(dataAddr, header.DataLen, accountsAddr, metasLen) {
			return syscallErr(SyscallErrCopyOverlapping)
		}

		programIdOut, err := vm.Translate(programIdAddr, solana.PublicKeyLength, true)
		if err != nil {
			return syscallErr(err)
		}
		dataOut, err := vm.Translate(dataAddr, header.DataLen, true)
		if err != nil {
			return syscallErr(err)
		}
		metasOut, err := vm.Translate(accountsAddr, metasLen, true)
		if err != nil {
			return syscallErr(err)
		}

		programId, err := sibling.LastProgramKey(txCtx)
		if err != nil {
			return syscallErr(err)
		}
		copy(programIdOut, programId[:])
		copy(dataOut, sibling.Data)

		for i := uint64(0); i < numAccts; i++ {
			idx, err := sibling.IndexOfInstructionAccountInTransaction(i)
			if err != nil {
				return syscallErr(err)
			}
			key, err := txCtx.KeyOfAccountAtIndex(idx)
			if err != nil {
				return syscallErr(err)
			}
			isSigner, err := sibling.IsInstructionAccountSigner(i)
			if err != nil {
				return syscallErr(err)
			}
			isWritable, err := sibling.IsInstructionAccountWritable(i)
			if err != nil {
				return syscallErr(err)
			}
			meta := AccountMeta{Pubkey: key, IsSigner: isSigner, IsWritable: isWritable}
			copy(metasOut[i*AccountMetaSize:], meta.Marshal())
		}
	}

	out := ProcessedSiblingInstruction{DataLen: uint64(len(sibling.Data)), AccountsLen: numAccts}
	copy(headerBytes, out.Marshal())
	return syscallSuccess(1)
}

var SyscallGetProcessedSiblingInstruction = sbpf.SyscallFunc5(SyscallGetProcessedSiblingInstructionImpl)
