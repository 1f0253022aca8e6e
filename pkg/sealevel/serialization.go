package sealevel

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/gagliardetto/solana-go"
	"k8s.io/klog/v2"
)

const (
	MaxInstructionAccounts   = 255
	MaxPermittedDataIncrease = 1024 * 10
	BpfAlignOfU128           = 8
	NonDupMarker             = 0xff
)

// Offsets within a serialized non-duplicate account, relative to its
// dup marker.
const (
	serializedAcctOffsetIsSigner   = 1
	serializedAcctOffsetIsWritable = 2
	serializedAcctOffsetExecutable = 3
	serializedAcctOffsetKey        = 8
	serializedAcctOffsetOwner      = 40
	serializedAcctOffsetLamports   = 72
	serializedAcctOffsetDataLen    = 80
	serializedAcctOffsetData       = 88
)

type serializeAcct struct {
	isDuplicate bool
	indexOfAcct uint64
	acct        *BorrowedAccount
}

type serializedAcctMetadata struct {
	originalDataLen uint64
	vmDataAddr      uint64
	vmKeyAddr       uint64
	vmLamportsAddr  uint64
	vmOwnerAddr     uint64
}

func serializedAcctSize(dataLen uint64) uint64 {
	alignedDataLen := dataLen + (-dataLen & (BpfAlignOfU128 - 1))
	return serializedAcctOffsetData + alignedDataLen + MaxPermittedDataIncrease + 8
}

// serializeParametersAligned lays out the current frame's accounts and
// instruction data in the aligned input ABI. It returns the buffer and the
// pre-invocation data length of every instruction account.
func serializeParametersAligned(execCtx *ExecutionCtx) ([]byte, []uint64, error) {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return nil, nil, err
	}

	numIxAccts := instrCtx.NumberOfInstructionAccounts()
	if numIxAccts > MaxInstructionAccounts {
		return nil, nil, InstrErrMaxAccountsExceeded
	}

	programId, err := instrCtx.LastProgramKey(txCtx)
	if err != nil {
		return nil, nil, err
	}

	accts := make([]serializeAcct, 0, numIxAccts)
	defer func() {
		for _, sa := range accts {
			if sa.acct != nil {
				sa.acct.Drop()
			}
		}
	}()

	for instrAcctIdx := uint64(0); instrAcctIdx < numIxAccts; instrAcctIdx++ {
		isDupe, idxInCallee, err := instrCtx.IsInstructionAccountDuplicate(instrAcctIdx)
		if err != nil {
			return nil, nil, err
		}
		if isDupe {
			accts = append(accts, serializeAcct{isDuplicate: true, indexOfAcct: idxInCallee})
			continue
		}
		acct, err := instrCtx.BorrowInstructionAccount(txCtx, instrAcctIdx)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(acct.Data())) > MaxPermittedDataLength {
			acct.Drop()
			return nil, nil, InstrErrInvalidRealloc
		}
		accts = append(accts, serializeAcct{indexOfAcct: instrAcctIdx, acct: acct})
	}

	size := uint64(8)
	for _, acct := range accts {
		if acct.isDuplicate {
			size += 8
		} else {
			size += serializedAcctSize(uint64(len(acct.acct.Data())))
		}
	}
	size += 8 + uint64(len(instrCtx.Data))
	size += solana.PublicKeyLength

	serializedData := make([]byte, 0, size)
	serializedData = binary.LittleEndian.AppendUint64(serializedData, uint64(len(accts)))

	preLens := make([]uint64, 0, len(accts))
	acctsMetadata := make([]serializedAcctMetadata, 0, len(accts))

	for _, acct := range accts {
		if acct.isDuplicate {
			position := acct.indexOfAcct
			acctsMetadata = append(acctsMetadata, acctsMetadata[position])
			preLens = append(preLens, preLens[position])
			serializedData = append(serializedData, byte(position), 0, 0, 0, 0, 0, 0, 0)
			continue
		}

		borrowedAcct := acct.acct
		start := uint64(len(serializedData))

		serializedData = append(serializedData, NonDupMarker,
			boolToByte(borrowedAcct.IsSigner()),
			boolToByte(borrowedAcct.IsWritable()),
			boolToByte(borrowedAcct.IsExecutable()),
			0, 0, 0, 0)

		key := borrowedAcct.Key()
		serializedData = append(serializedData, key[:]...)
		owner := borrowedAcct.Owner()
		serializedData = append(serializedData, owner[:]...)
		serializedData = binary.LittleEndian.AppendUint64(serializedData, borrowedAcct.Lamports())

		dataLen := uint64(len(borrowedAcct.Data()))
		preLens = append(preLens, dataLen)
		serializedData = binary.LittleEndian.AppendUint64(serializedData, dataLen)
		serializedData = append(serializedData, borrowedAcct.Data()...)

		padding := MaxPermittedDataIncrease + (-dataLen & (BpfAlignOfU128 - 1))
		serializedData = append(serializedData, make([]byte, padding)...)

		serializedData = binary.LittleEndian.AppendUint64(serializedData, borrowedAcct.RentEpoch())

		acctsMetadata = append(acctsMetadata, serializedAcctMetadata{
			originalDataLen: dataLen,
			vmKeyAddr:       sbpf.VaddrInput + start + serializedAcctOffsetKey,
			vmOwnerAddr:     sbpf.VaddrInput + start + serializedAcctOffsetOwner,
			vmLamportsAddr:  sbpf.VaddrInput + start + serializedAcctOffsetLamports,
			vmDataAddr:      sbpf.VaddrInput + start + serializedAcctOffsetData,
		})
	}

	serializedData = binary.LittleEndian.AppendUint64(serializedData, uint64(len(instrCtx.Data)))
	serializedData = append(serializedData, instrCtx.Data...)
	serializedData = append(serializedData, programId[:]...)

	if err = checkSerializedLen(serializedData, size); err != nil {
		return nil, nil, err
	}

	instrCtx.serializedAccts = acctsMetadata
	return serializedData, preLens, nil
}

func checkSerializedLen(buf []byte, size uint64) error {
	if uint64(len(buf)) != size {
		return fmt.Errorf("%w: serialized %d bytes, expected %d", InstrErrInvalidArgument, len(buf), size)
	}
	return nil
}

// deserializeParametersAligned writes the program's view of its accounts
// back into the arena through BorrowedAccount setters.
func deserializeParametersAligned(execCtx *ExecutionCtx, parameterBytes []byte, preLens []uint64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	numIxAccts := instrCtx.NumberOfInstructionAccounts()
	if uint64(len(preLens)) != numIxAccts {
		return InstrErrInvalidArgument
	}
	if len(parameterBytes) < 8 || binary.LittleEndian.Uint64(parameterBytes) != numIxAccts {
		return InstrErrInvalidArgument
	}

	off := uint64(8)
	for instrAcctIdx := uint64(0); instrAcctIdx < numIxAccts; instrAcctIdx++ {
		isDupe, idxInCallee, err := instrCtx.IsInstructionAccountDuplicate(instrAcctIdx)
		if err != nil {
			return err
		}

		if uint64(len(parameterBytes)) < off+8 {
			return InstrErrInvalidArgument
		}

		if isDupe {
			if parameterBytes[off] != byte(idxInCallee) {
				return InstrErrInvalidArgument
			}
			off += 8
			continue
		}
		if parameterBytes[off] != NonDupMarker {
			return InstrErrInvalidArgument
		}

		preLen := preLens[instrAcctIdx]
		if uint64(len(parameterBytes)) < off+serializedAcctOffsetData {
			return InstrErrInvalidArgument
		}

		err = deserializeAccount(instrCtx, txCtx, instrAcctIdx, parameterBytes[off:], preLen)
		if err != nil {
			return err
		}

		off += serializedAcctSize(preLen)
	}

	return nil
}

func deserializeAccount(instrCtx *InstructionCtx, txCtx *TransactionCtx, instrAcctIdx uint64, buf []byte, preLen uint64) error {
	borrowedAcct, err := instrCtx.BorrowInstructionAccount(txCtx, instrAcctIdx)
	if err != nil {
		return err
	}
	defer borrowedAcct.Drop()

	key := borrowedAcct.Key()
	if !bytes.Equal(buf[serializedAcctOffsetKey:serializedAcctOffsetOwner], key[:]) {
		return InstrErrInvalidArgument
	}

	owner := solana.PublicKeyFromBytes(buf[serializedAcctOffsetOwner:serializedAcctOffsetLamports])
	lamports := binary.LittleEndian.Uint64(buf[serializedAcctOffsetLamports:])
	postLen := binary.LittleEndian.Uint64(buf[serializedAcctOffsetDataLen:])

	if borrowedAcct.Lamports() != lamports {
		if err = borrowedAcct.SetLamports(lamports); err != nil {
			return err
		}
	}

	if safemath.SaturatingSubU64(postLen, preLen) > MaxPermittedDataIncrease ||
		postLen > MaxPermittedDataLength {
		return InstrErrInvalidRealloc
	}

	dataEnd, err := safemath.CheckedAddU64(serializedAcctOffsetData, postLen)
	if err != nil || uint64(len(buf)) < dataEnd {
		return InstrErrInvalidArgument
	}
	if err = borrowedAcct.SetData(buf[serializedAcctOffsetData:dataEnd]); err != nil {
		return err
	}

	if borrowedAcct.Owner() != owner {
		if err = borrowedAcct.SetOwner(owner); err != nil {
			return err
		}
	}

	klog.V(5).Infof("deserialized account %s: lamports=%d len=%d", key, lamports, postLen)
	return nil
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
