package sealevel

import (
	"github.com/Overclock-Validator/quartz/pkg/cu"
	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/bits-and-blooms/bitset"
	"github.com/gagliardetto/solana-go"
)

// InstructionCtx is one frame of the invocation stack. The signer and
// writable sets are keyed by index in transaction and are fixed once the
// frame is configured.
type InstructionCtx struct {
	programAccounts     []uint64
	instructionAccounts []InstructionAccount
	Data                []byte
	nestingLevel        uint64
	lamportSum          uint64

	signers  *bitset.BitSet
	writable *bitset.BitSet

	ComputeMeter cu.ComputeMeter

	serializedAccts []serializedAcctMetadata
}

func (instrCtx *InstructionCtx) Configure(programAccounts []uint64, instructionAccounts []InstructionAccount, data []byte) {
	instrCtx.programAccounts = programAccounts
	instrCtx.instructionAccounts = instructionAccounts
	instrCtx.Data = data

	signers := bitset.New(uint(len(instructionAccounts)))
	writable := bitset.New(uint(len(instructionAccounts)))
	for _, ia := range instructionAccounts {
		if ia.IsSigner {
			signers.Set(uint(ia.IndexInTransaction))
		}
		if ia.IsWritable {
			writable.Set(uint(ia.IndexInTransaction))
		}
	}
	instrCtx.signers = signers
	instrCtx.writable = writable
}

func (instrCtx *InstructionCtx) StackHeight() uint64 {
	return instrCtx.nestingLevel + 1
}

func (instrCtx *InstructionCtx) NumberOfProgramAccounts() uint64 {
	return uint64(len(instrCtx.programAccounts))
}

func (instrCtx *InstructionCtx) NumberOfInstructionAccounts() uint64 {
	return uint64(len(instrCtx.instructionAccounts))
}

func (instrCtx *InstructionCtx) CheckNumOfInstructionAccounts(expectedAtLeast uint64) error {
	if instrCtx.NumberOfInstructionAccounts() < expectedAtLeast {
		return InstrErrNotEnoughAccountKeys
	}
	return nil
}

func (instrCtx *InstructionCtx) IndexOfProgramAccountInTransaction(programAccountIndex uint64) (uint64, error) {
	if programAccountIndex >= uint64(len(instrCtx.programAccounts)) {
		return 0, InstrErrNotEnoughAccountKeys
	}
	return instrCtx.programAccounts[programAccountIndex], nil
}

func (instrCtx *InstructionCtx) IndexOfInstructionAccountInTransaction(instrAcctIdx uint64) (uint64, error) {
	if instrAcctIdx >= uint64(len(instrCtx.instructionAccounts)) {
		return 0, InstrErrNotEnoughAccountKeys
	}
	return instrCtx.instructionAccounts[instrAcctIdx].IndexInTransaction, nil
}

func (instrCtx *InstructionCtx) InstructionAccount(instrAcctIdx uint64) (InstructionAccount, error) {
	if instrAcctIdx >= uint64(len(instrCtx.instructionAccounts)) {
		return InstructionAccount{}, InstrErrNotEnoughAccountKeys
	}
	return instrCtx.instructionAccounts[instrAcctIdx], nil
}

// IndexOfInstructionAccount returns the first instruction account slot that
// refers to pubkey.
func (instrCtx *InstructionCtx) IndexOfInstructionAccount(txCtx *TransactionCtx, pubkey solana.PublicKey) (uint64, error) {
	for index, ia := range instrCtx.instructionAccounts {
		key, err := txCtx.KeyOfAccountAtIndex(ia.IndexInTransaction)
		if err == nil && key == pubkey {
			return uint64(index), nil
		}
	}
	return 0, InstrErrMissingAccount
}

func (instrCtx *InstructionCtx) IndexOfProgramAccount(txCtx *TransactionCtx, pubkey solana.PublicKey) (uint64, error) {
	for index, txIdx := range instrCtx.programAccounts {
		key, err := txCtx.KeyOfAccountAtIndex(txIdx)
		if err == nil && key == pubkey {
			return uint64(index), nil
		}
	}
	return 0, InstrErrMissingAccount
}

func (instrCtx *InstructionCtx) IsInstructionAccountDuplicate(instrAcctIdx uint64) (bool, uint64, error) {
	ia, err := instrCtx.InstructionAccount(instrAcctIdx)
	if err != nil {
		return false, 0, err
	}
	if ia.IndexInCallee == instrAcctIdx {
		return false, 0, nil
	}
	return true, ia.IndexInCallee, nil
}

func (instrCtx *InstructionCtx) IsInstructionAccountSigner(instrAcctIdx uint64) (bool, error) {
	ia, err := instrCtx.InstructionAccount(instrAcctIdx)
	if err != nil {
		return false, err
	}
	return ia.IsSigner, nil
}

func (instrCtx *InstructionCtx) IsInstructionAccountWritable(instrAcctIdx uint64) (bool, error) {
	ia, err := instrCtx.InstructionAccount(instrAcctIdx)
	if err != nil {
		return false, err
	}
	return ia.IsWritable, nil
}

// IsSigner reports whether the frame holds signer privilege over the
// transaction account at txIdx.
func (instrCtx *InstructionCtx) IsSigner(txIdx uint64) bool {
	return instrCtx.signers != nil && instrCtx.signers.Test(uint(txIdx))
}

func (instrCtx *InstructionCtx) IsWritable(txIdx uint64) bool {
	return instrCtx.writable != nil && instrCtx.writable.Test(uint(txIdx))
}

func (instrCtx *InstructionCtx) Signers(txCtx *TransactionCtx) []solana.PublicKey {
	var signers []solana.PublicKey
	if instrCtx.signers == nil {
		return signers
	}
	for i, ok := instrCtx.signers.NextSet(0); ok; i, ok = instrCtx.signers.NextSet(i + 1) {
		key, err := txCtx.KeyOfAccountAtIndex(uint64(i))
		if err == nil {
			signers = append(signers, key)
		}
	}
	return signers
}

func (instrCtx *InstructionCtx) WritableKeys(txCtx *TransactionCtx) []solana.PublicKey {
	var keys []solana.PublicKey
	if instrCtx.writable == nil {
		return keys
	}
	for i, ok := instrCtx.writable.NextSet(0); ok; i, ok = instrCtx.writable.NextSet(i + 1) {
		key, err := txCtx.KeyOfAccountAtIndex(uint64(i))
		if err == nil {
			keys = append(keys, key)
		}
	}
	return keys
}

func (instrCtx *InstructionCtx) ProgramId(txCtx *TransactionCtx) (solana.PublicKey, error) {
	return instrCtx.LastProgramKey(txCtx)
}

func (instrCtx *InstructionCtx) LastProgramKey(txCtx *TransactionCtx) (solana.PublicKey, error) {
	programAccountIndex := safemath.SaturatingSubU64(instrCtx.NumberOfProgramAccounts(), 1)

	index, err := instrCtx.IndexOfProgramAccountInTransaction(programAccountIndex)
	if err != nil {
		return solana.PublicKey{}, err
	}

	return txCtx.KeyOfAccountAtIndex(index)
}

func (instrCtx *InstructionCtx) borrowAccount(txCtx *TransactionCtx, indexInTransaction uint64, indexInInstruction uint64) (*BorrowedAccount, error) {
	acct, err := txCtx.AccountAtIndex(indexInTransaction)
	if err != nil {
		return nil, err
	}
	if err = txCtx.Accounts.tryBorrow(indexInTransaction); err != nil {
		return nil, err
	}
	return &BorrowedAccount{
		TxCtx:              txCtx,
		InstrCtx:           instrCtx,
		IndexInTransaction: indexInTransaction,
		IndexInInstruction: indexInInstruction,
		Account:            acct,
	}, nil
}

func (instrCtx *InstructionCtx) BorrowProgramAccount(txCtx *TransactionCtx, programAcctIdx uint64) (*BorrowedAccount, error) {
	idxInTx, err := instrCtx.IndexOfProgramAccountInTransaction(programAcctIdx)
	if err != nil {
		return nil, err
	}
	return instrCtx.borrowAccount(txCtx, idxInTx, programAcctIdx)
}

func (instrCtx *InstructionCtx) BorrowLastProgramAccount(txCtx *TransactionCtx) (*BorrowedAccount, error) {
	programAcctIdx := safemath.SaturatingSubU64(instrCtx.NumberOfProgramAccounts(), 1)
	return instrCtx.BorrowProgramAccount(txCtx, programAcctIdx)
}

func (instrCtx *InstructionCtx) BorrowInstructionAccount(txCtx *TransactionCtx, instrAcctIdx uint64) (*BorrowedAccount, error) {
	idxInTx, err := instrCtx.IndexOfInstructionAccountInTransaction(instrAcctIdx)
	if err != nil {
		return nil, err
	}
	return instrCtx.borrowAccount(txCtx, idxInTx, safemath.SaturatingAddU64(instrAcctIdx, instrCtx.NumberOfProgramAccounts()))
}

func (instrCtx *InstructionCtx) instructionAccountsLamportSum(txCtx *TransactionCtx) (uint64, error) {
	var sum uint64
	for idx, ia := range instrCtx.instructionAccounts {
		if ia.IndexInCallee != uint64(idx) {
			continue
		}
		acct, err := txCtx.AccountAtIndex(ia.IndexInTransaction)
		if err != nil {
			return 0, err
		}
		sum, err = safemath.CheckedAddU64(sum, acct.Lamports)
		if err != nil {
			return 0, InstrErrArithmeticOverflow
		}
	}
	return sum, nil
}

// Instruction reconstructs the instruction this frame is processing.
func (instrCtx *InstructionCtx) Instruction(txCtx *TransactionCtx) Instruction {
	programId, _ := instrCtx.LastProgramKey(txCtx)
	metas := make([]AccountMeta, 0, len(instrCtx.instructionAccounts))
	for _, ia := range instrCtx.instructionAccounts {
		key, _ := txCtx.KeyOfAccountAtIndex(ia.IndexInTransaction)
		metas = append(metas, AccountMeta{Pubkey: key, IsSigner: ia.IsSigner, IsWritable: ia.IsWritable})
	}
	return Instruction{ProgramId: programId, Accounts: metas, Data: instrCtx.Data}
}
