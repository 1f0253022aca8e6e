package sealevel

import (
	"bytes"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/gagliardetto/solana-go"
)

const MaxInstructionTraceLength = 64

type TxReturnData struct {
	programId solana.PublicKey
	data      []byte
}

// TransactionAccounts is the transaction-wide account arena. Instruction
// frames refer to records by index, so every alias of a key observes the
// same record.
type TransactionAccounts struct {
	Accounts []*accounts.Account
	Touched  []bool
	borrowed []bool
}

func NewTransactionAccounts(accts []*accounts.Account) *TransactionAccounts {
	return &TransactionAccounts{
		Accounts: accts,
		Touched:  make([]bool, len(accts)),
		borrowed: make([]bool, len(accts)),
	}
}

func (txAccounts *TransactionAccounts) GetAccount(idx uint64) (*accounts.Account, error) {
	if idx >= uint64(len(txAccounts.Accounts)) {
		return nil, InstrErrMissingAccount
	}
	return txAccounts.Accounts[idx], nil
}

func (txAccounts *TransactionAccounts) Touch(idx uint64) error {
	if idx >= uint64(len(txAccounts.Touched)) {
		return InstrErrNotEnoughAccountKeys
	}
	txAccounts.Touched[idx] = true
	return nil
}

func (txAccounts *TransactionAccounts) tryBorrow(idx uint64) error {
	if idx >= uint64(len(txAccounts.borrowed)) {
		return InstrErrMissingAccount
	}
	if txAccounts.borrowed[idx] {
		return InstrErrAccountBorrowFailed
	}
	txAccounts.borrowed[idx] = true
	return nil
}

func (txAccounts *TransactionAccounts) release(idx uint64) {
	if idx < uint64(len(txAccounts.borrowed)) {
		txAccounts.borrowed[idx] = false
	}
}

func (txAccounts *TransactionAccounts) anyBorrowed() bool {
	for _, b := range txAccounts.borrowed {
		if b {
			return true
		}
	}
	return false
}

type TransactionCtx struct {
	AccountKeys      []solana.PublicKey
	Accounts         *TransactionAccounts
	instructionTrace []*InstructionCtx
	instructionStack []uint64
	traceCapacity    uint64
	returnData       TxReturnData
	HeapSize         uint32
}

func NewTransactionCtx(accts []*accounts.Account, instrTraceCapacity uint64) *TransactionCtx {
	keys := make([]solana.PublicKey, len(accts))
	for i, acct := range accts {
		keys[i] = acct.Key
	}
	if instrTraceCapacity == 0 {
		instrTraceCapacity = MaxInstructionTraceLength
	}
	return &TransactionCtx{
		AccountKeys:      keys,
		Accounts:         NewTransactionAccounts(accts),
		instructionTrace: []*InstructionCtx{new(InstructionCtx)},
		traceCapacity:    instrTraceCapacity,
		HeapSize:         32 * 1024,
	}
}

func (txCtx *TransactionCtx) KeyOfAccountAtIndex(index uint64) (solana.PublicKey, error) {
	if index >= uint64(len(txCtx.AccountKeys)) {
		return solana.PublicKey{}, InstrErrNotEnoughAccountKeys
	}
	return txCtx.AccountKeys[index], nil
}

func (txCtx *TransactionCtx) IndexOfAccount(pubkey solana.PublicKey) (uint64, error) {
	for index, key := range txCtx.AccountKeys {
		if key == pubkey {
			return uint64(index), nil
		}
	}
	return 0, InstrErrMissingAccount
}

func (txCtx *TransactionCtx) AccountAtIndex(index uint64) (*accounts.Account, error) {
	return txCtx.Accounts.GetAccount(index)
}

// InstructionTraceLength excludes the pending entry at the end of the trace.
func (txCtx *TransactionCtx) InstructionTraceLength() uint64 {
	return uint64(len(txCtx.instructionTrace) - 1)
}

func (txCtx *TransactionCtx) InstructionCtxAtIndexInTrace(idx uint64) (*InstructionCtx, error) {
	if idx >= uint64(len(txCtx.instructionTrace)) {
		return nil, InstrErrCallDepth
	}
	return txCtx.instructionTrace[idx], nil
}

func (txCtx *TransactionCtx) InstructionCtxStackHeight() uint64 {
	return uint64(len(txCtx.instructionStack))
}

func (txCtx *TransactionCtx) InstructionCtxAtNestingLevel(level uint64) (*InstructionCtx, error) {
	if level >= uint64(len(txCtx.instructionStack)) {
		return nil, InstrErrCallDepth
	}
	return txCtx.InstructionCtxAtIndexInTrace(txCtx.instructionStack[level])
}

func (txCtx *TransactionCtx) CurrentInstructionCtx() (*InstructionCtx, error) {
	level := safemath.SaturatingSubU64(txCtx.InstructionCtxStackHeight(), 1)
	return txCtx.InstructionCtxAtNestingLevel(level)
}

func (txCtx *TransactionCtx) NextInstructionCtx() (*InstructionCtx, error) {
	if len(txCtx.instructionTrace) == 0 {
		return nil, InstrErrCallDepth
	}
	return txCtx.instructionTrace[len(txCtx.instructionTrace)-1], nil
}

func (txCtx *TransactionCtx) Push() error {
	nestingLevel := txCtx.InstructionCtxStackHeight()
	instrCtx, err := txCtx.NextInstructionCtx()
	if err != nil {
		return err
	}

	instrCtx.nestingLevel = nestingLevel
	instrCtx.lamportSum, err = instrCtx.instructionAccountsLamportSum(txCtx)
	if err != nil {
		return err
	}

	indexInTrace := txCtx.InstructionTraceLength()
	if indexInTrace >= txCtx.traceCapacity {
		return InstrErrMaxInstructionTraceLengthExceeded
	}

	txCtx.instructionTrace = append(txCtx.instructionTrace, new(InstructionCtx))
	txCtx.instructionStack = append(txCtx.instructionStack, indexInTrace)
	return nil
}

func (txCtx *TransactionCtx) Pop() error {
	if len(txCtx.instructionStack) == 0 {
		return InstrErrCallDepth
	}

	var detectedUnbalance bool
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err == nil {
		var sum uint64
		sum, err = instrCtx.instructionAccountsLamportSum(txCtx)
		detectedUnbalance = err == nil && sum != instrCtx.lamportSum
	}

	txCtx.instructionStack = txCtx.instructionStack[:len(txCtx.instructionStack)-1]

	if err != nil {
		return err
	}
	if txCtx.Accounts.anyBorrowed() {
		return InstrErrAccountBorrowOutstanding
	}
	if detectedUnbalance {
		return InstrErrUnbalancedInstruction
	}
	return nil
}

func (txCtx *TransactionCtx) ReturnData() (solana.PublicKey, []byte) {
	return txCtx.returnData.programId, txCtx.returnData.data
}

func (txCtx *TransactionCtx) SetReturnData(programId solana.PublicKey, data []byte) {
	txCtx.returnData.programId = programId
	txCtx.returnData.data = bytes.Clone(data)
}

// Snapshot deep copies every record in the arena.
func (txCtx *TransactionCtx) Snapshot() []*accounts.Account {
	snapshot := make([]*accounts.Account, len(txCtx.Accounts.Accounts))
	for i, acct := range txCtx.Accounts.Accounts {
		snapshot[i] = acct.Clone()
	}
	return snapshot
}

// Restore rewrites the arena records in place so outstanding references
// observe the restored state.
func (txCtx *TransactionCtx) Restore(snapshot []*accounts.Account) {
	for i, acct := range snapshot {
		if i < len(txCtx.Accounts.Accounts) {
			*txCtx.Accounts.Accounts[i] = *acct.Clone()
		}
	}
}
