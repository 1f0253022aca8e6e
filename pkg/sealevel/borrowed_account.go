package sealevel

import (
	"bytes"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/gagliardetto/solana-go"
)

const MaxPermittedDataLength = 10 * 1024 * 1024

// BorrowedAccount is an exclusive handle on an arena record, obtained
// through an InstructionCtx. Drop must be called to release it.
type BorrowedAccount struct {
	TxCtx              *TransactionCtx
	InstrCtx           *InstructionCtx
	IndexInTransaction uint64
	IndexInInstruction uint64
	Account            *accounts.Account
	dropped            bool
}

func (acct *BorrowedAccount) Drop() {
	if acct.dropped {
		return
	}
	acct.dropped = true
	acct.TxCtx.Accounts.release(acct.IndexInTransaction)
}

func (acct *BorrowedAccount) Key() solana.PublicKey {
	return acct.Account.Key
}

func (acct *BorrowedAccount) Owner() solana.PublicKey {
	return acct.Account.Owner
}

func (acct *BorrowedAccount) Lamports() uint64 {
	return acct.Account.Lamports
}

func (acct *BorrowedAccount) Data() []byte {
	return acct.Account.Data
}

func (acct *BorrowedAccount) RentEpoch() uint64 {
	return acct.Account.RentEpoch
}

func (acct *BorrowedAccount) IsExecutable() bool {
	return acct.Account.Executable
}

func (acct *BorrowedAccount) Touch() error {
	return acct.TxCtx.Accounts.Touch(acct.IndexInTransaction)
}

func (acct *BorrowedAccount) isProgramAccount() bool {
	return acct.IndexInInstruction < acct.InstrCtx.NumberOfProgramAccounts()
}

func (acct *BorrowedAccount) IsSigner() bool {
	if acct.isProgramAccount() {
		return false
	}
	return acct.InstrCtx.IsSigner(acct.IndexInTransaction)
}

func (acct *BorrowedAccount) IsWritable() bool {
	if acct.isProgramAccount() {
		return false
	}
	return acct.InstrCtx.IsWritable(acct.IndexInTransaction)
}

func (acct *BorrowedAccount) IsOwnedByCurrentProgram() bool {
	lastProgramKey, err := acct.InstrCtx.LastProgramKey(acct.TxCtx)
	if err != nil {
		return false
	}
	return lastProgramKey == acct.Owner()
}

func (acct *BorrowedAccount) isZeroed() bool {
	for _, b := range acct.Account.Data {
		if b != 0 {
			return false
		}
	}
	return true
}

func (acct *BorrowedAccount) SetOwner(owner solana.PublicKey) error {
	if !acct.IsOwnedByCurrentProgram() ||
		!acct.IsWritable() ||
		acct.IsExecutable() ||
		!acct.isZeroed() {
		if acct.Owner() == owner {
			return nil
		}
		return InstrErrModifiedProgramId
	}

	if acct.Owner() == owner {
		return nil
	}

	if err := acct.Touch(); err != nil {
		return err
	}
	acct.Account.Owner = owner
	return nil
}

func (acct *BorrowedAccount) SetLamports(lamports uint64) error {
	if !acct.IsOwnedByCurrentProgram() && lamports < acct.Lamports() {
		return InstrErrExternalAccountLamportSpend
	}
	if !acct.IsWritable() && lamports != acct.Lamports() {
		return InstrErrReadonlyLamportChange
	}
	if acct.IsExecutable() && lamports != acct.Lamports() {
		return InstrErrExecutableLamportChange
	}
	if acct.Lamports() == lamports {
		return nil
	}

	if err := acct.Touch(); err != nil {
		return err
	}
	acct.Account.Lamports = lamports
	return nil
}

func (acct *BorrowedAccount) CheckedAddLamports(lamports uint64) error {
	newLamports, err := safemath.CheckedAddU64(acct.Lamports(), lamports)
	if err != nil {
		return InstrErrArithmeticOverflow
	}
	return acct.SetLamports(newLamports)
}

func (acct *BorrowedAccount) CheckedSubLamports(lamports uint64) error {
	newLamports, err := safemath.CheckedSubU64(acct.Lamports(), lamports)
	if err != nil {
		return InstrErrArithmeticOverflow
	}
	return acct.SetLamports(newLamports)
}

func (acct *BorrowedAccount) DataCanBeChanged() error {
	if acct.IsExecutable() {
		return InstrErrExecutableDataModified
	}
	if !acct.IsWritable() {
		return InstrErrReadonlyDataModified
	}
	if !acct.IsOwnedByCurrentProgram() {
		return InstrErrExternalAccountDataModified
	}
	return nil
}

func (acct *BorrowedAccount) CanDataBeResized(newLength uint64) error {
	oldLength := uint64(len(acct.Data()))
	if newLength != oldLength && !acct.IsOwnedByCurrentProgram() {
		return InstrErrAccountDataSizeChanged
	}
	if newLength > MaxPermittedDataLength {
		return InstrErrInvalidRealloc
	}
	return nil
}

// SetData replaces the account data. Unchanged data is accepted even when
// the frame could not have modified it.
func (acct *BorrowedAccount) SetData(data []byte) error {
	if bytes.Equal(acct.Data(), data) {
		return nil
	}
	if err := acct.CanDataBeResized(uint64(len(data))); err != nil {
		return err
	}
	if err := acct.DataCanBeChanged(); err != nil {
		return err
	}
	if err := acct.Touch(); err != nil {
		return err
	}
	acct.Account.Data = bytes.Clone(data)
	return nil
}

func (acct *BorrowedAccount) SetDataLength(newLength uint64) error {
	if err := acct.CanDataBeResized(newLength); err != nil {
		return err
	}
	if err := acct.DataCanBeChanged(); err != nil {
		return err
	}
	oldLength := uint64(len(acct.Data()))
	if newLength == oldLength {
		return nil
	}
	if err := acct.Touch(); err != nil {
		return err
	}
	if newLength < oldLength {
		acct.Account.Data = acct.Account.Data[:newLength]
	} else {
		acct.Account.Data = append(acct.Account.Data, make([]byte, newLength-oldLength)...)
	}
	return nil
}

// DataMut returns the data slice for in-place mutation.
func (acct *BorrowedAccount) DataMut() ([]byte, error) {
	if err := acct.DataCanBeChanged(); err != nil {
		return nil, err
	}
	if err := acct.Touch(); err != nil {
		return nil, err
	}
	return acct.Account.Data, nil
}
