package sealevel

import (
	"bytes"
	"errors"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/minio/sha256-simd"
	"k8s.io/klog/v2"
)

const SystemProgMaxPermittedDataLen = 10 * 1024 * 1024

const (
	SystemProgramInstrTypeCreateAccount = iota
	SystemProgramInstrTypeAssign
	SystemProgramInstrTypeTransfer
	SystemProgramInstrTypeCreateAccountWithSeed
	SystemProgramInstrTypeAdvanceNonceAccount
	SystemProgramInstrTypeWithdrawNonceAccount
	SystemProgramInstrTypeInitializeNonceAccount
	SystemProgramInstrTypeAuthorizeNonceAccount
	SystemProgramInstrTypeAllocate
	SystemProgramInstrTypeAllocateWithSeed
	SystemProgramInstrTypeAssignWithSeed
	SystemProgramInstrTypeTransferWithSeed
)

var (
	SystemProgErrAccountAlreadyInUse        = errors.New("SystemProgErrAccountAlreadyInUse")
	SystemProgErrInvalidAccountDataLength   = errors.New("SystemProgErrInvalidAccountDataLength")
	SystemProgErrResultWithNegativeLamports = errors.New("SystemProgErrResultWithNegativeLamports")
	SystemProgErrAddressWithSeedMismatch    = errors.New("SystemProgErrAddressWithSeedMismatch")

	PubkeyErrMaxSeedLengthExceeded = errors.New("PubkeyErrMaxSeedLengthExceeded")
	PubkeyErrIllegalOwner          = errors.New("PubkeyErrIllegalOwner")
)

// system program errors are reported to callers as custom errors carrying
// their upstream index
var systemProgErrCodes = map[error]uint32{
	SystemProgErrAccountAlreadyInUse:        0,
	SystemProgErrResultWithNegativeLamports: 1,
	SystemProgErrInvalidAccountDataLength:   3,
	SystemProgErrAddressWithSeedMismatch:    5,
}

type SystemInstrCreateAccount struct {
	Lamports uint64
	Space    uint64
	Owner    solana.PublicKey
}

type SystemInstrAssign struct {
	Owner solana.PublicKey
}

type SystemInstrTransfer struct {
	Lamports uint64
}

type SystemInstrCreateAccountWithSeed struct {
	Base     solana.PublicKey
	Seed     string
	Lamports uint64
	Space    uint64
	Owner    solana.PublicKey
}

type SystemInstrAllocate struct {
	Space uint64
}

type SystemInstrTransferWithSeed struct {
	Lamports  uint64
	FromSeed  string
	FromOwner solana.PublicKey
}

const systemInstrMaxSize = 1232

func checkWithinDeserializationLimit(decoder *bin.Decoder) error {
	if decoder.Position() > systemInstrMaxSize {
		return InstrErrInvalidInstructionData
	}
	return nil
}

func readPubkeyFromDecoder(decoder *bin.Decoder, pk *solana.PublicKey) error {
	b, err := decoder.ReadBytes(solana.PublicKeyLength)
	if err != nil {
		return err
	}
	copy(pk[:], b)
	return nil
}

func readSeed(decoder *bin.Decoder) (string, error) {
	seedLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return "", err
	}
	if seedLen > systemInstrMaxSize {
		return "", InstrErrInvalidInstructionData
	}
	b, err := decoder.ReadBytes(int(seedLen))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeSeed(encoder *bin.Encoder, seed string) error {
	if err := encoder.WriteUint64(uint64(len(seed)), bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes([]byte(seed), false)
}

func (instr *SystemInstrCreateAccount) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	if instr.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if instr.Space, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if err = readPubkeyFromDecoder(decoder, &instr.Owner); err != nil {
		return err
	}
	return checkWithinDeserializationLimit(decoder)
}

func (instr *SystemInstrCreateAccount) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(SystemProgramInstrTypeCreateAccount, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(instr.Lamports, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(instr.Space, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(instr.Owner[:], false)
}

func (instr *SystemInstrAssign) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	if err := readPubkeyFromDecoder(decoder, &instr.Owner); err != nil {
		return err
	}
	return checkWithinDeserializationLimit(decoder)
}

func (instr *SystemInstrAssign) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(SystemProgramInstrTypeAssign, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(instr.Owner[:], false)
}

func (instr *SystemInstrTransfer) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	if instr.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	return checkWithinDeserializationLimit(decoder)
}

func (instr *SystemInstrTransfer) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(SystemProgramInstrTypeTransfer, bin.LE); err != nil {
		return err
	}
	return encoder.WriteUint64(instr.Lamports, bin.LE)
}

func (instr *SystemInstrCreateAccountWithSeed) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	if err = readPubkeyFromDecoder(decoder, &instr.Base); err != nil {
		return err
	}
	if instr.Seed, err = readSeed(decoder); err != nil {
		return err
	}
	if instr.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if instr.Space, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if err = readPubkeyFromDecoder(decoder, &instr.Owner); err != nil {
		return err
	}
	return checkWithinDeserializationLimit(decoder)
}

func (instr *SystemInstrCreateAccountWithSeed) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(SystemProgramInstrTypeCreateAccountWithSeed, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteBytes(instr.Base[:], false); err != nil {
		return err
	}
	if err := writeSeed(encoder, instr.Seed); err != nil {
		return err
	}
	if err := encoder.WriteUint64(instr.Lamports, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(instr.Space, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBytes(instr.Owner[:], false)
}

func (instr *SystemInstrAllocate) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	if instr.Space, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	return checkWithinDeserializationLimit(decoder)
}

func (instr *SystemInstrAllocate) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(SystemProgramInstrTypeAllocate, bin.LE); err != nil {
		return err
	}
	return encoder.WriteUint64(instr.Space, bin.LE)
}

func (instr *SystemInstrTransferWithSeed) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	var err error
	if instr.Lamports, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if instr.FromSeed, err = readSeed(decoder); err != nil {
		return err
	}
	if err = readPubkeyFromDecoder(decoder, &instr.FromOwner); err != nil {
		return err
	}
	return checkWithinDeserializationLimit(decoder)
}

func (instr *SystemInstrTransferWithSeed) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(SystemProgramInstrTypeTransferWithSeed, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint64(instr.Lamports, bin.LE); err != nil {
		return err
	}
	if err := writeSeed(encoder, instr.FromSeed); err != nil {
		return err
	}
	return encoder.WriteBytes(instr.FromOwner[:], false)
}

type systemInstr interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
}

func newSystemInstruction(instr systemInstr, metas ...AccountMeta) Instruction {
	buf := new(bytes.Buffer)
	if err := instr.MarshalWithEncoder(bin.NewBinEncoder(buf)); err != nil {
		panic("shouldn't fail")
	}
	return Instruction{ProgramId: SystemProgramAddr, Accounts: metas, Data: buf.Bytes()}
}

func NewCreateAccountInstruction(from, to solana.PublicKey, lamports, space uint64, owner solana.PublicKey) Instruction {
	return newSystemInstruction(&SystemInstrCreateAccount{Lamports: lamports, Space: space, Owner: owner},
		AccountMeta{Pubkey: from, IsSigner: true, IsWritable: true},
		AccountMeta{Pubkey: to, IsSigner: true, IsWritable: true})
}

func NewTransferInstruction(from, to solana.PublicKey, lamports uint64) Instruction {
	return newSystemInstruction(&SystemInstrTransfer{Lamports: lamports},
		AccountMeta{Pubkey: from, IsSigner: true, IsWritable: true},
		AccountMeta{Pubkey: to, IsWritable: true})
}

func NewAllocateInstruction(pubkey solana.PublicKey, space uint64) Instruction {
	return newSystemInstruction(&SystemInstrAllocate{Space: space},
		AccountMeta{Pubkey: pubkey, IsSigner: true, IsWritable: true})
}

func NewAssignInstruction(pubkey, owner solana.PublicKey) Instruction {
	return newSystemInstruction(&SystemInstrAssign{Owner: owner},
		AccountMeta{Pubkey: pubkey, IsSigner: true, IsWritable: true})
}

// CreateWithSeed derives the address of an account created from base with
// seed and owned by owner.
func CreateWithSeed(base solana.PublicKey, seed string, owner solana.PublicKey) (solana.PublicKey, error) {
	if len(seed) > solana.MaxSeedLength {
		return solana.PublicKey{}, PubkeyErrMaxSeedLengthExceeded
	}

	if bytes.HasSuffix(owner[:], []byte(solana.PDA_MARKER)) {
		return solana.PublicKey{}, PubkeyErrIllegalOwner
	}

	h := sha256.New()
	h.Write(base[:])
	h.Write([]byte(seed))
	h.Write(owner[:])
	return solana.PublicKeyFromBytes(h.Sum(nil)), nil
}

func extractAddress(txCtx *TransactionCtx, instrCtx *InstructionCtx, instrAcctIdx uint64) (solana.PublicKey, error) {
	idx, err := instrCtx.IndexOfInstructionAccountInTransaction(instrAcctIdx)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return txCtx.KeyOfAccountAtIndex(idx)
}

func extractAddressWithSeed(txCtx *TransactionCtx, instrCtx *InstructionCtx, instrAcctIdx uint64, base solana.PublicKey, seed string, owner solana.PublicKey) (solana.PublicKey, error) {
	addr, err := extractAddress(txCtx, instrCtx, instrAcctIdx)
	if err != nil {
		return addr, err
	}

	addrWithSeed, err := CreateWithSeed(base, seed, owner)
	if err != nil {
		return addr, err
	}
	if addr != addrWithSeed {
		klog.V(2).Infof("Create: address %s does not match derived address %s", addr, addrWithSeed)
		return addr, SystemProgErrAddressWithSeedMismatch
	}
	return addr, nil
}

// SystemProgramExecute processes account creation, assignment, allocation
// and transfer instructions. Nonce accounts are not supported.
func SystemProgramExecute(execCtx *ExecutionCtx) error {
	err := execCtx.ComputeMeter.Consume(CUSystemProgramDefaultComputeUnits)
	if err != nil {
		return err
	}
	err = systemProgramExecute(execCtx)
	if code, ok := systemProgErrCodes[err]; ok {
		logf(execCtx.Log, "Program log: %s", err)
		return &CustomError{Code: code}
	}
	return err
}

func systemProgramExecute(execCtx *ExecutionCtx) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	decoder := bin.NewBinDecoder(instrCtx.Data)

	instructionType, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return InstrErrInvalidInstructionData
	}

	signers := instrCtx.Signers(txCtx)

	switch instructionType {
	case SystemProgramInstrTypeCreateAccount:
		var createAccount SystemInstrCreateAccount
		if err = createAccount.UnmarshalWithDecoder(decoder); err != nil {
			return InstrErrInvalidInstructionData
		}
		if err = instrCtx.CheckNumOfInstructionAccounts(2); err != nil {
			return err
		}
		toAddr, err := extractAddress(txCtx, instrCtx, 1)
		if err != nil {
			return err
		}
		return SystemProgramCreateAccount(execCtx, toAddr, createAccount.Lamports, createAccount.Space, createAccount.Owner, signers)

	case SystemProgramInstrTypeAssign:
		var assign SystemInstrAssign
		if err = assign.UnmarshalWithDecoder(decoder); err != nil {
			return InstrErrInvalidInstructionData
		}
		if err = instrCtx.CheckNumOfInstructionAccounts(1); err != nil {
			return err
		}
		acct, err := instrCtx.BorrowInstructionAccount(txCtx, 0)
		if err != nil {
			return err
		}
		defer acct.Drop()
		return SystemProgramAssign(acct, acct.Key(), assign.Owner, signers)

	case SystemProgramInstrTypeTransfer:
		var transfer SystemInstrTransfer
		if err = transfer.UnmarshalWithDecoder(decoder); err != nil {
			return InstrErrInvalidInstructionData
		}
		if err = instrCtx.CheckNumOfInstructionAccounts(2); err != nil {
			return err
		}
		return SystemProgramTransfer(execCtx, 0, 1, transfer.Lamports)

	case SystemProgramInstrTypeCreateAccountWithSeed:
		var createAcctWithSeed SystemInstrCreateAccountWithSeed
		if err = createAcctWithSeed.UnmarshalWithDecoder(decoder); err != nil {
			return InstrErrInvalidInstructionData
		}
		if err = instrCtx.CheckNumOfInstructionAccounts(2); err != nil {
			return err
		}
		toAddr, err := extractAddressWithSeed(txCtx, instrCtx, 1, createAcctWithSeed.Base, createAcctWithSeed.Seed, createAcctWithSeed.Owner)
		if err != nil {
			return err
		}
		// the base signs for the derived address
		return SystemProgramCreateAccount(execCtx, toAddr, createAcctWithSeed.Lamports, createAcctWithSeed.Space, createAcctWithSeed.Owner, baseSigners(signers, createAcctWithSeed.Base, toAddr))

	case SystemProgramInstrTypeAllocate:
		var allocate SystemInstrAllocate
		if err = allocate.UnmarshalWithDecoder(decoder); err != nil {
			return InstrErrInvalidInstructionData
		}
		if err = instrCtx.CheckNumOfInstructionAccounts(1); err != nil {
			return err
		}
		acct, err := instrCtx.BorrowInstructionAccount(txCtx, 0)
		if err != nil {
			return err
		}
		defer acct.Drop()
		return SystemProgramAllocate(acct, acct.Key(), allocate.Space, signers)

	case SystemProgramInstrTypeTransferWithSeed:
		var transfer SystemInstrTransferWithSeed
		if err = transfer.UnmarshalWithDecoder(decoder); err != nil {
			return InstrErrInvalidInstructionData
		}
		if err = instrCtx.CheckNumOfInstructionAccounts(3); err != nil {
			return err
		}
		return SystemProgramTransferWithSeed(execCtx, 0, 1, transfer.FromSeed, transfer.FromOwner, 2, transfer.Lamports)
	}

	klog.V(2).Infof("unsupported system instruction %d", instructionType)
	return InstrErrInvalidInstructionData
}

// baseSigners treats addr as signed when base signed.
func baseSigners(signers []solana.PublicKey, base, addr solana.PublicKey) []solana.PublicKey {
	if verifySigner(base, signers) != nil {
		return signers
	}
	return append(append([]solana.PublicKey(nil), signers...), addr)
}

func SystemProgramCreateAccount(execCtx *ExecutionCtx, toAddr solana.PublicKey, lamports uint64, space uint64, owner solana.PublicKey, signers []solana.PublicKey) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	toAcct, err := instrCtx.BorrowInstructionAccount(txCtx, 1)
	if err != nil {
		return err
	}
	defer toAcct.Drop()

	if toAcct.Lamports() > 0 {
		klog.V(2).Infof("CreateAccount: account %s already in use (non-zero lamports)", toAddr)
		return SystemProgErrAccountAlreadyInUse
	}

	if err = SystemProgramAllocate(toAcct, toAddr, space, signers); err != nil {
		return err
	}
	if err = SystemProgramAssign(toAcct, toAddr, owner, signers); err != nil {
		return err
	}
	toAcct.Drop()

	return SystemProgramTransfer(execCtx, 0, 1, lamports)
}

func SystemProgramAllocate(acct *BorrowedAccount, address solana.PublicKey, space uint64, signers []solana.PublicKey) error {
	if err := verifySigner(address, signers); err != nil {
		klog.V(2).Infof("Allocate: 'to' account %s must sign", address)
		return err
	}

	if len(acct.Data()) != 0 || acct.Owner() != SystemProgramAddr {
		klog.V(2).Infof("Allocate: account %s already in use", address)
		return SystemProgErrAccountAlreadyInUse
	}

	if space > SystemProgMaxPermittedDataLen {
		klog.V(2).Infof("Allocate: requested %d, max allowed %d", space, SystemProgMaxPermittedDataLen)
		return SystemProgErrInvalidAccountDataLength
	}

	return acct.SetDataLength(space)
}

func SystemProgramAssign(acct *BorrowedAccount, address solana.PublicKey, owner solana.PublicKey, signers []solana.PublicKey) error {
	if acct.Owner() == owner {
		return nil
	}

	if err := verifySigner(address, signers); err != nil {
		klog.V(2).Infof("Assign: account %s must sign", address)
		return err
	}

	return acct.SetOwner(owner)
}

func SystemProgramTransfer(execCtx *ExecutionCtx, fromAcctIdx uint64, toAcctIdx uint64, lamports uint64) error {
	instrCtx, err := execCtx.TransactionContext.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	isSigner, err := instrCtx.IsInstructionAccountSigner(fromAcctIdx)
	if err != nil {
		return err
	}
	if !isSigner {
		return InstrErrMissingRequiredSignature
	}

	return transferInternal(execCtx, fromAcctIdx, toAcctIdx, lamports)
}

func SystemProgramTransferWithSeed(execCtx *ExecutionCtx, fromAcctIdx uint64, fromBaseAcctIdx uint64, fromSeed string, fromOwner solana.PublicKey, toAcctIdx uint64, lamports uint64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	isSigner, err := instrCtx.IsInstructionAccountSigner(fromBaseAcctIdx)
	if err != nil {
		return err
	}
	if !isSigner {
		klog.V(2).Infof("Transfer: from account must sign")
		return InstrErrMissingRequiredSignature
	}

	base, err := extractAddress(txCtx, instrCtx, fromBaseAcctIdx)
	if err != nil {
		return err
	}

	addrFromSeed, err := CreateWithSeed(base, fromSeed, fromOwner)
	if err != nil {
		return err
	}

	fromAddr, err := extractAddress(txCtx, instrCtx, fromAcctIdx)
	if err != nil {
		return err
	}

	if fromAddr != addrFromSeed {
		klog.V(2).Infof("Transfer: from address %s does not match derived address %s", fromAddr, addrFromSeed)
		return SystemProgErrAddressWithSeedMismatch
	}

	return transferInternal(execCtx, fromAcctIdx, toAcctIdx, lamports)
}

func transferInternal(execCtx *ExecutionCtx, fromAcctIdx uint64, toAcctIdx uint64, lamports uint64) error {
	txCtx := execCtx.TransactionContext
	instrCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}

	from, err := instrCtx.BorrowInstructionAccount(txCtx, fromAcctIdx)
	if err != nil {
		return err
	}
	defer from.Drop()

	if len(from.Data()) != 0 {
		klog.V(2).Infof("Transfer: 'from' must not carry data")
		return InstrErrInvalidArgument
	}

	if lamports > from.Lamports() {
		klog.V(2).Infof("Transfer: insufficient lamports %d, need %d", from.Lamports(), lamports)
		return SystemProgErrResultWithNegativeLamports
	}

	if err = from.CheckedSubLamports(lamports); err != nil {
		return err
	}
	from.Drop()

	to, err := instrCtx.BorrowInstructionAccount(txCtx, toAcctIdx)
	if err != nil {
		return err
	}
	defer to.Drop()

	return to.CheckedAddLamports(lamports)
}
