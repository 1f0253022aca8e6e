package sealevel

import (
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"k8s.io/klog/v2"
)

const (
	MaxSigners                = 16
	MaxCpiInstructionDataLen  = 10 * 1024
	MaxCpiInstructionAccounts = 255
	MaxCpiAccountInfos        = 128
)

// Guest memory offsets used to locate the data length of an account info.
const (
	refCellSliceLenOffset     = RefCellRcPayloadOffset + 8
	solAccountInfoCDataLenOff = 16
)

// callerAccount is the caller's view of an account passed to a CPI: the
// guest addresses holding its lamports, owner, data and data length.
type callerAccount struct {
	indexInCaller     uint64
	lamportsAddr      uint64
	ownerAddr         uint64
	dataAddr          uint64
	dataLen           uint64
	dataLenAddr       uint64
	origDataLen       uint64
	serializedLenAddr uint64
}

// accountInfoTranslator reads the account info array of one ABI.
type accountInfoTranslator func(vm sbpf.VM, addr, count uint64) ([]accountInfo, error)

type accountInfo struct {
	key          solana.PublicKey
	lamportsAddr uint64
	ownerAddr    uint64
	dataAddr     uint64
	dataLen      uint64
	dataLenAddr  uint64
}

func checkInstructionSize(vm sbpf.VM, numAccounts, dataLen uint64) error {
	if getFeatures(vm).IsActive(features.LoosenCpiSizeRestriction) {
		if dataLen > MaxCpiInstructionDataLen {
			return SyscallErrMaxInstructionDataLenExceeded
		}
		if numAccounts > MaxCpiInstructionAccounts {
			return SyscallErrMaxInstructionAccountsExceeded
		}
		return nil
	}
	size := safemath.SaturatingAddU64(safemath.SaturatingMulU64(numAccounts, AccountMetaSize), dataLen)
	if size > CUMaxCpiInstructionSize {
		return SyscallErrInstructionTooLarge
	}
	return nil
}

func checkAccountInfos(vm sbpf.VM, count uint64) error {
	if getFeatures(vm).IsActive(features.LoosenCpiSizeRestriction) {
		if count > MaxCpiAccountInfos {
			return SyscallErrMaxInstructionAccountInfosExceeded
		}
		return nil
	}
	if safemath.SaturatingMulU64(count, solana.PublicKeyLength) > CUMaxCpiInstructionSize {
		return SyscallErrTooManyAccounts
	}
	return nil
}

func translateInstructionC(vm sbpf.VM, addr uint64) (Instruction, error) {
	if err := checkAligned(vm, addr, 8); err != nil {
		return Instruction{}, err
	}
	ixData, err := vm.Translate(addr, SolInstructionStructSize, false)
	if err != nil {
		return Instruction{}, err
	}
	var ix SolInstruction
	if err = ix.UnmarshalWithDecoder(bin.NewBinDecoder(ixData)); err != nil {
		return Instruction{}, err
	}

	if err = checkInstructionSize(vm, ix.AccountsLen, ix.DataLen); err != nil {
		return Instruction{}, err
	}

	programId, err := readPubkey(vm, ix.ProgramIdAddr)
	if err != nil {
		return Instruction{}, err
	}

	metasData, err := vm.Translate(ix.AccountsAddr, safemath.SaturatingMulU64(ix.AccountsLen, SolAccountMetaCSize), false)
	if err != nil {
		return Instruction{}, err
	}
	decoder := bin.NewBinDecoder(metasData)
	metas := make([]AccountMeta, 0, ix.AccountsLen)
	for i := uint64(0); i < ix.AccountsLen; i++ {
		var am SolAccountMeta
		if err = am.UnmarshalWithDecoder(decoder); err != nil {
			return Instruction{}, err
		}
		if am.IsSigner > 1 || am.IsWritable > 1 {
			return Instruction{}, SyscallErrMalformedBool
		}
		pubkey, err := readPubkey(vm, am.PubkeyAddr)
		if err != nil {
			return Instruction{}, err
		}
		metas = append(metas, AccountMeta{Pubkey: pubkey, IsSigner: am.IsSigner == 1, IsWritable: am.IsWritable == 1})
	}

	data := make([]byte, ix.DataLen)
	if ix.DataLen > 0 {
		if err = vm.Read(ix.DataAddr, data); err != nil {
			return Instruction{}, err
		}
	}
	return Instruction{ProgramId: programId, Accounts: metas, Data: data}, nil
}

func translateInstructionRust(vm sbpf.VM, addr uint64) (Instruction, error) {
	if err := checkAligned(vm, addr, 8); err != nil {
		return Instruction{}, err
	}
	ixData, err := vm.Translate(addr, StableInstructionSize, false)
	if err != nil {
		return Instruction{}, err
	}
	var ix StableInstruction
	if err = ix.UnmarshalWithDecoder(bin.NewBinDecoder(ixData)); err != nil {
		return Instruction{}, err
	}

	if err = checkInstructionSize(vm, ix.Accounts.Len, ix.Data.Len); err != nil {
		return Instruction{}, err
	}

	metasData, err := vm.Translate(ix.Accounts.Addr, safemath.SaturatingMulU64(ix.Accounts.Len, AccountMetaSize), false)
	if err != nil {
		return Instruction{}, err
	}
	decoder := bin.NewBinDecoder(metasData)
	metas := make([]AccountMeta, 0, ix.Accounts.Len)
	for i := uint64(0); i < ix.Accounts.Len; i++ {
		var am AccountMeta
		if err = am.UnmarshalWithDecoder(decoder); err != nil {
			return Instruction{}, err
		}
		metas = append(metas, am)
	}

	data := make([]byte, ix.Data.Len)
	if ix.Data.Len > 0 {
		if err = vm.Read(ix.Data.Addr, data); err != nil {
			return Instruction{}, err
		}
	}
	return Instruction{ProgramId: ix.ProgramId, Accounts: metas, Data: data}, nil
}

// translateSigners derives the PDAs the caller signs for. Both ABIs pass
// signer seeds as nested arrays of (ptr, len) pairs.
func translateSigners(vm sbpf.VM, programId solana.PublicKey, signersSeedsAddr, signersSeedsLen uint64) ([]solana.PublicKey, error) {
	if signersSeedsLen == 0 {
		return nil, nil
	}
	if signersSeedsLen > MaxSigners {
		return nil, SyscallErrTooManySigners
	}

	descrBytes, err := vm.Translate(signersSeedsAddr, signersSeedsLen*SolSignerSeedsCSize, false)
	if err != nil {
		return nil, err
	}
	decoder := bin.NewBinDecoder(descrBytes)

	pdas := make([]solana.PublicKey, 0, signersSeedsLen)
	for i := uint64(0); i < signersSeedsLen; i++ {
		var signerSeeds VectorDescrC
		if err = signerSeeds.UnmarshalWithDecoder(decoder); err != nil {
			return nil, err
		}
		if signerSeeds.Len > MaxSeeds {
			return nil, SyscallErrMaxSeedLengthExceeded
		}
		seeds, err := translateSlices(vm, signerSeeds.Addr, signerSeeds.Len)
		if err != nil {
			return nil, err
		}
		pda, err := CreateProgramAddress(seeds, programId)
		if err != nil {
			return nil, SyscallErrBadSeeds
		}
		pdas = append(pdas, pda)
	}
	return pdas, nil
}

func translateAccountInfosC(vm sbpf.VM, addr, count uint64) ([]accountInfo, error) {
	if err := checkAligned(vm, addr, 8); err != nil {
		return nil, err
	}
	raw, err := vm.Translate(addr, safemath.SaturatingMulU64(count, SolAccountInfoCSize), false)
	if err != nil {
		return nil, err
	}
	decoder := bin.NewBinDecoder(raw)
	infos := make([]accountInfo, 0, count)
	for i := uint64(0); i < count; i++ {
		var info SolAccountInfoC
		if err = info.UnmarshalWithDecoder(decoder); err != nil {
			return nil, err
		}
		key, err := readPubkey(vm, info.KeyAddr)
		if err != nil {
			return nil, err
		}
		infos = append(infos, accountInfo{
			key:          key,
			lamportsAddr: info.LamportsAddr,
			ownerAddr:    info.OwnerAddr,
			dataAddr:     info.DataAddr,
			dataLen:      info.DataLen,
			dataLenAddr:  addr + i*SolAccountInfoCSize + solAccountInfoCDataLenOff,
		})
	}
	return infos, nil
}

func translateAccountInfosRust(vm sbpf.VM, addr, count uint64) ([]accountInfo, error) {
	if err := checkAligned(vm, addr, 8); err != nil {
		return nil, err
	}
	raw, err := vm.Translate(addr, safemath.SaturatingMulU64(count, AccountInfoRustSize), false)
	if err != nil {
		return nil, err
	}
	decoder := bin.NewBinDecoder(raw)
	infos := make([]accountInfo, 0, count)
	for i := uint64(0); i < count; i++ {
		var info AccountInfoRust
		if err = info.UnmarshalWithDecoder(decoder); err != nil {
			return nil, err
		}
		key, err := readPubkey(vm, info.KeyAddr)
		if err != nil {
			return nil, err
		}
		// Rc<RefCell<&mut u64>>
		lamportsAddr, err := vm.Read64(info.LamportsAddr + RefCellRcPayloadOffset)
		if err != nil {
			return nil, err
		}
		// Rc<RefCell<&mut [u8]>>
		dataAddr, err := vm.Read64(info.DataAddr + RefCellRcPayloadOffset)
		if err != nil {
			return nil, err
		}
		dataLen, err := vm.Read64(info.DataAddr + refCellSliceLenOffset)
		if err != nil {
			return nil, err
		}
		infos = append(infos, accountInfo{
			key:          key,
			lamportsAddr: lamportsAddr,
			ownerAddr:    info.OwnerAddr,
			dataAddr:     dataAddr,
			dataLen:      dataLen,
			dataLenAddr:  info.DataAddr + refCellSliceLenOffset,
		})
	}
	return infos, nil
}

// translateCallerAccounts matches every account of the callee instruction
// with the caller's account info and pushes the caller's modifications
// into the transaction accounts.
func translateCallerAccounts(vm sbpf.VM, instrAccts []InstructionAccount, infos []accountInfo) ([]*callerAccount, error) {
	txCtx := transactionCtx(vm)
	callerCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return nil, err
	}

	callerAccts := make([]*callerAccount, len(instrAccts))
	for i, ia := range instrAccts {
		if ia.IndexInCallee != uint64(i) {
			// duplicate
			continue
		}

		acct, err := callerCtx.BorrowInstructionAccount(txCtx, ia.IndexInCaller)
		if err != nil {
			return nil, err
		}
		if acct.IsExecutable() {
			acct.Drop()
			continue
		}

		key := acct.Key()
		var info *accountInfo
		for j := range infos {
			if infos[j].key == key {
				info = &infos[j]
				break
			}
		}
		if info == nil {
			acct.Drop()
			klog.V(2).Infof("instruction references account %s missing from account infos", key)
			return nil, InstrErrMissingAccount
		}

		ca, err := newCallerAccount(callerCtx, ia.IndexInCaller, info)
		if err == nil {
			err = updateCalleeAccount(vm, ca, acct)
		}
		acct.Drop()
		if err != nil {
			return nil, err
		}
		callerAccts[i] = ca
	}
	return callerAccts, nil
}

// newCallerAccount checks that the account info points into the caller's
// serialized parameters.
func newCallerAccount(callerCtx *InstructionCtx, indexInCaller uint64, info *accountInfo) (*callerAccount, error) {
	if indexInCaller >= uint64(len(callerCtx.serializedAccts)) {
		return nil, InstrErrMissingAccount
	}
	meta := callerCtx.serializedAccts[indexInCaller]
	if info.lamportsAddr != meta.vmLamportsAddr ||
		info.ownerAddr != meta.vmOwnerAddr ||
		info.dataAddr != meta.vmDataAddr {
		return nil, SyscallErrInvalidPointer
	}
	return &callerAccount{
		indexInCaller:     indexInCaller,
		lamportsAddr:      info.lamportsAddr,
		ownerAddr:         info.ownerAddr,
		dataAddr:          info.dataAddr,
		dataLen:           info.dataLen,
		dataLenAddr:       info.dataLenAddr,
		origDataLen:       meta.originalDataLen,
		serializedLenAddr: meta.vmDataAddr - 8,
	}, nil
}

func updateCalleeAccount(vm sbpf.VM, ca *callerAccount, acct *BorrowedAccount) error {
	lamports, err := vm.Read64(ca.lamportsAddr)
	if err != nil {
		return err
	}
	if acct.Lamports() != lamports {
		if err = acct.SetLamports(lamports); err != nil {
			return err
		}
	}

	if ca.dataLen > safemath.SaturatingAddU64(ca.origDataLen, MaxPermittedDataIncrease) {
		return InstrErrInvalidRealloc
	}
	data, err := vm.Translate(ca.dataAddr, ca.dataLen, false)
	if err != nil {
		return err
	}
	if err = acct.SetData(data); err != nil {
		return err
	}

	owner, err := readPubkey(vm, ca.ownerAddr)
	if err != nil {
		return err
	}
	return acct.SetOwner(owner)
}

// updateCallerAccount writes the callee's changes back into the caller's
// serialized parameters.
func updateCallerAccount(vm sbpf.VM, ca *callerAccount) error {
	txCtx := transactionCtx(vm)
	callerCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return err
	}
	acct, err := callerCtx.BorrowInstructionAccount(txCtx, ca.indexInCaller)
	if err != nil {
		return err
	}
	defer acct.Drop()

	if err = vm.Write64(ca.lamportsAddr, acct.Lamports()); err != nil {
		return err
	}
	owner := acct.Owner()
	if err = vm.Write(ca.ownerAddr, owner[:]); err != nil {
		return err
	}

	data := acct.Data()
	newLen := uint64(len(data))
	if newLen > safemath.SaturatingAddU64(ca.origDataLen, MaxPermittedDataIncrease) {
		return InstrErrInvalidRealloc
	}
	if newLen < ca.dataLen {
		tail, err := vm.Translate(ca.dataAddr+newLen, ca.dataLen-newLen, true)
		if err != nil {
			return err
		}
		clear(tail)
	}
	if newLen != ca.dataLen {
		if err = vm.Write64(ca.dataLenAddr, newLen); err != nil {
			return err
		}
		if err = vm.Write64(ca.serializedLenAddr, newLen); err != nil {
			return err
		}
		ca.dataLen = newLen
	}
	if newLen > 0 {
		return vm.Write(ca.dataAddr, data)
	}
	return nil
}

// cpiCommon runs a cross-program invocation for either ABI.
func cpiCommon(vm sbpf.VM, ix Instruction, infosAddr, infosLen, signersSeedsAddr, signersSeedsLen uint64, translateInfos accountInfoTranslator) (uint64, error) {
	execCtx := executionCtx(vm)
	txCtx := execCtx.TransactionContext

	if getFeatures(vm).IsActive(features.LoosenCpiSizeRestriction) {
		if err := consume(vm, uint64(len(ix.Data))/CUCpiBytesPerUnit); err != nil {
			return syscallErr(err)
		}
	}

	callerCtx, err := txCtx.CurrentInstructionCtx()
	if err != nil {
		return syscallErr(err)
	}
	callerProgramId, err := callerCtx.LastProgramKey(txCtx)
	if err != nil {
		return syscallErr(err)
	}

	signers, err := translateSigners(vm, callerProgramId, signersSeedsAddr, signersSeedsLen)
	if err != nil {
		return syscallErr(err)
	}

	if isLoader(ix.ProgramId) {
		klog.V(2).Infof("program %s invoked loader %s", callerProgramId, ix.ProgramId)
		return syscallErr(SyscallErrProgramNotSupported)
	}

	instrAccts, programIndices, err := execCtx.PrepareInstruction(ix, signers)
	if err != nil {
		return syscallErr(err)
	}

	if err = checkAccountInfos(vm, infosLen); err != nil {
		return syscallErr(err)
	}
	infos, err := translateInfos(vm, infosAddr, infosLen)
	if err != nil {
		return syscallErr(err)
	}
	callerAccts, err := translateCallerAccounts(vm, instrAccts, infos)
	if err != nil {
		return syscallErr(err)
	}

	if err = execCtx.ProcessInstruction(ix.Data, instrAccts, programIndices); err != nil {
		return syscallErr(err)
	}

	for i, ca := range callerAccts {
		if ca == nil || !instrAccts[i].IsWritable {
			continue
		}
		if err = updateCallerAccount(vm, ca); err != nil {
			return syscallErr(err)
		}
	}
	return syscallSuccess(0)
}

// SyscallInvokeSignedCImpl is an implementation of the sol_invoke_signed_c syscall
func SyscallInvokeSignedCImpl(vm sbpf.VM, instructionAddr, accountInfosAddr, accountInfosLen, signerSeedsAddr, signerSeedsLen uint64) (uint64, error) {
	if err := consume(vm, CUInvokeUnits); err != nil {
		return syscallErr(err)
	}
	ix, err := translateInstructionC(vm, instructionAddr)
	if err != nil {
		return syscallErr(err)
	}
	return cpiCommon(vm, ix, accountInfosAddr, accountInfosLen, signerSeedsAddr, signerSeedsLen, translateAccountInfosC)
}

var SyscallInvokeSignedC = sbpf.SyscallFunc5(SyscallInvokeSignedCImpl)

// SyscallInvokeSignedRustImpl is an implementation of the sol_invoke_signed_rust syscall
func SyscallInvokeSignedRustImpl(vm sbpf.VM, instructionAddr, accountInfosAddr, accountInfosLen, signerSeedsAddr, signerSeedsLen uint64) (uint64, error) {
	if err := consume(vm, CUInvokeUnits); err != nil {
		return syscallErr(err)
	}
	ix, err := translateInstructionRust(vm, instructionAddr)
	if err != nil {
		return syscallErr(err)
	}
	return cpiCommon(vm, ix, accountInfosAddr, accountInfosLen, signerSeedsAddr, signerSeedsLen, translateAccountInfosRust)
}

var SyscallInvokeSignedRust = sbpf.SyscallFunc5(SyscallInvokeSignedRustImpl)
