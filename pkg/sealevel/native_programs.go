package sealevel

import (
	"github.com/Overclock-Validator/quartz/pkg/base58"
	"github.com/gagliardetto/solana-go"
)

const NativeLoaderAddrStr = "NativeLoader1111111111111111111111111111111"

var NativeLoaderAddr = solana.PublicKey(base58.MustDecodeFromString(NativeLoaderAddrStr))

const BpfLoaderUpgradeableAddrStr = "BPFLoaderUpgradeab1e11111111111111111111111"

var BpfLoaderUpgradeableAddr = solana.PublicKey(base58.MustDecodeFromString(BpfLoaderUpgradeableAddrStr))

const BpfLoader2AddrStr = "BPFLoader2111111111111111111111111111111111"

var BpfLoader2Addr = solana.PublicKey(base58.MustDecodeFromString(BpfLoader2AddrStr))

const BpfLoaderDeprecatedAddrStr = "BPFLoader1111111111111111111111111111111111"

var BpfLoaderDeprecatedAddr = solana.PublicKey(base58.MustDecodeFromString(BpfLoaderDeprecatedAddrStr))

const SystemProgramAddrStr = "11111111111111111111111111111111"

var SystemProgramAddr = solana.PublicKey(base58.MustDecodeFromString(SystemProgramAddrStr))

type nativeProgramFn func(execCtx *ExecutionCtx) error

// resolveNativeProgramById returns the entrypoint of a program owned by the
// native loader, or of the loader that owns a deployed program.
func resolveNativeProgramById(programId solana.PublicKey) (nativeProgramFn, error) {
	switch programId {
	case SystemProgramAddr:
		return SystemProgramExecute, nil
	case BpfLoader2Addr, BpfLoaderDeprecatedAddr, BpfLoaderUpgradeableAddr:
		return BpfLoaderProgramExecute, nil
	}
	return nil, InstrErrUnsupportedProgramId
}

func isLoader(programId solana.PublicKey) bool {
	switch programId {
	case BpfLoader2Addr, BpfLoaderDeprecatedAddr, BpfLoaderUpgradeableAddr, NativeLoaderAddr:
		return true
	}
	return false
}

func verifySigner(authorized solana.PublicKey, signers []solana.PublicKey) error {
	for _, signer := range signers {
		if signer == authorized {
			return nil
		}
	}
	return InstrErrMissingRequiredSignature
}
