package sealevel

import (
	"hash"
	"math/big"

	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/secp256k1"
	"github.com/minio/sha256-simd"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

// Secp256k1 recover status codes returned in r0.
const (
	Secp256k1RecoverErrInvalidHash       = 1
	Secp256k1RecoverErrInvalidRecoveryId = 2
	Secp256k1RecoverErrInvalidSignature  = 3
)

// hashSlices implements the shared body of the hashing syscalls. The data at
// valsAddr is an array of (ptr u64, len u64) descriptors; each referenced
// slice is fed into h and the 32-byte digest written to resultAddr.
func hashSlices(vm sbpf.VM, h hash.Hash, valsAddr, valsLen, resultAddr uint64) (uint64, error) {
	if valsLen > CUSha256MaxSlices {
		return syscallErr(SyscallErrTooManySlices)
	}
	if err := consume(vm, CUSha256BaseCost); err != nil {
		return syscallErr(err)
	}

	hashResult, err := vm.Translate(resultAddr, 32, true)
	if err != nil {
		return syscallErr(err)
	}

	vals, err := translateSlices(vm, valsAddr, valsLen)
	if err != nil {
		return syscallErr(err)
	}
	for _, data := range vals {
		cost := safemath.SaturatingMulU64(CUSha256ByteCost, uint64(len(data))) / 2
		if cost < CUMemOpBaseCost {
			cost = CUMemOpBaseCost
		}
		if err = consume(vm, cost); err != nil {
			return syscallErr(err)
		}
		h.Write(data)
	}

	copy(hashResult, h.Sum(nil))
	return syscallSuccess(0)
}

// SyscallSha256Impl is the implementation for the sol_sha256 syscall
func SyscallSha256Impl(vm sbpf.VM, valsAddr, valsLen, resultsAddr uint64) (uint64, error) {
	return hashSlices(vm, sha256.New(), valsAddr, valsLen, resultsAddr)
}

var SyscallSha256 = sbpf.SyscallFunc3(SyscallSha256Impl)

// SyscallKeccak256Impl is the implementation for the sol_keccak256 syscall
func SyscallKeccak256Impl(vm sbpf.VM, valsAddr, valsLen, resultsAddr uint64) (uint64, error) {
	return hashSlices(vm, sha3.NewLegacyKeccak256(), valsAddr, valsLen, resultsAddr)
}

var SyscallKeccak256 = sbpf.SyscallFunc3(SyscallKeccak256Impl)

// SyscallBlake3Impl is the implementation for the sol_blake3 syscall
func SyscallBlake3Impl(vm sbpf.VM, valsAddr, valsLen, resultsAddr uint64) (uint64, error) {
	return hashSlices(vm, blake3.New(), valsAddr, valsLen, resultsAddr)
}

var SyscallBlake3 = sbpf.SyscallFunc3(SyscallBlake3Impl)

// validSecp256k1Signature reports whether both scalars of a compact
// signature are non-zero and below the curve order.
func validSecp256k1Signature(sig []byte) bool {
	n := secp256k1.S256().Params().N
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	return r.Sign() > 0 && s.Sign() > 0 && r.Cmp(n) < 0 && s.Cmp(n) < 0
}

// SyscallSecp256k1RecoverImpl is an implementation of the sol_secp256k1_recover syscall
func SyscallSecp256k1RecoverImpl(vm sbpf.VM, hashAddr, recoveryIdVal, signatureAddr, resultAddr uint64) (uint64, error) {
	if err := consume(vm, CUSecP256k1RecoverCost); err != nil {
		return syscallErr(err)
	}

	msgHash, err := vm.Translate(hashAddr, 32, false)
	if err != nil {
		return syscallErr(err)
	}
	signature, err := vm.Translate(signatureAddr, 64, false)
	if err != nil {
		return syscallErr(err)
	}
	recoverResult, err := vm.Translate(resultAddr, 64, true)
	if err != nil {
		return syscallErr(err)
	}

	if recoveryIdVal >= 4 {
		return syscallSuccess(Secp256k1RecoverErrInvalidRecoveryId)
	}
	if !validSecp256k1Signature(signature) {
		return syscallSuccess(Secp256k1RecoverErrInvalidSignature)
	}

	sigAndRecoveryId := make([]byte, 65)
	copy(sigAndRecoveryId, signature)
	sigAndRecoveryId[64] = byte(recoveryIdVal)

	pubkey, err := crypto.Ecrecover(msgHash, sigAndRecoveryId)
	if err != nil {
		return syscallSuccess(Secp256k1RecoverErrInvalidSignature)
	}

	// strip the uncompressed point prefix
	copy(recoverResult, pubkey[1:])
	return syscallSuccess(0)
}

var SyscallSecp256k1Recover = sbpf.SyscallFunc4(SyscallSecp256k1RecoverImpl)
