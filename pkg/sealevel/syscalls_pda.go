package sealevel

import (
	"math"

	"filippo.io/edwards25519"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/gagliardetto/solana-go"
	"github.com/minio/sha256-simd"
)

const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

const pdaMarker = "ProgramDerivedAddress"

// CreateProgramAddress derives a program address from seeds. Addresses that
// decode to a valid ed25519 point are rejected with InstrErrInvalidSeeds so
// that no private key can exist for a derived address.
func CreateProgramAddress(seeds [][]byte, programId solana.PublicKey) (solana.PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return solana.PublicKey{}, InstrErrMaxSeedLengthExceeded
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return solana.PublicKey{}, InstrErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programId[:])
	h.Write([]byte(pdaMarker))

	var addr solana.PublicKey
	copy(addr[:], h.Sum(nil))
	if isOnCurve(addr[:]) {
		return solana.PublicKey{}, InstrErrInvalidSeeds
	}
	return addr, nil
}

// FindProgramAddress searches bump seeds from 255 down to 1 for the first
// off-curve address.
func FindProgramAddress(seeds [][]byte, programId solana.PublicKey) (solana.PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := uint8(math.MaxUint8); bump > 0; bump-- {
		withBump[len(seeds)] = []byte{bump}
		addr, err := CreateProgramAddress(withBump, programId)
		if err == nil {
			return addr, bump, nil
		}
	}
	return solana.PublicKey{}, 0, InstrErrInvalidSeeds
}

func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

func translateAndValidateSeeds(vm sbpf.VM, seedsAddr, seedsLen uint64) ([][]byte, error) {
	if seedsLen > MaxSeeds {
		return nil, SyscallErrMaxSeedLengthExceeded
	}
	seeds, err := translateSlices(vm, seedsAddr, seedsLen)
	if err != nil {
		return nil, err
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return nil, SyscallErrMaxSeedLengthExceeded
		}
	}
	return seeds, nil
}

func readPubkey(vm sbpf.VM, addr uint64) (solana.PublicKey, error) {
	var pk solana.PublicKey
	err := vm.Read(addr, pk[:])
	return pk, err
}

// SyscallCreateProgramAddressImpl is the implementation of the sol_create_program_address syscall
func SyscallCreateProgramAddressImpl(vm sbpf.VM, seedsAddr, seedsLen, programIdAddr, addressAddr uint64) (uint64, error) {
	if err := consume(vm, CUCreateProgramAddressUnits); err != nil {
		return syscallErr(err)
	}

	seeds, err := translateAndValidateSeeds(vm, seedsAddr, seedsLen)
	if err != nil {
		return syscallErr(err)
	}
	programId, err := readPubkey(vm, programIdAddr)
	if err != nil {
		return syscallErr(err)
	}

	newAddress, err := CreateProgramAddress(seeds, programId)
	if err != nil {
		return syscallSuccess(1)
	}

	if err = vm.Write(addressAddr, newAddress[:]); err != nil {
		return syscallErr(err)
	}
	return syscallSuccess(0)
}

var SyscallCreateProgramAddress = sbpf.SyscallFunc4(SyscallCreateProgramAddressImpl)

// SyscallTryFindProgramAddressImpl is the implementation of the sol_try_find_program_address syscall.
// Every failed bump attempt is charged again.
func SyscallTryFindProgramAddressImpl(vm sbpf.VM, seedsAddr, seedsLen, programIdAddr, addressAddr, bumpSeedAddr uint64) (uint64, error) {
	if err := consume(vm, CUCreateProgramAddressUnits); err != nil {
		return syscallErr(err)
	}

	seeds, err := translateAndValidateSeeds(vm, seedsAddr, seedsLen)
	if err != nil {
		return syscallErr(err)
	}
	programId, err := readPubkey(vm, programIdAddr)
	if err != nil {
		return syscallErr(err)
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := uint8(math.MaxUint8); bump > 0; bump-- {
		withBump[len(seeds)] = []byte{bump}
		newAddress, err := CreateProgramAddress(withBump, programId)
		if err == nil {
			if !isNonOverlapping(bumpSeedAddr, 1, addressAddr, solana.PublicKeyLength) {
				return syscallErr(SyscallErrCopyOverlapping)
			}
			bumpOut, err := vm.Translate(bumpSeedAddr, 1, true)
			if err != nil {
				return syscallErr(err)
			}
			addrOut, err := vm.Translate(addressAddr, solana.PublicKeyLength, true)
			if err != nil {
				return syscallErr(err)
			}
			bumpOut[0] = bump
			copy(addrOut, newAddress[:])
			return syscallSuccess(0)
		}
		if err = consume(vm, CUCreateProgramAddressUnits); err != nil {
			return syscallErr(err)
		}
	}
	return syscallSuccess(1)
}

var SyscallTryFindProgramAddress = sbpf.SyscallFunc5(SyscallTryFindProgramAddressImpl)
