package sealevel

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/secp256k1"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"
)

func newSyscallVM(t *testing.T) *testVM {
	return newTestVM(t, testProgramId,
		[]accounts.Account{{Key: keyA, Lamports: 10, Owner: testProgramId}},
		[]AccountMeta{{Pubkey: keyA, IsWritable: true}}, []byte{1, 2, 3})
}

// writeSlices stores the byte slices after a (ptr, len) descriptor array
// at addr and returns the descriptor count.
func writeSlices(t *testing.T, vm *testVM, addr uint64, slices ...[]byte) uint64 {
	data := addr + uint64(len(slices))*16
	for i, s := range slices {
		require.NoError(t, vm.Write64(addr+uint64(i)*16, data))
		require.NoError(t, vm.Write64(addr+uint64(i)*16+8, uint64(len(s))))
		require.NoError(t, vm.Write(data, s))
		data += uint64(len(s))
	}
	return uint64(len(slices))
}

func readAt(t *testing.T, vm *testVM, addr uint64, n int) []byte {
	out := make([]byte, n)
	require.NoError(t, vm.Read(addr, out))
	return out
}

func TestSyscallHashes(t *testing.T) {
	vm := newSyscallVM(t)
	result := scratchAddr + 1024
	n := writeSlices(t, vm, scratchAddr, []byte("ab"), []byte("c"))

	_, err := SyscallSha256Impl(vm, scratchAddr, n, result)
	require.NoError(t, err)
	want := sha256.Sum256([]byte("abc"))
	assert.Equal(t, want[:], readAt(t, vm, result, 32))

	_, err = SyscallKeccak256Impl(vm, scratchAddr, n, result)
	require.NoError(t, err)
	k := sha3.NewLegacyKeccak256()
	k.Write([]byte("abc"))
	assert.Equal(t, k.Sum(nil), readAt(t, vm, result, 32))

	_, err = SyscallBlake3Impl(vm, scratchAddr, n, result)
	require.NoError(t, err)
	b := blake3.Sum256([]byte("abc"))
	assert.Equal(t, b[:], readAt(t, vm, result, 32))

	_, err = SyscallSha256Impl(vm, scratchAddr, CUSha256MaxSlices+1, result)
	require.ErrorIs(t, err, SyscallErrTooManySlices)

	_, err = SyscallSha256Impl(vm, scratchAddr, n, 0x10)
	var badAccess sbpf.ExcBadAccess
	require.ErrorAs(t, err, &badAccess)
}

func TestSyscallSha256_Cost(t *testing.T) {
	vm := newSyscallVM(t)
	n := writeSlices(t, vm, scratchAddr, make([]byte, 100), make([]byte, 4))

	before := vm.ctx.ComputeMeter.Remaining()
	_, err := SyscallSha256Impl(vm, scratchAddr, n, scratchAddr+2048)
	require.NoError(t, err)
	assert.Equal(t, uint64(CUSha256BaseCost+50+CUMemOpBaseCost), before-vm.ctx.ComputeMeter.Remaining())
}

func TestSyscallMem(t *testing.T) {
	vm := newSyscallVM(t)
	src := scratchAddr
	dst := scratchAddr + 256
	require.NoError(t, vm.Write(src, []byte("hello world")))

	_, err := SyscallMemcpyImpl(vm, dst, src, 11)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), readAt(t, vm, dst, 11))

	_, err = SyscallMemcpyImpl(vm, src+4, src, 8)
	require.ErrorIs(t, err, SyscallErrCopyOverlapping)

	_, err = SyscallMemmoveImpl(vm, src+6, src, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello hello"), readAt(t, vm, src, 11))

	_, err = SyscallMemsetImpl(vm, dst, 'z', 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("zzzlo world"), readAt(t, vm, dst, 11))

	result := scratchAddr + 512
	_, err = SyscallMemcmpImpl(vm, src, dst, 11, result)
	require.NoError(t, err)
	cmp, err := vm.Read32(result)
	require.NoError(t, err)
	assert.Equal(t, int32('h')-int32('z'), int32(cmp))

	_, err = SyscallMemcmpImpl(vm, src, src, 11, result)
	require.NoError(t, err)
	cmp, err = vm.Read32(result)
	require.NoError(t, err)
	assert.Zero(t, cmp)

	_, err = SyscallMemcmpImpl(vm, src, dst, 11, result+1)
	require.ErrorIs(t, err, SyscallErrUnalignedPointer)
}

func TestSyscallAllocFree(t *testing.T) {
	vm := newSyscallVM(t)

	addr, err := SyscallAllocFreeImpl(vm, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, sbpf.VaddrHeap, addr)

	addr, err = SyscallAllocFreeImpl(vm, 8, 0)
	require.NoError(t, err)
	assert.Equal(t, sbpf.VaddrHeap+104, addr)

	addr, err = SyscallAllocFreeImpl(vm, 8, sbpf.VaddrHeap)
	require.NoError(t, err)
	assert.Zero(t, addr)

	addr, err = SyscallAllocFreeImpl(vm, sbpf.DefaultHeapSize, 0)
	require.NoError(t, err)
	assert.Zero(t, addr)
}

func TestSyscallAllocFree_Cost(t *testing.T) {
	vm := newSyscallVM(t)

	before := vm.ctx.ComputeMeter.Remaining()
	_, err := SyscallAllocFreeImpl(vm, 64, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(CUSyscallBaseCost), before-vm.ctx.ComputeMeter.Remaining())

	before = vm.ctx.ComputeMeter.Remaining()
	_, err = SyscallAllocFreeImpl(vm, 0, sbpf.VaddrHeap)
	require.NoError(t, err)
	assert.Equal(t, uint64(CUSyscallBaseCost), before-vm.ctx.ComputeMeter.Remaining(), "free is charged too")

	require.NoError(t, vm.ctx.ComputeMeter.Consume(vm.ctx.ComputeMeter.Remaining()-1))
	_, err = SyscallAllocFreeImpl(vm, 8, 0)
	require.Error(t, err)
	assert.Equal(t, KindResourceExhausted, ClassifyError(err))
	assert.Equal(t, uint64(64), vm.HeapSize(), "no allocation after exhaustion")
}

func TestProgramAddress(t *testing.T) {
	seeds := [][]byte{[]byte("vault"), testProgramId[:]}
	addr, bump, err := FindProgramAddress(seeds, otherProgram)
	require.NoError(t, err)

	refAddr, refBump, err := solana.FindProgramAddress(seeds, otherProgram)
	require.NoError(t, err)
	assert.Equal(t, refAddr, addr)
	assert.Equal(t, refBump, bump)

	created, err := CreateProgramAddress(append(seeds, []byte{bump}), otherProgram)
	require.NoError(t, err)
	assert.Equal(t, addr, created)

	_, err = CreateProgramAddress([][]byte{make([]byte, MaxSeedLen+1)}, otherProgram)
	require.ErrorIs(t, err, InstrErrMaxSeedLengthExceeded)

	tooMany := make([][]byte, MaxSeeds+1)
	_, err = CreateProgramAddress(tooMany, otherProgram)
	require.ErrorIs(t, err, InstrErrMaxSeedLengthExceeded)
}

func TestSyscallTryFindProgramAddress(t *testing.T) {
	vm := newSyscallVM(t)
	seedCount := writeSlices(t, vm, scratchAddr, []byte("vault"))
	programIdAddr := scratchAddr + 512
	addressAddr := scratchAddr + 1024
	bumpAddr := scratchAddr + 2048
	require.NoError(t, vm.Write(programIdAddr, testProgramId[:]))

	r0, err := SyscallTryFindProgramAddressImpl(vm, scratchAddr, seedCount, programIdAddr, addressAddr, bumpAddr)
	require.NoError(t, err)
	assert.Zero(t, r0)

	want, wantBump, err := FindProgramAddress([][]byte{[]byte("vault")}, testProgramId)
	require.NoError(t, err)
	assert.Equal(t, want[:], readAt(t, vm, addressAddr, 32))
	assert.Equal(t, []byte{wantBump}, readAt(t, vm, bumpAddr, 1))

	// the derived address must round trip through create
	n := writeSlices(t, vm, scratchAddr+4096, []byte("vault"), []byte{wantBump})
	r0, err = SyscallCreateProgramAddressImpl(vm, scratchAddr+4096, n, programIdAddr, addressAddr+64)
	require.NoError(t, err)
	assert.Zero(t, r0)
	assert.Equal(t, want[:], readAt(t, vm, addressAddr+64, 32))

	_, err = SyscallTryFindProgramAddressImpl(vm, scratchAddr, seedCount, programIdAddr, addressAddr, addressAddr+8)
	require.ErrorIs(t, err, SyscallErrCopyOverlapping)
}

func TestSyscallSecp256k1Recover(t *testing.T) {
	vm := newSyscallVM(t)
	seckey := make([]byte, 32)
	seckey[31] = 7
	msgHash := sha256.Sum256([]byte("quartz"))
	priv, err := crypto.ToECDSA(seckey)
	require.NoError(t, err)
	sig, err := crypto.Sign(msgHash[:], priv)
	require.NoError(t, err)

	x, y := priv.PublicKey.X, priv.PublicKey.Y
	want := make([]byte, 64)
	x.FillBytes(want[:32])
	y.FillBytes(want[32:])

	hashAddr := scratchAddr
	sigAddr := scratchAddr + 64
	resultAddr := scratchAddr + 256
	require.NoError(t, vm.Write(hashAddr, msgHash[:]))
	require.NoError(t, vm.Write(sigAddr, sig[:64]))

	r0, err := SyscallSecp256k1RecoverImpl(vm, hashAddr, uint64(sig[64]), sigAddr, resultAddr)
	require.NoError(t, err)
	assert.Zero(t, r0)
	assert.Equal(t, want, readAt(t, vm, resultAddr, 64))

	r0, err = SyscallSecp256k1RecoverImpl(vm, hashAddr, 4, sigAddr, resultAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(Secp256k1RecoverErrInvalidRecoveryId), r0)

	// s above the curve order
	high := new(big.Int).Add(secp256k1.S256().Params().N, big.NewInt(1))
	bad := make([]byte, 64)
	copy(bad, sig[:32])
	high.FillBytes(bad[32:])
	require.NoError(t, vm.Write(sigAddr, bad))
	r0, err = SyscallSecp256k1RecoverImpl(vm, hashAddr, uint64(sig[64]), sigAddr, resultAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(Secp256k1RecoverErrInvalidSignature), r0)
}

func TestSyscallSysvars(t *testing.T) {
	vm := newSyscallVM(t)
	vm.ctx.SysvarCache.SetClock(SysvarClock{Slot: 77, Epoch: 3, UnixTimestamp: 1700000000})

	_, err := SyscallGetClockSysvarImpl(vm, scratchAddr)
	require.NoError(t, err)
	clock := readAt(t, vm, scratchAddr, SysvarClockStructLen)
	assert.Equal(t, uint64(77), binary.LittleEndian.Uint64(clock[0:]))
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(clock[16:]))
	assert.Equal(t, uint64(1700000000), binary.LittleEndian.Uint64(clock[32:]))

	_, err = SyscallGetClockSysvarImpl(vm, scratchAddr+4)
	require.ErrorIs(t, err, SyscallErrUnalignedPointer)

	_, err = SyscallGetRentSysvarImpl(vm, scratchAddr)
	require.NoError(t, err)
	rent := DefaultRent()
	assert.Equal(t, rent.LamportsPerByteYear, binary.LittleEndian.Uint64(readAt(t, vm, scratchAddr, 8)))

	_, err = SyscallGetEpochRewardsSysvarImpl(vm, scratchAddr)
	require.Error(t, err)
}

func TestSyscallGetSysvar(t *testing.T) {
	vm := newSyscallVM(t)
	vm.ctx.SysvarCache.SetClock(SysvarClock{Slot: 77})
	idAddr := scratchAddr
	out := scratchAddr + 256
	require.NoError(t, vm.Write(idAddr, SysvarClockAddr[:]))

	r0, err := SyscallGetSysvarImpl(vm, idAddr, out, 0, 8)
	require.NoError(t, err)
	assert.Zero(t, r0)
	assert.Equal(t, uint64(77), binary.LittleEndian.Uint64(readAt(t, vm, out, 8)))

	r0, err = SyscallGetSysvarImpl(vm, idAddr, out, SysvarClockStructLen-4, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(SysvarStatusOffsetLengthExceeded), r0)

	require.NoError(t, vm.Write(idAddr, keyA[:]))
	r0, err = SyscallGetSysvarImpl(vm, idAddr, out, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(SysvarStatusNotFound), r0)
}

func TestSyscallLogs(t *testing.T) {
	vm := newSyscallVM(t)
	require.NoError(t, vm.Write(scratchAddr, []byte("hi")))

	_, err := SyscallLogImpl(vm, scratchAddr, 2)
	require.NoError(t, err)
	_, err = SyscallLog64Impl(vm, 1, 2, 3, 4, 0xff)
	require.NoError(t, err)

	require.NoError(t, vm.Write(scratchAddr+64, keyA[:]))
	_, err = SyscallLogPubkeyImpl(vm, scratchAddr+64)
	require.NoError(t, err)

	n := writeSlices(t, vm, scratchAddr+256, []byte("abc"), []byte("def"))
	_, err = SyscallLogDataImpl(vm, scratchAddr+256, n)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Program log: hi",
		"Program log: 0x1, 0x2, 0x3, 0x4, 0xff",
		"Program log: " + keyA.String(),
		"Program data: YWJj ZGVm",
	}, vm.logs())
}

func TestSyscallLog_Truncation(t *testing.T) {
	vm := newSyscallVM(t)
	require.NoError(t, vm.Write(scratchAddr, []byte{'a', 0, 'b'}))

	_, err := SyscallLogImpl(vm, scratchAddr, 3)
	require.NoError(t, err)
	assert.Equal(t, "Program log: a\x00b", vm.logs()[0])

	vm.ctx.Features = nil
	_, err = SyscallLogImpl(vm, scratchAddr, 3)
	require.NoError(t, err)
	assert.Equal(t, "Program log: a", vm.logs()[1])
}

func TestSyscallReturnData(t *testing.T) {
	vm := newSyscallVM(t)
	require.NoError(t, vm.Write(scratchAddr, []byte("result")))

	_, err := SyscallSetReturnDataImpl(vm, scratchAddr, 6)
	require.NoError(t, err)

	n, err := SyscallGetReturnDataImpl(vm, scratchAddr+256, 3, scratchAddr+512)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), n)
	assert.Equal(t, []byte("res"), readAt(t, vm, scratchAddr+256, 3))
	assert.Equal(t, testProgramId[:], readAt(t, vm, scratchAddr+512, 32))

	_, err = SyscallSetReturnDataImpl(vm, scratchAddr, MaxReturnData+1)
	require.ErrorIs(t, err, SyscallErrReturnDataTooLarge)
}

func TestSyscallMisc(t *testing.T) {
	vm := newSyscallVM(t)

	before := vm.ctx.ComputeMeter.Remaining()
	_, err := SyscallAbortImpl(vm)
	require.ErrorIs(t, err, SyscallErrAbort)
	assert.Equal(t, uint64(CUSyscallBaseCost), before-vm.ctx.ComputeMeter.Remaining())

	require.NoError(t, vm.Write(scratchAddr, []byte("lib.rs")))
	_, err = SyscallPanicImpl(vm, scratchAddr, 6, 12, 3)
	require.ErrorIs(t, err, SyscallErrPanic)
	assert.Contains(t, vm.logs(), "Program panicked in lib.rs at 12:3")

	height, err := SyscallGetStackHeightImpl(vm)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), height)

	before = vm.ctx.ComputeMeter.Remaining()
	remaining, err := SyscallRemainingComputeUnitsImpl(vm)
	require.NoError(t, err)
	assert.Equal(t, before-CUSyscallBaseCost, remaining)
}

func TestSyscallComputeExhaustion(t *testing.T) {
	vm := newSyscallVM(t)
	require.NoError(t, vm.ctx.ComputeMeter.Consume(vm.ctx.ComputeMeter.Remaining()-10))

	_, err := SyscallSha256Impl(vm, scratchAddr, 0, scratchAddr+64)
	require.Error(t, err)
	assert.Equal(t, KindResourceExhausted, ClassifyError(err))
}

func TestSyscallProcessedSiblingInstruction(t *testing.T) {
	vm := newSyscallVM(t)
	txCtx := vm.ctx.TransactionContext

	// nothing processed before the first instruction
	r0, err := SyscallGetProcessedSiblingInstructionImpl(vm, 0, scratchAddr, scratchAddr+64, scratchAddr+128, scratchAddr+256)
	require.NoError(t, err)
	assert.Zero(t, r0)

	require.NoError(t, vm.ctx.Pop(nil))
	programIdx, err := txCtx.IndexOfAccount(testProgramId)
	require.NoError(t, err)
	next, err := txCtx.NextInstructionCtx()
	require.NoError(t, err)
	next.Configure([]uint64{programIdx}, nil, []byte{9})
	require.NoError(t, vm.ctx.Push())

	// undersized buffers only report the sizes
	r0, err = SyscallGetProcessedSiblingInstructionImpl(vm, 0, scratchAddr, scratchAddr+64, scratchAddr+128, scratchAddr+256)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r0)
	assert.Equal(t, uint64(3), binary.LittleEndian.Uint64(readAt(t, vm, scratchAddr, 8)))
	assert.Equal(t, uint64(1), binary.LittleEndian.Uint64(readAt(t, vm, scratchAddr+8, 8)))

	r0, err = SyscallGetProcessedSiblingInstructionImpl(vm, 0, scratchAddr, scratchAddr+64, scratchAddr+128, scratchAddr+256)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r0)
	assert.Equal(t, testProgramId[:], readAt(t, vm, scratchAddr+64, 32))
	assert.Equal(t, []byte{1, 2, 3}, readAt(t, vm, scratchAddr+128, 3))
	meta := AccountMeta{Pubkey: keyA, IsWritable: true}
	assert.Equal(t, meta.Marshal(), readAt(t, vm, scratchAddr+256, AccountMetaSize))
}
