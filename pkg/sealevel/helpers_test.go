package sealevel

import (
	"context"
	"fmt"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/cu"
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/loader"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/sbpfasm"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var (
	testProgramId = solana.PublicKeyFromBytes(repeat32(0xa1))
	otherProgram  = solana.PublicKeyFromBytes(repeat32(0xa2))
	keyA          = solana.PublicKeyFromBytes(repeat32(0x0a))
	keyB          = solana.PublicKeyFromBytes(repeat32(0x0b))
	keyC          = solana.PublicKeyFromBytes(repeat32(0x0c))
)

func repeat32(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func systemProgramAccount() accounts.Account {
	return accounts.Account{Key: SystemProgramAddr, Lamports: 1, Owner: NativeLoaderAddr, Executable: true}
}

func loadProgram(t *testing.T, a *sbpfasm.Assembler) *sbpf.Program {
	t.Helper()
	elf := sbpfasm.BuildELF(a.MustAssemble(), nil)
	p, err := loader.Load(elf, Syscalls(features.NewFeaturesAllEnabled(), false))
	require.NoError(t, err)
	return p
}

func execute(t *testing.T, params ExecuteParams) *Result {
	t.Helper()
	if params.Features == nil {
		params.Features = features.NewFeaturesAllEnabled()
	}
	res, err := Execute(context.Background(), params)
	require.NoError(t, err)
	return res
}

// inputLayout holds offsets into the serialized parameter buffer.
type inputLayout struct {
	entries   []uint64 // entry of every instruction account, dups point at their marker
	canonical []uint64 // entry of the first occurrence of each instruction account's key
	data      uint64
	programId uint64
}

func layoutFor(metas []AccountMeta, dataLens map[solana.PublicKey]int, ixDataLen int) inputLayout {
	var l inputLayout
	first := make(map[solana.PublicKey]uint64)
	off := uint64(8)
	for _, m := range metas {
		l.entries = append(l.entries, off)
		if start, ok := first[m.Pubkey]; ok {
			l.canonical = append(l.canonical, start)
			off += 8
			continue
		}
		first[m.Pubkey] = off
		l.canonical = append(l.canonical, off)
		off += serializedAcctSize(uint64(dataLens[m.Pubkey]))
	}
	l.data = off + 8
	l.programId = l.data + uint64(ixDataLen)
	return l
}

// resolveRef emits code setting dst to the entry of instruction account i,
// following the dup marker at runtime. r6 holds the input pointer and r7
// is clobbered.
func resolveRef(a *sbpfasm.Assembler, l inputLayout, i int, dst uint8) {
	own := fmt.Sprintf("own_%d", i)
	done := fmt.Sprintf("done_%d", i)
	a.Mov64Reg(7, 6).Add64Imm(7, int32(l.entries[i]))
	a.Ldx(sbpf.OpLdxb, 2, 7, 0)
	a.JmpImm(sbpf.OpJeqImm, 2, NonDupMarker, own)
	for j := 0; j < i; j++ {
		a.JmpImm(sbpf.OpJeqImm, 2, int32(j), fmt.Sprintf("ent_%d_%d", i, j))
	}
	a.Mov64Imm(0, 99).Exit()
	for j := 0; j < i; j++ {
		a.Label(fmt.Sprintf("ent_%d_%d", i, j))
		a.Mov64Reg(dst, 6).Add64Imm(dst, int32(l.entries[j])).Ja(done)
	}
	a.Label(own)
	a.Mov64Reg(dst, 6).Add64Imm(dst, int32(l.entries[i]))
	a.Label(done)
}

// cpiMeta describes one account meta of an emitted CPI, by instruction
// account index in the caller.
type cpiMeta struct {
	ref      int
	signer   bool
	writable bool
}

// invokeCall describes a C ABI invocation emitted by emitInvokeC.
type invokeCall struct {
	calleeRef int
	metas     []cpiMeta
	infos     []int
	dataOff   uint64
	dataLen   uint64
	// signer seeds, each a list of (offset, length) into the input buffer
	seeds [][][2]uint64
}

const (
	stackIx     = -64
	stackMetas  = -1024
	stackInfos  = -2048
	stackSigner = -3072
	stackSeeds  = -3584
)

func boolImm(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// emitInvokeC builds the C ABI structures on the stack and calls
// sol_invoke_signed_c. r6 holds the input pointer and r7 is clobbered.
func emitInvokeC(a *sbpfasm.Assembler, l inputLayout, call invokeCall) {
	for k, m := range call.metas {
		off := int16(stackMetas + k*SolAccountMetaCSize)
		a.Mov64Reg(3, 6).Add64Imm(3, int32(l.canonical[m.ref]+serializedAcctOffsetKey))
		a.Stx(sbpf.OpStxdw, 10, 3, off)
		a.St(sbpf.OpStb, 10, off+8, boolImm(m.writable))
		a.St(sbpf.OpStb, 10, off+9, boolImm(m.signer))
	}

	for k, ref := range call.infos {
		off := int16(stackInfos + k*SolAccountInfoCSize)
		a.Mov64Reg(7, 6).Add64Imm(7, int32(l.canonical[ref]))
		for _, field := range []struct{ src, dst int16 }{
			{serializedAcctOffsetKey, 0},
			{serializedAcctOffsetLamports, 8},
			{serializedAcctOffsetData, 24},
			{serializedAcctOffsetOwner, 32},
		} {
			a.Mov64Reg(3, 7).Add64Imm(3, int32(field.src))
			a.Stx(sbpf.OpStxdw, 10, 3, off+field.dst)
		}
		a.Ldx(sbpf.OpLdxdw, 3, 7, serializedAcctOffsetDataLen)
		a.Stx(sbpf.OpStxdw, 10, 3, off+16)
		a.St(sbpf.OpStdw, 10, off+40, 0)
		a.St(sbpf.OpStdw, 10, off+48, 0)
		for flag, src := range []int16{serializedAcctOffsetIsSigner, serializedAcctOffsetIsWritable, serializedAcctOffsetExecutable} {
			a.Ldx(sbpf.OpLdxb, 3, 7, src)
			a.Stx(sbpf.OpStxb, 10, 3, off+48+int16(flag))
		}
	}

	var seedOff int16
	for s, seeds := range call.seeds {
		descr := int16(stackSigner + s*SolSignerSeedsCSize)
		a.Mov64Reg(3, 10).Add64Imm(3, int32(stackSeeds)+int32(seedOff))
		a.Stx(sbpf.OpStxdw, 10, 3, descr)
		a.St(sbpf.OpStdw, 10, descr+8, int32(len(seeds)))
		for _, seed := range seeds {
			off := stackSeeds + seedOff
			a.Mov64Reg(3, 6).Add64Imm(3, int32(seed[0]))
			a.Stx(sbpf.OpStxdw, 10, 3, off)
			a.St(sbpf.OpStdw, 10, off+8, int32(seed[1]))
			seedOff += 16
		}
	}

	a.Mov64Reg(3, 6).Add64Imm(3, int32(l.canonical[call.calleeRef]+serializedAcctOffsetKey))
	a.Stx(sbpf.OpStxdw, 10, 3, stackIx)
	a.Mov64Reg(3, 10).Add64Imm(3, stackMetas)
	a.Stx(sbpf.OpStxdw, 10, 3, stackIx+8)
	a.St(sbpf.OpStdw, 10, stackIx+16, int32(len(call.metas)))
	a.Mov64Reg(3, 6).Add64Imm(3, int32(call.dataOff))
	a.Stx(sbpf.OpStxdw, 10, 3, stackIx+24)
	a.St(sbpf.OpStdw, 10, stackIx+32, int32(call.dataLen))

	a.Mov64Reg(1, 10).Add64Imm(1, stackIx)
	a.Mov64Reg(2, 10).Add64Imm(2, stackInfos)
	a.Mov64Imm(3, int32(len(call.infos)))
	a.Mov64Reg(4, 10).Add64Imm(4, stackSigner)
	a.Mov64Imm(5, int32(len(call.seeds)))
	a.Syscall("sol_invoke_signed_c")
}

// testVM is a flat memory VM for calling syscalls directly.
type testVM struct {
	ctx      *ExecutionCtx
	regions  map[uint64][]byte
	heapSize uint64
}

func (vm *testVM) VMContext() any                    { return vm.ctx }
func (vm *testVM) HeapMax() uint64                   { return uint64(len(vm.regions[sbpf.VaddrHeap])) }
func (vm *testVM) HeapSize() uint64                  { return vm.heapSize }
func (vm *testVM) UpdateHeapSize(size uint64)        { vm.heapSize = size }
func (vm *testVM) ComputeMeter() *cu.ComputeMeter    { return vm.ctx.ComputeMeter }
func (vm *testVM) Read(addr uint64, p []byte) error  { return vm.copyOut(addr, p) }
func (vm *testVM) Write(addr uint64, p []byte) error { return vm.copyIn(addr, p) }

func (vm *testVM) Translate(addr uint64, size uint64, write bool) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	for base, mem := range vm.regions {
		if addr >= base && addr+size >= addr && addr+size <= base+uint64(len(mem)) {
			return mem[addr-base : addr-base+size], nil
		}
	}
	return nil, sbpf.NewExcBadAccess(addr, size, write, "unmapped")
}

func (vm *testVM) copyOut(addr uint64, p []byte) error {
	mem, err := vm.Translate(addr, uint64(len(p)), false)
	if err != nil {
		return err
	}
	copy(p, mem)
	return nil
}

func (vm *testVM) copyIn(addr uint64, p []byte) error {
	mem, err := vm.Translate(addr, uint64(len(p)), true)
	if err != nil {
		return err
	}
	copy(mem, p)
	return nil
}

func (vm *testVM) Read8(addr uint64) (uint8, error) {
	var b [1]byte
	err := vm.copyOut(addr, b[:])
	return b[0], err
}

func (vm *testVM) Read16(addr uint64) (uint16, error) {
	var b [2]byte
	err := vm.copyOut(addr, b[:])
	return uint16(b[0]) | uint16(b[1])<<8, err
}

func (vm *testVM) Read32(addr uint64) (uint32, error) {
	var b [4]byte
	err := vm.copyOut(addr, b[:])
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, err
}

func (vm *testVM) Read64(addr uint64) (uint64, error) {
	lo, err := vm.Read32(addr)
	if err != nil {
		return 0, err
	}
	hi, err := vm.Read32(addr + 4)
	return uint64(lo) | uint64(hi)<<32, err
}

func (vm *testVM) Write8(addr uint64, x uint8) error {
	return vm.copyIn(addr, []byte{x})
}

func (vm *testVM) Write16(addr uint64, x uint16) error {
	return vm.copyIn(addr, []byte{byte(x), byte(x >> 8)})
}

func (vm *testVM) Write32(addr uint64, x uint32) error {
	return vm.copyIn(addr, []byte{byte(x), byte(x >> 8), byte(x >> 16), byte(x >> 24)})
}

func (vm *testVM) Write64(addr uint64, x uint64) error {
	if err := vm.Write32(addr, uint32(x)); err != nil {
		return err
	}
	return vm.Write32(addr+4, uint32(x>>32))
}

// Scratch memory of the test VM.
const (
	scratchAddr = uint64(0x5_0000_0000)
	scratchSize = 64 * 1024
)

// newTestVM pushes a top level frame for programId over metas and returns
// a VM whose input region holds the serialized parameters.
func newTestVM(t *testing.T, programId solana.PublicKey, accts []accounts.Account, metas []AccountMeta, data []byte) *testVM {
	t.Helper()
	f := features.NewFeaturesAllEnabled()
	params := ExecuteParams{ProgramID: programId, Accounts: accts, Metas: metas, Data: data}
	txAccts, err := buildTransactionAccounts(params, map[solana.PublicKey]*sbpf.Program{programId: nil})
	require.NoError(t, err)

	txCtx := NewTransactionCtx(txAccts, MaxInstructionTraceLength)
	rootMeter := cu.NewComputeMeter(cu.DefaultComputeUnitLimit)
	cache, err := loader.NewCache(0)
	require.NoError(t, err)
	execCtx := &ExecutionCtx{
		Log:                &LogRecorder{},
		TransactionContext: txCtx,
		Features:           f,
		SysvarCache:        NewSysvarCacheDefault(10),
		Config:             DefaultConfig(),
		ComputeMeter:       &rootMeter,
		rootMeter:          &rootMeter,
		syscalls:           Syscalls(f, false),
		cache:              cache,
	}

	programIdx, err := txCtx.IndexOfAccount(programId)
	require.NoError(t, err)
	var instrAccts []InstructionAccount
	for i, m := range metas {
		idx, err := txCtx.IndexOfAccount(m.Pubkey)
		require.NoError(t, err)
		callee := uint64(i)
		for j, prev := range instrAccts {
			if prev.IndexInTransaction == idx {
				callee = uint64(j)
				break
			}
		}
		instrAccts = append(instrAccts, InstructionAccount{
			IndexInTransaction: idx,
			IndexInCaller:      idx,
			IndexInCallee:      callee,
			IsSigner:           m.IsSigner,
			IsWritable:         m.IsWritable,
		})
	}
	next, err := txCtx.NextInstructionCtx()
	require.NoError(t, err)
	next.Configure([]uint64{programIdx}, instrAccts, data)
	require.NoError(t, execCtx.Push())

	input, _, err := serializeParametersAligned(execCtx)
	require.NoError(t, err)

	return &testVM{
		ctx: execCtx,
		regions: map[uint64][]byte{
			sbpf.VaddrInput: input,
			sbpf.VaddrHeap:  make([]byte, sbpf.DefaultHeapSize),
			scratchAddr:     make([]byte, scratchSize),
		},
	}
}

func (vm *testVM) logs() []string {
	return vm.ctx.Log.(*LogRecorder).Logs
}

func (vm *testVM) input() []byte {
	return vm.regions[sbpf.VaddrInput]
}
