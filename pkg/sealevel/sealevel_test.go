package sealevel

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/sbpfasm"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_DuplicateReferencesShareState(t *testing.T) {
	metas := []AccountMeta{
		{Pubkey: keyC, IsWritable: true},
		{Pubkey: keyC, IsWritable: true},
		{Pubkey: keyC, IsWritable: true},
		{Pubkey: keyC, IsWritable: true},
	}
	l := layoutFor(metas, map[solana.PublicKey]int{keyC: 8}, 0)
	assert.Equal(t, []uint64{8, 8, 8, 8}, l.canonical)

	a := sbpfasm.New()
	a.Mov64Reg(6, 1)
	for i := range metas {
		resolveRef(a, l, i, 8)
		a.Ldx(sbpf.OpLdxdw, 3, 8, serializedAcctOffsetData)
		a.Add64Imm(3, 1)
		a.Stx(sbpf.OpStxdw, 8, 3, serializedAcctOffsetData)
	}
	a.Mov64Imm(0, 0).Exit()

	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Program:   loadProgram(t, a),
		Accounts:  []accounts.Account{{Key: keyC, Lamports: 1, Owner: testProgramId, Data: make([]byte, 8)}},
		Metas:     metas,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(4), binary.LittleEndian.Uint64(res.Account(keyC).Data))
}

func TestExecute_AliasedTransfers(t *testing.T) {
	metas := []AccountMeta{
		{Pubkey: keyA, IsWritable: true},
		{Pubkey: keyB, IsWritable: true},
		{Pubkey: keyA, IsWritable: true},
		{Pubkey: keyB, IsWritable: true},
		{Pubkey: keyA, IsWritable: true},
		{Pubkey: keyB, IsWritable: true},
	}
	l := layoutFor(metas, nil, 0)

	a := sbpfasm.New()
	a.Mov64Reg(6, 1)
	for i := 0; i < len(metas); i += 2 {
		resolveRef(a, l, i, 8)
		resolveRef(a, l, i+1, 9)
		a.Ldx(sbpf.OpLdxdw, 3, 8, serializedAcctOffsetLamports)
		a.Alu(sbpf.OpSub64Imm, 3, 1)
		a.Stx(sbpf.OpStxdw, 8, 3, serializedAcctOffsetLamports)
		a.Ldx(sbpf.OpLdxdw, 3, 9, serializedAcctOffsetLamports)
		a.Add64Imm(3, 1)
		a.Stx(sbpf.OpStxdw, 9, 3, serializedAcctOffsetLamports)
	}
	a.Mov64Imm(0, 0).Exit()

	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Program:   loadProgram(t, a),
		Accounts: []accounts.Account{
			{Key: keyA, Lamports: 10, Owner: testProgramId},
			{Key: keyB, Lamports: 0, Owner: testProgramId},
		},
		Metas: metas,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, uint64(7), res.Account(keyA).Lamports)
	assert.Equal(t, uint64(3), res.Account(keyB).Lamports)
}

func TestExecute_OwnershipSpoofing(t *testing.T) {
	metas := []AccountMeta{{Pubkey: keyA, IsWritable: true}, {Pubkey: keyB, IsWritable: true}}
	l := layoutFor(metas, nil, 0)
	accts := []accounts.Account{
		{Key: keyA, Lamports: 10, Owner: otherProgram},
		{Key: keyB, Lamports: 0, Owner: testProgramId},
	}

	t.Run("debit", func(t *testing.T) {
		a := sbpfasm.New()
		a.Mov64Reg(6, 1)
		a.Mov64Reg(7, 6).Add64Imm(7, int32(l.entries[0]))
		a.St(sbpf.OpStdw, 7, serializedAcctOffsetLamports, 5)
		a.Mov64Reg(7, 6).Add64Imm(7, int32(l.entries[1]))
		a.St(sbpf.OpStdw, 7, serializedAcctOffsetLamports, 5)
		a.Mov64Imm(0, 0).Exit()

		res := execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, a), Accounts: accts, Metas: metas})
		require.ErrorIs(t, res.Err, InstrErrExternalAccountLamportSpend)
		assert.Equal(t, KindOwnershipSpoofing, res.Kind)
		assert.Equal(t, uint64(10), res.Account(keyA).Lamports)
		assert.Equal(t, uint64(0), res.Account(keyB).Lamports)
	})

	t.Run("reassign", func(t *testing.T) {
		a := sbpfasm.New()
		a.Mov64Reg(6, 1)
		a.Mov64Reg(7, 6).Add64Imm(7, int32(l.entries[0]))
		a.St(sbpf.OpStb, 7, serializedAcctOffsetOwner, 0x42)
		a.Mov64Imm(0, 0).Exit()

		res := execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, a), Accounts: accts, Metas: metas})
		require.ErrorIs(t, res.Err, InstrErrModifiedProgramId)
		assert.Equal(t, otherProgram, res.Account(keyA).Owner)
	})

	t.Run("foreign data", func(t *testing.T) {
		foreign := []accounts.Account{{Key: keyA, Lamports: 10, Owner: otherProgram, Data: []byte{1, 2, 3, 4}}}
		m := []AccountMeta{{Pubkey: keyA, IsWritable: true}}
		a := sbpfasm.New()
		a.Mov64Reg(6, 1)
		a.St(sbpf.OpStb, 6, 8+serializedAcctOffsetData, 9)
		a.Mov64Imm(0, 0).Exit()

		res := execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, a), Accounts: foreign, Metas: m})
		require.ErrorIs(t, res.Err, InstrErrExternalAccountDataModified)
		assert.Equal(t, []byte{1, 2, 3, 4}, res.Account(keyA).Data)
	})
}

func TestExecute_ReadonlyLamportChange(t *testing.T) {
	metas := []AccountMeta{{Pubkey: keyA}}
	a := sbpfasm.New()
	a.St(sbpf.OpStdw, 1, 8+serializedAcctOffsetLamports, 11)
	a.Mov64Imm(0, 0).Exit()

	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Program:   loadProgram(t, a),
		Accounts:  []accounts.Account{{Key: keyA, Lamports: 10, Owner: testProgramId}},
		Metas:     metas,
	})
	require.ErrorIs(t, res.Err, InstrErrReadonlyLamportChange)
	assert.Equal(t, KindPrivilegeEscalation, res.Kind)
}

func TestExecute_CustomError(t *testing.T) {
	a := sbpfasm.New().Mov64Imm(0, 42).Exit()
	res := execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, a)})

	var custom *CustomError
	require.ErrorAs(t, res.Err, &custom)
	assert.Equal(t, uint32(42), custom.Code)
	assert.Equal(t, KindCustom, res.Kind)
	assert.Equal(t, uint64(42), res.ExitCode)
}

func TestExecute_FailureRestoresAccounts(t *testing.T) {
	metas := []AccountMeta{{Pubkey: keyC, IsWritable: true}}
	a := sbpfasm.New()
	a.St(sbpf.OpStdw, 1, 8+serializedAcctOffsetData, 7)
	a.Mov64Imm(0, 1).Exit()

	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Program:   loadProgram(t, a),
		Accounts:  []accounts.Account{{Key: keyC, Lamports: 1, Owner: testProgramId, Data: make([]byte, 8)}},
		Metas:     metas,
	})
	require.Error(t, res.Err)
	assert.Equal(t, make([]byte, 8), res.Account(keyC).Data)
}

func TestExecute_Realloc(t *testing.T) {
	metas := []AccountMeta{{Pubkey: keyC, IsWritable: true}}
	accts := []accounts.Account{{Key: keyC, Lamports: 1, Owner: testProgramId, Data: make([]byte, 8)}}

	grow := func(n int32) *sbpfasm.Assembler {
		a := sbpfasm.New()
		a.St(sbpf.OpStdw, 1, 8+serializedAcctOffsetDataLen, 8+n)
		a.St(sbpf.OpStb, 1, 8+serializedAcctOffsetData+8, 0x5a)
		a.Mov64Imm(0, 0).Exit()
		return a
	}

	res := execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, grow(16)), Accounts: accts, Metas: metas})
	require.NoError(t, res.Err)
	require.Len(t, res.Account(keyC).Data, 24)
	assert.Equal(t, byte(0x5a), res.Account(keyC).Data[8])

	res = execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, grow(MaxPermittedDataIncrease+1)), Accounts: accts, Metas: metas})
	require.ErrorIs(t, res.Err, InstrErrInvalidRealloc)
	assert.Equal(t, KindResourceExhausted, res.Kind)
	assert.Len(t, res.Account(keyC).Data, 8)
}

func TestExecute_ReturnData(t *testing.T) {
	a := sbpfasm.New()
	a.St(sbpf.OpStw, 10, -8, 0x64636261)
	a.Mov64Reg(1, 10).Add64Imm(1, -8)
	a.Mov64Imm(2, 4)
	a.Syscall("sol_set_return_data")
	a.Mov64Imm(0, 0).Exit()

	res := execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, a)})
	require.NoError(t, res.Err)
	assert.Equal(t, testProgramId, res.ReturnData.ProgramId)
	assert.Equal(t, []byte("abcd"), res.ReturnData.Data)
	assert.Contains(t, res.Logs, "Program return: "+testProgramId.String()+" YWJjZA==")
}

func TestExecute_Logs(t *testing.T) {
	a := sbpfasm.New()
	a.St(sbpf.OpStw, 10, -8, 0x6f6c6568)
	a.Mov64Reg(1, 10).Add64Imm(1, -8)
	a.Mov64Imm(2, 4)
	a.Syscall("sol_log_")
	a.Mov64Imm(0, 0).Exit()

	res := execute(t, ExecuteParams{ProgramID: testProgramId, Program: loadProgram(t, a)})
	require.NoError(t, res.Err)
	require.NotEmpty(t, res.Logs)
	assert.Equal(t, "Program "+testProgramId.String()+" invoke [1]", res.Logs[0])
	assert.Contains(t, res.Logs, "Program log: helo")
	assert.Equal(t, "Program "+testProgramId.String()+" success", res.Logs[len(res.Logs)-1])
}

func TestExecute_ComputeExhaustion(t *testing.T) {
	a := sbpfasm.New()
	a.Label("loop").Ja("loop")

	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Program:   loadProgram(t, a),
		Config:    Config{ComputeBudget: 1000},
	})
	require.Error(t, res.Err)
	assert.Equal(t, KindResourceExhausted, res.Kind)
	assert.Equal(t, uint64(1000), res.Consumed)
}

func TestExecute_WritableInstructionsSysvar(t *testing.T) {
	a := sbpfasm.New().Mov64Imm(0, 0).Exit()
	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Program:   loadProgram(t, a),
		Metas:     []AccountMeta{{Pubkey: SysvarInstructionsAddr, IsWritable: true}},
	})
	require.ErrorIs(t, res.Err, InstrErrInvalidAccountIndex)
	assert.Equal(t, KindInvalidAccountIndex, res.Kind)
}

func TestExecute_TooManyAccounts(t *testing.T) {
	metas := make([]AccountMeta, MaxInstructionAccounts+1)
	for i := range metas {
		metas[i] = AccountMeta{Pubkey: keyA}
	}
	a := sbpfasm.New().Mov64Imm(0, 0).Exit()
	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Program:   loadProgram(t, a),
		Accounts:  []accounts.Account{{Key: keyA, Owner: testProgramId}},
		Metas:     metas,
	})
	require.ErrorIs(t, res.Err, InstrErrMaxAccountsExceeded)
}

func TestExecute_NonExecutableProgram(t *testing.T) {
	res := execute(t, ExecuteParams{
		ProgramID: keyA,
		Accounts:  []accounts.Account{{Key: keyA, Owner: BpfLoader2Addr}},
	})
	require.ErrorIs(t, res.Err, InstrErrAccountNotExecutable)
	assert.Equal(t, KindAccountNotExecutable, res.Kind)
}

func TestExecute_InvalidParams(t *testing.T) {
	_, err := Execute(context.Background(), ExecuteParams{
		ProgramID: testProgramId,
		Accounts:  []accounts.Account{{Key: keyA}, {Key: keyA}},
	})
	require.Error(t, err)

	_, err = Execute(context.Background(), ExecuteParams{Config: Config{HeapSize: 1000}})
	require.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Execute(ctx, ExecuteParams{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecute_StrategiesAgree(t *testing.T) {
	metas := []AccountMeta{{Pubkey: keyC, IsWritable: true}}
	a := sbpfasm.New()
	a.Mov64Imm(2, 0)
	a.Mov64Imm(3, 1)
	a.Label("loop")
	a.AluReg(sbpf.OpAdd64Reg, 2, 3)
	a.Add64Imm(3, 1)
	a.JmpImm(sbpf.OpJleImm, 3, 100, "loop")
	a.Stx(sbpf.OpStxdw, 1, 2, 8+serializedAcctOffsetData)
	a.Mov64Imm(0, 0).Exit()
	program := loadProgram(t, a)

	run := func(strategy sbpf.Strategy) (*Result, *sbpf.TraceRecorder) {
		tr := &sbpf.TraceRecorder{}
		res := execute(t, ExecuteParams{
			ProgramID: testProgramId,
			Program:   program,
			Accounts:  []accounts.Account{{Key: keyC, Lamports: 1, Owner: testProgramId, Data: make([]byte, 8)}},
			Metas:     metas,
			Config:    Config{Strategy: strategy},
			Tracer:    tr,
		})
		require.NoError(t, res.Err)
		return res, tr
	}

	interp, interpTrace := run(sbpf.StrategyInterpreter)
	compiled, compiledTrace := run(sbpf.StrategyCompiled)
	again, againTrace := run(sbpf.StrategyInterpreter)

	assert.Equal(t, uint64(5050), binary.LittleEndian.Uint64(interp.Account(keyC).Data))
	assert.Equal(t, interp.Account(keyC), compiled.Account(keyC))
	assert.Equal(t, interp.Consumed, compiled.Consumed)
	assert.Nil(t, sbpf.DiffTraces(interpTrace.Steps, compiledTrace.Steps))
	assert.Equal(t, interpTrace.Digest(), againTrace.Digest())
	assert.Equal(t, interp.Accounts, again.Accounts)
}

func TestExecute_UpgradeableProgram(t *testing.T) {
	a := sbpfasm.New().Mov64Imm(0, 0).Exit()
	elf := sbpfasm.BuildELF(a.MustAssemble(), nil)
	programDataId := solana.PublicKeyFromBytes(repeat32(0xd1))
	program, programData, err := NewUpgradeableProgramAccounts(testProgramId, programDataId, elf, 5, nil)
	require.NoError(t, err)

	params := ExecuteParams{
		ProgramID: testProgramId,
		Accounts:  []accounts.Account{program, programData},
		Config:    Config{Slot: 10},
	}
	res := execute(t, params)
	require.NoError(t, res.Err)

	params.Config.Slot = 5
	res = execute(t, params)
	require.ErrorIs(t, res.Err, InstrErrInvalidAccountData)
}

func TestExecute_LoaderV2Program(t *testing.T) {
	a := sbpfasm.New().Mov64Imm(0, 7).Exit()
	elf := sbpfasm.BuildELF(a.MustAssemble(), nil)
	res := execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Accounts:  []accounts.Account{{Key: testProgramId, Lamports: 1, Owner: BpfLoader2Addr, Executable: true, Data: elf}},
	})
	var custom *CustomError
	require.ErrorAs(t, res.Err, &custom)
	assert.Equal(t, uint32(7), custom.Code)

	res = execute(t, ExecuteParams{
		ProgramID: testProgramId,
		Accounts:  []accounts.Account{{Key: testProgramId, Lamports: 1, Owner: BpfLoader2Addr, Executable: true, Data: []byte("not an elf")}},
	})
	assert.Equal(t, KindLoadError, res.Kind)
}

func TestCalculateHeapCost(t *testing.T) {
	assert.Equal(t, uint64(0), calculateHeapCost(32*1024, CUHeapCostDefault))
	assert.Equal(t, uint64(CUHeapCostDefault), calculateHeapCost(64*1024, CUHeapCostDefault))
	assert.Equal(t, uint64(7*CUHeapCostDefault), calculateHeapCost(256*1024, CUHeapCostDefault))
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultMaxInvokeDepth, cfg.MaxInvokeDepth)
	assert.Equal(t, uint32(DefaultHeapSize), cfg.HeapSize)
	require.NoError(t, cfg.Validate())

	cfg.MaxInvokeDepth = MaxInstructionTraceLength + 1
	require.Error(t, cfg.Validate())
}
