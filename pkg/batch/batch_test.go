package batch

import (
	"context"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/sbpfasm"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

func systemProgram() accounts.Account {
	return accounts.Account{Key: sealevel.SystemProgramAddr, Lamports: 1, Owner: sealevel.NativeLoaderAddr, Executable: true}
}

func transferJob(from, to solana.PublicKey, lamports uint64) sealevel.ExecuteParams {
	ix := sealevel.NewTransferInstruction(from, to, lamports)
	return sealevel.ExecuteParams{
		ProgramID: sealevel.SystemProgramAddr,
		Accounts: []accounts.Account{
			{Key: from, Lamports: 100, Owner: sealevel.SystemProgramAddr},
			{Key: to, Owner: sealevel.SystemProgramAddr},
			systemProgram(),
		},
		Metas:    ix.Accounts,
		Data:     ix.Data,
		Features: features.NewFeaturesAllEnabled(),
	}
}

func TestExecutor_Run(t *testing.T) {
	exec, err := New(4, 0)
	require.NoError(t, err)
	defer exec.Release()

	var jobs []sealevel.ExecuteParams
	for i := 0; i < 16; i++ {
		jobs = append(jobs, transferJob(key(byte(2*i+1)), key(byte(2*i+2)), uint64(i)))
	}

	out, err := exec.Run(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, out, len(jobs))
	for i, o := range out {
		require.NoError(t, o.Err)
		require.NoError(t, o.Result.Err)
		assert.Equal(t, i, o.Index)
		assert.Equal(t, uint64(100-i), o.Result.Account(key(byte(2*i+1))).Lamports)
		assert.Equal(t, uint64(i), o.Result.Account(key(byte(2*i+2))).Lamports)
	}
}

func TestExecutor_SharedProgramCache(t *testing.T) {
	exec, err := New(2, 0)
	require.NoError(t, err)
	defer exec.Release()

	elf := sbpfasm.BuildELF(sbpfasm.New().Mov64Imm(0, 9).Exit().MustAssemble(), nil)
	programId := key(0xee)
	var jobs []sealevel.ExecuteParams
	for i := 0; i < 6; i++ {
		jobs = append(jobs, sealevel.ExecuteParams{
			ProgramID: programId,
			Accounts: []accounts.Account{
				{Key: programId, Lamports: 1, Owner: sealevel.BpfLoader2Addr, Executable: true, Data: elf},
				{Key: key(byte(i + 1)), Owner: programId},
			},
			Metas:    []sealevel.AccountMeta{{Pubkey: key(byte(i + 1)), IsWritable: true}},
			Features: features.NewFeaturesAllEnabled(),
		})
	}

	out, err := exec.Run(context.Background(), jobs)
	require.NoError(t, err)
	for _, o := range out {
		require.NoError(t, o.Err)
		var custom *sealevel.CustomError
		require.ErrorAs(t, o.Result.Err, &custom)
		assert.Equal(t, uint32(9), custom.Code)
	}
	assert.Equal(t, 1, exec.cache.Len())
}

func TestExecutor_Cancelled(t *testing.T) {
	exec, err := New(1, 0)
	require.NoError(t, err)
	defer exec.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := exec.Run(ctx, []sealevel.ExecuteParams{transferJob(key(1), key(2), 1)})
	require.NoError(t, err)
	require.ErrorIs(t, out[0].Err, context.Canceled)
	assert.Nil(t, out[0].Result)
}

func TestCheckIndependent(t *testing.T) {
	require.NoError(t, CheckIndependent([]sealevel.ExecuteParams{
		transferJob(key(1), key(2), 1),
		transferJob(key(3), key(4), 1),
	}))

	err := CheckIndependent([]sealevel.ExecuteParams{
		transferJob(key(1), key(2), 1),
		transferJob(key(3), key(2), 1),
	})
	require.ErrorIs(t, err, ErrAccountConflict)

	readonly := func(k solana.PublicKey) sealevel.ExecuteParams {
		return sealevel.ExecuteParams{Metas: []sealevel.AccountMeta{{Pubkey: k}}}
	}
	require.NoError(t, CheckIndependent([]sealevel.ExecuteParams{readonly(key(9)), readonly(key(9))}))
	require.ErrorIs(t, CheckIndependent([]sealevel.ExecuteParams{
		readonly(key(1)),
		transferJob(key(1), key(5), 1),
	}), ErrAccountConflict)

	// an instruction may reference its own writable account twice
	self := transferJob(key(1), key(2), 1)
	self.Metas = append(self.Metas, sealevel.AccountMeta{Pubkey: key(1)})
	require.NoError(t, CheckIndependent([]sealevel.ExecuteParams{self}))
}

func TestNew_InvalidWorkers(t *testing.T) {
	_, err := New(0, 0)
	require.Error(t, err)
}
