package sealevel

import (
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSysvarCache_Defaults(t *testing.T) {
	cache := NewSysvarCacheDefault(432_000 + 5)

	clock, err := cache.GetClock()
	require.NoError(t, err)
	assert.Equal(t, uint64(432_005), clock.Slot)
	assert.Equal(t, clock.Epoch+1, clock.LeaderScheduleEpoch)

	_, err = cache.GetRent()
	require.NoError(t, err)

	_, err = cache.GetEpochRewards()
	require.ErrorIs(t, err, InstrErrUnsupportedSysvar)
	_, err = cache.SysvarData(SysvarEpochRewardsAddr)
	require.ErrorIs(t, err, InstrErrUnsupportedSysvar)
	_, err = cache.SysvarData(keyA)
	require.ErrorIs(t, err, InstrErrUnsupportedSysvar)

	var nilCache *SysvarCache
	_, err = nilCache.GetClock()
	require.ErrorIs(t, err, InstrErrUnsupportedSysvar)
}

func TestSysvarCache_AccountsRoundTrip(t *testing.T) {
	src := NewSysvarCacheDefault(77)
	src.SetClock(SysvarClock{Slot: 77, Epoch: 3, LeaderScheduleEpoch: 4, UnixTimestamp: 1_700_000_000})
	src.SetRent(SysvarRent{LamportsPerByteYear: 1, ExemptionThreshold: 1.5, BurnPercent: 10})
	src.SetEpochRewards(SysvarEpochRewards{TotalRewards: 1000, DistributedRewards: 10})

	accts, err := src.Accounts()
	require.NoError(t, err)
	require.Len(t, accts, 8)

	store := accounts.NewMemAccounts()
	for _, acct := range accts {
		assert.Equal(t, SysvarOwnerAddr, acct.Owner)
		key := [32]byte(acct.Key)
		require.NoError(t, store.SetAccount(&key, acct))
	}

	dst := NewSysvarCacheDefault(0)
	require.NoError(t, dst.PopulateFromAccounts(store))

	clock, err := dst.GetClock()
	require.NoError(t, err)
	assert.Equal(t, SysvarClock{Slot: 77, Epoch: 3, LeaderScheduleEpoch: 4, UnixTimestamp: 1_700_000_000}, *clock)

	rent, err := dst.GetRent()
	require.NoError(t, err)
	assert.Equal(t, 1.5, rent.ExemptionThreshold)

	rewards, err := dst.GetEpochRewards()
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), rewards.TotalRewards)

	for _, acct := range accts {
		data, err := dst.SysvarData(acct.Key)
		require.NoError(t, err)
		assert.Equal(t, acct.Data, data, acct.Key.String())
	}
}

func TestSysvarCache_PopulateSkipsMissing(t *testing.T) {
	cache := NewSysvarCacheDefault(12)
	require.NoError(t, cache.PopulateFromAccounts(accounts.NewMemAccounts()))
	clock, err := cache.GetClock()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), clock.Slot)
}

func TestInstructionsSysvar(t *testing.T) {
	instrs := []Instruction{
		NewTransferInstruction(keyA, keyB, 5),
		{ProgramId: testProgramId, Accounts: []AccountMeta{{Pubkey: keyC}}, Data: []byte{1, 2, 3}},
	}
	acct := newInstructionsSysvarAccount(instrs, 1)
	assert.Equal(t, SysvarInstructionsAddr, acct.Key)

	for i, want := range instrs {
		got, err := LoadInstructionAt(acct.Data, uint16(i))
		require.NoError(t, err)
		assert.Equal(t, want.ProgramId, got.ProgramId)
		assert.Equal(t, want.Accounts, got.Accounts)
		assert.Equal(t, want.Data, got.Data)
	}

	_, err := LoadInstructionAt(acct.Data, 2)
	require.ErrorIs(t, err, InstrErrInvalidArgument)
	_, err = LoadInstructionAt(acct.Data[:1], 0)
	require.ErrorIs(t, err, InstrErrInvalidAccountData)
	_, err = LoadInstructionAt(acct.Data[:40], 0)
	require.ErrorIs(t, err, InstrErrInvalidAccountData)
}
