package sealevel

import (
	"errors"

	"github.com/Overclock-Validator/quartz/pkg/accounts"
	"github.com/gagliardetto/solana-go"
	"k8s.io/klog/v2"
)

// SysvarCache holds decoded sysvars for one execution. Missing entries make
// the corresponding getters fail with InstrErrUnsupportedSysvar.
type SysvarCache struct {
	clock             *SysvarClock
	rent              *SysvarRent
	epochSchedule     *SysvarEpochSchedule
	fees              *SysvarFees
	recentBlockHashes *SysvarRecentBlockhashes
	stakeHistory      *SysvarStakeHistory
	epochRewards      *SysvarEpochRewards
	lastRestartSlot   *SysvarLastRestartSlot
}

// NewSysvarCacheDefault returns a cache with mainnet defaults at slot.
func NewSysvarCacheDefault(slot uint64) *SysvarCache {
	epochSchedule := DefaultEpochSchedule()
	rent := DefaultRent()
	return &SysvarCache{
		clock:             &SysvarClock{Slot: slot, Epoch: epochSchedule.Epoch(slot), LeaderScheduleEpoch: epochSchedule.Epoch(slot) + 1},
		rent:              &rent,
		epochSchedule:     &epochSchedule,
		fees:              &SysvarFees{FeeCalculator: FeeCalculator{LamportsPerSignature: DefaultLamportsPerSignature}},
		recentBlockHashes: &SysvarRecentBlockhashes{},
		stakeHistory:      &SysvarStakeHistory{},
		lastRestartSlot:   &SysvarLastRestartSlot{},
	}
}

// PopulateFromAccounts replaces cached entries with the sysvar accounts
// found in accts. Absent accounts leave the entry untouched.
func (sysvarCache *SysvarCache) PopulateFromAccounts(accts accounts.Accounts) error {
	fill := func(addr solana.PublicKey, v sysvarUnmarshaler, set func()) error {
		err := readSysvarAccount(accts, addr, v)
		if errors.Is(err, InstrErrUnsupportedSysvar) {
			return nil
		}
		if err != nil {
			return err
		}
		klog.V(4).Infof("loaded sysvar %s from accounts", addr)
		set()
		return nil
	}

	var clock SysvarClock
	var rent SysvarRent
	var epochSchedule SysvarEpochSchedule
	var fees SysvarFees
	var recentBlockhashes SysvarRecentBlockhashes
	var stakeHistory SysvarStakeHistory
	var epochRewards SysvarEpochRewards
	var lastRestartSlot SysvarLastRestartSlot

	return errors.Join(
		fill(SysvarClockAddr, &clock, func() { sysvarCache.clock = &clock }),
		fill(SysvarRentAddr, &rent, func() { sysvarCache.rent = &rent }),
		fill(SysvarEpochScheduleAddr, &epochSchedule, func() { sysvarCache.epochSchedule = &epochSchedule }),
		fill(SysvarFeesAddr, &fees, func() { sysvarCache.fees = &fees }),
		fill(SysvarRecentBlockHashesAddr, &recentBlockhashes, func() { sysvarCache.recentBlockHashes = &recentBlockhashes }),
		fill(SysvarStakeHistoryAddr, &stakeHistory, func() { sysvarCache.stakeHistory = &stakeHistory }),
		fill(SysvarEpochRewardsAddr, &epochRewards, func() { sysvarCache.epochRewards = &epochRewards }),
		fill(SysvarLastRestartSlotAddr, &lastRestartSlot, func() { sysvarCache.lastRestartSlot = &lastRestartSlot }),
	)
}

func (sysvarCache *SysvarCache) SetClock(clock SysvarClock) {
	sysvarCache.clock = &clock
}

func (sysvarCache *SysvarCache) SetRent(rent SysvarRent) {
	sysvarCache.rent = &rent
}

func (sysvarCache *SysvarCache) SetEpochRewards(epochRewards SysvarEpochRewards) {
	sysvarCache.epochRewards = &epochRewards
}

func (sysvarCache *SysvarCache) GetClock() (*SysvarClock, error) {
	if sysvarCache == nil || sysvarCache.clock == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.clock, nil
}

func (sysvarCache *SysvarCache) GetRent() (*SysvarRent, error) {
	if sysvarCache == nil || sysvarCache.rent == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.rent, nil
}

func (sysvarCache *SysvarCache) GetEpochSchedule() (*SysvarEpochSchedule, error) {
	if sysvarCache == nil || sysvarCache.epochSchedule == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.epochSchedule, nil
}

func (sysvarCache *SysvarCache) GetFees() (*SysvarFees, error) {
	if sysvarCache == nil || sysvarCache.fees == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.fees, nil
}

func (sysvarCache *SysvarCache) GetRecentBlockHashes() (*SysvarRecentBlockhashes, error) {
	if sysvarCache == nil || sysvarCache.recentBlockHashes == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.recentBlockHashes, nil
}

func (sysvarCache *SysvarCache) GetStakeHistory() (*SysvarStakeHistory, error) {
	if sysvarCache == nil || sysvarCache.stakeHistory == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.stakeHistory, nil
}

func (sysvarCache *SysvarCache) GetEpochRewards() (*SysvarEpochRewards, error) {
	if sysvarCache == nil || sysvarCache.epochRewards == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.epochRewards, nil
}

func (sysvarCache *SysvarCache) GetLastRestartSlot() (*SysvarLastRestartSlot, error) {
	if sysvarCache == nil || sysvarCache.lastRestartSlot == nil {
		return nil, InstrErrUnsupportedSysvar
	}
	return sysvarCache.lastRestartSlot, nil
}

// SysvarData returns the serialized sysvar with the given address.
func (sysvarCache *SysvarCache) SysvarData(addr solana.PublicKey) ([]byte, error) {
	var sysvar sysvarMarshaler
	var err error
	switch addr {
	case SysvarClockAddr:
		sysvar, err = sysvarCache.GetClock()
	case SysvarRentAddr:
		sysvar, err = sysvarCache.GetRent()
	case SysvarEpochScheduleAddr:
		sysvar, err = sysvarCache.GetEpochSchedule()
	case SysvarFeesAddr:
		sysvar, err = sysvarCache.GetFees()
	case SysvarRecentBlockHashesAddr:
		sysvar, err = sysvarCache.GetRecentBlockHashes()
	case SysvarStakeHistoryAddr:
		sysvar, err = sysvarCache.GetStakeHistory()
	case SysvarEpochRewardsAddr:
		sysvar, err = sysvarCache.GetEpochRewards()
	case SysvarLastRestartSlotAddr:
		sysvar, err = sysvarCache.GetLastRestartSlot()
	default:
		return nil, InstrErrUnsupportedSysvar
	}
	if err != nil {
		return nil, err
	}
	return marshalSysvar(sysvar)
}

// Accounts materializes every cached sysvar as an account record.
func (sysvarCache *SysvarCache) Accounts() ([]*accounts.Account, error) {
	var out []*accounts.Account
	for _, addr := range []solana.PublicKey{
		SysvarClockAddr,
		SysvarRentAddr,
		SysvarEpochScheduleAddr,
		SysvarFeesAddr,
		SysvarRecentBlockHashesAddr,
		SysvarStakeHistoryAddr,
		SysvarEpochRewardsAddr,
		SysvarLastRestartSlotAddr,
	} {
		data, err := sysvarCache.SysvarData(addr)
		if errors.Is(err, InstrErrUnsupportedSysvar) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, &accounts.Account{Key: addr, Lamports: 1, Data: data, Owner: SysvarOwnerAddr})
	}
	return out, nil
}
