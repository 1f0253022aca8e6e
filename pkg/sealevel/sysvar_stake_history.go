package sealevel

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/base58"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const SysvarStakeHistoryAddrStr = "SysvarStakeHistory1111111111111111111111111"

var SysvarStakeHistoryAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarStakeHistoryAddrStr))

const MaxStakeHistoryEntries = 512

type StakeHistoryEntry struct {
	Effective    uint64
	Activating   uint64
	Deactivating uint64
}

type StakeHistoryPair struct {
	Epoch uint64
	Entry StakeHistoryEntry
}

type SysvarStakeHistory []StakeHistoryPair

func (sh *SysvarStakeHistory) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	entriesLen, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read length of entries when decoding SysvarStakeHistory: %w", err)
	}
	if entriesLen > MaxStakeHistoryEntries {
		return fmt.Errorf("too many stake history entries: %d", entriesLen)
	}

	stakeHistory := make(SysvarStakeHistory, 0, entriesLen)
	for count := uint64(0); count < entriesLen; count++ {
		var pair StakeHistoryPair

		pair.Epoch, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Epoch when decoding SysvarStakeHistory: %w", err)
		}
		pair.Entry.Effective, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Effective when decoding SysvarStakeHistory: %w", err)
		}
		pair.Entry.Activating, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Activating when decoding SysvarStakeHistory: %w", err)
		}
		pair.Entry.Deactivating, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return fmt.Errorf("failed to read Deactivating when decoding SysvarStakeHistory: %w", err)
		}

		stakeHistory = append(stakeHistory, pair)
	}

	*sh = stakeHistory
	return
}

func (sh *SysvarStakeHistory) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := encoder.WriteUint64(uint64(len(*sh)), bin.LE)
	if err != nil {
		return err
	}
	for _, pair := range *sh {
		_ = encoder.WriteUint64(pair.Epoch, bin.LE)
		_ = encoder.WriteUint64(pair.Entry.Effective, bin.LE)
		_ = encoder.WriteUint64(pair.Entry.Activating, bin.LE)
		err = encoder.WriteUint64(pair.Entry.Deactivating, bin.LE)
		if err != nil {
			return err
		}
	}
	return nil
}

func (sh *SysvarStakeHistory) Get(epoch uint64) *StakeHistoryEntry {
	for i := range *sh {
		if (*sh)[i].Epoch == epoch {
			return &(*sh)[i].Entry
		}
	}
	return nil
}
