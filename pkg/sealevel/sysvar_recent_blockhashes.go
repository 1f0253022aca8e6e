package sealevel

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/base58"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const SysvarRecentBlockHashesAddrStr = "SysvarRecentB1ockHashes11111111111111111111"

var SysvarRecentBlockHashesAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarRecentBlockHashesAddrStr))

const MaxRecentBlockhashes = 150

type RecentBlockHashesEntry struct {
	Blockhash     [32]byte
	FeeCalculator FeeCalculator
}

type SysvarRecentBlockhashes []RecentBlockHashesEntry

func (recentBlockhashes *SysvarRecentBlockhashes) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	numBlockhashes, err := decoder.ReadUint64(bin.LE)
	if err != nil {
		return err
	}
	if numBlockhashes > MaxRecentBlockhashes {
		return fmt.Errorf("too many recent blockhashes: %d", numBlockhashes)
	}

	entries := make(SysvarRecentBlockhashes, 0, numBlockhashes)
	for count := uint64(0); count < numBlockhashes; count++ {
		var entry RecentBlockHashesEntry
		hash, err := decoder.ReadBytes(32)
		if err != nil {
			return err
		}
		copy(entry.Blockhash[:], hash)

		entry.FeeCalculator.LamportsPerSignature, err = decoder.ReadUint64(bin.LE)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	*recentBlockhashes = entries
	return nil
}

func (recentBlockhashes *SysvarRecentBlockhashes) MarshalWithEncoder(encoder *bin.Encoder) error {
	err := encoder.WriteUint64(uint64(len(*recentBlockhashes)), bin.LE)
	if err != nil {
		return err
	}

	for _, entry := range *recentBlockhashes {
		err = encoder.WriteBytes(entry.Blockhash[:], false)
		if err != nil {
			return err
		}
		err = encoder.WriteUint64(entry.FeeCalculator.LamportsPerSignature, bin.LE)
		if err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the most recent entry, if any.
func (recentBlockhashes *SysvarRecentBlockhashes) Latest() (RecentBlockHashesEntry, bool) {
	rbh := *recentBlockhashes
	if len(rbh) == 0 {
		return RecentBlockHashesEntry{}, false
	}
	return rbh[0], true
}
