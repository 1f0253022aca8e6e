package sealevel

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/base58"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const SysvarEpochRewardsAddrStr = "SysvarEpochRewards1111111111111111111111111"

var SysvarEpochRewardsAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarEpochRewardsAddrStr))

const SysvarEpochRewardsStructLen = 24

type SysvarEpochRewards struct {
	TotalRewards                    uint64
	DistributedRewards              uint64
	DistributionCompleteBlockHeight uint64
}

func (ser *SysvarEpochRewards) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	ser.TotalRewards, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read TotalRewards when decoding SysvarEpochRewards: %w", err)
	}

	ser.DistributedRewards, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read DistributedRewards when decoding SysvarEpochRewards: %w", err)
	}

	ser.DistributionCompleteBlockHeight, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read DistributionCompleteBlockHeight when decoding SysvarEpochRewards: %w", err)
	}
	return
}

func (ser *SysvarEpochRewards) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint64(ser.TotalRewards, bin.LE)
	_ = encoder.WriteUint64(ser.DistributedRewards, bin.LE)
	return encoder.WriteUint64(ser.DistributionCompleteBlockHeight, bin.LE)
}
