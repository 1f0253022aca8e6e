package sealevel

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/base58"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const SysvarLastRestartSlotAddrStr = "SysvarLastRestartS1ot1111111111111111111111"

var SysvarLastRestartSlotAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarLastRestartSlotAddrStr))

const SysvarLastRestartSlotStructLen = 8

type SysvarLastRestartSlot struct {
	LastRestartSlot uint64
}

func (lrs *SysvarLastRestartSlot) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	lrs.LastRestartSlot, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read LastRestartSlot when decoding SysvarLastRestartSlot: %w", err)
	}
	return
}

func (lrs *SysvarLastRestartSlot) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteUint64(lrs.LastRestartSlot, bin.LE)
}
