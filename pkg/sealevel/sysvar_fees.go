package sealevel

import (
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/base58"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const SysvarFeesAddrStr = "SysvarFees111111111111111111111111111111111"

var SysvarFeesAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarFeesAddrStr))

const SysvarFeesStructLen = 8

const DefaultLamportsPerSignature = 5000

type FeeCalculator struct {
	LamportsPerSignature uint64
}

type SysvarFees struct {
	FeeCalculator FeeCalculator
}

func (sf *SysvarFees) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	sf.FeeCalculator.LamportsPerSignature, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read LamportsPerSignature when decoding SysvarFees: %w", err)
	}
	return
}

func (sf *SysvarFees) MarshalWithEncoder(encoder *bin.Encoder) error {
	return encoder.WriteUint64(sf.FeeCalculator.LamportsPerSignature, bin.LE)
}
