package sealevel

import (
	"fmt"
	"math/bits"

	"github.com/Overclock-Validator/quartz/pkg/base58"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const SysvarEpochScheduleAddrStr = "SysvarEpochSchedu1e111111111111111111111111"

var SysvarEpochScheduleAddr = solana.PublicKey(base58.MustDecodeFromString(SysvarEpochScheduleAddrStr))

// SysvarEpochScheduleStructLen is the in-memory size of EpochSchedule as
// seen by programs.
const SysvarEpochScheduleStructLen = 40

type SysvarEpochSchedule struct {
	SlotsPerEpoch            uint64
	LeaderScheduleSlotOffset uint64
	Warmup                   bool
	FirstNormalEpoch         uint64
	FirstNormalSlot          uint64
}

func DefaultEpochSchedule() SysvarEpochSchedule {
	return SysvarEpochSchedule{
		SlotsPerEpoch:            432_000,
		LeaderScheduleSlotOffset: 432_000,
		Warmup:                   true,
		FirstNormalEpoch:         14,
		FirstNormalSlot:          524_256,
	}
}

const minimumSlotsPerEpoch = 32

// Epoch returns the epoch containing slot.
func (ses *SysvarEpochSchedule) Epoch(slot uint64) uint64 {
	if ses.Warmup && slot < ses.FirstNormalSlot {
		return uint64(bits.Len64(slot+minimumSlotsPerEpoch)) - uint64(bits.Len64(minimumSlotsPerEpoch-1)) - 1
	}
	if ses.SlotsPerEpoch == 0 {
		return 0
	}
	return (slot-min(slot, ses.FirstNormalSlot))/ses.SlotsPerEpoch + ses.FirstNormalEpoch
}

func (ses *SysvarEpochSchedule) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	ses.SlotsPerEpoch, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read SlotsPerEpoch when decoding SysvarEpochSchedule: %w", err)
	}

	ses.LeaderScheduleSlotOffset, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read LeaderScheduleSlotOffset when decoding SysvarEpochSchedule: %w", err)
	}

	ses.Warmup, err = decoder.ReadBool()
	if err != nil {
		return fmt.Errorf("failed to read Warmup when decoding SysvarEpochSchedule: %w", err)
	}

	ses.FirstNormalEpoch, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read FirstNormalEpoch when decoding SysvarEpochSchedule: %w", err)
	}

	ses.FirstNormalSlot, err = decoder.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("failed to read FirstNormalSlot when decoding SysvarEpochSchedule: %w", err)
	}
	return
}

func (ses *SysvarEpochSchedule) MarshalWithEncoder(encoder *bin.Encoder) error {
	_ = encoder.WriteUint64(ses.SlotsPerEpoch, bin.LE)
	_ = encoder.WriteUint64(ses.LeaderScheduleSlotOffset, bin.LE)
	_ = encoder.WriteBool(ses.Warmup)
	_ = encoder.WriteUint64(ses.FirstNormalEpoch, bin.LE)
	return encoder.WriteUint64(ses.FirstNormalSlot, bin.LE)
}
