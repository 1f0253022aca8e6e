package sealevel

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
)

// sol_get_sysvar status codes returned in r0.
const (
	SysvarStatusNotFound             = 1
	SysvarStatusOffsetLengthExceeded = 2
)

// writeSysvar charges the sysvar read and exposes size bytes of writable
// guest memory at addr. Sysvar structs need 8-byte alignment.
func writeSysvar(vm sbpf.VM, addr uint64, size uint64) ([]byte, error) {
	if err := consume(vm, CUSyscallBaseCost+size); err != nil {
		return nil, err
	}
	if err := checkAligned(vm, addr, 8); err != nil {
		return nil, err
	}
	return vm.Translate(addr, size, true)
}

// SyscallGetClockSysvarImpl is an implementation of the sol_get_clock_sysvar syscall
func SyscallGetClockSysvarImpl(vm sbpf.VM, addr uint64) (uint64, error) {
	dst, err := writeSysvar(vm, addr, SysvarClockStructLen)
	if err != nil {
		return syscallErr(err)
	}
	clock, err := executionCtx(vm).SysvarCache.GetClock()
	if err != nil {
		return syscallErr(err)
	}

	binary.LittleEndian.PutUint64(dst[0:8], clock.Slot)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(clock.EpochStartTimestamp))
	binary.LittleEndian.PutUint64(dst[16:24], clock.Epoch)
	binary.LittleEndian.PutUint64(dst[24:32], clock.LeaderScheduleEpoch)
	binary.LittleEndian.PutUint64(dst[32:40], uint64(clock.UnixTimestamp))
	return syscallSuccess(0)
}

var SyscallGetClockSysvar = sbpf.SyscallFunc1(SyscallGetClockSysvarImpl)

// SyscallGetRentSysvarImpl is an implementation of the sol_get_rent_sysvar syscall
func SyscallGetRentSysvarImpl(vm sbpf.VM, addr uint64) (uint64, error) {
	dst, err := writeSysvar(vm, addr, SysvarRentStructLen)
	if err != nil {
		return syscallErr(err)
	}
	rent, err := executionCtx(vm).SysvarCache.GetRent()
	if err != nil {
		return syscallErr(err)
	}

	clear(dst)
	binary.LittleEndian.PutUint64(dst[0:8], rent.LamportsPerByteYear)
	binary.LittleEndian.PutUint64(dst[8:16], math.Float64bits(rent.ExemptionThreshold))
	dst[16] = rent.BurnPercent
	return syscallSuccess(0)
}

var SyscallGetRentSysvar = sbpf.SyscallFunc1(SyscallGetRentSysvarImpl)

// SyscallGetEpochScheduleSysvarImpl is an implementation of the sol_get_epoch_schedule_sysvar syscall
func SyscallGetEpochScheduleSysvarImpl(vm sbpf.VM, addr uint64) (uint64, error) {
	dst, err := writeSysvar(vm, addr, SysvarEpochScheduleStructLen)
	if err != nil {
		return syscallErr(err)
	}
	schedule, err := executionCtx(vm).SysvarCache.GetEpochSchedule()
	if err != nil {
		return syscallErr(err)
	}

	clear(dst)
	binary.LittleEndian.PutUint64(dst[0:8], schedule.SlotsPerEpoch)
	binary.LittleEndian.PutUint64(dst[8:16], schedule.LeaderScheduleSlotOffset)
	if schedule.Warmup {
		dst[16] = 1
	}
	binary.LittleEndian.PutUint64(dst[24:32], schedule.FirstNormalEpoch)
	binary.LittleEndian.PutUint64(dst[32:40], schedule.FirstNormalSlot)
	return syscallSuccess(0)
}

var SyscallGetEpochScheduleSysvar = sbpf.SyscallFunc1(SyscallGetEpochScheduleSysvarImpl)

// SyscallGetFeesSysvarImpl is an implementation of the sol_get_fees_sysvar syscall
func SyscallGetFeesSysvarImpl(vm sbpf.VM, addr uint64) (uint64, error) {
	dst, err := writeSysvar(vm, addr, SysvarFeesStructLen)
	if err != nil {
		return syscallErr(err)
	}
	fees, err := executionCtx(vm).SysvarCache.GetFees()
	if err != nil {
		return syscallErr(err)
	}

	binary.LittleEndian.PutUint64(dst[0:8], fees.FeeCalculator.LamportsPerSignature)
	return syscallSuccess(0)
}

var SyscallGetFeesSysvar = sbpf.SyscallFunc1(SyscallGetFeesSysvarImpl)

// SyscallGetEpochRewardsSysvarImpl is an implementation of the sol_get_epoch_rewards_sysvar syscall
func SyscallGetEpochRewardsSysvarImpl(vm sbpf.VM, addr uint64) (uint64, error) {
	dst, err := writeSysvar(vm, addr, SysvarEpochRewardsStructLen)
	if err != nil {
		return syscallErr(err)
	}
	rewards, err := executionCtx(vm).SysvarCache.GetEpochRewards()
	if err != nil {
		return syscallErr(err)
	}

	binary.LittleEndian.PutUint64(dst[0:8], rewards.TotalRewards)
	binary.LittleEndian.PutUint64(dst[8:16], rewards.DistributedRewards)
	binary.LittleEndian.PutUint64(dst[16:24], rewards.DistributionCompleteBlockHeight)
	return syscallSuccess(0)
}

var SyscallGetEpochRewardsSysvar = sbpf.SyscallFunc1(SyscallGetEpochRewardsSysvarImpl)

// SyscallGetLastRestartSlotSysvarImpl is an implementation of the sol_get_last_restart_slot_sysvar syscall
func SyscallGetLastRestartSlotSysvarImpl(vm sbpf.VM, addr uint64) (uint64, error) {
	dst, err := writeSysvar(vm, addr, SysvarLastRestartSlotStructLen)
	if err != nil {
		return syscallErr(err)
	}
	lrs, err := executionCtx(vm).SysvarCache.GetLastRestartSlot()
	if err != nil {
		return syscallErr(err)
	}

	binary.LittleEndian.PutUint64(dst[0:8], lrs.LastRestartSlot)
	return syscallSuccess(0)
}

var SyscallGetLastRestartSlotSysvar = sbpf.SyscallFunc1(SyscallGetLastRestartSlotSysvarImpl)

// SyscallGetSysvarImpl is an implementation of the sol_get_sysvar syscall.
// It copies length bytes at offset of the serialized sysvar identified by
// the address at idAddr.
func SyscallGetSysvarImpl(vm sbpf.VM, idAddr, varAddr, offset, length uint64) (uint64, error) {
	cost := safemath.SaturatingAddU64(CUSyscallBaseCost, length/CUCpiBytesPerUnit)
	if err := consume(vm, cost); err != nil {
		return syscallErr(err)
	}

	id, err := readPubkey(vm, idAddr)
	if err != nil {
		return syscallErr(err)
	}
	dst, err := vm.Translate(varAddr, length, true)
	if err != nil {
		return syscallErr(err)
	}

	end, err := safemath.CheckedAddU64(offset, length)
	if err != nil {
		return syscallErr(SyscallErrArithmeticOverflow)
	}

	data, err := executionCtx(vm).SysvarCache.SysvarData(id)
	if errors.Is(err, InstrErrUnsupportedSysvar) {
		return syscallSuccess(SysvarStatusNotFound)
	} else if err != nil {
		return syscallErr(err)
	}
	if end > uint64(len(data)) {
		return syscallSuccess(SysvarStatusOffsetLengthExceeded)
	}

	copy(dst, data[offset:end])
	return syscallSuccess(0)
}

var SyscallGetSysvar = sbpf.SyscallFunc4(SyscallGetSysvarImpl)
