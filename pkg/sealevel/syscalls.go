package sealevel

import (
	"github.com/Overclock-Validator/quartz/pkg/features"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"k8s.io/klog/v2"
)

// Syscalls creates a registry of all Sealevel syscalls. Deploy registries
// omit syscalls that only make sense while a program runs.
func Syscalls(f *features.Features, isDeploy bool) sbpf.SyscallRegistry {
	reg := sbpf.NewSyscallRegistry()
	register := func(name string, sc sbpf.Syscall) {
		if _, ok := reg.Register(name, sc); !ok {
			klog.Fatalf("duplicate syscall %s", name)
		}
	}

	register("abort", SyscallAbort)
	register("sol_panic_", SyscallPanic)

	register("sol_log_", SyscallLog)
	register("sol_log_64_", SyscallLog64)
	register("sol_log_pubkey", SyscallLogPubkey)
	register("sol_log_compute_units_", SyscallLogCUs)
	register("sol_log_data", SyscallLogData)

	register("sol_sha256", SyscallSha256)
	register("sol_keccak256", SyscallKeccak256)
	if f.IsActive(features.Blake3SyscallEnabled) {
		register("sol_blake3", SyscallBlake3)
	}
	register("sol_secp256k1_recover", SyscallSecp256k1Recover)

	register("sol_memcpy_", SyscallMemcpy)
	register("sol_memcmp_", SyscallMemcmp)
	register("sol_memset_", SyscallMemset)
	register("sol_memmove_", SyscallMemmove)

	if !isDeploy {
		register("sol_alloc_free_", SyscallAllocFree)
	}

	register("sol_create_program_address", SyscallCreateProgramAddress)
	register("sol_try_find_program_address", SyscallTryFindProgramAddress)

	register("sol_get_stack_height", SyscallGetStackHeight)
	register("sol_get_return_data", SyscallGetReturnData)
	register("sol_set_return_data", SyscallSetReturnData)
	register("sol_get_processed_sibling_instruction", SyscallGetProcessedSiblingInstruction)

	if f.IsActive(features.RemainingComputeUnitsSyscallEnabled) {
		register("sol_remaining_compute_units", SyscallRemainingComputeUnits)
	}

	register("sol_get_clock_sysvar", SyscallGetClockSysvar)
	register("sol_get_rent_sysvar", SyscallGetRentSysvar)
	register("sol_get_epoch_schedule_sysvar", SyscallGetEpochScheduleSysvar)
	register("sol_get_fees_sysvar", SyscallGetFeesSysvar)
	register("sol_get_sysvar", SyscallGetSysvar)

	if f.IsActive(features.EnablePartitionedEpochReward) {
		register("sol_get_epoch_rewards_sysvar", SyscallGetEpochRewardsSysvar)
	}

	if f.IsActive(features.LastRestartSlotSysvar) {
		register("sol_get_last_restart_slot_sysvar", SyscallGetLastRestartSlotSysvar)
	}

	register("sol_invoke_signed_c", SyscallInvokeSignedC)
	register("sol_invoke_signed_rust", SyscallInvokeSignedRust)

	return reg
}
