package features

import (
	"github.com/Overclock-Validator/quartz/pkg/base58"
)

type FeatureGate struct {
	Name    string
	Address [32]byte
}

var StopTruncatingStringsInSyscalls = FeatureGate{Name: "StopTruncatingStringsInSyscalls", Address: base58.MustDecodeFromString("16FMCmgLzCNNz6eTwGanbyN2ZxvTBSLuQ6DZhgeMshg")}
var EnablePartitionedEpochReward = FeatureGate{Name: "EnablePartitionedEpochReward", Address: base58.MustDecodeFromString("41tVp5qR1XwWRt5WifvtSQyuxtqQWJgEK8w91AtBqSwP")}
var LastRestartSlotSysvar = FeatureGate{Name: "LastRestartSlotSysvar", Address: base58.MustDecodeFromString("HooKD5NC9QNxk25QuzCssB8ecrEzGt6eXEPBUxWp1LaR")}
var Blake3SyscallEnabled = FeatureGate{Name: "Blake3SyscallEnabled", Address: base58.MustDecodeFromString("HTW2pSyErTj4BV6KBM9NZ9VBUJVxt7sacNWcf76wtzb3")}
var LoosenCpiSizeRestriction = FeatureGate{Name: "LoosenCpiSizeRestriction", Address: base58.MustDecodeFromString("GDH5TVdbTPUpRnXaRyQqiKUa7uZAbZ28Q2N9bhbKoMLm")}
var RemainingComputeUnitsSyscallEnabled = FeatureGate{Name: "RemainingComputeUnitsSyscallEnabled", Address: base58.MustDecodeFromString("5TuppMutoyzhUSfuYdhgzD47F92GL1g89KpCZQKqedxP")}

// AllFeatureGates lists every gate known to the runtime.
var AllFeatureGates = []FeatureGate{
	StopTruncatingStringsInSyscalls,
	EnablePartitionedEpochReward,
	LastRestartSlotSysvar,
	Blake3SyscallEnabled,
	LoosenCpiSizeRestriction,
	RemainingComputeUnitsSyscallEnabled,
}

// FeatureGateByName looks up a gate by name or base58 address.
func FeatureGateByName(name string) (FeatureGate, bool) {
	for _, g := range AllFeatureGates {
		if g.Name == name || base58.Encode(g.Address[:]) == name {
			return g, true
		}
	}
	return FeatureGate{}, false
}
