package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// The TestFflags_EnableAndDisable function tests that the
// enable and disable features work correctly.
func TestFflags_EnableAndDisable(t *testing.T) {
	f := NewFeaturesDefault()
	f.EnableFeature(StopTruncatingStringsInSyscalls, 0)
	assert.Equal(t, f.IsActive(StopTruncatingStringsInSyscalls), true)
	f.DisableFeature(StopTruncatingStringsInSyscalls)
	assert.Equal(t, f.IsActive(StopTruncatingStringsInSyscalls), false)
	f.EnableFeature(StopTruncatingStringsInSyscalls, 0)
	assert.Equal(t, f.IsActive(StopTruncatingStringsInSyscalls), true)
}

// The TestFflags_ListEnabled function tests that the AllEnabled function works
// as expected.
func TestFflags_ListEnabled(t *testing.T) {
	f := NewFeaturesDefault()
	f.EnableFeature(StopTruncatingStringsInSyscalls, 0)
	assert.Equal(t, f.AllEnabled(), []string{"feature StopTruncatingStringsInSyscalls (16FMCmgLzCNNz6eTwGanbyN2ZxvTBSLuQ6DZhgeMshg) enabled"})
}

func TestFflags_ActivationSlot(t *testing.T) {
	f := NewFeaturesDefault()
	_, ok := f.ActivationSlot(Blake3SyscallEnabled)
	assert.False(t, ok)

	f.EnableFeature(Blake3SyscallEnabled, 1234)
	slot, ok := f.ActivationSlot(Blake3SyscallEnabled)
	assert.True(t, ok)
	assert.Equal(t, uint64(1234), slot)

	var nilFeatures *Features
	assert.False(t, nilFeatures.IsActive(Blake3SyscallEnabled))
}

func TestFeatureGateByName(t *testing.T) {
	g, ok := FeatureGateByName("LoosenCpiSizeRestriction")
	assert.True(t, ok)
	assert.Equal(t, LoosenCpiSizeRestriction, g)

	g, ok = FeatureGateByName("HTW2pSyErTj4BV6KBM9NZ9VBUJVxt7sacNWcf76wtzb3")
	assert.True(t, ok)
	assert.Equal(t, Blake3SyscallEnabled, g)

	_, ok = FeatureGateByName("nope")
	assert.False(t, ok)

	all := NewFeaturesAllEnabled()
	assert.Len(t, all.AllEnabled(), len(AllFeatureGates))
}
