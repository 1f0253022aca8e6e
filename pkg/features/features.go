// Package features tracks which protocol feature gates are active.
package features

import (
	"fmt"
	"slices"

	"github.com/Overclock-Validator/quartz/pkg/base58"
)

type featureStatus struct {
	enabled bool
	slot    uint64
}

// Features is a set of feature gates and their activation slots.
type Features struct {
	gates map[[32]byte]featureStatus
	names map[[32]byte]string
}

func NewFeaturesDefault() *Features {
	return &Features{
		gates: make(map[[32]byte]featureStatus),
		names: make(map[[32]byte]string),
	}
}

// NewFeaturesAllEnabled returns a set with every known gate active since
// slot 0.
func NewFeaturesAllEnabled() *Features {
	f := NewFeaturesDefault()
	for _, g := range AllFeatureGates {
		f.EnableFeature(g, 0)
	}
	return f
}

func (f *Features) EnableFeature(gate FeatureGate, slot uint64) {
	f.gates[gate.Address] = featureStatus{enabled: true, slot: slot}
	f.names[gate.Address] = gate.Name
}

func (f *Features) DisableFeature(gate FeatureGate) {
	f.gates[gate.Address] = featureStatus{enabled: false}
	f.names[gate.Address] = gate.Name
}

func (f *Features) IsActive(gate FeatureGate) bool {
	if f == nil {
		return false
	}
	return f.gates[gate.Address].enabled
}

// ActivationSlot returns the slot the gate was enabled at.
func (f *Features) ActivationSlot(gate FeatureGate) (uint64, bool) {
	s, ok := f.gates[gate.Address]
	if !ok || !s.enabled {
		return 0, false
	}
	return s.slot, true
}

// AllEnabled describes each active gate, sorted by name.
func (f *Features) AllEnabled() []string {
	var out []string
	for addr, s := range f.gates {
		if s.enabled {
			out = append(out, fmt.Sprintf("feature %s (%s) enabled", f.names[addr], base58.Encode(addr[:])))
		}
	}
	slices.Sort(out)
	return out
}
