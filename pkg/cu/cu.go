package cu

import (
	"errors"

	"github.com/Overclock-Validator/quartz/pkg/safemath"
	"k8s.io/klog/v2"
)

var ErrComputeExceeded = errors.New("Compute exceeded")

// DefaultComputeUnitLimit is the per-invocation allotment used when the
// caller does not request a budget.
const DefaultComputeUnitLimit = 200_000

// ComputeMeter tracks compute consumed against a budget. Charges are
// monotonic: the remaining balance only ever decreases.
type ComputeMeter struct {
	computeMeter    uint64
	startingBalance uint64
	exceeded        bool
	disable         bool
}

func NewComputeMeter(budget uint64) ComputeMeter {
	return ComputeMeter{computeMeter: budget, startingBalance: budget}
}

func NewComputeMeterDefault() ComputeMeter {
	return NewComputeMeter(DefaultComputeUnitLimit)
}

// Consume charges cost units. On exhaustion the balance saturates to zero
// and ErrComputeExceeded is returned.
func (cm *ComputeMeter) Consume(cost uint64) error {
	cm.exceeded = cm.exceeded || cm.computeMeter < cost
	exhausted := cm.computeMeter < cost
	cm.computeMeter = safemath.SaturatingSubU64(cm.computeMeter, cost)

	if exhausted {
		if cm.disable {
			klog.Infof("CU limit exceeded in Consume, but skipping")
		} else {
			return ErrComputeExceeded
		}
	}

	return nil
}

// Child returns a meter for a nested invocation. The child never holds more
// than the parent has left.
func (cm *ComputeMeter) Child(allotment uint64) ComputeMeter {
	budget := min(allotment, cm.computeMeter)
	child := NewComputeMeter(budget)
	child.disable = cm.disable
	return child
}

// Absorb charges the parent with everything the child consumed.
func (cm *ComputeMeter) Absorb(child *ComputeMeter) error {
	return cm.Consume(child.Used())
}

func (cm *ComputeMeter) Used() uint64 {
	return cm.startingBalance - cm.computeMeter
}

func (cm *ComputeMeter) Exceeded() bool {
	return cm.exceeded
}

func (cm *ComputeMeter) Remaining() uint64 {
	return cm.computeMeter
}

func (cm *ComputeMeter) Budget() uint64 {
	return cm.startingBalance
}

func (cm *ComputeMeter) Disable() {
	cm.disable = true
}
