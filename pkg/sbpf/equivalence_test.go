package sbpf_test

import (
	"fmt"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/cu"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/sbpfasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rand"
)

var (
	aluImmOps = []uint8{
		sbpf.OpAdd32Imm, sbpf.OpSub32Imm, sbpf.OpMul32Imm, sbpf.OpOr32Imm, sbpf.OpAnd32Imm,
		sbpf.OpXor32Imm, sbpf.OpMov32Imm, sbpf.OpAdd64Imm, sbpf.OpSub64Imm, sbpf.OpMul64Imm,
		sbpf.OpOr64Imm, sbpf.OpAnd64Imm, sbpf.OpXor64Imm, sbpf.OpMov64Imm,
	}
	divImmOps = []uint8{
		sbpf.OpDiv32Imm, sbpf.OpMod32Imm, sbpf.OpSdiv32Imm,
		sbpf.OpDiv64Imm, sbpf.OpMod64Imm, sbpf.OpSdiv64Imm,
	}
	shift32ImmOps = []uint8{sbpf.OpLsh32Imm, sbpf.OpRsh32Imm, sbpf.OpArsh32Imm}
	shift64ImmOps = []uint8{sbpf.OpLsh64Imm, sbpf.OpRsh64Imm, sbpf.OpArsh64Imm}
	aluRegOps     = []uint8{
		sbpf.OpAdd32Reg, sbpf.OpSub32Reg, sbpf.OpMul32Reg, sbpf.OpDiv32Reg, sbpf.OpOr32Reg,
		sbpf.OpAnd32Reg, sbpf.OpLsh32Reg, sbpf.OpRsh32Reg, sbpf.OpMod32Reg, sbpf.OpXor32Reg,
		sbpf.OpMov32Reg, sbpf.OpArsh32Reg, sbpf.OpSdiv32Reg,
		sbpf.OpAdd64Reg, sbpf.OpSub64Reg, sbpf.OpMul64Reg, sbpf.OpDiv64Reg, sbpf.OpOr64Reg,
		sbpf.OpAnd64Reg, sbpf.OpLsh64Reg, sbpf.OpRsh64Reg, sbpf.OpMod64Reg, sbpf.OpXor64Reg,
		sbpf.OpMov64Reg, sbpf.OpArsh64Reg, sbpf.OpSdiv64Reg,
	}
	jmpImmOps = []uint8{
		sbpf.OpJeqImm, sbpf.OpJgtImm, sbpf.OpJgeImm, sbpf.OpJltImm, sbpf.OpJleImm, sbpf.OpJsetImm,
		sbpf.OpJneImm, sbpf.OpJsgtImm, sbpf.OpJsgeImm, sbpf.OpJsltImm, sbpf.OpJsleImm,
	}
	jmpRegOps = []uint8{
		sbpf.OpJeqReg, sbpf.OpJgtReg, sbpf.OpJgeReg, sbpf.OpJltReg, sbpf.OpJleReg, sbpf.OpJsetReg,
		sbpf.OpJneReg, sbpf.OpJsgtReg, sbpf.OpJsgeReg, sbpf.OpJsltReg, sbpf.OpJsleReg,
	}
	ldxOps = []uint8{sbpf.OpLdxb, sbpf.OpLdxh, sbpf.OpLdxw, sbpf.OpLdxdw}
	stxOps = []uint8{sbpf.OpStxb, sbpf.OpStxh, sbpf.OpStxw, sbpf.OpStxdw}
	stOps  = []uint8{sbpf.OpStb, sbpf.OpSth, sbpf.OpStw, sbpf.OpStdw}
)

func pick(rnd *rand.Rand, ops []uint8) uint8 {
	return ops[rnd.Intn(len(ops))]
}

// interestingImm favors edge values for immediates.
func interestingImm(rnd *rand.Rand) int32 {
	switch rnd.Intn(6) {
	case 0:
		return 0
	case 1:
		return -1
	case 2:
		return int32(-1 << 31)
	case 3:
		return 1<<31 - 1
	default:
		return int32(rnd.Uint32())
	}
}

// randomProgram generates a terminating program: jumps only go forward, the
// helper function does not call back, and memory accesses stay within the
// first stack frame.
func randomProgram(rnd *rand.Rand, n int) []byte {
	a := sbpfasm.New()
	for reg := uint8(0); reg < 10; reg++ {
		a.Lddw(reg, rnd.Uint64())
	}
	for i := 0; i < n; i++ {
		a.Label(fmt.Sprintf("L%d", i))
		dst := uint8(rnd.Intn(10))
		src := uint8(rnd.Intn(11))
		target := "end"
		if j := i + 1 + rnd.Intn(n-i); j < n {
			target = fmt.Sprintf("L%d", j)
		}
		switch k := rnd.Intn(20); {
		case k < 5:
			a.Alu(pick(rnd, aluImmOps), dst, interestingImm(rnd))
		case k < 6:
			imm := interestingImm(rnd)
			if imm == 0 {
				imm = 3
			}
			a.Alu(pick(rnd, divImmOps), dst, imm)
		case k < 7:
			a.Alu(pick(rnd, shift32ImmOps), dst, int32(rnd.Intn(32)))
		case k < 8:
			a.Alu(pick(rnd, shift64ImmOps), dst, int32(rnd.Intn(64)))
		case k < 12:
			a.AluReg(pick(rnd, aluRegOps), dst, src)
		case k < 13:
			op := []uint8{sbpf.OpNeg32, sbpf.OpNeg64}[rnd.Intn(2)]
			a.Alu(op, dst, 0)
		case k < 14:
			op := []uint8{sbpf.OpLe, sbpf.OpBe}[rnd.Intn(2)]
			a.Alu(op, dst, []int32{16, 32, 64}[rnd.Intn(3)])
		case k < 15:
			a.JmpImm(pick(rnd, jmpImmOps), dst, interestingImm(rnd), target)
		case k < 16:
			a.JmpReg(pick(rnd, jmpRegOps), dst, src, target)
		case k < 17:
			a.Stx(pick(rnd, stxOps), 10, src, int16(-8*(1+rnd.Intn(16))))
		case k < 18:
			a.St(pick(rnd, stOps), 10, int16(-8*(1+rnd.Intn(16))), interestingImm(rnd))
		case k < 19:
			a.Ldx(pick(rnd, ldxOps), dst, 10, int16(-8*(1+rnd.Intn(16))))
		default:
			if rnd.Intn(2) == 0 {
				a.Call("fn")
			} else {
				a.Syscall("mix")
			}
		}
	}
	a.Label("end")
	a.Exit()
	a.Label("fn")
	a.Mov64Reg(6, 1)
	a.Alu(sbpf.OpMul64Imm, 6, 31)
	a.AluReg(sbpf.OpAdd64Reg, 0, 6)
	a.Exit()
	return a.MustAssemble()
}

func mixSyscalls() sbpf.SyscallRegistry {
	syscalls := sbpf.NewSyscallRegistry()
	syscalls.Register("mix", sbpf.SyscallFunc3(func(vm sbpf.VM, r1, r2, r3 uint64) (uint64, error) {
		if err := vm.ComputeMeter().Consume(r3 & 0x7); err != nil {
			return 0, err
		}
		return r1 ^ (r2 << 1), nil
	}))
	return syscalls
}

type execution struct {
	ret       uint64
	consumed  uint64
	remaining uint64
	err       string
	trace     []sbpf.TraceStep
}

func execute(t *testing.T, p *sbpf.Program, strategy sbpf.Strategy, budget uint64, trace bool) execution {
	t.Helper()
	meter := cu.NewComputeMeter(budget)
	opts := &sbpf.VMOpts{
		Strategy:     strategy,
		Syscalls:     mixSyscalls(),
		ComputeMeter: &meter,
	}
	var rec *sbpf.TraceRecorder
	if trace {
		rec = new(sbpf.TraceRecorder)
		opts.Tracer = rec
	}
	ret, consumed, err := sbpf.NewExecutor(p, opts).Run()
	e := execution{ret: ret, consumed: consumed, remaining: meter.Remaining()}
	if err != nil {
		e.err = err.Error()
	}
	if rec != nil {
		e.trace = rec.Steps
	}
	return e
}

func TestStrategyEquivalence(t *testing.T) {
	rnd := rand.New(0)
	syscalls := mixSyscalls()

	for i := 0; i < 300; i++ {
		text := randomProgram(rnd, 8+rnd.Intn(64))
		p := sbpf.NewProgram(text, nil)
		require.NoError(t, sbpf.Verify(p, syscalls), "program %d", i)

		budgets := []uint64{cu.DefaultComputeUnitLimit, uint64(1 + rnd.Intn(40)), uint64(10 + rnd.Intn(80))}
		for _, budget := range budgets {
			ip := execute(t, p, sbpf.StrategyInterpreter, budget, true)
			jit := execute(t, p, sbpf.StrategyCompiled, budget, true)
			if d := sbpf.DiffTraces(ip.trace, jit.trace); d != nil {
				t.Fatalf("program %d budget %d: %v\n%v", i, budget, d, sbpf.Disassemble(text))
			}
			assert.Equal(t, ip, jit, "program %d budget %d", i, budget)

			// untraced runs take the block fast path
			ipFast := execute(t, p, sbpf.StrategyInterpreter, budget, false)
			jitFast := execute(t, p, sbpf.StrategyCompiled, budget, false)
			ip.trace = nil
			assert.Equal(t, ip, ipFast, "program %d budget %d", i, budget)
			assert.Equal(t, ip, jitFast, "program %d budget %d", i, budget)
		}
	}
}

func TestStrategyEquivalence_Determinism(t *testing.T) {
	rnd := rand.New(7)
	text := randomProgram(rnd, 64)
	p := sbpf.NewProgram(text, nil)
	require.NoError(t, sbpf.Verify(p, mixSyscalls()))

	first := execute(t, p, sbpf.StrategyCompiled, 500, true)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, execute(t, p, sbpf.StrategyCompiled, 500, true))
	}
}
