package loader

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/sbpfasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbolHash_Entrypoint(t *testing.T) {
	assert.Equal(t, sbpf.EntrypointHash, sbpf.SymbolHash("entrypoint"))
}

func TestLoad_Rodata(t *testing.T) {
	asm := sbpfasm.New()
	// text is 4 slots (lddw + ldxdw + exit) = 32 bytes, rodata follows at 64+32
	text := asm.
		Lddw(1, sbpf.VaddrProgram+96).
		Ldx(sbpf.OpLdxdw, 0, 1, 0).
		Exit().
		MustAssemble()
	require.Len(t, text, 32)

	rodata := make([]byte, 8)
	binary.LittleEndian.PutUint64(rodata, 0xdeadbeefcafe)

	p, err := Load(sbpfasm.BuildELF(text, rodata), sbpf.NewSyscallRegistry())
	require.NoError(t, err)
	assert.Equal(t, sbpf.VaddrProgram+64, p.TextVA)
	assert.Equal(t, uint64(0), p.Entrypoint)
	assert.Equal(t, int64(0), p.Funcs[sbpf.EntrypointHash])

	for _, strategy := range []sbpf.Strategy{sbpf.StrategyInterpreter, sbpf.StrategyCompiled} {
		ret, consumed, err := sbpf.NewExecutor(p, &sbpf.VMOpts{Strategy: strategy}).Run()
		require.NoError(t, err, strategy.String())
		assert.Equal(t, uint64(0xdeadbeefcafe), ret)
		assert.Equal(t, uint64(3), consumed)
	}
}

func TestLoad_Entrypoint(t *testing.T) {
	text := sbpfasm.New().
		Mov64Imm(0, 1).
		Exit().
		Mov64Imm(0, 2).
		Exit().
		MustAssemble()
	buf := sbpfasm.BuildELFWithOptions(text, nil, sbpfasm.ELFOptions{Machine: sbpfasm.MachineSBF, Entry: 2})

	p, err := Load(buf, sbpf.NewSyscallRegistry())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), p.Entrypoint)

	ret, _, err := sbpf.NewInterpreter(p, &sbpf.VMOpts{}).Run()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ret)
}

func TestLoad_Rejects(t *testing.T) {
	good := sbpfasm.New().Mov64Imm(0, 0).Exit().MustAssemble()

	t.Run("machine", func(t *testing.T) {
		buf := sbpfasm.BuildELFWithOptions(good, nil, sbpfasm.ELFOptions{Machine: elf.EM_X86_64})
		_, err := Load(buf, sbpf.NewSyscallRegistry())
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := Load([]byte("not an elf"), sbpf.NewSyscallRegistry())
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
		var le *LoadError
		assert.ErrorAs(t, err, &le)
	})
	t.Run("too large", func(t *testing.T) {
		_, err := Load(make([]byte, MaxProgramSize+1), sbpf.NewSyscallRegistry())
		assert.ErrorIs(t, err, ErrTooLarge)
	})
	t.Run("entrypoint", func(t *testing.T) {
		buf := sbpfasm.BuildELFWithOptions(good, nil, sbpfasm.ELFOptions{Machine: elf.EM_BPF, Entry: 7})
		_, err := Load(buf, sbpf.NewSyscallRegistry())
		assert.ErrorIs(t, err, ErrInvalidEntrypoint)
	})
	t.Run("verifier", func(t *testing.T) {
		text := sbpfasm.New().Alu(sbpf.OpDiv64Imm, 0, 0).Exit().MustAssemble()
		_, err := Load(sbpfasm.BuildELF(text, nil), sbpf.NewSyscallRegistry())
		var verr *sbpf.VerifierError
		assert.ErrorAs(t, err, &verr)
	})
	t.Run("unknown syscall", func(t *testing.T) {
		text := sbpfasm.New().Syscall("sol_log_").Exit().MustAssemble()
		_, err := Load(sbpfasm.BuildELF(text, nil), sbpf.NewSyscallRegistry())
		var verr *sbpf.VerifierError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestLoad_EntrypointCollision(t *testing.T) {
	syscalls := sbpf.NewSyscallRegistry()
	syscalls[sbpf.EntrypointHash] = sbpf.SyscallFunc0(func(sbpf.VM) (uint64, error) { return 0, nil })

	text := sbpfasm.New().Mov64Imm(0, 0).Exit().MustAssemble()
	_, err := Load(sbpfasm.BuildELF(text, nil), syscalls)
	assert.ErrorIs(t, err, ErrSymbolCollision)
}
