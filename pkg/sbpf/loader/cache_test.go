package loader

import (
	"sync"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/metrics"
	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/sbpfasm"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	cache, err := NewCache(2)
	require.NoError(t, err)

	syscalls := sbpf.NewSyscallRegistry()
	elfA := sbpfasm.BuildELF(sbpfasm.New().Mov64Imm(0, 1).Exit().MustAssemble(), nil)
	elfB := sbpfasm.BuildELF(sbpfasm.New().Mov64Imm(0, 2).Exit().MustAssemble(), nil)

	a1, err := cache.Load(elfA, syscalls)
	require.NoError(t, err)
	a2, err := cache.Load(elfA, syscalls)
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	b, err := cache.Load(elfB, syscalls)
	require.NoError(t, err)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, cache.Len())

	// a different registry yields a separate entry
	other := sbpf.NewSyscallRegistry()
	other.Register("sol_log_", sbpf.SyscallFunc0(func(sbpf.VM) (uint64, error) { return 0, nil }))
	a3, err := cache.Load(elfA, other)
	require.NoError(t, err)
	assert.NotSame(t, a1, a3)

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestCache_ErrorsNotCached(t *testing.T) {
	cache, err := NewCache(0)
	require.NoError(t, err)

	_, err = cache.Load([]byte("junk"), sbpf.NewSyscallRegistry())
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestCache_Concurrent(t *testing.T) {
	cache, err := NewCache(4)
	require.NoError(t, err)
	buf := sbpfasm.BuildELF(sbpfasm.New().Mov64Imm(0, 9).Exit().MustAssemble(), nil)

	var wg sync.WaitGroup
	progs := make([]*sbpf.Program, 16)
	for i := range progs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := cache.Load(buf, sbpf.NewSyscallRegistry())
			if err == nil {
				progs[i] = p
			}
		}(i)
	}
	wg.Wait()
	for _, p := range progs {
		assert.Same(t, progs[0], p)
	}
}

func TestCache_ConcurrentFailure(t *testing.T) {
	cache, err := NewCache(4)
	require.NoError(t, err)
	junk := []byte("not an elf file")
	failuresBefore := testutil.ToFloat64(metrics.ProgramLoadFailures)

	const n = 16
	errs := make([]error, n)
	var start, wg sync.WaitGroup
	start.Add(1)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start.Wait()
			p, err := cache.Load(junk, sbpf.NewSyscallRegistry())
			assert.Nil(t, p)
			errs[i] = err
		}(i)
	}
	start.Done()
	wg.Wait()

	for _, err := range errs {
		require.Error(t, err)
		assert.Equal(t, errs[0].Error(), err.Error())
	}
	assert.Equal(t, 0, cache.Len())
	failures := testutil.ToFloat64(metrics.ProgramLoadFailures) - failuresBefore
	assert.GreaterOrEqual(t, failures, 1.0)
	assert.LessOrEqual(t, failures, float64(n))
}
