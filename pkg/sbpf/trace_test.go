package sbpf_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/Overclock-Validator/quartz/pkg/sbpf"
	"github.com/Overclock-Validator/quartz/pkg/sbpf/sbpfasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineSink struct {
	lines []string
}

func (s *lineSink) Printf(format string, v ...any) {
	s.lines = append(s.lines, fmt.Sprintf(format, v...))
}

func TestTrace(t *testing.T) {
	text := sbpfasm.New().
		Mov64Imm(0, 5).
		Lddw(1, 1).
		Exit().
		MustAssemble()
	p := sbpf.NewProgram(text, nil)
	require.NoError(t, sbpf.Verify(p, nil))

	for _, strategy := range strategies {
		var rec sbpf.TraceRecorder
		var buf bytes.Buffer
		jsonl := sbpf.NewJSONLTraceWriter(&buf)
		sink := new(lineSink)

		_, _, err := sbpf.NewExecutor(p, &sbpf.VMOpts{
			Strategy: strategy,
			Tracer:   sbpf.MultiTracer{&rec, jsonl, sbpf.PrintfTracer{Sink: sink, Program: p}},
		}).Run()
		require.NoError(t, err)
		require.NoError(t, jsonl.Close())

		require.Len(t, rec.Steps, 3)
		assert.Equal(t, []int64{0, 1, 3}, []int64{rec.Steps[0].PC, rec.Steps[1].PC, rec.Steps[2].PC})
		assert.Equal(t, uint64(5), rec.Steps[1].Regs[0])
		assert.Equal(t, rec.Steps[0].CU-2, rec.Steps[2].CU)

		decoded, err := sbpf.ReadJSONLTrace(&buf)
		require.NoError(t, err)
		assert.Nil(t, sbpf.DiffTraces(rec.Steps, decoded))

		require.Len(t, sink.lines, 3)
		assert.True(t, strings.HasSuffix(sink.lines[1], "lddw r1, 0x1"), sink.lines[1])
	}
}

func TestTraceRecorder_Limit(t *testing.T) {
	rec := sbpf.TraceRecorder{Limit: 2}
	for i := 0; i < 3; i++ {
		rec.Step(sbpf.TraceStep{Index: uint64(i)})
	}
	assert.Len(t, rec.Steps, 2)
	assert.True(t, rec.Truncated)
}

func TestDiffTraces(t *testing.T) {
	a := []sbpf.TraceStep{{PC: 0, CU: 10}, {PC: 1, CU: 9}}
	b := []sbpf.TraceStep{{PC: 0, CU: 10}, {PC: 1, CU: 9}}
	assert.Nil(t, sbpf.DiffTraces(a, b))

	recA := sbpf.TraceRecorder{Steps: a}
	recB := sbpf.TraceRecorder{Steps: b}
	assert.Equal(t, recA.Digest(), recB.Digest())

	b[1].Regs[3] = 1
	d := sbpf.DiffTraces(a, b)
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Index)
	assert.Contains(t, d.Reason, "r3")
	recB = sbpf.TraceRecorder{Steps: b}
	assert.NotEqual(t, recA.Digest(), recB.Digest())

	d = sbpf.DiffTraces(a, a[:1])
	require.NotNil(t, d)
	assert.Equal(t, 1, d.Index)
}
