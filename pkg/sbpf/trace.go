package sbpf

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// TraceStep is the machine state observed right before an instruction
// executes.
type TraceStep struct {
	Index uint64     `json:"i"`
	PC    int64      `json:"pc"`
	Regs  [11]uint64 `json:"regs"`
	CU    uint64     `json:"cu"`
}

// Tracer receives one TraceStep per executed instruction.
type Tracer interface {
	Step(step TraceStep)
}

// TraceRecorder keeps steps in memory.
type TraceRecorder struct {
	Steps []TraceStep
	// Limit caps the number of recorded steps. Zero means unlimited.
	Limit     int
	Truncated bool
}

func (t *TraceRecorder) Step(step TraceStep) {
	if t.Limit > 0 && len(t.Steps) >= t.Limit {
		t.Truncated = true
		return
	}
	t.Steps = append(t.Steps, step)
}

// Digest returns a hash over all recorded steps.
func (t *TraceRecorder) Digest() uint64 {
	h := xxhash.New()
	var buf [8 * 14]byte
	for _, s := range t.Steps {
		binary.LittleEndian.PutUint64(buf[0:], s.Index)
		binary.LittleEndian.PutUint64(buf[8:], uint64(s.PC))
		for i, reg := range s.Regs {
			binary.LittleEndian.PutUint64(buf[16+8*i:], reg)
		}
		binary.LittleEndian.PutUint64(buf[16+8*11:], s.CU)
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// TraceDivergence describes the first difference between two traces.
type TraceDivergence struct {
	Index  int
	A, B   *TraceStep
	Reason string
}

func (d *TraceDivergence) Error() string {
	return fmt.Sprintf("traces diverge at step %d: %s", d.Index, d.Reason)
}

// DiffTraces returns nil if both traces are identical.
func DiffTraces(a, b []TraceStep) *TraceDivergence {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		x, y := &a[i], &b[i]
		switch {
		case x.PC != y.PC:
			return &TraceDivergence{Index: i, A: x, B: y, Reason: fmt.Sprintf("pc %d != %d", x.PC, y.PC)}
		case x.CU != y.CU:
			return &TraceDivergence{Index: i, A: x, B: y, Reason: fmt.Sprintf("cu %d != %d", x.CU, y.CU)}
		case x.Regs != y.Regs:
			for r := range x.Regs {
				if x.Regs[r] != y.Regs[r] {
					return &TraceDivergence{Index: i, A: x, B: y,
						Reason: fmt.Sprintf("r%d %#x != %#x", r, x.Regs[r], y.Regs[r])}
				}
			}
		}
	}
	if len(a) != len(b) {
		return &TraceDivergence{Index: n, Reason: fmt.Sprintf("length %d != %d", len(a), len(b))}
	}
	return nil
}

// TraceSink is a printf-style destination, e.g. a logger.
type TraceSink interface {
	Printf(format string, v ...any)
}

// PrintfTracer prints each step with its disassembly.
type PrintfTracer struct {
	Sink    TraceSink
	Program *Program
}

func (t PrintfTracer) Step(s TraceStep) {
	regs := make([]string, len(s.Regs))
	for i, r := range s.Regs {
		regs[i] = fmt.Sprintf("%016X", r)
	}
	var dis string
	if t.Program != nil && s.PC >= 0 && s.PC < t.Program.NumSlots() {
		dis = DisassembleAt(t.Program.Text, s.PC)
	}
	t.Sink.Printf("% 5d [%s]: %s", s.Index, strings.Join(regs, ", "), dis)
}

// MultiTracer fans a step out to several tracers.
type MultiTracer []Tracer

func (m MultiTracer) Step(s TraceStep) {
	for _, t := range m {
		t.Step(s)
	}
}

// ErrTraceWriterClosed is returned when Step is called after Close.
var ErrTraceWriterClosed = errors.New("jsonl trace writer is closed")

// JSONLTraceWriter writes steps as JSON Lines. It is safe for concurrent use.
type JSONLTraceWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	buf    *bufio.Writer
	closed bool
	err    error
}

// NewJSONLTraceWriter creates a writer on w. Close flushes but does not
// close w.
func NewJSONLTraceWriter(w io.Writer) *JSONLTraceWriter {
	buf := bufio.NewWriterSize(w, 64*1024)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	return &JSONLTraceWriter{enc: enc, buf: buf}
}

func (w *JSONLTraceWriter) Step(s TraceStep) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.err = ErrTraceWriterClosed
		return
	}
	if w.err == nil {
		w.err = w.enc.Encode(&s)
	}
}

// Err returns the first write error.
func (w *JSONLTraceWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *JSONLTraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.err
}

// ReadJSONLTrace reads steps written by JSONLTraceWriter.
func ReadJSONLTrace(r io.Reader) ([]TraceStep, error) {
	var steps []TraceStep
	dec := json.NewDecoder(r)
	for {
		var s TraceStep
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				return steps, nil
			}
			return steps, err
		}
		steps = append(steps, s)
	}
}
