package sealevel

import (
	"fmt"

	"k8s.io/klog/v2"
)

// Logger receives program log lines.
type Logger interface {
	Log(s string)
}

// LogRecorder is a Logger that stores all messages.
type LogRecorder struct {
	Logs []string
}

func (r *LogRecorder) Log(s string) {
	klog.V(3).Info(s)
	r.Logs = append(r.Logs, s)
}

// LogCollectorLimit bounds the number of bytes kept by a LogRecorder
// constructed with NewLimitedLogRecorder.
const LogCollectorLimit = 10_000

// LimitedLogRecorder keeps messages up to a byte limit.
type LimitedLogRecorder struct {
	LogRecorder
	limit     int
	bytesUsed int
	truncated bool
}

// NewLimitedLogRecorder returns a recorder that stops keeping messages
// after limit bytes and records a single "Log truncated" line instead.
func NewLimitedLogRecorder(limit int) *LimitedLogRecorder {
	return &LimitedLogRecorder{limit: limit}
}

func (r *LimitedLogRecorder) Log(s string) {
	if r.truncated {
		return
	}
	if r.bytesUsed+len(s) > r.limit {
		r.truncated = true
		r.LogRecorder.Log("Log truncated")
		return
	}
	r.bytesUsed += len(s)
	r.LogRecorder.Log(s)
}

func (r *LimitedLogRecorder) Messages() []string {
	return r.Logs
}

func logf(log Logger, format string, args ...any) {
	if log == nil {
		return
	}
	log.Log(fmt.Sprintf(format, args...))
}
