// Package metrics exposes execution counters for the program cache, the
// executors and the invocation controller.
package metrics

import (
	"errors"
	"sync"

	"github.com/VividCortex/ewma"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quartz"

var (
	ProgramCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "program_cache",
		Name:      "hits_total",
		Help:      "Number of program loads served from the cache.",
	})
	ProgramCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "program_cache",
		Name:      "misses_total",
		Help:      "Number of program loads that parsed an ELF image.",
	})
	ProgramLoadFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "program_cache",
		Name:      "load_failures_total",
		Help:      "Number of ELF images rejected by the loader or verifier.",
	})
	Executions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "vm",
		Name:      "executions_total",
		Help:      "Number of program executions by strategy and outcome.",
	}, []string{"strategy", "outcome"})
	ComputeUnits = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "vm",
		Name:      "compute_units",
		Help:      "Compute units consumed per program execution.",
		Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
	}, []string{"strategy"})
	Invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invoke",
		Name:      "instructions_total",
		Help:      "Number of processed instructions by stack height class.",
	}, []string{"kind"})
	Failures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "invoke",
		Name:      "failures_total",
		Help:      "Number of failed top level instructions by error kind.",
	}, []string{"kind"})
)

var registerOnce sync.Once

// Register adds all collectors to r. Only the first call has an effect.
func Register(r prometheus.Registerer) (err error) {
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			ProgramCacheHits,
			ProgramCacheMisses,
			ProgramLoadFailures,
			Executions,
			ComputeUnits,
			Invocations,
			Failures,
		} {
			if e := r.Register(c); e != nil {
				var already prometheus.AlreadyRegisteredError
				if !errors.As(e, &already) {
					err = e
					return
				}
			}
		}
	})
	return
}

// Rate tracks an exponentially weighted moving average of a per-second
// throughput, e.g. instructions per second in benchmarks.
type Rate struct {
	mu  sync.Mutex
	avg ewma.MovingAverage
}

func NewRate() *Rate {
	return &Rate{avg: ewma.NewMovingAverage()}
}

// Observe adds one sample of n events over seconds.
func (r *Rate) Observe(n uint64, seconds float64) {
	if seconds <= 0 {
		return
	}
	r.mu.Lock()
	r.avg.Add(float64(n) / seconds)
	r.mu.Unlock()
}

func (r *Rate) Value() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avg.Value()
}
