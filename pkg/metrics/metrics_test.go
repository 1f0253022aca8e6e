package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))

	ProgramCacheHits.Inc()
	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "quartz_program_cache_hits_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRate(t *testing.T) {
	r := NewRate()
	for i := 0; i < 20; i++ {
		r.Observe(1000, 1)
	}
	assert.InDelta(t, 1000, r.Value(), 1)

	r.Observe(5, 0)
	assert.InDelta(t, 1000, r.Value(), 1)
}
