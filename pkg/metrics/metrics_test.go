package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterOnce(t *testing.T) {
	r := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		Register(r)
		Register(r)
	})
	assert.Equal(t, r, GetRegisterer())

	families, err := r.Gather()
	require.NoError(t, err)
	for _, f := range families {
		assert.Contains(t, f.GetName(), fixNamespace+"_")
	}
}

func TestCounters(t *testing.T) {
	c := InboundMessages.WithLabelValues("FIX.4.2:A->B", "D")
	c.Inc()
	c.Inc()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())

	g := LiveProcessors.WithLabelValues("single")
	g.Set(1)
	m.Reset()
	require.NoError(t, g.Write(&m))
	assert.Equal(t, float64(1), m.GetGauge().GetValue())
}
