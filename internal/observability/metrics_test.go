package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsOnIsolatedRegistries(t *testing.T) {
	// Two instances must coexist, each on its own registry
	var a, b *Metrics
	require.NotPanics(t, func() {
		a = NewMetricsOn(prometheus.NewRegistry(), "")
		b = NewMetricsOn(prometheus.NewRegistry(), "")
	})

	a.SequenceGaps.Inc()
	a.EventsAdmitted.WithLabelValues("TICK_UPDATE").Add(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(a.SequenceGaps))
	assert.Equal(t, float64(3), testutil.ToFloat64(a.EventsAdmitted.WithLabelValues("TICK_UPDATE")))

	// The second instance is untouched by the first
	assert.Equal(t, float64(0), testutil.ToFloat64(b.SequenceGaps))
}

func TestNewMetricsOnCollectsUnderNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsOn(reg, "clob")

	m.PoolRebuilds.Inc()

	n, err := testutil.GatherAndCount(reg, "clob_engine_pool_rebuilds_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
