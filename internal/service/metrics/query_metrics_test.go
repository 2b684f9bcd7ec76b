package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMetrics_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	q := NewQueryMetrics(reg)

	q.Observe("status", time.Now(), false)
	q.Observe("status", time.Now(), true)
	q.Observe("composite", time.Now(), false)

	assert.Equal(t, 1.0, testutil.ToFloat64(q.errors.WithLabelValues("status")))
	assert.Equal(t, 0.0, testutil.ToFloat64(q.errors.WithLabelValues("composite")))

	n, err := testutil.GatherAndCount(reg, "marketpulse_query_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQueryMetrics_NilIsNoop(t *testing.T) {
	var q *QueryMetrics
	assert.NotPanics(t, func() { q.Observe("status", time.Now(), true) })
}
