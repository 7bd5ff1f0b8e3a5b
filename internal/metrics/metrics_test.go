package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	var c Collector = NewNop()
	c.RecordStep("swapped")
	c.RecordRefresh("prices", time.Second, 29, 1)
	c.RecordFetch("yahoo", "ok", time.Millisecond)
	c.SetState("idle")
	c.SetViewers(2)
}

func TestPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus(reg, "")
	require.NoError(t, err)

	p.RecordStep("swapped")
	p.RecordStep("swapped")
	p.RecordStep("sorted")
	assert.Equal(t, 2.0, testutil.ToFloat64(p.steps.WithLabelValues("swapped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.steps.WithLabelValues("sorted")))

	p.RecordRefresh("full", 3*time.Second, 29, 1)
	assert.Equal(t, 29.0, testutil.ToFloat64(p.refreshRows.WithLabelValues("updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.refreshRows.WithLabelValues("failed")))

	p.RecordFetch("yahoo", "ok", 200*time.Millisecond)
	p.RecordFetch("yahoo", "timeout", 10*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.fetches.WithLabelValues("yahoo", "timeout")))

	p.SetState("refreshing")
	assert.Equal(t, 1.0, testutil.ToFloat64(p.state.WithLabelValues("refreshing")))
	p.SetState("stepping")
	assert.Equal(t, 0.0, testutil.ToFloat64(p.state.WithLabelValues("refreshing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.state.WithLabelValues("stepping")))

	p.SetViewers(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(p.viewers))

	n, err := testutil.GatherAndCount(reg, "dow30_refresh_duration_seconds", "dow30_marketdata_fetch_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg, "x")
	require.NoError(t, err)
	_, err = NewPrometheus(reg, "x")
	assert.Error(t, err)
}
