package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("inventory:low_stock_scan").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("inventory:low_stock_scan").End(boom), boom)

	skipped := m.Track("inventory:low_stock_scan")
	skipped.Skip()
	require.NoError(t, skipped.End(nil))

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:low_stock_scan", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:low_stock_scan", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("inventory:low_stock_scan", "skipped")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("inventory:low_stock_scan")))
}

func TestAddItemsIgnoresEmptyRuns(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddItems("reconciliation:warmup", 0)
	m.AddItems("reconciliation:warmup", 4)
	require.Equal(t, 4.0, testutil.ToFloat64(m.items.WithLabelValues("reconciliation:warmup")))

	var nilMetrics *Metrics
	nilMetrics.AddItems("reconciliation:warmup", 1)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
