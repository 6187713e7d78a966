package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestClientMetricsCounters(t *testing.T) {
	m := ClientMetrics()
	require.Same(t, m, ClientMetrics())

	before := testutil.ToFloat64(m.requests.WithLabelValues("eth_blockNumber", "error"))
	m.ObserveRequest("eth_blockNumber", errors.New("boom"), 30*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(m.requests.WithLabelValues("eth_blockNumber", "error")))

	m.RecordBlacklist("1", "")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.blacklists.WithLabelValues("1", "unspecified")), 1.0)

	m.RecordRefresh("1", "nodelist", nil)
	require.GreaterOrEqual(t, testutil.ToFloat64(m.refreshes.WithLabelValues("1", "nodelist", "success")), 1.0)

	m.SetNodes("5", 12)
	require.Equal(t, 12.0, testutil.ToFloat64(m.nodes.WithLabelValues("5")))

	m.RecordThrottle("rate")
	require.GreaterOrEqual(t, testutil.ToFloat64(m.throttles.WithLabelValues("rate")), 1.0)
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var m *clientMetrics
	m.ObserveRequest("x", nil, time.Second)
	m.RecordBlacklist("1", "r")
	m.RecordRefresh("1", "whitelist", nil)
	m.SetNodes("1", 1)
	m.RecordThrottle("r")
}
