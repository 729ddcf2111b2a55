package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAuthorityCapGauges(t *testing.T) {
	m := Authority()
	m.RecordCap("cap_gauge_test", 400, 1000)
	require.Equal(t, 400.0, testutil.ToFloat64(m.capRemaining.WithLabelValues("cap_gauge_test")))
	require.InDelta(t, 0.6, testutil.ToFloat64(m.capUtilization.WithLabelValues("cap_gauge_test")), 1e-9)

	m.ClearCap("cap_gauge_test")
	require.False(t, m.capRemaining.DeleteLabelValues("cap_gauge_test"))
	require.False(t, m.capUtilization.DeleteLabelValues("cap_gauge_test"))
}
