package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherNames(t *testing.T, c *Collector) map[string]struct{} {
	t.Helper()
	families, err := c.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]struct{}, len(families))
	for _, f := range families {
		names[f.GetName()] = struct{}{}
	}
	return names
}

func TestCollector_RecordsSeries(t *testing.T) {
	c := NewCollector("m")

	c.ConnectionAccepted(ProtocolHTTPS)
	c.RequestServed("GET", 404)
	done := c.SessionStarted()

	names := gatherNames(t, c)
	assert.Contains(t, names, "m_connections_accepted_total")
	assert.Contains(t, names, "m_http_requests_total")
	assert.Contains(t, names, "m_sessions_active")

	done()
}

func TestCollector_SessionGaugeBalances(t *testing.T) {
	c := NewCollector("m")

	done1 := c.SessionStarted()
	done2 := c.SessionStarted()
	done1()
	done2()

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "m_sessions_active" {
			require.Len(t, f.GetMetric(), 1)
			assert.Equal(t, float64(0), f.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Each collector owns its registry, so two instances never collide.
	a := NewCollector("same")
	b := NewCollector("same")
	a.ConnectionAccepted(ProtocolHTTP)
	b.ConnectionAccepted(ProtocolHTTP)
}
