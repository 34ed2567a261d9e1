package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	m.RequestsTotal.WithLabelValues("GET", OutcomeForwarded).Inc()
	m.PipeSockets.WithLabelValues("reqRead").Add(2)
	m.URLRewrites.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", OutcomeForwarded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PipeSockets.WithLabelValues("reqRead")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.URLRewrites))

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["rulegate_requests_total"])
	assert.True(t, names["go_goroutines"])
}

func TestNewIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.URLRewrites.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.URLRewrites))
}

func TestNormalizeMethod(t *testing.T) {
	assert.Equal(t, "GET", NormalizeMethod("GET"))
	assert.Equal(t, "CONNECT", NormalizeMethod("CONNECT"))
	assert.Equal(t, "other", NormalizeMethod("PROPFIND"))
	assert.Equal(t, "other", NormalizeMethod("get"))
}
