package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecalc/junction-engine/internal/cover"
)

func TestObserveGroup(t *testing.T) {
	m := New()

	m.ObserveGroup(cover.GroupResult{Result: cover.Result{Reachable: true, Method: cover.MethodExact}}, time.Millisecond)
	m.ObserveGroup(cover.GroupResult{Result: cover.Result{Reachable: true, Method: cover.MethodExact}}, time.Millisecond)
	m.ObserveGroup(cover.GroupResult{Result: cover.Result{Method: cover.MethodApprox}}, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.groupSolves.WithLabelValues("mitm", "covered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.groupSolves.WithLabelValues("fptas", "unreachable")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.solveDuration))
}

func TestShadowAndCatalog(t *testing.T) {
	m := New()

	m.ObserveShadow(false)
	m.ObserveShadow(true)
	m.SetCatalogCertificates(42)
	m.ObserveWebhook(nil)
	m.ObserveWebhook(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.shadowComparisons))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shadowDivergences))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.catalogCerts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("failed")))
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	m.ObserveJunction("ok", 3)

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["junction_requests_total"])
	assert.True(t, names["junction_options_returned"])
	assert.True(t, names["go_goroutines"])
}
