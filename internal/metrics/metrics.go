// Package metrics defines the engine's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/codecalc/junction-engine/internal/cover"
)

// Metrics groups every collector the engine exports.
type Metrics struct {
	Registry *prometheus.Registry

	groupSolves       *prometheus.CounterVec
	solveDuration     *prometheus.HistogramVec
	junctionRequests  *prometheus.CounterVec
	junctionOptions   prometheus.Histogram
	catalogCerts      prometheus.Gauge
	shadowComparisons prometheus.Counter
	shadowDivergences prometheus.Counter
	webhookDeliveries *prometheus.CounterVec
}

// New builds the collectors on a private registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		groupSolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "junction",
			Name:      "group_solves_total",
			Help:      "Covering solves per group, by solver method and outcome.",
		}, []string{"method", "outcome"}),
		solveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "junction",
			Name:      "group_solve_duration_seconds",
			Help:      "Time spent solving one group.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"method"}),
		junctionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "junction",
			Name:      "requests_total",
			Help:      "Junction requests by result.",
		}, []string{"result"}),
		junctionOptions: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "junction",
			Name:      "options_returned",
			Help:      "Options returned per junction request.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		catalogCerts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "junction",
			Name:      "catalog_certificates",
			Help:      "Certificates loaded in the cached catalog.",
		}),
		shadowComparisons: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "junction",
			Name:      "shadow_comparisons_total",
			Help:      "Groups solved by both solvers for auditing.",
		}),
		shadowDivergences: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "junction",
			Name:      "shadow_divergences_total",
			Help:      "Audited groups where the approximate sum exceeded the epsilon bound.",
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "junction",
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by result.",
		}, []string{"result"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.groupSolves,
		m.solveDuration,
		m.junctionRequests,
		m.junctionOptions,
		m.catalogCerts,
		m.shadowComparisons,
		m.shadowDivergences,
		m.webhookDeliveries,
	)
	return m
}

// ObserveGroup records one group solve. It matches cover.GroupedOptions.OnSolved.
func (m *Metrics) ObserveGroup(res cover.GroupResult, elapsed time.Duration) {
	outcome := "covered"
	if !res.Result.Reachable {
		outcome = "unreachable"
	}
	method := string(res.Result.Method)
	m.groupSolves.WithLabelValues(method, outcome).Inc()
	m.solveDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveJunction records a finished junction request.
func (m *Metrics) ObserveJunction(result string, options int) {
	m.junctionRequests.WithLabelValues(result).Inc()
	m.junctionOptions.Observe(float64(options))
}

func (m *Metrics) SetCatalogCertificates(n int) {
	m.catalogCerts.Set(float64(n))
}

func (m *Metrics) ObserveShadow(diverged bool) {
	m.shadowComparisons.Inc()
	if diverged {
		m.shadowDivergences.Inc()
	}
}

func (m *Metrics) ObserveWebhook(err error) {
	if err != nil {
		m.webhookDeliveries.WithLabelValues("failed").Inc()
		return
	}
	m.webhookDeliveries.WithLabelValues("delivered").Inc()
}
