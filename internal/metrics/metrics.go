// Package metrics holds the Prometheus collectors of tablesniff. Every
// method is safe on a nil *Metrics, so components can be built without
// instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry.
type Metrics struct {
	Registry           *prometheus.Registry
	ScansTotal         prometheus.Counter
	CandidatesFound    prometheus.Histogram
	NegotiationsTotal  *prometheus.CounterVec
	QuiescenceDuration *prometheus.HistogramVec
	ExportsTotal       *prometheus.CounterVec
	ExportedRows       prometheus.Histogram
	DeliveriesTotal    *prometheus.CounterVec
	FetchesTotal       *prometheus.CounterVec
	OpenSessions       prometheus.Gauge
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	scans := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tablesniff_scans_total",
		Help: "Total table scans run.",
	})
	candidates := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tablesniff_scan_candidates",
		Help:    "Candidate tables found per scan.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
	})
	negotiations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesniff_negotiations_total",
		Help: "Page-size negotiations by winning strategy (none when nothing applied).",
	}, []string{"strategy"})
	quiescence := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tablesniff_quiescence_seconds",
		Help:    "Time spent waiting for a table to settle, by outcome.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"outcome"})
	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesniff_exports_total",
		Help: "Table exports by mode, format and result.",
	}, []string{"mode", "format", "result"})
	rows := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tablesniff_exported_rows",
		Help:    "Rows per successful export.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesniff_deliveries_total",
		Help: "Export deliveries by target and result.",
	}, []string{"target", "result"})
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tablesniff_fetches_total",
		Help: "Page acquisitions by method (http, browser).",
	}, []string{"method"})
	open := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tablesniff_open_sessions",
		Help: "Pages currently held open.",
	})

	registry.MustRegister(scans, candidates, negotiations, quiescence, exports, rows, deliveries, fetches, open)

	return &Metrics{
		Registry:           registry,
		ScansTotal:         scans,
		CandidatesFound:    candidates,
		NegotiationsTotal:  negotiations,
		QuiescenceDuration: quiescence,
		ExportsTotal:       exports,
		ExportedRows:       rows,
		DeliveriesTotal:    deliveries,
		FetchesTotal:       fetches,
		OpenSessions:       open,
	}
}

// ObserveScan records one scan.
func (m *Metrics) ObserveScan(candidates int) {
	if m == nil {
		return
	}
	m.ScansTotal.Inc()
	m.CandidatesFound.Observe(float64(candidates))
}

// ObserveNegotiation records the winning strategy, or "none".
func (m *Metrics) ObserveNegotiation(strategy string) {
	if m == nil {
		return
	}
	if strategy == "" {
		strategy = "none"
	}
	m.NegotiationsTotal.WithLabelValues(strategy).Inc()
}

// ObserveQuiescence records how long a wait took.
func (m *Metrics) ObserveQuiescence(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QuiescenceDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveExport records an export attempt. rows is ignored on failure.
func (m *Metrics) ObserveExport(mode, format string, rows int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ExportsTotal.WithLabelValues(mode, format, result).Inc()
	if err == nil {
		m.ExportedRows.Observe(float64(rows))
	}
}

// ObserveDelivery records one delivery to a target.
func (m *Metrics) ObserveDelivery(target string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DeliveriesTotal.WithLabelValues(target, result).Inc()
}

// IncFetch records how a page was acquired.
func (m *Metrics) IncFetch(method string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(method).Inc()
}

// SetOpenSessions sets the open page gauge.
func (m *Metrics) SetOpenSessions(n int) {
	if m == nil {
		return
	}
	m.OpenSessions.Set(float64(n))
}
