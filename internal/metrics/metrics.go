package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing, so components can take one optionally.
type Registry struct {
	*prometheus.Registry

	// Engine metrics
	routesEvaluated  *prometheus.CounterVec
	searchesTotal    *prometheus.CounterVec
	searchDuration   prometheus.Histogram
	validationAlerts *prometheus.CounterVec
	bestProfitPct    prometheus.Gauge

	// Operations metrics
	journalRows     *prometheus.CounterVec
	rotationsOpened prometheus.Counter
	simulations     *prometheus.CounterVec
	kpiAvgProfitPct prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
// Runtime collectors are left out because the registry is exported to a
// node_exporter textfile, which already reports process metrics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registry: reg,

		routesEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2parb_routes_evaluated_total",
				Help: "Total number of routes evaluated",
			},
			[]string{"outcome"},
		),
		searchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2parb_searches_total",
				Help: "Total number of opportunity searches",
			},
			[]string{"status"},
		),
		searchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "p2parb_search_duration_seconds",
				Help:    "Opportunity search duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
			},
		),
		validationAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2parb_validation_alerts_total",
				Help: "Total number of coherence alerts raised",
			},
			[]string{"type", "severity"},
		),
		bestProfitPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "p2parb_best_route_profit_pct",
				Help: "Profit percentage of the best route from the last search",
			},
		),
	}

	reg.MustRegister(r.routesEvaluated)
	reg.MustRegister(r.searchesTotal)
	reg.MustRegister(r.searchDuration)
	reg.MustRegister(r.validationAlerts)
	reg.MustRegister(r.bestProfitPct)

	r.journalRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2parb_journal_rows_total",
			Help: "Total number of transaction journal rows written",
		},
		[]string{"type"},
	)
	r.rotationsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "p2parb_rotations_opened_total",
			Help: "Total number of rotations planned",
		},
	)
	r.simulations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "p2parb_simulations_total",
			Help: "Total number of simulations",
		},
		[]string{"status"},
	)
	r.kpiAvgProfitPct = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "p2parb_kpi_average_profit_pct",
			Help: "Average rotation profit percentage from the last KPI report",
		},
	)

	reg.MustRegister(r.journalRows)
	reg.MustRegister(r.rotationsOpened)
	reg.MustRegister(r.simulations)
	reg.MustRegister(r.kpiAvgProfitPct)

	return r
}

// RecordRoute records one evaluated route. outcome is "profitable",
// "unprofitable" or "rejected".
func (r *Registry) RecordRoute(outcome string) {
	if r == nil {
		return
	}
	r.routesEvaluated.WithLabelValues(outcome).Inc()
}

// RecordSearch records a completed search.
func (r *Registry) RecordSearch(status string, duration float64) {
	if r == nil {
		return
	}
	r.searchesTotal.WithLabelValues(status).Inc()
	r.searchDuration.Observe(duration)
}

// RecordAlert records a validation alert.
func (r *Registry) RecordAlert(alertType, severity string) {
	if r == nil {
		return
	}
	r.validationAlerts.WithLabelValues(alertType, severity).Inc()
}

// SetBestProfit sets the best route profit from the last search.
func (r *Registry) SetBestProfit(pct float64) {
	if r == nil {
		return
	}
	r.bestProfitPct.Set(pct)
}

// RecordJournalRow records a journal row of the given transaction type.
func (r *Registry) RecordJournalRow(txType string) {
	if r == nil {
		return
	}
	r.journalRows.WithLabelValues(txType).Inc()
}

// RecordRotationOpened records a newly planned rotation.
func (r *Registry) RecordRotationOpened() {
	if r == nil {
		return
	}
	r.rotationsOpened.Inc()
}

// RecordSimulation records a finished simulation.
func (r *Registry) RecordSimulation(status string) {
	if r == nil {
		return
	}
	r.simulations.WithLabelValues(status).Inc()
}

// SetKPIAverageProfit sets the average profit from the last KPI report.
func (r *Registry) SetKPIAverageProfit(pct float64) {
	if r == nil {
		return
	}
	r.kpiAvgProfitPct.Set(pct)
}

// WriteTextfile writes the registry in the node_exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.Registry)
}
