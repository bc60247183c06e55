package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the relay.
	Registry = prometheus.NewRegistry()

	// IngestSamples counts location reports by outcome (accepted, invalid_coordinate, unregistered).
	IngestSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_ingest_samples_total", Help: "Location reports by outcome."},
		[]string{"outcome"},
	)
	// FanoutDeliveries counts per-viewer deliveries by result (sent, dropped).
	FanoutDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_fanout_deliveries_total", Help: "Per-viewer event deliveries by result."},
		[]string{"event", "result"},
	)
	// Connections tracks live websocket connections by role.
	Connections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "relay_connections", Help: "Live websocket connections by role."},
		[]string{"role"},
	)
	// Subscriptions tracks live (connection, bus) subscription entries.
	Subscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "relay_subscriptions", Help: "Live viewer subscription entries."},
	)
	// StoreErrors counts trip store failures by operation.
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_store_errors_total", Help: "Trip store failures by operation."},
		[]string{"op"},
	)
	// PrunerSweeps counts pruner sweeps by result (ok, store_error).
	PrunerSweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pruner_sweeps_total", Help: "Pruner sweeps by result."},
		[]string{"result"},
	)
	// PrunerTrips counts per-trip prune outcomes (pruned, failed).
	PrunerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pruner_trips_total", Help: "Per-trip prune outcomes."},
		[]string{"result"},
	)
	// PrunerDeletedRows records rows deleted per pruned trip.
	PrunerDeletedRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "pruner_deleted_rows", Help: "Location rows deleted per pruned trip.", Buckets: []float64{0, 10, 100, 1000, 10000}},
	)
)

// RegisterDefault registers collectors to the relay registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(IngestSamples)
		Registry.MustRegister(FanoutDeliveries)
		Registry.MustRegister(Connections)
		Registry.MustRegister(Subscriptions)
		Registry.MustRegister(StoreErrors)
		Registry.MustRegister(PrunerSweeps)
		Registry.MustRegister(PrunerTrips)
		Registry.MustRegister(PrunerDeletedRows)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
