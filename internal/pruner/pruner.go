// Package pruner bounds location history growth: once a trip has been ended
// for longer than the grace period, every sample except the most recent one
// is deleted.
package pruner

import (
	"context"
	"log"
	"time"

	"busrelay/internal/metrics"
	"busrelay/internal/store"
)

type Worker struct {
	Store       store.TripStore
	Interval    time.Duration
	GracePeriod time.Duration
	BatchLimit  int
	Stop        chan struct{}

	// now is swappable in tests
	now func() time.Time
}

func NewWorker(s store.TripStore, interval, grace time.Duration, batchLimit int) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if batchLimit <= 0 {
		batchLimit = 100
	}
	return &Worker{
		Store:       s,
		Interval:    interval,
		GracePeriod: grace,
		BatchLimit:  batchLimit,
		Stop:        make(chan struct{}),
		now:         time.Now,
	}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.sweepOnce()
			}
		}
	}()
}

// sweepOnce prunes one batch of eligible trips. Per-trip failures are
// isolated: a trip that fails to prune is logged and retried next cycle
// while the rest of the batch proceeds. A store outage likewise only costs
// this cycle.
func (w *Worker) sweepOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := w.now().Add(-w.GracePeriod)
	trips, err := w.Store.FindPrunableTrips(ctx, cutoff, w.BatchLimit)
	if err != nil {
		metrics.PrunerSweeps.WithLabelValues("store_error").Inc()
		log.Printf("pruner: listing prunable trips failed: %v", err)
		return
	}
	for _, t := range trips {
		deleted, err := w.Store.PruneTripLocations(ctx, t.ID)
		if err != nil {
			metrics.PrunerTrips.WithLabelValues("failed").Inc()
			log.Printf("pruner: trip %s failed: %v", t.ID, err)
			continue
		}
		if err := w.Store.MarkPruned(ctx, t.ID, w.now()); err != nil {
			// next sweep re-prunes; that deletes zero rows, so this is safe
			metrics.PrunerTrips.WithLabelValues("failed").Inc()
			log.Printf("pruner: marking trip %s pruned failed: %v", t.ID, err)
			continue
		}
		metrics.PrunerTrips.WithLabelValues("pruned").Inc()
		metrics.PrunerDeletedRows.Observe(float64(deleted))
		if deleted > 0 {
			log.Printf("pruner: trip %s, deleted %d location rows", t.ID, deleted)
		}
	}
	metrics.PrunerSweeps.WithLabelValues("ok").Inc()
}
