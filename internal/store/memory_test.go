package store

import (
	"context"
	"testing"
	"time"

	"busrelay/internal/model"
)

func TestMemoryTripLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	trip, err := m.CreateTrip(ctx, "D1", "BUS-001", "500A")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if trip.Status != model.TripActive || trip.ID == "" {
		t.Fatalf("bad trip: %+v", trip)
	}

	got, err := m.ActiveTrip(ctx, "D1", "BUS-001")
	if err != nil || got.ID != trip.ID {
		t.Fatalf("active trip: %+v (err %v)", got, err)
	}
	if _, err := m.ActiveTrip(ctx, "D2", "BUS-001"); err != ErrNotFound {
		t.Fatalf("wrong driver should be ErrNotFound, got %v", err)
	}

	ended, err := m.EndTrip(ctx, trip.ID, time.Now())
	if err != nil || ended.Status != model.TripEnded || ended.EndTime == nil {
		t.Fatalf("end trip: %+v (err %v)", ended, err)
	}
	if _, err := m.ActiveTrip(ctx, "D1", "BUS-001"); err != ErrNotFound {
		t.Fatalf("ended trip still active: %v", err)
	}

	latest, err := m.LatestTripForBus(ctx, "BUS-001")
	if err != nil || latest.ID != trip.ID {
		t.Fatalf("latest trip: %+v (err %v)", latest, err)
	}
}

func TestMemoryLatestLocationOutOfOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	trip, _ := m.CreateTrip(ctx, "D1", "BUS-001", "500A")

	base := time.Date(2024, 9, 5, 10, 0, 0, 0, time.UTC)
	// arrival order deliberately disagrees with timestamps
	for _, offset := range []time.Duration{2 * time.Minute, 0, time.Minute} {
		if _, err := m.AppendLocation(ctx, trip.ID, 10+offset.Minutes(), 77, nil, base.Add(offset)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	samples, _ := m.ListLocations(ctx, trip.ID, 0)
	if len(samples) != 3 {
		t.Fatalf("out-of-order samples must be stored as-is, got %d", len(samples))
	}
	latest, err := m.LatestLocation(ctx, trip.ID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if !latest.RecordedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("latest should be the greatest recordedAt, got %v", latest.RecordedAt)
	}
}

func TestMemoryPruneKeepsLatest(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	trip, _ := m.CreateTrip(ctx, "D1", "BUS-001", "500A")
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_, _ = m.AppendLocation(ctx, trip.ID, float64(i), 77, nil, base.Add(time.Duration(i)*time.Second))
	}

	deleted, err := m.PruneTripLocations(ctx, trip.ID)
	if err != nil || deleted != 4 {
		t.Fatalf("first prune: deleted=%d err=%v", deleted, err)
	}
	deleted, err = m.PruneTripLocations(ctx, trip.ID)
	if err != nil || deleted != 0 {
		t.Fatalf("second prune must delete nothing: deleted=%d err=%v", deleted, err)
	}
	samples, _ := m.ListLocations(ctx, trip.ID, 0)
	if len(samples) != 1 || samples[0].Latitude != 4 {
		t.Fatalf("latest sample not preserved: %+v", samples)
	}
}

func TestMemoryFindPrunableTrips(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	old, _ := m.CreateTrip(ctx, "D1", "BUS-001", "500A")
	_, _ = m.EndTrip(ctx, old.ID, time.Now().Add(-2*time.Hour))
	recent, _ := m.CreateTrip(ctx, "D2", "BUS-002", "500B")
	_, _ = m.EndTrip(ctx, recent.ID, time.Now())
	_, _ = m.CreateTrip(ctx, "D3", "BUS-003", "500C") // still active

	cutoff := time.Now().Add(-time.Hour)
	trips, err := m.FindPrunableTrips(ctx, cutoff, 10)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(trips) != 1 || trips[0].ID != old.ID {
		t.Fatalf("want only the old ended trip, got %+v", trips)
	}

	if err := m.MarkPruned(ctx, old.ID, time.Now()); err != nil {
		t.Fatalf("mark pruned: %v", err)
	}
	trips, _ = m.FindPrunableTrips(ctx, cutoff, 10)
	if len(trips) != 0 {
		t.Fatalf("pruned trip not excluded: %+v", trips)
	}
}

func TestMemoryFindPrunableOldestFirstUnderLimit(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ends := map[string]time.Duration{"D1": 4 * time.Hour, "D2": 2 * time.Hour, "D3": 3 * time.Hour}
	ids := map[string]string{}
	for driver, ago := range ends {
		trip, _ := m.CreateTrip(ctx, driver, "BUS-"+driver, "500A")
		_, _ = m.EndTrip(ctx, trip.ID, time.Now().Add(-ago))
		ids[driver] = trip.ID
	}

	trips, err := m.FindPrunableTrips(ctx, time.Now().Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	// a limited batch must take the oldest ends, in order
	if len(trips) != 2 || trips[0].ID != ids["D1"] || trips[1].ID != ids["D3"] {
		t.Fatalf("want [D1 D3] oldest-first, got %+v", trips)
	}
}
