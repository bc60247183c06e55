package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"busrelay/internal/model"
)

// Memory is a simple in-memory trip store used when no DATABASE_URL is set.
type Memory struct {
	mu      sync.Mutex
	trips   map[string]model.Trip             // tripId -> trip
	byBus   map[string][]string               // busNumber -> trip ids, append order
	samples map[string][]model.LocationSample // tripId -> samples, append order
	pruned  map[string]time.Time              // tripId -> pruned at
}

func NewMemory() *Memory {
	return &Memory{
		trips:   map[string]model.Trip{},
		byBus:   map[string][]string{},
		samples: map[string][]model.LocationSample{},
		pruned:  map[string]time.Time{},
	}
}

func (m *Memory) CreateTrip(ctx context.Context, driverID, busNumber, routeID string) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := model.Trip{
		ID:        uuid.New().String(),
		DriverID:  driverID,
		BusNumber: busNumber,
		RouteID:   routeID,
		Status:    model.TripActive,
		StartTime: time.Now().UTC(),
	}
	m.trips[t.ID] = t
	m.byBus[busNumber] = append(m.byBus[busNumber], t.ID)
	return t, nil
}

func (m *Memory) EndTrip(ctx context.Context, tripID string, at time.Time) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return model.Trip{}, ErrNotFound
	}
	if t.Status != model.TripEnded {
		t.Status = model.TripEnded
		end := at.UTC()
		t.EndTime = &end
		m.trips[tripID] = t
	}
	return t, nil
}

func (m *Memory) GetTrip(ctx context.Context, tripID string) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return model.Trip{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) ActiveTrip(ctx context.Context, driverID, busNumber string) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byBus[busNumber]
	for i := len(ids) - 1; i >= 0; i-- {
		t := m.trips[ids[i]]
		if t.DriverID == driverID && t.Status == model.TripActive {
			return t, nil
		}
	}
	return model.Trip{}, ErrNotFound
}

func (m *Memory) LatestTripForBus(ctx context.Context, busNumber string) (model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byBus[busNumber]
	if len(ids) == 0 {
		return model.Trip{}, ErrNotFound
	}
	return m.trips[ids[len(ids)-1]], nil
}

func (m *Memory) AppendLocation(ctx context.Context, tripID string, lat, lng float64, accuracy *float64, recordedAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[tripID]; !ok {
		return "", ErrNotFound
	}
	s := model.LocationSample{
		ID:         uuid.New().String(),
		TripID:     tripID,
		Latitude:   lat,
		Longitude:  lng,
		Accuracy:   accuracy,
		RecordedAt: recordedAt.UTC(),
	}
	m.samples[tripID] = append(m.samples[tripID], s)
	return s.ID, nil
}

func (m *Memory) ListLocations(ctx context.Context, tripID string, limit int) ([]model.LocationSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss := m.samples[tripID]
	if limit <= 0 || limit > len(ss) {
		limit = len(ss)
	}
	out := make([]model.LocationSample, limit)
	copy(out, ss[len(ss)-limit:])
	return out, nil
}

func (m *Memory) LatestLocation(ctx context.Context, tripID string) (model.LocationSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best, ok := m.latestLocked(tripID)
	if !ok {
		return model.LocationSample{}, ErrNotFound
	}
	return best, nil
}

// latestLocked picks the sample with the greatest recordedAt, id as
// tie-break, so "most recent" stays deterministic even when clients send
// duplicate or out-of-order timestamps.
func (m *Memory) latestLocked(tripID string) (model.LocationSample, bool) {
	ss := m.samples[tripID]
	if len(ss) == 0 {
		return model.LocationSample{}, false
	}
	best := ss[0]
	for _, s := range ss[1:] {
		if s.RecordedAt.After(best.RecordedAt) || (s.RecordedAt.Equal(best.RecordedAt) && s.ID > best.ID) {
			best = s
		}
	}
	return best, true
}

func (m *Memory) FindPrunableTrips(ctx context.Context, endedBefore time.Time, limit int) ([]model.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []model.Trip{}
	for id, t := range m.trips {
		if t.Status != model.TripEnded || t.EndTime == nil || !t.EndTime.Before(endedBefore) {
			continue
		}
		if _, done := m.pruned[id]; done {
			continue
		}
		out = append(out, t)
	}
	// oldest first, so a small batch limit always drains the backlog
	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(*out[j].EndTime) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) PruneTripLocations(ctx context.Context, tripID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best, ok := m.latestLocked(tripID)
	if !ok {
		return 0, nil
	}
	deleted := len(m.samples[tripID]) - 1
	m.samples[tripID] = []model.LocationSample{best}
	return deleted, nil
}

func (m *Memory) MarkPruned(ctx context.Context, tripID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[tripID]; !ok {
		return ErrNotFound
	}
	m.pruned[tripID] = at.UTC()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }
