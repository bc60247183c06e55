package store

import (
	"context"
	"errors"
	"time"

	"busrelay/internal/model"
)

// TripStore is the persistence interface used by the relay and the pruner.
// The relay only appends and queries; trip rows themselves are shared with
// the surrounding CRUD backend.
type TripStore interface {
	// Trips
	CreateTrip(ctx context.Context, driverID, busNumber, routeID string) (model.Trip, error)
	EndTrip(ctx context.Context, tripID string, at time.Time) (model.Trip, error)
	GetTrip(ctx context.Context, tripID string) (model.Trip, error)
	// ActiveTrip returns the single active trip for a driver+bus pair, or
	// ErrNotFound when none is active.
	ActiveTrip(ctx context.Context, driverID, busNumber string) (model.Trip, error)
	// LatestTripForBus returns the most recently started trip for a bus,
	// active or ended.
	LatestTripForBus(ctx context.Context, busNumber string) (model.Trip, error)

	// Location history
	AppendLocation(ctx context.Context, tripID string, lat, lng float64, accuracy *float64, recordedAt time.Time) (string, error)
	ListLocations(ctx context.Context, tripID string, limit int) ([]model.LocationSample, error)
	LatestLocation(ctx context.Context, tripID string) (model.LocationSample, error)

	// Pruning. FindPrunableTrips returns ended, not-yet-pruned trips whose
	// end time is before the cutoff. PruneTripLocations deletes all but the
	// most recent sample and reports how many rows went away; running it
	// again on the same trip deletes zero rows.
	FindPrunableTrips(ctx context.Context, endedBefore time.Time, limit int) ([]model.Trip, error)
	PruneTripLocations(ctx context.Context, tripID string) (int, error)
	MarkPruned(ctx context.Context, tripID string, at time.Time) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}

var ErrNotFound = errors.New("not found")
