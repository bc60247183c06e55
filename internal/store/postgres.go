package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"busrelay/internal/model"
)

// Postgres implements TripStore over the shared trips/trip_locations tables.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

const tripCols = `id::text, driver_id, bus_number, route_id, status, start_time, end_time`

func scanTrip(row interface{ Scan(...any) error }) (model.Trip, error) {
	var t model.Trip
	var end sql.NullTime
	err := row.Scan(&t.ID, &t.DriverID, &t.BusNumber, &t.RouteID, &t.Status, &t.StartTime, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trip{}, ErrNotFound
	}
	if err != nil {
		return model.Trip{}, err
	}
	if end.Valid {
		t.EndTime = &end.Time
	}
	return t, nil
}

func (p *Postgres) CreateTrip(ctx context.Context, driverID, busNumber, routeID string) (model.Trip, error) {
	id := uuid.New()
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO trips (id, driver_id, bus_number, route_id, status, start_time)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING `+tripCols,
		id, driverID, busNumber, routeID, model.TripActive)
	return scanTrip(row)
}

func (p *Postgres) EndTrip(ctx context.Context, tripID string, at time.Time) (model.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE trips SET status=$2, end_time=COALESCE(end_time, $3)
		WHERE id=$1
		RETURNING `+tripCols,
		tripID, model.TripEnded, at.UTC())
	return scanTrip(row)
}

func (p *Postgres) GetTrip(ctx context.Context, tripID string) (model.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripCols+` FROM trips WHERE id=$1`, tripID)
	return scanTrip(row)
}

func (p *Postgres) ActiveTrip(ctx context.Context, driverID, busNumber string) (model.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+tripCols+` FROM trips
		WHERE driver_id=$1 AND bus_number=$2 AND status=$3
		ORDER BY start_time DESC LIMIT 1`,
		driverID, busNumber, model.TripActive)
	return scanTrip(row)
}

func (p *Postgres) LatestTripForBus(ctx context.Context, busNumber string) (model.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+tripCols+` FROM trips
		WHERE bus_number=$1
		ORDER BY start_time DESC LIMIT 1`,
		busNumber)
	return scanTrip(row)
}

func (p *Postgres) AppendLocation(ctx context.Context, tripID string, lat, lng float64, accuracy *float64, recordedAt time.Time) (string, error) {
	id := uuid.New()
	var acc any
	if accuracy != nil {
		acc = *accuracy
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trip_locations (id, trip_id, latitude, longitude, accuracy, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, tripID, lat, lng, acc, recordedAt.UTC())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func (p *Postgres) ListLocations(ctx context.Context, tripID string, limit int) ([]model.LocationSample, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id::text, trip_id::text, latitude, longitude, accuracy, recorded_at
		FROM trip_locations WHERE trip_id=$1
		ORDER BY recorded_at ASC, id ASC LIMIT $2`,
		tripID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.LocationSample{}
	for rows.Next() {
		var s model.LocationSample
		var acc sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.TripID, &s.Latitude, &s.Longitude, &acc, &s.RecordedAt); err != nil {
			return nil, err
		}
		if acc.Valid {
			v := acc.Float64
			s.Accuracy = &v
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestLocation(ctx context.Context, tripID string) (model.LocationSample, error) {
	var s model.LocationSample
	var acc sql.NullFloat64
	err := p.db.QueryRowContext(ctx, `
		SELECT id::text, trip_id::text, latitude, longitude, accuracy, recorded_at
		FROM trip_locations WHERE trip_id=$1
		ORDER BY recorded_at DESC, id DESC LIMIT 1`,
		tripID).Scan(&s.ID, &s.TripID, &s.Latitude, &s.Longitude, &acc, &s.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocationSample{}, ErrNotFound
	}
	if err != nil {
		return model.LocationSample{}, err
	}
	if acc.Valid {
		v := acc.Float64
		s.Accuracy = &v
	}
	return s, nil
}

func (p *Postgres) FindPrunableTrips(ctx context.Context, endedBefore time.Time, limit int) ([]model.Trip, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tripCols+` FROM trips
		WHERE status=$1 AND end_time IS NOT NULL AND end_time < $2 AND pruned_at IS NULL
		ORDER BY end_time ASC LIMIT $3`,
		model.TripEnded, endedBefore.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// PruneTripLocations deletes every sample except the most recent one.
// The subquery keys on (recorded_at, id) so reruns always keep the same row
// and delete nothing.
func (p *Postgres) PruneTripLocations(ctx context.Context, tripID string) (int, error) {
	res, err := p.db.ExecContext(ctx, `
		DELETE FROM trip_locations
		WHERE trip_id=$1 AND id <> (
			SELECT id FROM trip_locations WHERE trip_id=$1
			ORDER BY recorded_at DESC, id DESC LIMIT 1
		)`,
		tripID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (p *Postgres) MarkPruned(ctx context.Context, tripID string, at time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET pruned_at=$2 WHERE id=$1`, tripID, at.UTC())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }
