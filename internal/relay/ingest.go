package relay

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"busrelay/internal/metrics"
	"busrelay/internal/model"
)

// Ingest error taxonomy. Both are dropped at the event boundary; neither
// terminates the sender's connection.
var (
	ErrUnregisteredSender = errors.New("unregistered sender")
	ErrInvalidCoordinate  = errors.New("invalid coordinate")
)

// validateReport checks geographic ranges and finiteness. No deduplication,
// rate limiting, or accuracy filtering happens here.
func validateReport(rep model.LocationReport) error {
	if math.IsNaN(rep.Latitude) || math.IsInf(rep.Latitude, 0) ||
		math.IsNaN(rep.Longitude) || math.IsInf(rep.Longitude, 0) {
		return ErrInvalidCoordinate
	}
	if rep.Latitude < -90 || rep.Latitude > 90 {
		return ErrInvalidCoordinate
	}
	if rep.Longitude < -180 || rep.Longitude > 180 {
		return ErrInvalidCoordinate
	}
	if rep.Accuracy != nil && (*rep.Accuracy < 0 || math.IsNaN(*rep.Accuracy) || math.IsInf(*rep.Accuracy, 0)) {
		return ErrInvalidCoordinate
	}
	return nil
}

// ingestLocation validates a raw report from connID, stamps it, updates the
// session's last location, and appends to the trip store when the session has
// an active trip. A store failure is logged and counted but the normalized
// sample is still returned so the broadcast proceeds.
func (s *Server) ingestLocation(ctx context.Context, connID string, rep model.LocationReport) (model.Location, DriverSession, error) {
	sess, ok := s.Sessions.Get(connID)
	if !ok {
		metrics.IngestSamples.WithLabelValues("unregistered").Inc()
		return model.Location{}, DriverSession{}, ErrUnregisteredSender
	}
	if err := validateReport(rep); err != nil {
		metrics.IngestSamples.WithLabelValues("invalid_coordinate").Inc()
		return model.Location{}, DriverSession{}, err
	}
	ts := time.Now().UTC()
	if rep.Timestamp != nil {
		ts = rep.Timestamp.UTC()
	}
	loc := model.Location{Lat: rep.Latitude, Lng: rep.Longitude, Accuracy: rep.Accuracy, Timestamp: ts}
	s.Sessions.SetLocation(connID, loc)
	metrics.IngestSamples.WithLabelValues("accepted").Inc()

	if s.Store != nil && sess.Active && sess.TripID != "" {
		if _, err := s.Store.AppendLocation(ctx, sess.TripID, loc.Lat, loc.Lng, loc.Accuracy, ts); err != nil {
			metrics.StoreErrors.WithLabelValues("append_location").Inc()
			log.Printf("ingest: append location for trip %s failed: %v", sess.TripID, err)
		}
	}
	return loc, sess, nil
}
