package relay

import (
	"context"
	"math"
	"testing"
	"time"

	"busrelay/internal/config"
	"busrelay/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(config.Default())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func f64(v float64) *float64 { return &v }

func TestIngestAcceptsValidReport(t *testing.T) {
	s := newTestServer(t)
	s.Sessions.Register("c1", "D1", "BUS-001", "500A")

	loc, sess, err := s.ingestLocation(context.Background(), "c1", model.LocationReport{
		Latitude: 12.9774, Longitude: 77.5708, Accuracy: f64(10),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if loc.Lat != 12.9774 || loc.Lng != 77.5708 {
		t.Fatalf("bad normalized location: %+v", loc)
	}
	if loc.Timestamp.IsZero() {
		t.Fatal("receipt timestamp not attached")
	}
	if sess.BusID != "BUS-001" || sess.DriverID != "D1" {
		t.Fatalf("wrong session: %+v", sess)
	}
	got, _ := s.Sessions.Get("c1")
	if got.Last == nil || got.Last.Lat != 12.9774 {
		t.Fatalf("session lastLocation not updated: %+v", got.Last)
	}
}

func TestIngestKeepsClientTimestamp(t *testing.T) {
	s := newTestServer(t)
	s.Sessions.Register("c1", "D1", "BUS-001", "500A")
	ts := time.Date(2024, 9, 5, 10, 0, 0, 0, time.UTC)
	loc, _, err := s.ingestLocation(context.Background(), "c1", model.LocationReport{
		Latitude: 1, Longitude: 2, Timestamp: &ts,
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !loc.Timestamp.Equal(ts) {
		t.Fatalf("timestamp: got %v, want %v", loc.Timestamp, ts)
	}
}

func TestIngestRejectsMalformed(t *testing.T) {
	s := newTestServer(t)
	s.Sessions.Register("c1", "D1", "BUS-001", "500A")

	bad := []model.LocationReport{
		{Latitude: 200, Longitude: 0},
		{Latitude: -91, Longitude: 0},
		{Latitude: 0, Longitude: 181},
		{Latitude: 0, Longitude: -200},
		{Latitude: math.NaN(), Longitude: 0},
		{Latitude: 0, Longitude: math.Inf(1)},
		{Latitude: 1, Longitude: 2, Accuracy: f64(-5)},
		{Latitude: 1, Longitude: 2, Accuracy: f64(math.NaN())},
	}
	for i, rep := range bad {
		if _, _, err := s.ingestLocation(context.Background(), "c1", rep); err != ErrInvalidCoordinate {
			t.Fatalf("case %d: got %v, want ErrInvalidCoordinate", i, err)
		}
	}
	// rejects must not mutate session state
	got, _ := s.Sessions.Get("c1")
	if got.Last != nil {
		t.Fatalf("lastLocation mutated by rejected report: %+v", got.Last)
	}
}

func TestIngestUnregisteredSender(t *testing.T) {
	s := newTestServer(t)
	_, _, err := s.ingestLocation(context.Background(), "nobody", model.LocationReport{Latitude: 1, Longitude: 2})
	if err != ErrUnregisteredSender {
		t.Fatalf("got %v, want ErrUnregisteredSender", err)
	}
}

func TestIngestBoundaryCoordinates(t *testing.T) {
	s := newTestServer(t)
	s.Sessions.Register("c1", "D1", "BUS-001", "500A")
	for _, rep := range []model.LocationReport{
		{Latitude: 90, Longitude: 180},
		{Latitude: -90, Longitude: -180},
		{Latitude: 0, Longitude: 0},
	} {
		if _, _, err := s.ingestLocation(context.Background(), "c1", rep); err != nil {
			t.Fatalf("boundary report rejected: %+v: %v", rep, err)
		}
	}
}
