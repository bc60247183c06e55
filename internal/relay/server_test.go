package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"busrelay/internal/model"
	"busrelay/internal/store"
)

func startTestServer(t *testing.T) *Server {
	t.Helper()
	s := newTestServer(t)
	s.Run()
	t.Cleanup(s.Close)
	return s
}

func recvEvent(t *testing.T, c *conn) Event {
	t.Helper()
	select {
	case evt, ok := <-c.send:
		if !ok {
			t.Fatal("connection queue closed")
		}
		return evt
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

// recvType drains global announcements until an event of the wanted type
// arrives.
func recvType(t *testing.T, c *conn, typ string) Event {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		evt := recvEvent(t, c)
		if evt.Type == typ {
			return evt
		}
	}
	t.Fatalf("no %s event received", typ)
	return Event{}
}

func assertNoEvent(t *testing.T, c *conn, typ string) {
	t.Helper()
	select {
	case evt, ok := <-c.send:
		if ok && evt.Type == typ {
			t.Fatalf("unexpected %s event: %+v", typ, evt.Data)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFanoutCompleteness(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	driver := s.attach("d1", "driver")
	ack := s.DriverRegister(ctx, "d1", RegisterPayload{DriverID: "D1", BusID: "BUS-001", RouteID: "500A"})
	if ack.Data["success"] != true {
		t.Fatalf("register nacked: %+v", ack.Data)
	}
	recvType(t, driver, EvtStatusUpdate) // drain the global announcement

	// two on the bus, one on the wildcard, one on both, one elsewhere
	busOnly1 := s.attach("v1", "viewer")
	busOnly2 := s.attach("v2", "viewer")
	allOnly := s.attach("v3", "viewer")
	both := s.attach("v4", "viewer")
	other := s.attach("v5", "viewer")
	s.Registry.Subscribe("v1", "BUS-001")
	s.Registry.Subscribe("v2", "BUS-001")
	s.Registry.Subscribe("v3", AllBuses)
	s.Registry.Subscribe("v4", "BUS-001")
	s.Registry.Subscribe("v4", AllBuses)
	s.Registry.Subscribe("v5", "BUS-777")

	if err := s.LocationUpdate(ctx, "d1", model.LocationReport{Latitude: 12.9774, Longitude: 77.5708, Accuracy: f64(10)}); err != nil {
		t.Fatalf("location update: %v", err)
	}

	for _, v := range []*conn{busOnly1, busOnly2, allOnly, both} {
		evt := recvType(t, v, EvtLocationUpdate)
		if evt.Data["busId"] != "BUS-001" || evt.Data["driverId"] != "D1" || evt.Data["route"] != "500A" {
			t.Fatalf("%s: bad event data: %+v", v.id, evt.Data)
		}
		loc, ok := evt.Data["location"].(map[string]any)
		if !ok {
			t.Fatalf("%s: missing location: %+v", v.id, evt.Data)
		}
		if loc["lat"] != 12.9774 || loc["lng"] != 77.5708 || loc["accuracy"] != 10.0 {
			t.Fatalf("%s: bad location: %+v", v.id, loc)
		}
		if ts, _ := loc["timestamp"].(string); ts == "" {
			t.Fatalf("%s: missing timestamp", v.id)
		}
		// exactly one delivery per viewer, even for the dual subscriber
		assertNoEvent(t, v, EvtLocationUpdate)
	}
	assertNoEvent(t, other, EvtLocationUpdate)
	// the producing driver is not a subscriber
	assertNoEvent(t, driver, EvtLocationUpdate)
}

func TestPerTripOrderPreserved(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	s.attach("d1", "driver")
	s.DriverRegister(ctx, "d1", RegisterPayload{DriverID: "D1", BusID: "BUS-001", RouteID: "500A"})
	viewer := s.attach("v1", "viewer")
	s.Registry.Subscribe("v1", "BUS-001")

	lats := []float64{10.0, 10.1, 10.2, 10.3}
	for _, lat := range lats {
		if err := s.LocationUpdate(ctx, "d1", model.LocationReport{Latitude: lat, Longitude: 77}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	for i, want := range lats {
		evt := recvType(t, viewer, EvtLocationUpdate)
		loc := evt.Data["location"].(map[string]any)
		if loc["lat"] != want {
			t.Fatalf("event %d: got lat %v, want %v", i, loc["lat"], want)
		}
	}
}

func TestDisconnectCleanup(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	s.attach("d1", "driver")
	s.DriverRegister(ctx, "d1", RegisterPayload{DriverID: "D1", BusID: "BUS-001", RouteID: "500A"})
	viewer := s.attach("v1", "viewer")
	s.Registry.Subscribe("v1", "BUS-001")
	s.Registry.Subscribe("v1", AllBuses)

	s.Disconnect(ctx, "v1")

	if got := s.Registry.SubscribersOf("BUS-001"); len(got) != 0 {
		t.Fatalf("subscriptions outlive disconnect: %v", got)
	}
	if err := s.LocationUpdate(ctx, "d1", model.LocationReport{Latitude: 1, Longitude: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}
	// the queue is closed on detach; it must yield no further events
	drained := false
	for !drained {
		select {
		case _, ok := <-viewer.send:
			if !ok {
				drained = true
			}
		case <-time.After(200 * time.Millisecond):
			t.Fatal("viewer queue not closed after disconnect")
		}
	}
}

func TestDriverDisconnectAnnouncesOffline(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	s.attach("d1", "driver")
	s.DriverRegister(ctx, "d1", RegisterPayload{DriverID: "D1", BusID: "BUS-001", RouteID: "500A"})
	viewer := s.attach("v1", "viewer")

	s.Disconnect(ctx, "d1")
	evt := recvType(t, viewer, EvtStatusUpdate)
	// the first status update may be the register announcement
	if evt.Data["status"] == "active" {
		evt = recvType(t, viewer, EvtStatusUpdate)
	}
	if evt.Data["status"] != "offline" || evt.Data["busId"] != "BUS-001" {
		t.Fatalf("bad offline announcement: %+v", evt.Data)
	}
	if _, ok := s.Sessions.GetByBus("BUS-001"); ok {
		t.Fatal("driver session survived disconnect")
	}
}

func TestTripLifecyclePersistence(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	s.attach("d1", "driver")
	s.DriverRegister(ctx, "d1", RegisterPayload{DriverID: "D1", BusID: "BUS-001", RouteID: "500A"})
	viewer := s.attach("v1", "viewer")
	s.Registry.Subscribe("v1", "BUS-001")

	// inactive session: update broadcasts but does not persist
	if err := s.LocationUpdate(ctx, "d1", model.LocationReport{Latitude: 1, Longitude: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}
	evt := recvType(t, viewer, EvtLocationUpdate)
	if evt.Data["tripActive"] != false {
		t.Fatalf("expected tripActive=false before start-trip: %+v", evt.Data)
	}

	if err := s.StartTrip(ctx, "d1"); err != nil {
		t.Fatalf("start-trip: %v", err)
	}
	recvType(t, viewer, EvtTripStarted)
	sess, _ := s.Sessions.Get("d1")
	if sess.TripID == "" || !sess.Active {
		t.Fatalf("session not bound to a trip: %+v", sess)
	}
	tripID := sess.TripID

	if err := s.LocationUpdate(ctx, "d1", model.LocationReport{Latitude: 3, Longitude: 4}); err != nil {
		t.Fatalf("update: %v", err)
	}
	evt = recvType(t, viewer, EvtLocationUpdate)
	if evt.Data["tripActive"] != true {
		t.Fatalf("expected tripActive=true during trip: %+v", evt.Data)
	}
	samples, err := s.Store.ListLocations(ctx, tripID, 0)
	if err != nil || len(samples) != 1 {
		t.Fatalf("want 1 persisted sample, got %d (err %v)", len(samples), err)
	}

	if err := s.EndTrip(ctx, "d1"); err != nil {
		t.Fatalf("end-trip: %v", err)
	}
	recvType(t, viewer, EvtTripEnded)
	trip, err := s.Store.GetTrip(ctx, tripID)
	if err != nil || trip.Status != model.TripEnded || trip.EndTime == nil {
		t.Fatalf("trip not closed in store: %+v (err %v)", trip, err)
	}

	// post-trip updates still broadcast, but nothing more is persisted
	if err := s.LocationUpdate(ctx, "d1", model.LocationReport{Latitude: 5, Longitude: 6}); err != nil {
		t.Fatalf("update: %v", err)
	}
	evt = recvType(t, viewer, EvtLocationUpdate)
	if evt.Data["tripActive"] != false {
		t.Fatalf("expected tripActive=false after end-trip: %+v", evt.Data)
	}
	samples, _ = s.Store.ListLocations(ctx, tripID, 0)
	if len(samples) != 1 {
		t.Fatalf("post-trip sample persisted: got %d rows", len(samples))
	}
}

// appendFailStore simulates persistence being down while broadcasting stays up.
type appendFailStore struct {
	store.TripStore
}

func (f *appendFailStore) AppendLocation(ctx context.Context, tripID string, lat, lng float64, accuracy *float64, recordedAt time.Time) (string, error) {
	return "", errors.New("connection refused")
}

func TestBroadcastSurvivesStoreOutage(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	s.attach("d1", "driver")
	s.DriverRegister(ctx, "d1", RegisterPayload{DriverID: "D1", BusID: "BUS-001", RouteID: "500A"})
	if err := s.StartTrip(ctx, "d1"); err != nil {
		t.Fatalf("start-trip: %v", err)
	}
	viewer := s.attach("v1", "viewer")
	s.Registry.Subscribe("v1", "BUS-001")

	s.Store = &appendFailStore{TripStore: s.Store}
	if err := s.LocationUpdate(ctx, "d1", model.LocationReport{Latitude: 1, Longitude: 2}); err != nil {
		t.Fatalf("update must not fail on store outage: %v", err)
	}
	evt := recvType(t, viewer, EvtLocationUpdate)
	if evt.Data["busId"] != "BUS-001" {
		t.Fatalf("bad event: %+v", evt.Data)
	}
}

func TestRegisterAdoptsActiveTrip(t *testing.T) {
	s := startTestServer(t)
	ctx := context.Background()

	trip, err := s.Store.CreateTrip(ctx, "D1", "BUS-001", "500A")
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	s.attach("d1", "driver")
	s.DriverRegister(ctx, "d1", RegisterPayload{DriverID: "D1", BusID: "BUS-001", RouteID: "500A"})
	sess, _ := s.Sessions.Get("d1")
	if sess.TripID != trip.ID || !sess.Active {
		t.Fatalf("reconnect did not adopt active trip: %+v", sess)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	s.Run()
	s.Close()
	s.Close() // second close must be a no-op, not a panic
}

func TestRegisterRejectsMissingFields(t *testing.T) {
	s := startTestServer(t)
	ack := s.DriverRegister(context.Background(), "d1", RegisterPayload{DriverID: "", BusID: "BUS-001"})
	if ack.Data["success"] != false {
		t.Fatalf("expected nack: %+v", ack.Data)
	}
	if _, ok := s.Sessions.Get("d1"); ok {
		t.Fatal("session created from malformed register")
	}
}
