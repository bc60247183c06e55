package relay

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"busrelay/internal/auth"
	"busrelay/internal/config"
	"busrelay/internal/metrics"
	"busrelay/internal/model"
	"busrelay/internal/store"
)

// conn is one attached websocket (or test) connection with a bounded
// outbound queue. The queue isolates slow consumers: a full queue drops the
// frame for that connection only.
type conn struct {
	id   string
	role string
	send chan Event

	mu     sync.Mutex
	closed bool
}

func (c *conn) trySend(evt Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- evt:
		return true
	default:
		return false
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Server owns the relay's shared state: the driver session table, the
// subscription registry, the connection hub, and the broker-fed dispatch
// loop that fans events out to local connections.
type Server struct {
	Cfg      config.Config
	Store    store.TripStore
	Broker   EventBroker
	Auth     *auth.Verifier
	Sessions *SessionTable
	Registry *Registry

	mu    sync.Mutex
	conns map[string]*conn

	events    chan Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewServer wires a Server from config. With no database URL the in-memory
// trip store is used; with no redis URL the in-memory broker is used.
func NewServer(cfg config.Config) (*Server, error) {
	var ts store.TripStore
	if strings.TrimSpace(cfg.Database.URL) == "" {
		ts = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		ts = sp
	}
	var broker EventBroker
	if cfg.Redis.URL != "" {
		rb, err := NewRedisBroker(cfg.Redis.URL, cfg.Relay.BrokerBuffer)
		if err != nil {
			return nil, err
		}
		broker = rb
	} else {
		broker = NewBroker(cfg.Relay.BrokerBuffer)
	}
	metrics.RegisterDefault()
	return &Server{
		Cfg:      cfg,
		Store:    ts,
		Broker:   broker,
		Auth:     auth.NewVerifier(cfg.Auth.Mode, cfg.Auth.HMACSecret),
		Sessions: NewSessionTable(),
		Registry: NewRegistry(),
		conns:    map[string]*conn{},
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Run starts the dispatch loop. One goroutine consumes the broker's event
// topic in order, so a single viewer never sees one trip's samples reordered.
func (s *Server) Run() {
	s.events = s.Broker.Subscribe(TopicEvents)
	go func() {
		defer close(s.done)
		for {
			select {
			case <-s.stop:
				return
			case evt, ok := <-s.events:
				if !ok {
					return
				}
				s.dispatch(evt)
			}
		}
	}()
}

// Close stops the dispatch loop and closes every connection queue.
// Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.Broker.Unsubscribe(TopicEvents, s.events)
		<-s.done
		s.mu.Lock()
		for id, c := range s.conns {
			c.close()
			delete(s.conns, id)
		}
		s.mu.Unlock()
	})
}

// dispatch routes one event to local connections: global announcements go to
// everyone, location updates to the bus's recipient set.
func (s *Server) dispatch(evt Event) {
	if isGlobal(evt.Type) {
		s.mu.Lock()
		targets := make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			targets = append(targets, c)
		}
		s.mu.Unlock()
		s.deliver(evt, targets)
		return
	}
	if evt.Type != EvtLocationUpdate {
		return
	}
	busID, _ := evt.Data["busId"].(string)
	if busID == "" {
		return
	}
	ids := s.Registry.RecipientsOf(busID)
	s.mu.Lock()
	targets := make([]*conn, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()
	s.deliver(evt, targets)
}

func (s *Server) deliver(evt Event, targets []*conn) {
	for _, c := range targets {
		if c.trySend(evt) {
			metrics.FanoutDeliveries.WithLabelValues(evt.Type, "sent").Inc()
		} else {
			metrics.FanoutDeliveries.WithLabelValues(evt.Type, "dropped").Inc()
		}
	}
}

// attach registers a connection with the hub and returns it.
func (s *Server) attach(connID, role string) *conn {
	c := &conn{id: connID, role: role, send: make(chan Event, s.sendQueue())}
	s.mu.Lock()
	s.conns[connID] = c
	s.mu.Unlock()
	metrics.Connections.WithLabelValues(role).Inc()
	return c
}

// detach removes a connection from the hub and closes its queue.
func (s *Server) detach(connID string) {
	s.mu.Lock()
	c, ok := s.conns[connID]
	delete(s.conns, connID)
	s.mu.Unlock()
	if ok {
		c.close()
		metrics.Connections.WithLabelValues(c.role).Dec()
	}
}

func (s *Server) sendQueue() int {
	if s.Cfg.Relay.SendQueue > 0 {
		return s.Cfg.Relay.SendQueue
	}
	return 32
}

func (s *Server) publish(evt Event) { s.Broker.Publish(TopicEvents, evt) }

// sendTo pushes an event directly to one connection, outside the broker.
// Used for acks and nacks only.
func (s *Server) sendTo(connID string, evt Event) {
	s.mu.Lock()
	c, ok := s.conns[connID]
	s.mu.Unlock()
	if ok {
		c.trySend(evt)
	}
}

// --- Event operations ------------------------------------------------------

// RegisterPayload is the driver-register message body.
type RegisterPayload struct {
	DriverID string `json:"driverId"`
	BusID    string `json:"busId"`
	RouteID  string `json:"routeId"`
}

// DriverRegister binds a connection to a driver/bus/route and announces the
// bus as active. The one user-visible nack in the protocol is the negative
// ack for malformed register data.
func (s *Server) DriverRegister(ctx context.Context, connID string, p RegisterPayload) Event {
	if strings.TrimSpace(p.DriverID) == "" || strings.TrimSpace(p.BusID) == "" {
		return Event{Type: EvtRegistered, Data: map[string]any{"success": false, "message": "driverId and busId are required"}}
	}
	sess := s.Sessions.Register(connID, p.DriverID, p.BusID, p.RouteID)
	// Adopt a trip that is still active in the store (driver reconnect).
	if s.Store != nil {
		if t, err := s.Store.ActiveTrip(ctx, p.DriverID, p.BusID); err == nil {
			s.Sessions.SetTrip(connID, t.ID, true)
		} else if err != store.ErrNotFound {
			metrics.StoreErrors.WithLabelValues("active_trip").Inc()
			log.Printf("register: active trip lookup for %s/%s failed: %v", p.DriverID, p.BusID, err)
		}
	}
	s.publish(Event{Type: EvtStatusUpdate, Data: map[string]any{
		"busId":     sess.BusID,
		"driverId":  sess.DriverID,
		"route":     sess.RouteID,
		"status":    "active",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
	return Event{Type: EvtRegistered, Data: map[string]any{"success": true, "driverId": p.DriverID, "busId": p.BusID}}
}

// LocationUpdate ingests one report and broadcasts the accepted sample.
// There is no ack channel: validation failures are dropped (and counted),
// never surfaced to the sender, never fatal to the stream.
func (s *Server) LocationUpdate(ctx context.Context, connID string, rep model.LocationReport) error {
	loc, sess, err := s.ingestLocation(ctx, connID, rep)
	if err != nil {
		return err
	}
	locData := map[string]any{
		"lat":       loc.Lat,
		"lng":       loc.Lng,
		"timestamp": loc.Timestamp.Format(time.RFC3339),
	}
	if loc.Accuracy != nil {
		locData["accuracy"] = *loc.Accuracy
	}
	// Updates from a session whose trip has ended are still broadcast;
	// tripActive lets dashboards grey the bus out. Persistence, by
	// contrast, only happens while a trip is active (see ingestLocation).
	s.publish(Event{Type: EvtLocationUpdate, Data: map[string]any{
		"busId":      sess.BusID,
		"driverId":   sess.DriverID,
		"route":      sess.RouteID,
		"tripActive": sess.Active,
		"location":   locData,
	}})
	return nil
}

// StartTrip flips the session active and binds it to a stored trip,
// creating one when the store has no active trip for this driver+bus.
func (s *Server) StartTrip(ctx context.Context, connID string) error {
	sess, ok := s.Sessions.Get(connID)
	if !ok {
		return ErrUnregisteredSender
	}
	tripID := sess.TripID
	if s.Store != nil && tripID == "" {
		t, err := s.Store.ActiveTrip(ctx, sess.DriverID, sess.BusID)
		if err == store.ErrNotFound {
			t, err = s.Store.CreateTrip(ctx, sess.DriverID, sess.BusID, sess.RouteID)
		}
		if err != nil {
			metrics.StoreErrors.WithLabelValues("create_trip").Inc()
			log.Printf("start-trip: store unavailable for %s/%s: %v", sess.DriverID, sess.BusID, err)
		} else {
			tripID = t.ID
		}
	}
	s.Sessions.SetTrip(connID, tripID, true)
	s.publish(Event{Type: EvtTripStarted, Data: map[string]any{
		"busId":     sess.BusID,
		"driverId":  sess.DriverID,
		"route":     sess.RouteID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
	return nil
}

// EndTrip flips the session inactive and closes the stored trip.
func (s *Server) EndTrip(ctx context.Context, connID string) error {
	sess, ok := s.Sessions.Get(connID)
	if !ok {
		return ErrUnregisteredSender
	}
	if s.Store != nil && sess.TripID != "" {
		if _, err := s.Store.EndTrip(ctx, sess.TripID, time.Now()); err != nil {
			metrics.StoreErrors.WithLabelValues("end_trip").Inc()
			log.Printf("end-trip: closing trip %s failed: %v", sess.TripID, err)
		}
	}
	s.Sessions.SetTrip(connID, "", false)
	s.publish(Event{Type: EvtTripEnded, Data: map[string]any{
		"busId":     sess.BusID,
		"driverId":  sess.DriverID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
	return nil
}

// SubscribeBus joins a connection to a bus's recipient set (or the wildcard
// set for AllBuses) and acks directly to the subscriber.
func (s *Server) SubscribeBus(connID, busID string) {
	if strings.TrimSpace(busID) == "" {
		return
	}
	s.Registry.Subscribe(connID, busID)
	s.sendTo(connID, Event{Type: EvtSubscribed, Data: map[string]any{"busId": busID}})
}

// UnsubscribeBus removes one subscription.
func (s *Server) UnsubscribeBus(connID, busID string) {
	s.Registry.Unsubscribe(connID, busID)
}

// Disconnect tears down everything bound to a connection: subscriptions
// first, then the driver session, then an offline announcement if the
// connection was a registered driver. The stored trip is left as-is so a
// reconnecting driver can adopt it.
func (s *Server) Disconnect(ctx context.Context, connID string) {
	s.Registry.UnsubscribeAll(connID)
	sess, wasDriver := s.Sessions.Remove(connID)
	s.detach(connID)
	if !wasDriver {
		return
	}
	s.publish(Event{Type: EvtStatusUpdate, Data: map[string]any{
		"busId":     sess.BusID,
		"driverId":  sess.DriverID,
		"route":     sess.RouteID,
		"status":    "offline",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}})
}
