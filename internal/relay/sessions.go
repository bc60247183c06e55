package relay

import (
	"sync"
	"time"

	"busrelay/internal/model"
)

// DriverSession is the relay's in-memory record of one connected driver.
// It lives exactly as long as the underlying connection and is rebuilt from
// scratch on reconnect.
type DriverSession struct {
	ConnID      string
	DriverID    string
	BusID       string
	RouteID     string
	TripID      string
	Active      bool
	Last        *model.Location
	ConnectedAt time.Time
}

// Snapshot returns the public projection served by the HTTP surface.
func (d *DriverSession) Snapshot() model.BusSnapshot {
	return model.BusSnapshot{
		BusID:        d.BusID,
		DriverID:     d.DriverID,
		RouteID:      d.RouteID,
		TripActive:   d.Active,
		LastLocation: d.Last,
		ConnectedAt:  d.ConnectedAt,
	}
}

// SessionTable holds live driver sessions keyed by connection and by bus.
// All mutation goes through its methods under one lock; last-write-wins on
// a session's location.
type SessionTable struct {
	mu     sync.Mutex
	byConn map[string]*DriverSession
	byBus  map[string]string // busID -> connID
}

func NewSessionTable() *SessionTable {
	return &SessionTable{byConn: map[string]*DriverSession{}, byBus: map[string]string{}}
}

// Register binds a connection to a driver/bus/route. A re-register for the
// same bus replaces the previous session (newest connection wins).
func (t *SessionTable) Register(connID, driverID, busID, routeID string) *DriverSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byBus[busID]; ok && old != connID {
		delete(t.byConn, old)
	}
	s := &DriverSession{
		ConnID:      connID,
		DriverID:    driverID,
		BusID:       busID,
		RouteID:     routeID,
		ConnectedAt: time.Now().UTC(),
	}
	t.byConn[connID] = s
	t.byBus[busID] = connID
	return s
}

// Get returns a copy of the session for a connection.
func (t *SessionTable) Get(connID string) (DriverSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connID]
	if !ok {
		return DriverSession{}, false
	}
	return *s, true
}

// GetByBus returns a copy of the session currently driving busID.
func (t *SessionTable) GetByBus(busID string) (DriverSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	connID, ok := t.byBus[busID]
	if !ok {
		return DriverSession{}, false
	}
	s, ok := t.byConn[connID]
	if !ok {
		return DriverSession{}, false
	}
	return *s, true
}

// SetLocation records the latest accepted sample for a connection.
func (t *SessionTable) SetLocation(connID string, loc model.Location) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connID]
	if !ok {
		return false
	}
	s.Last = &loc
	return true
}

// SetTrip flips a session's trip binding and active flag.
func (t *SessionTable) SetTrip(connID, tripID string, active bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connID]
	if !ok {
		return false
	}
	s.TripID = tripID
	s.Active = active
	return true
}

// Remove tears down a connection's session, if any, and returns it.
func (t *SessionTable) Remove(connID string) (DriverSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connID]
	if !ok {
		return DriverSession{}, false
	}
	delete(t.byConn, connID)
	if t.byBus[s.BusID] == connID {
		delete(t.byBus, s.BusID)
	}
	return *s, true
}

// List returns public snapshots of all live sessions.
func (t *SessionTable) List() []model.BusSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.BusSnapshot, 0, len(t.byConn))
	for _, s := range t.byConn {
		out = append(out, s.Snapshot())
	}
	return out
}
