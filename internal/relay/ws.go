package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"busrelay/internal/auth"
	"busrelay/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is the inbound/outbound envelope. Inbound carries Type+Payload;
// outbound events reuse Event directly.
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	BusID string `json:"busId"`
}

// WSHandler handles /ws for both driver and viewer clients. Each connection
// gets a writer goroutine draining its bounded queue and a read loop that
// applies inbound events as atomic steps against the shared registries.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	pr, err := s.Auth.Verify(bearerToken(r))
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Invalid token", err.Error(), r.URL.Path)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	connID := uuid.New().String()
	c := s.attach(connID, pr.Role)

	// Writer: sole owner of writes on ws. Exits when the queue closes.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(s.Cfg.Relay.PingPeriod())
		defer ticker.Stop()
		for {
			select {
			case evt, ok := <-c.send:
				if !ok {
					_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := ws.WriteJSON(evt); err != nil {
					return
				}
			case <-ticker.C:
				_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	ws.SetReadLimit(1 << 20)
	_ = ws.SetReadDeadline(time.Now().Add(s.Cfg.Relay.ReadWait()))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(s.Cfg.Relay.ReadWait()))
		return nil
	})

	for {
		var msg wsMessage
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		_ = ws.SetReadDeadline(time.Now().Add(s.Cfg.Relay.ReadWait()))
		s.handleMessage(r, connID, pr, msg)
	}

	// Transport gone: tear down subscriptions and session synchronously.
	s.Disconnect(r.Context(), connID)
	_ = ws.Close()
	<-writerDone
}

// handleMessage applies one inbound frame. Per-event errors are contained
// here; a bad frame never closes the connection.
func (s *Server) handleMessage(r *http.Request, connID string, pr auth.Principal, msg wsMessage) {
	ctx := r.Context()
	switch msg.Type {
	case MsgDriverRegister:
		var p RegisterPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			s.sendTo(connID, Event{Type: EvtRegistered, Data: map[string]any{"success": false, "message": "invalid payload"}})
			return
		}
		// Only driver and admin principals may register a bus.
		if !pr.IsDriver() && !pr.IsAdmin() {
			s.sendTo(connID, Event{Type: EvtRegistered, Data: map[string]any{"success": false, "message": "token role cannot register as driver"}})
			return
		}
		// A token bound to a driver id may only register as that driver.
		if pr.DriverID != "" && p.DriverID != pr.DriverID {
			s.sendTo(connID, Event{Type: EvtRegistered, Data: map[string]any{"success": false, "message": "driverId does not match token"}})
			return
		}
		s.sendTo(connID, s.DriverRegister(ctx, connID, p))
	case MsgLocationUpdate:
		var rep model.LocationReport
		if err := json.Unmarshal(msg.Payload, &rep); err != nil {
			// fire-and-forget: malformed updates are dropped silently
			return
		}
		if err := s.LocationUpdate(ctx, connID, rep); err != nil {
			log.Printf("ws %s: location update dropped: %v", connID, err)
		}
	case MsgStartTrip:
		if err := s.StartTrip(ctx, connID); err != nil {
			log.Printf("ws %s: start-trip dropped: %v", connID, err)
		}
	case MsgEndTrip:
		if err := s.EndTrip(ctx, connID); err != nil {
			log.Printf("ws %s: end-trip dropped: %v", connID, err)
		}
	case MsgSubscribeToBus:
		var p subscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.SubscribeBus(connID, p.BusID)
	case MsgUnsubscribeFrom:
		var p subscribePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		s.UnsubscribeBus(connID, p.BusID)
	default:
		// unknown frame types are ignored
	}
}

func bearerToken(r *http.Request) string {
	if v := r.URL.Query().Get("token"); v != "" {
		return v
	}
	authz := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(authz) > len(prefix) && authz[:len(prefix)] == prefix {
		return authz[len(prefix):]
	}
	return ""
}
