package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StreamHandler handles GET /stream: a server-sent-events feed of relay
// events for dashboards that cannot hold a websocket. An optional busId
// query filters location updates to one bus; global announcements always
// pass through.
func (s *Server) StreamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	busID := r.URL.Query().Get("busId")

	ch := s.Broker.Subscribe(TopicEvents)
	defer s.Broker.Unsubscribe(TopicEvents, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			if busID != "" && evt.Type == EvtLocationUpdate {
				if id, _ := evt.Data["busId"].(string); id != busID {
					continue
				}
			}
			data, err := json.Marshal(evt.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\n", evt.Type)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
