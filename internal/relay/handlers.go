package relay

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"busrelay/internal/buildinfo"
	"busrelay/internal/metrics"
	"busrelay/internal/store"
)

// HealthHandler handles GET /health: liveness plus a store reachability
// summary. The relay itself has no durable state, so "degraded" only means
// persistence is down while live broadcasting continues.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := "ok"
	storeStatus := "ok"
	if err := s.Store.Ping(ctx); err != nil {
		status = "degraded"
		storeStatus = err.Error()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"store":  storeStatus,
		"build":  buildinfo.Info(),
	})
}

// BusesHandler handles GET /buses: public projections of all live driver
// sessions, busId-sorted for stable output.
func (s *Server) BusesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	buses := s.Sessions.List()
	sort.Slice(buses, func(i, j int) bool { return buses[i].BusID < buses[j].BusID })
	writeJSON(w, http.StatusOK, map[string]any{"buses": buses, "count": len(buses)})
}

// BusByIDHandler handles GET /bus/{busId} and GET /bus/{busId}/history.
func (s *Server) BusByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/bus/")
	if rest == "" || rest == r.URL.Path {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if busID, ok := strings.CutSuffix(rest, "/history"); ok {
		s.busHistory(w, r, busID)
		return
	}
	sess, ok := s.Sessions.GetByBus(rest)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Bus not found", "no live session for bus "+rest, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// busHistory serves the persisted samples of the bus's current (or most
// recent) trip, oldest first, for polyline rendering.
func (s *Server) busHistory(w http.ResponseWriter, r *http.Request, busID string) {
	trip, err := s.Store.LatestTripForBus(r.Context(), busID)
	if err == store.ErrNotFound {
		writeProblem(w, http.StatusNotFound, "Bus not found", "no trips recorded for bus "+busID, r.URL.Path)
		return
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("latest_trip").Inc()
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	samples, err := s.Store.ListLocations(r.Context(), trip.ID, limit)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("list_locations").Inc()
		writeProblem(w, http.StatusServiceUnavailable, "Store unavailable", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trip": trip, "locations": samples})
}

// DebugConfigHandler handles GET /debug/config with secrets redacted.
func (s *Server) DebugConfigHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"build": buildinfo.Info(),
		"time":  time.Now().UTC().Format(time.RFC3339),
		"config": map[string]any{
			"port":        s.Cfg.Server.Port,
			"authMode":    s.Cfg.Auth.Mode,
			"rateRps":     s.Cfg.Server.RateRPS,
			"rateBurst":   s.Cfg.Server.RateBurst,
			"sendQueue":   s.Cfg.Relay.SendQueue,
			"pruner":      s.Cfg.Pruner,
			"hasDatabase": s.Cfg.Database.URL != "",
			"hasRedis":    s.Cfg.Redis.URL != "",
		},
	})
}
