package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"busrelay/internal/config"
	"busrelay/internal/metrics"
	"busrelay/internal/pruner"
	"busrelay/internal/relay"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	srv, err := relay.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	srv.Run()
	defer srv.Close()

	mux := http.NewServeMux()

	// Real-time relay
	mux.HandleFunc("/ws", srv.WSHandler)
	mux.HandleFunc("/stream", srv.StreamHandler)

	// Read-only snapshots of the in-memory registries
	mux.HandleFunc("/health", srv.HealthHandler)
	mux.HandleFunc("/buses", srv.BusesHandler)
	mux.HandleFunc("/bus/", srv.BusByIDHandler)

	// Ops
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/config", srv.DebugConfigHandler)

	// The limiter guards the query surface only; /ws and /stream hold
	// long-lived connections and are exempt.
	limited := relay.RateLimit(cfg.Server.RateRPS, cfg.Server.RateBurst, mux)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" || r.URL.Path == "/stream" {
			mux.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})

	if cfg.Pruner.Enabled {
		w := pruner.NewWorker(srv.Store, cfg.Pruner.Interval(), cfg.Pruner.GracePeriod(), cfg.Pruner.BatchLimit)
		w.Start()
		log.Printf("pruner running: interval=%s grace=%s", cfg.Pruner.Interval(), cfg.Pruner.GracePeriod())
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(handler),
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadHeaderWait) * time.Second,
	}

	log.Printf("relay listening on %s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		dur := time.Since(start)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
