// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the land-slide-web project.
// Copyright 2024-present land-slide-web contributors.

// Package api serves the read-side HTTP surface: station state, long-term
// analysis, alert handling, health and metrics, plus the live websocket
// feed. Admin CRUD and authentication live in the portal service, not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"

	"github.com/tundzai001/land-slide-web/pkg/broker"
	"github.com/tundzai001/land-slide-web/pkg/config"
	"github.com/tundzai001/land-slide-web/pkg/hub"
	"github.com/tundzai001/land-slide-web/pkg/model"
	"github.com/tundzai001/land-slide-web/pkg/telemetry"
	"github.com/tundzai001/land-slide-web/pkg/util/log"
)

const (
	// offlineAfter is how long a station may stay silent before the list
	// endpoint reports it offline.
	offlineAfter = 60 * time.Second

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second

	defaultAnalysisDays = 30
	maxAnalysisDays     = 365

	defaultAlertLimit = 100
	maxAlertLimit     = 1000
)

var (
	tlmRequests = telemetry.NewCounter("api", "requests",
		[]string{"method", "code"}, "HTTP requests by method and status code")
	tlmRequestDuration = telemetry.NewHistogram("api", "request_duration_seconds",
		[]string{"method"}, "HTTP request latency",
		[]float64{0.005, 0.025, 0.1, 0.5, 1, 5})
)

// StationReader is the station lookup surface of the config store.
type StationReader interface {
	ListStations(ctx context.Context) ([]model.Station, error)
	GetStation(ctx context.Context, id int64) (*model.Station, error)
}

// DataReader is the query surface of the data store.
type DataReader interface {
	ListGNSSPoints(ctx context.Context, stationID int64, since time.Time) ([]model.SensorData, error)
	ListAlerts(ctx context.Context, stationID int64, unresolvedOnly bool, limit int) ([]model.Alert, error)
	ResolveAlert(ctx context.Context, id int64, at time.Time) error
	CountOpenAlerts(ctx context.Context, stationID int64) (map[model.AlertLevel]int, error)
}

// OriginResetter is the registry's calibration drop path.
type OriginResetter interface {
	ResetOrigin(ctx context.Context, deviceID int64) error
}

// BrokerState reports the ingest connection state for the health endpoint.
type BrokerState interface {
	State() broker.State
}

// Pinger is a reachability probe, one per store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server reads from. All of them are
// required except Registry and Broker, which health and reset-origin
// degrade without.
type Deps struct {
	Hub      *hub.Hub
	Stations StationReader
	Data     DataReader
	Registry OriginResetter
	Broker   BrokerState
	Stores   map[string]Pinger
	Clock    clock.Clock
}

// Server is the HTTP read side of the agent.
type Server struct {
	settings config.HTTPSettings
	deps     Deps
	router   *mux.Router
	srv      *http.Server
	started  time.Time
}

// New builds the server and its route table.
func New(settings config.HTTPSettings, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	s := &Server{
		settings: settings,
		deps:     deps,
		router:   mux.NewRouter(),
		started:  deps.Clock.Now(),
	}
	s.routes()
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.instrument)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", telemetry.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/stations", s.handleStations).Methods(http.MethodGet)
	r.HandleFunc("/api/stations/{id:[0-9]+}/analysis", s.handleAnalysis).Methods(http.MethodGet)
	r.HandleFunc("/api/stations/{id:[0-9]+}/risk", s.handleRisk).Methods(http.MethodGet)

	r.HandleFunc("/api/alerts", s.handleAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/{id:[0-9]+}/resolve", s.handleResolveAlert).Methods(http.MethodPost)

	r.HandleFunc("/api/devices/{id:[0-9]+}/reset-origin", s.handleResetOrigin).Methods(http.MethodPost)

	r.HandleFunc("/ws/updates", s.handleWS)
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.settings.BindAddress, s.settings.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}
	log.Infof("api: listening on %s", addr)

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade hijacks the connection; wrapping the
		// writer would hide the Hijacker interface from gorilla.
		if r.URL.Path == "/ws/updates" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := s.deps.Clock.Now()
		next.ServeHTTP(rec, r)
		tlmRequests.Inc(r.Method, fmt.Sprintf("%d", rec.code))
		tlmRequestDuration.Observe(s.deps.Clock.Since(start).Seconds(), r.Method)
		log.Debugf("api: %s %s -> %d", r.Method, r.URL.Path, rec.code)
	})
}

func respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("api: encoding response: %v", err)
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
