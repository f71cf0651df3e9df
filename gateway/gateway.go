// Package gateway exposes the monitor over HTTP: a websocket live feed with
// per-connection filters, a historical query endpoint, health and a service
// descriptor.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/errors"
	"github.com/aoi-validoku/p2000/health"
	"github.com/aoi-validoku/p2000/hub"
	"github.com/aoi-validoku/p2000/metric"
)

// Version is stamped into the service descriptor.
const Version = "0.1.0"

// Defaults for websocket housekeeping.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Config controls the HTTP listener and websocket behavior.
type Config struct {
	Addr         string        // listen address, e.g. ":8080"
	PingInterval time.Duration // websocket keepalive cadence
	WriteTimeout time.Duration // per-frame write deadline
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	return c
}

// Querier is the store-side dependency: historical alerts, newest first.
type Querier interface {
	Query(f alert.Filter, maxAge time.Duration) []alert.Alert
}

// Feed is the hub-side dependency: live subscriptions.
type Feed interface {
	Subscribe(f alert.Filter) (*hub.Subscriber, error)
	Unsubscribe(id string)
}

// Server serves the websocket feed and REST endpoints.
type Server struct {
	cfg     Config
	store   Querier
	feed    Feed
	monitor *health.Monitor
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener

	lifecycleMu sync.Mutex
	started     bool
	shutdown    chan struct{}

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
	wg        sync.WaitGroup

	clientGauge   prometheus.Gauge
	requestsTotal *prometheus.CounterVec
}

// New creates the gateway server. monitor and registry may be nil.
func New(cfg Config, store Querier, feed Feed, monitor *health.Monitor,
	registry *metric.MetricsRegistry, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil || feed == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Server", "New",
			"store and feed are required")
	}

	s := &Server{
		cfg:      cfg.withDefaults(),
		store:    store,
		feed:     feed,
		monitor:  monitor,
		logger:   logger.With("component", "gateway"),
		clients:  make(map[*wsClient]struct{}),
		shutdown: make(chan struct{}),
	}

	if registry != nil {
		s.clientGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "p2000", Subsystem: "gateway", Name: "ws_clients",
			Help: "Connected websocket clients",
		})
		s.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "p2000", Subsystem: "gateway", Name: "requests_total",
			Help: "HTTP requests by endpoint and status",
		}, []string{"endpoint", "status"})
		if err := registry.RegisterGauge("gateway", "ws_clients", s.clientGauge); err != nil {
			return nil, err
		}
		if err := registry.RegisterCounterVec("gateway", "requests_total", s.requestsTotal); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)
	mux.HandleFunc("/api/alerts", s.handleAlerts)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/", s.handleRoot)
	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Start binds the listener and serves until Stop. Bind failure is fatal.
func (s *Server) Start(_ context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.started {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Server", "Start", "gateway already running")
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("bind listener on %s", s.cfg.Addr))
	}
	s.listener = listener
	s.started = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "error", err)
			if s.monitor != nil {
				s.monitor.UpdateUnhealthy("gateway", "http server stopped unexpectedly")
			}
		}
	}()

	if s.monitor != nil {
		s.monitor.UpdateHealthy("gateway", fmt.Sprintf("listening on %s", listener.Addr()))
	}
	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound listener address, useful when Addr was ":0".
func (s *Server) Addr() string {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the server: shuts the HTTP listener down, closes every
// websocket client and waits for their goroutines up to timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	if !s.started {
		s.lifecycleMu.Unlock()
		return errors.ErrNotStarted
	}
	s.started = false
	close(s.shutdown)
	s.lifecycleMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err)
	}

	s.clientsMu.Lock()
	for c := range s.clients {
		c.close()
	}
	s.clientsMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Server", "Stop",
			"wait for client goroutines")
	}
}

func (s *Server) countRequest(endpoint string, status int) {
	if s.requestsTotal != nil {
		s.requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"error": message, "status": status})
}

// handleAlerts serves GET /api/alerts?contains=<substr>&max_age=<duration>.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.countRequest("alerts", http.StatusMethodNotAllowed)
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var maxAge time.Duration
	if raw := r.URL.Query().Get("max_age"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			s.countRequest("alerts", http.StatusBadRequest)
			s.writeError(w, http.StatusBadRequest, "invalid max_age duration")
			return
		}
		maxAge = parsed
	}

	filter := alert.BodyContains(r.URL.Query().Get("contains"))
	alerts := s.store.Query(filter, maxAge)

	s.countRequest("alerts", http.StatusOK)
	s.writeJSON(w, http.StatusOK, alerts)
}

// handleHealthz serves the aggregated component health. Unhealthy systems
// answer 503 so load balancers stop routing to them.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := health.NewHealthy("p2000", "ok")
	if s.monitor != nil {
		status = s.monitor.AggregateHealth("p2000")
	}

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	s.countRequest("healthz", code)
	s.writeJSON(w, code, status)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.countRequest("root", http.StatusNotFound)
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	s.countRequest("root", http.StatusOK)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "p2000-monitor",
		"version": Version,
		"endpoints": []string{
			"/ws?filter=<substr>",
			"/api/alerts?contains=<substr>&max_age=<duration>",
			"/healthz",
		},
	})
}
