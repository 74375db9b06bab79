package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shepherd-ai/shepherd/internal/config"
	"github.com/shepherd-ai/shepherd/internal/runtime"
)

// Server is the HTTP front of the engine: health and readiness probes,
// Prometheus metrics and the websocket conversation endpoint.
type Server struct {
	config      *config.Config
	runtime     *runtime.Runtime
	broadcaster *Broadcaster
	verifier    *Verifier
	logger      *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

func NewServer(cfg *config.Config, rt *runtime.Runtime, broadcaster *Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if broadcaster == nil {
		broadcaster = NewBroadcaster()
	}
	return &Server{
		config:      cfg,
		runtime:     rt,
		broadcaster: broadcaster,
		verifier:    NewVerifier(cfg.Server.AuthSecret),
		logger:      logger.With("component", "gateway"),
	}
}

// Handler builds the route table. Split out from Start for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/api/health", s.handleHealth)
	mux.HandleFunc("/v1/api/readiness", s.handleReadiness)
	mux.HandleFunc("/v1/api/ws", s.handleWS)
	return mux
}

// Start begins serving. It returns once the listener is bound; serving
// continues in the background until Shutdown.
func (s *Server) Start() error {
	readTimeout := s.config.Server.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}

	listener, err := net.Listen("tcp", s.config.Server.Addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the bound listen address. Empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness answers 503 until the session store is reachable, so
// orchestrators hold traffic during startup and backend outages.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.Ready(r.Context()); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
