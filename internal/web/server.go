// Package web serves the operator HTTP API and the websocket stream of
// finished scan cycles.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/labeler/internal/activity"
	"github.com/roasbeef/labeler/internal/scan"
)

// DefaultAddr keeps the operator surface on the loopback interface.
const DefaultAddr = "localhost:8085"

// ScanService answers scan status queries and manual runs.
type ScanService interface {
	Receive(ctx context.Context, msg scan.Request) fn.Result[scan.Response]
}

// ActivityService serves the activity log.
type ActivityService interface {
	Receive(ctx context.Context,
		msg activity.Request) fn.Result[activity.Response]
}

// CycleFeed delivers every finished cycle report.
type CycleFeed interface {
	Subscribe(notify func(scan.CycleReport))
}

// Config holds configuration for the web server.
type Config struct {
	Addr string

	Scan     ScanService
	Activity ActivityService

	// Cycles feeds the websocket hub. Nil disables live updates.
	Cycles CycleFeed
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr: DefaultAddr,
	}
}

// Server is the operator HTTP server.
type Server struct {
	cfg *Config
	hub *Hub
	mux *http.ServeMux
	srv *http.Server
	log *slog.Logger

	started time.Time
}

// NewServer builds the routes and starts the websocket hub.
func NewServer(cfg *Config, log *slog.Logger) (*Server, error) {
	if cfg.Scan == nil || cfg.Activity == nil {
		return nil, errors.New("web: scan and activity services " +
			"are required")
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		mux:     http.NewServeMux(),
		log:     log.With("component", "web"),
		started: time.Now(),
	}

	s.registerAPIV1Routes()

	s.hub = NewHub(s.log)
	go s.hub.Run()

	if cfg.Cycles != nil {
		cfg.Cycles.Subscribe(s.hub.BroadcastCycle)
	}

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s, nil
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	return s.Serve(ln)
}

// Serve serves on an existing listener.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Starting web server", "addr", ln.Addr().String())

	err := s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Shutdown stops the hub, then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}

	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}

	return nil
}
