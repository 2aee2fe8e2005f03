// Package server is the HTTP/WebSocket front end of the sync service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"boardsync/internal/export"
	"boardsync/internal/metrics"
	"boardsync/internal/session"
)

const (
	defaultLiveStrokeTTL = 10 * time.Second
	sweepInterval        = time.Second
)

// Config wires the server's collaborators.
type Config struct {
	Addr     string
	Registry *session.Registry
	Handler  *session.Handler
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Clock    clock.Clock

	// LiveStrokeTTL bounds how long an untouched live stroke survives
	// before the sweeper reclaims it.
	LiveStrokeTTL time.Duration
}

// Server accepts connections and hands each one to the session layer.
type Server struct {
	addr    string
	reg     *session.Registry
	handler *session.Handler
	logger  *zap.Logger
	mets    *metrics.Metrics
	clk     clock.Clock
	liveTTL time.Duration

	upgrader websocket.Upgrader
	httpSrv  *http.Server
	stop     chan struct{}
}

// New builds a server; call Run to start serving.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.LiveStrokeTTL == 0 {
		cfg.LiveStrokeTTL = defaultLiveStrokeTTL
	}
	s := &Server{
		addr:    cfg.Addr,
		reg:     cfg.Registry,
		handler: cfg.Handler,
		logger:  cfg.Logger,
		mets:    cfg.Metrics,
		clk:     cfg.Clock,
		liveTTL: cfg.LiveStrokeTTL,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Rooms are access control enough for a LAN tool; origin
			// checking is left to a fronting proxy when deployed wider.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		stop: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/export", s.handleExport)
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}
	return s
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	go s.sweepLoop()
	s.logger.Info("listening", zap.String("addr", s.addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and the sweeper.
func (s *Server) Shutdown(ctx context.Context) error {
	close(s.stop)
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) sweepLoop() {
	ticker := s.clk.Ticker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.reg.SweepLive(s.liveTTL)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	s.mets.ConnectionsTotal.Inc()
	s.mets.ConnectionsActive.Inc()

	wc := newWSClient(conn, s.logger)
	go wc.writePump()
	client := s.reg.CreateClient(wc)

	go wc.readPump(
		func(raw []byte) { s.handler.Handle(client, raw) },
		func() {
			s.reg.RemoveClient(client)
			s.mets.ConnectionsActive.Dec()
		},
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		roomID = session.DefaultRoomID
	}
	room := s.reg.Room(roomID)
	if room == nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+roomID+`.pdf"`)
	if err := export.WritePDF(w, room.Snapshot()); err != nil {
		s.logger.Error("export failed", zap.String("room", roomID), zap.Error(err))
	}
}
