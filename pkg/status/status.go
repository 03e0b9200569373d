// Package status exposes a small HTTP JSON surface for monitoring a
// running mintwatch process: governor and breaker state, scheduler
// progress, and the last recorded snapshot summary.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/pkg/governor"
	"github.com/solwatch/mintwatch/pkg/scheduler"
)

// Config holds status server configuration.
type Config struct {
	// BindAddress is the address to bind the HTTP server to.
	BindAddress string

	// Port is the port to listen on. Zero disables the server.
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns the default status server configuration.
func DefaultConfig() Config {
	return Config{
		BindAddress:  "127.0.0.1",
		Port:         8085,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// GovernorStats provides governor state to the status server.
type GovernorStats interface {
	Stats() governor.Stats
}

// SchedulerState provides scheduler state to the status server.
type SchedulerState interface {
	State() scheduler.State
}

// Response is the body of GET /api/status.
type Response struct {
	Mint          string          `json:"mint"`
	Uptime        string          `json:"uptime"`
	UptimeSeconds float64         `json:"uptimeSeconds"`
	Governor      governor.Stats  `json:"governor"`
	Scheduler     scheduler.State `json:"scheduler"`
}

// Server serves the status API.
type Server struct {
	cfg    Config
	mint   string
	gov    GovernorStats
	sched  SchedulerState
	logger *zap.Logger

	mu        sync.Mutex
	server    *http.Server
	startedAt time.Time
}

// NewServer creates a status server.
func NewServer(cfg Config, mint string, gov GovernorStats, sched SchedulerState, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		mint:   mint,
		gov:    gov,
		sched:  sched,
		logger: logger,
	}
}

// Handler returns the HTTP handler serving the status routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return mux
}

// Start begins serving in a background goroutine. It returns once the
// listener is bound so a bad address fails fast.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.BindAddress, fmt.Sprintf("%d", s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind status server: %w", err)
	}

	s.mu.Lock()
	s.startedAt = time.Now()
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	server := s.server
	s.mu.Unlock()

	s.logger.Info("status server listening", zap.String("addr", listener.Addr().String()))
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server failed", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()
	uptime := time.Since(startedAt)

	resp := Response{
		Mint:          s.mint,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
	}
	if s.gov != nil {
		resp.Governor = s.gov.Stats()
	}
	if s.sched != nil {
		resp.Scheduler = s.sched.State()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("status encode failed", zap.Error(err))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"status":"ok"}`)
}
