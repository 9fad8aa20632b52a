package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/irun2themoney/autoppia-miner/internal/agent"
	"github.com/irun2themoney/autoppia-miner/internal/config"
	"github.com/irun2themoney/autoppia-miner/internal/feedback"
	"github.com/irun2themoney/autoppia-miner/internal/governor"
	"github.com/irun2themoney/autoppia-miner/internal/memory"
	"github.com/irun2themoney/autoppia-miner/internal/metrics"
)

// Solver answers one task. *agent.Router satisfies it.
type Solver interface {
	Solve(ctx context.Context, task agent.Task) *agent.Response
}

// Deps are the components behind the endpoints. Only Solver is required.
type Deps struct {
	Solver   Solver
	Feedback *feedback.Loop
	Metrics  *metrics.Collector
	Cache    *memory.SemanticCache
	Governor *governor.Governor
}

// Server is the HTTP boundary of the miner.
type Server struct {
	logger   *zap.Logger
	cfg      config.ServerConfig
	agentCfg config.AgentConfig
	Deps

	httpServer *http.Server
}

func NewServer(logger *zap.Logger, cfg config.ServerConfig, agentCfg config.AgentConfig, deps Deps) *Server {
	return &Server{
		logger:   logger.Named("api"),
		cfg:      cfg,
		agentCfg: agentCfg,
		Deps:     deps,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.cfg.WriteTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.WriteTimeout))
	}
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/api/dashboard/metrics", s.handleDashboard)
	r.Post("/feedback", s.handleFeedback)
	r.With(s.solveRecoverer).Post("/solve_task", s.handleSolve)
	return r
}

// Run serves until ctx is done, then shuts down within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Miner API listening",
			zap.String("address", ln.Addr().String()),
			zap.String("agent_type", s.agentCfg.Type))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down miner API")
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// corsMiddleware allows the dashboard to be served from another origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
