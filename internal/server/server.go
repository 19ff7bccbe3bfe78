package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/teemow/edulab/internal/budget"
	"github.com/teemow/edulab/internal/identity"
	"github.com/teemow/edulab/internal/instrumentation"
	"github.com/teemow/edulab/internal/llm"
	"github.com/teemow/edulab/internal/ratelimit"
)

const readHeaderTimeout = 10 * time.Second

// Deps are the collaborators of a Server.
type Deps struct {
	Verifier    identity.TokenVerifier
	Generator   llm.Generator
	Budget      *budget.Budget
	UserLimiter *ratelimit.Limiter
	IPLimiter   *ratelimit.Limiter

	// Optional.
	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Health  *HealthChecker
	Logger  *slog.Logger
	Now     func() time.Time
}

// Server is the proxy between signed-in clients and the model provider.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	mux    *http.ServeMux

	addr string
}

// New validates cfg and builds the routes.
func New(cfg Config, deps Deps) (*Server, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch {
	case deps.Verifier == nil:
		return nil, errors.New("token verifier is required")
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Budget == nil:
		return nil, errors.New("budget is required")
	case deps.UserLimiter == nil || deps.IPLimiter == nil:
		return nil, errors.New("user and IP limiters are required")
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = NewHealthChecker()
	}
	if deps.Audit == nil {
		deps.Audit = instrumentation.NewAuditLogger(deps.Logger)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		mux:    http.NewServeMux(),
		addr:   cfg.Addr,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.Handle("GET /api/validate", s.authenticate(http.HandlerFunc(s.handleValidate)))
	s.mux.Handle("POST /api/generate", s.authenticate(s.userLimit(http.HandlerFunc(s.handleGenerate))))

	s.deps.Health.RegisterHealthEndpoints(s.mux)

	s.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, ErrNotFound())
	})
}

func (s *Server) now() time.Time {
	return s.deps.Now()
}

// Handler returns the full middleware stack around the routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		requestID(),
		s.observe(),
		s.recoverer(),
		s.cors(),
		s.ipLimit(),
		s.limitBody(),
	)
}

// Addr returns the listen address, resolved once Start has bound it.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addr = ln.Addr().String()

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		tls := s.cfg.TLSCertFile != ""
		s.logger.Info("proxy listening", "addr", s.addr, "tls", tls)
		var err error
		if tls {
			err = srv.ServeTLS(ln, s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("proxy server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.deps.Health.MarkShuttingDown()
	s.logger.Info("shutting down proxy")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down proxy: %w", err)
	}
	return <-errCh
}
