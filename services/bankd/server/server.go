package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"stablebank/services/bankd/executor"
	"stablebank/services/bankd/storage"
)

// Route keys used for rate limiting.
const (
	RouteSubmit = "submit"
	RouteQuery  = "query"
)

// Journal is the read side of the event journal.
type Journal interface {
	Transaction(ctx context.Context, hash string) (*storage.TxRecord, error)
	ListEvents(ctx context.Context, filter storage.EventFilter) ([]storage.EventRecord, error)
}

// Config defines HTTP server parameters.
type Config struct {
	ListenAddress   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	AdminScope      string
}

// Server exposes the ledger over HTTP.
type Server struct {
	cfg     Config
	exec    *executor.Executor
	journal Journal
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	metrics http.Handler
	handler http.Handler
}

// New constructs the server. The limiter may be nil.
func New(cfg Config, exec *executor.Executor, journal Journal, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) (*Server, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor required")
	}
	if journal == nil {
		return nil, fmt.Errorf("journal required")
	}
	if auth == nil {
		return nil, fmt.Errorf("operator authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 16
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.AdminScope == "" {
		cfg.AdminScope = "bank.admin"
	}
	srv := &Server{
		cfg:     cfg,
		exec:    exec,
		journal: journal,
		auth:    auth,
		limiter: limiter,
		logger:  logger,
		metrics: promhttp.Handler(),
	}
	srv.handler = otelhttp.NewHandler(srv.buildRouter(), "bankd")
	return srv, nil
}

// Handler exposes the instrumented HTTP router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.metrics)

	r.Route("/v1", func(api chi.Router) {
		api.With(s.limiter.Middleware(RouteSubmit)).Post("/tx", s.handleSubmit)
		api.Group(func(q chi.Router) {
			q.Use(s.limiter.Middleware(RouteQuery))
			q.Get("/tx/{hash}", s.handleTransaction)
			q.Get("/bank", s.handleBank)
			q.Get("/assets/{asset}", s.handleAsset)
			q.Get("/accounts/{address}", s.handleAccount)
			q.Get("/accounts/{address}/tokens/{asset}", s.handleTokenBalance)
			q.Get("/accounts/{address}/preview-withdraw", s.handlePreviewWithdraw)
			q.Get("/exchange/quote", s.handleQuote)
		})
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(s.auth.Middleware(s.cfg.AdminScope))
		admin.Get("/events", s.handleEvents)
		admin.Get("/accounts", s.handleAccounts)
		admin.Get("/invariants", s.handleInvariants)
	})
	return r
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bankd listening", slog.String("addr", s.cfg.ListenAddress))
		errCh <- httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
