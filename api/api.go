// Package api exposes the public HTTP surface: job submission, job
// status, billing and health. All non-health routes require a bearer
// token; submissions also pass the distributed rate limiter and, under
// the submission credit policy, the credit ledger.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adreel/adreel"
	"github.com/adreel/adreel/auth"
	"github.com/adreel/adreel/billing"
	"github.com/adreel/adreel/broker"
)

// CreditLedger is the slice of the ledger the API needs.
type CreditLedger interface {
	Balance(ctx context.Context, principal string) (int64, error)
	Consume(ctx context.Context, principal string) error
}

// RateLimiter admits or denies a submission for a principal.
type RateLimiter interface {
	Allow(ctx context.Context, principal string) error
}

// Billing is the slice of the billing service the API needs.
type Billing interface {
	CreateOrder(ctx context.Context, principal, plan string) (billing.Order, error)
	HandlePayment(ctx context.Context, conf billing.Confirmation) (billing.Grant, error)
}

// Server wires the HTTP routes to the underlying services.
type Server struct {
	broker   *broker.Broker
	ledger   CreditLedger
	limiter  RateLimiter
	billing  Billing
	verifier auth.Verifier

	policy      adreel.CreditPolicy
	version     string
	frontendURL string
	maxUploadMB int64
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCreditPolicy sets when credits are consumed. Default is at
// submission.
func WithCreditPolicy(p adreel.CreditPolicy) Option {
	return func(s *Server) { s.policy = p }
}

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithFrontendURL sets the allowed CORS origin.
func WithFrontendURL(url string) Option {
	return func(s *Server) { s.frontendURL = url }
}

// WithMaxUploadMB caps request body size.
func WithMaxUploadMB(mb int64) Option {
	return func(s *Server) { s.maxUploadMB = mb }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a Server.
func NewServer(b *broker.Broker, ledger CreditLedger, limiter RateLimiter, bill Billing, verifier auth.Verifier, opts ...Option) *Server {
	s := &Server{
		broker:      b,
		ledger:      ledger,
		limiter:     limiter,
		billing:     bill,
		verifier:    verifier,
		policy:      adreel.ConsumeAtSubmission,
		version:     "dev",
		maxUploadMB: 100,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the gin engine with all routes registered.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLog())
	r.Use(s.cors())
	r.Use(s.bodyLimit())

	r.GET("/health", s.health)
	r.POST("/billing/webhook", s.billingWebhook)

	authed := r.Group("/", s.authenticate())
	authed.POST("/generate", s.rateLimit(), s.generate)
	authed.POST("/analyze", s.rateLimit(), s.analyze)
	authed.GET("/jobs/:id", s.jobStatus)
	authed.GET("/credits", s.credits)
	authed.POST("/billing/orders", s.billingOrder)

	return r
}

// Serve runs the HTTP server on addr until ctx is cancelled, then
// shuts down gracefully within the given timeout.
func (s *Server) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
