package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"expensetracker/internal/log"
	"expensetracker/internal/middleware/ratelimit"
	"expensetracker/internal/middleware/security"
	"expensetracker/internal/middleware/trace"
)

// Options tune the server's middleware.
type Options struct {
	// JWTSecret enables bearer token auth. When empty the server trusts
	// TrustedUserHeader.
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *log.Logger
}

// Server is the JSON API over the link, import and transaction services.
type Server struct {
	http.Server

	svc      Services
	auth     *Authenticator
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger

	shutdownOnce sync.Once
}

func NewServer(addr string, svc Services, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// imports page through the provider and can take a while
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		svc:  svc,
		auth: NewAuthenticator(opts.JWTSecret),
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: opts.RateLimitRPS,
			Burst:             opts.RateLimitBurst,
		}),
		detector: detector,
		tracer:   trace.NewMiddleware(detector.ClientIP),
		logger:   logger,
	}
	if !s.auth.TokenAuth() {
		logger.Warn("JWT secret not set, trusting identity header", "header", TrustedUserHeader)
	}
	s.Handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware(s.logger))
	r.Use(s.tracer.Middleware)
	r.Use(log.RequestIDMiddleware(trace.RequestID))
	r.Use(security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware)
	r.Use(s.flagSuspicious)
	r.Use(s.limiter.Middleware(s.detector.ClientIP, func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
	}))

	r.Get("/healthz", handleHealth)

	// The provider redirects the browser here after consent, so it carries
	// no credentials of ours.
	r.Get("/callback", s.handleCallback)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Put("/users/me", s.handlePutUser)

		r.Route("/banks", func(r chi.Router) {
			r.Use(log.ComponentMiddleware(log.ComponentLink))
			r.Get("/institutions", s.handleListInstitutions)
			r.Get("/link", s.handleGetLink)
			r.Post("/link", s.handleStartLink)
			r.Post("/refresh", s.handleRefreshLink)
			r.Post("/import", s.handleImport)
			r.Post("/import/async", s.handleImportAsync)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Use(log.ComponentMiddleware(log.ComponentTransaction))
			r.Get("/", s.handleListTransactions)
			r.Post("/", s.handleAddTransaction)
			r.Patch("/{key}", s.handleEditTransaction)
			r.Delete("/{key}", s.handleDeleteTransaction)
		})

		r.Route("/categories", func(r chi.Router) {
			r.Use(log.ComponentMiddleware(log.ComponentCategory))
			r.Get("/", s.handleListCategories)
			r.Get("/{name}/subcategories", s.handleSubCategories)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		sendJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	})
	return r
}

func (s *Server) flagSuspicious(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.detector.Suspicious(r) {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Suspicious request",
				log.FieldMethod, r.Method,
				log.FieldPath, r.URL.Path,
				log.FieldClientIP, s.detector.ClientIP(r))
		}
		next.ServeHTTP(w, r)
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		m := s.limiter.GetMetrics()
		s.logger.InfoContext(ctx, "HTTP server shutting down",
			log.FieldOperation, log.OpShutdown,
			"requests", s.tracer.TotalRequests(),
			"rate_limited", m.Rejected,
			"suspicious", s.detector.SuspiciousCount())
		err = s.Server.Shutdown(ctx)
	})
	return err
}
