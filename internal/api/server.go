// Package api exposes the agent pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/agent-pipeline/internal/agent"
	"github.com/sells-group/agent-pipeline/internal/model"
	"github.com/sells-group/agent-pipeline/internal/pipeline"
)

// Runner executes agent invocations.
type Runner interface {
	Run(ctx context.Context, inv pipeline.Invocation) (*pipeline.Outcome, error)
	Cost(ctx context.Context, def *agent.Definition) int
}

// Catalog looks up agents.
type Catalog interface {
	Get(slug string) (*agent.Definition, bool)
	List() []*agent.Definition
}

// Account reads per-user state.
type Account interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	GetPipelineRun(ctx context.Context, runID string) (*model.PipelineRun, error)
}

// Options configure the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// RequestTimeout bounds a whole request, including every agent stage.
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

// Server holds the HTTP handlers.
type Server struct {
	runner  Runner
	catalog Catalog
	account Account
	auth    Authenticator
	opts    Options
}

// NewServer creates a Server.
func NewServer(runner Runner, catalog Catalog, account Account, auth Authenticator, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Minute
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	return &Server{runner: runner, catalog: catalog, account: account, auth: auth, opts: opts}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/agents", s.handleListAgents)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))
		r.Use(s.authenticate)

		r.Post("/agents/{slug}", s.handleRunAgent)
		r.With(requireUser).Get("/credits", s.handleCredits)
		r.With(requireUser).Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// authenticate resolves the caller. A missing or invalid token leaves the
// request anonymous; handlers decide whether that is allowed.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.auth.Authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				zap.L().Debug("api: rejected token", zap.Error(err))
			}
			userID = ""
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), userID)))
	})
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}
