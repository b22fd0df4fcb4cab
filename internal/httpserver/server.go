package httpserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"questchat/internal/discovery"
	"questchat/internal/jobs"
	"questchat/internal/repo"
)

// SignatureHeader carries the shared secret that authorises cron triggers.
const SignatureHeader = "X-QuestChat-Signature"

// JobRunner triggers the scheduled jobs on demand.
type JobRunner interface {
	RunDailyPrompt(ctx context.Context) (*jobs.RunSummary, error)
	RunRollover(ctx context.Context) (*jobs.RunSummary, error)
	RunWeeklySummary(ctx context.Context) (*jobs.RunSummary, error)
}

// ChannelResolver resolves an experience's chat channel id.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, experienceID string) (string, error)
}

// Options wires the router's dependencies.
type Options struct {
	Store    repo.Repository
	Jobs     JobRunner
	Resolver ChannelResolver

	// SigningSecret guards /cron; an empty secret leaves the endpoints open
	// for local development. AdminToken guards /api; empty rejects everything.
	SigningSecret string
	AdminToken    string
	BasePath      string

	Logger *slog.Logger
}

type handler struct {
	store    repo.Repository
	jobs     JobRunner
	resolver ChannelResolver
	secret   string
	admin    string
	logger   *slog.Logger
}

// NewRouter builds the HTTP API: health and metrics, signed cron triggers,
// and the token-guarded admin surface.
func NewRouter(opts Options) http.Handler {
	h := &handler{
		store:    opts.Store,
		jobs:     opts.Jobs,
		resolver: opts.Resolver,
		secret:   opts.SigningSecret,
		admin:    opts.AdminToken,
		logger:   opts.Logger.With("component", "http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", SignatureHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/cron", func(r chi.Router) {
		r.Use(h.requireSignature)
		r.Post("/prompt", h.runJob(func(ctx context.Context) (*jobs.RunSummary, error) { return h.jobs.RunDailyPrompt(ctx) }))
		r.Post("/rollover", h.runJob(func(ctx context.Context) (*jobs.RunSummary, error) { return h.jobs.RunRollover(ctx) }))
		r.Post("/week", h.runJob(func(ctx context.Context) (*jobs.RunSummary, error) { return h.jobs.RunWeeklySummary(ctx) }))
	})

	r.Route("/api/experiences/{experienceID}", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Get("/config", h.getConfig)
		r.Put("/config", h.putConfig)
		r.Get("/leaderboard", h.getLeaderboard)
		r.Post("/discover-chat", h.discoverChat)
	})

	if base := strings.TrimSuffix(opts.BasePath, "/"); base != "" {
		outer := chi.NewRouter()
		outer.Mount(base, r)
		return outer
	}
	return r
}

func (h *handler) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret != "" {
			got := r.Header.Get(SignatureHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid signature")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if h.admin == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.admin)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) runJob(run func(ctx context.Context) (*jobs.RunSummary, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := run(r.Context())
		if err != nil {
			h.logger.Error("job run failed", "path", r.URL.Path, "err", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func (h *handler) discoverChat(w http.ResponseWriter, r *http.Request) {
	experienceID := chi.URLParam(r, "experienceID")

	channelID, err := h.resolver.ResolveChannel(r.Context(), experienceID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "experience not found")
	case errors.Is(err, discovery.ErrNoAccessPass):
		writeError(w, http.StatusUnprocessableEntity, "experience has no access pass")
	case err != nil:
		h.logger.Error("chat discovery failed", "experience_id", experienceID, "err", err)
		writeError(w, http.StatusBadGateway, "chat discovery failed")
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"experienceId": experienceID,
			"channelId":    channelID,
		})
	}
}

// Server wraps http.Server with slog-aware lifecycle helpers.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// New creates an HTTP server bound to addr.
func New(addr string, routes http.Handler, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           routes,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("component", "http"),
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
