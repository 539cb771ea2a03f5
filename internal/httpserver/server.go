package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/audit"
	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/queue"
	"github.com/kubently/kubently/internal/session"
)

// Version is set at build time via -ldflags; defaults to "dev".
var Version = "dev"

// Server holds the coordinator's HTTP server dependencies (spec.md §4.5
// "Coordinator HTTP surface"). Both the client role and the executor role
// share this one port.
type Server struct {
	Router    *chi.Mux
	ClientAPI chi.Router // authenticated client-role routes, mounted under /debug
	AdminAPI  chi.Router // admin-role routes, mounted under /admin
	Executor  chi.Router // cluster-token-authenticated executor-role routes
	Logger    *slog.Logger
	Redis     *redis.Client
	Sessions  *session.Store
	Queue     *queue.Queue
	Tokens    *auth.TokenRegistry
	Audit     *audit.Writer
	Metrics   *prometheus.Registry
	dispatch  *dispatchLimiter
	startedAt time.Time
}

// NewServer builds the chi router with the ambient middleware stack
// (request id, structured logging, Prometheus metrics, panic recovery,
// CORS), the unauthenticated health/discovery/metrics endpoints, and the
// client-role, admin-role, and executor-role route groups (spec.md §4.5).
// apiKeyAuth and oidcAuth wire the client-role auth middleware (spec.md
// §4.1); executorTokens wires the executor-role middleware (spec.md §4.2).
// oidcAuth may be nil when OIDC is not configured.
func NewServer(
	cfg *config.Config,
	logger *slog.Logger,
	rdb *redis.Client,
	sessions *session.Store,
	q *queue.Queue,
	executorTokens *auth.TokenRegistry,
	auditWriter *audit.Writer,
	streamHandler http.Handler,
	longPollHandler http.Handler,
	metricsReg *prometheus.Registry,
	apiKeyAuth *auth.APIKeyAuthenticator,
	oidcAuth *auth.OIDCAuthenticator,
) *Server {
	s := &Server{
		Router:    chi.NewRouter(),
		Logger:    logger,
		Redis:     rdb,
		Sessions:  sessions,
		Queue:     q,
		Tokens:    executorTokens,
		Audit:     auditWriter,
		Metrics:   metricsReg,
		dispatch:  newDispatchLimiter(cfg.DispatchRateLimitPerSec, cfg.DispatchRateLimitBurst),
		startedAt: time.Now(),
	}

	s.Router.Use(RequestID)
	s.Router.Use(Logger(logger))
	s.Router.Use(Metrics)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "X-Correlation-ID", "X-Cluster-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.Router.Get("/health", s.handleHealth)
	s.Router.Get("/.well-known/kubently-auth", s.handleDiscovery(cfg))
	s.Router.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	s.Router.Route("/debug", func(r chi.Router) {
		r.Use(auth.Middleware(apiKeyAuth, oidcAuth, logger))
		r.Use(auth.RequireAuth)
		s.ClientAPI = r
		s.mountClientRoutes(r)
	})

	adminIdentities := make(map[string]struct{}, len(cfg.AdminIdentities))
	for _, id := range cfg.AdminIdentities {
		adminIdentities[id] = struct{}{}
	}
	s.Router.Route("/admin", func(r chi.Router) {
		r.Use(auth.Middleware(apiKeyAuth, oidcAuth, logger))
		r.Use(auth.RequireAuth)
		r.Use(auth.RequireAdmin(adminIdentities))
		s.AdminAPI = r
		s.mountAdminRoutes(r)
	})

	executorAuth := auth.ExecutorMiddleware(executorTokens, logger)
	s.Router.Route("/agent", func(r chi.Router) {
		r.Use(executorAuth)
		s.Executor = r
		s.mountAgentRoutes(r, longPollHandler)
	})
	s.Router.Route("/executor", func(r chi.Router) {
		r.Use(executorAuth)
		s.mountExecutorStreamRoutes(r, streamHandler)
	})

	return s
}

// mountAgentRoutes wires the executor's long-poll-role endpoints under
// /agent (spec.md §6 "Executor API"): status, long-poll commands, and
// result submission.
func (s *Server) mountAgentRoutes(r chi.Router, longPollHandler http.Handler) {
	r.Get("/status", s.handleAgentStatus)
	r.Method(http.MethodGet, "/commands", longPollHandler)
	r.Post("/results", s.handleAgentResults)
}

// mountExecutorStreamRoutes wires the executor's streaming-role endpoints
// under /executor: the SSE stream and result submission (also reachable
// here, per spec.md §6 "also /executor/results").
func (s *Server) mountExecutorStreamRoutes(r chi.Router, streamHandler http.Handler) {
	r.Method(http.MethodGet, "/stream", streamHandler)
	r.Post("/results", s.handleAgentResults)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status         string `json:"status"`
	StateStore     string `json:"state_store"`
	Version        string `json:"version"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
	ActiveSessions int    `json:"active_sessions"`
}

// handleHealth reports liveness, state-store reachability, and active
// session count (spec.md §4.5 "Health check (liveness + state-store
// reachability + active-session count)").
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := s.Redis.Ping(ctx).Err(); err != nil {
		s.Logger.Error("health check: redis ping failed", "error", err)
		RespondError(w, http.StatusServiceUnavailable, "unavailable", "state store not reachable")
		return
	}

	active, err := s.Redis.SCard(ctx, "sessions:active").Result()
	if err != nil {
		s.Logger.Error("health check: counting active sessions", "error", err)
	}

	Respond(w, http.StatusOK, healthResponse{
		Status:         "ok",
		StateStore:     "ok",
		Version:        Version,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		ActiveSessions: int(active),
	})
}
