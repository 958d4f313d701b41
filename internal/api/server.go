package api

import (
	"context"
	"log"
	"net/http"

	"vrpdicho/internal/auth"
	"vrpdicho/internal/cluster"
	"vrpdicho/internal/config"
	"vrpdicho/internal/dicho"
	"vrpdicho/internal/jobs"
	"vrpdicho/internal/opt"
	"vrpdicho/internal/store"
	"vrpdicho/internal/webhooks"
)

type Server struct {
	Cfg    *config.Config
	Store  store.Store
	Pub    *webhooks.Publisher
	Broker EventBroker
	Stats  *opt.MetricsStore
	Runner *jobs.Runner
	// Auth is nil when the API is open.
	Auth *auth.Verifier
}

// NewServer wires a Server from cfg. The store is Postgres when DatabaseURL is set,
// SQLite when SQLitePath is set and in-memory otherwise.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	verifier, err := auth.NewVerifier(cfg.AuthMode, cfg.AuthHMACSecret, cfg.AuthTokens)
	if err != nil {
		return nil, err
	}
	var s store.Store
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s = pg
	case cfg.SQLitePath != "":
		lite, err := store.NewSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		s = lite
	default:
		s = store.NewMemory()
	}
	var broker EventBroker
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Printf("[api] redis broker unavailable, using in-process broker: %v", err)
			broker = NewBroker()
		} else {
			broker = rb
		}
	} else {
		broker = NewBroker()
	}

	stats := opt.NewMetricsStore()
	solver := opt.NewSolver(stats)
	if cfg.SolveBudget > 0 {
		solver.DefaultBudget = cfg.SolveBudget
	}
	srv := NewServerWith(cfg, s, broker, dicho.New(solver, cluster.NewKMeans(), cfg.Dicho), stats)
	srv.Auth = verifier
	return srv, nil
}

// NewServerWith assembles a Server around explicit dependencies.
func NewServerWith(cfg *config.Config, s store.Store, broker EventBroker, d jobs.Decomposer, stats *opt.MetricsStore) *Server {
	pub := webhooks.NewPublisher(s)
	srv := &Server{Cfg: cfg, Store: s, Pub: pub, Broker: broker, Stats: stats}
	srv.Runner = jobs.NewRunner(s, d, stats, pub, cfg.MaxConcurrentJobs)
	srv.Runner.Notify = func(jobID, eventType string, data map[string]any) {
		broker.Publish(jobID, SSEEvent{Type: eventType, Data: data})
	}
	return srv
}

// NewWebhookWorker creates a background worker for callback deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store, s.Cfg.WebhookMaxAttempts)
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Jobs
	mux.HandleFunc("/v1/jobs", s.JobsHandler)
	mux.HandleFunc("/v1/jobs/", s.JobByIDHandler) // includes /events/stream, /ws, /metrics

	// Health
	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	// Ops
	mux.HandleFunc("/v1/debug", s.DebugJSON)
	mux.Handle("/metrics", MetricsHandler())

	// Docs
	mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("/docs", s.DocsHandler)

	return metricsMiddleware(RateLimit(s.Cfg.RateRPS, s.Cfg.RateBurst, s.requireAuth(mux)))
}

// Close releases the store and the broker connection.
func (s *Server) Close() error {
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return s.Store.Close()
}
