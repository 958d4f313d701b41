package api

import (
	"net/http"
	"runtime"
	"time"

	"vrpdicho/internal/buildinfo"
)

// DebugJSON reports build info and the effective configuration without secrets.
func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
	cfg := s.Cfg
	info := map[string]any{
		"build":      buildinfo.Info(),
		"time":       time.Now().UTC().Format(time.RFC3339),
		"goroutines": runtime.NumGoroutine(),
		"config": map[string]any{
			"port":               cfg.Port,
			"rateRps":            cfg.RateRPS,
			"rateBurst":          cfg.RateBurst,
			"webhookMaxAttempts": cfg.WebhookMaxAttempts,
			"solveBudget":        cfg.SolveBudget.String(),
			"maxConcurrentJobs":  cfg.MaxConcurrentJobs,
			"dicho":              cfg.Dicho,
			"hasDatabaseUrl":     cfg.DatabaseURL != "",
			"hasSqlitePath":      cfg.SQLitePath != "",
			"hasRedisUrl":        cfg.RedisURL != "",
		},
	}
	writeJSON(w, http.StatusOK, info)
}
