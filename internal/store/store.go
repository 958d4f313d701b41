package store

import (
	"context"
	"errors"
	"time"

	"vrpdicho/internal/model"
)

// Store is the persistence interface used by the job runner and the API server.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job model.JobRecord) (model.JobRecord, error)
	GetJob(ctx context.Context, id string) (model.JobRecord, error)
	ListJobs(ctx context.Context, status, cursor string, limit int) (items []model.JobRecord, nextCursor string, err error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, lastError string) error
	SaveJobResult(ctx context.Context, id string, res *model.Result) error

	// Solver statistics
	SaveSolveStats(ctx context.Context, jobID string, stats []model.SolveStats) error
	ListSolveStats(ctx context.Context, jobID string) ([]model.SolveStats, error)

	// Webhook deliveries
	EnqueueWebhook(ctx context.Context, jobID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
	MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error
	FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error
	ListWebhookDeliveries(ctx context.Context, jobID string) ([]WebhookDelivery, error)

	Ping(ctx context.Context) error
	Close() error
}

var ErrNotFound = errors.New("not found")

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return defaultListLimit
	}
	return limit
}

// summary drops the heavy payloads from a job for list views.
func summary(j model.JobRecord) model.JobRecord {
	j.Instance = nil
	j.Result = nil
	return j
}
