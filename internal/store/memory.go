package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"vrpdicho/internal/model"
)

// Memory is a simple in-memory store used when neither DATABASE_URL nor SQLITE_PATH is set.
type Memory struct {
	mu    sync.Mutex
	jobs  map[string]*model.JobRecord   // id -> job
	order []string                      // job ids in creation order
	stats map[string][]model.SolveStats // job id -> solve stats
	// Webhooks queue state
	deliveries map[string]*WebhookDelivery // id -> delivery state
	byJob      map[string][]string         // job id -> delivery ids
	dedup      map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		jobs:       map[string]*model.JobRecord{},
		stats:      map[string][]model.SolveStats{},
		deliveries: map[string]*WebhookDelivery{},
		byJob:      map[string][]string{},
		dedup:      map[string]bool{},
	}
}

func (m *Memory) CreateJob(ctx context.Context, job model.JobRecord) (model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobQueued
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	c := job
	m.jobs[job.ID] = &c
	m.order = append(m.order, job.ID)
	return job, nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (model.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return model.JobRecord{}, ErrNotFound
	}
	return *j, nil
}

func (m *Memory) ListJobs(ctx context.Context, status, cursor string, limit int) ([]model.JobRecord, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit = clampLimit(limit)
	start := 0
	if cursor != "" {
		for i, id := range m.order {
			if id == cursor {
				start = i + 1
				break
			}
		}
	}
	out := []model.JobRecord{}
	var next string
	for i := start; i < len(m.order) && len(out) < limit; i++ {
		j := m.jobs[m.order[i]]
		if status == "" || string(j.Status) == status {
			out = append(out, summary(*j))
		}
		next = m.order[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.Error = lastError
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SaveJobResult(ctx context.Context, id string, res *model.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Result = res
	j.Status = model.JobSucceeded
	j.Error = ""
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SaveSolveStats(ctx context.Context, jobID string, stats []model.SolveStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return ErrNotFound
	}
	m.stats[jobID] = append(m.stats[jobID], stats...)
	return nil
}

func (m *Memory) ListSolveStats(ctx context.Context, jobID string) ([]model.SolveStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SolveStats{}, m.stats[jobID]...), nil
}

func (m *Memory) EnqueueWebhook(ctx context.Context, jobID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := jobID + "|" + eventType + "|" + url + "|" + computeDedupKey(payload)
	if m.dedup[key] {
		return "", nil
	}
	m.dedup[key] = true
	id := uuid.New().String()
	m.deliveries[id] = &WebhookDelivery{ID: id, JobID: jobID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending, NextAttemptAt: time.Now()}
	m.byJob[jobID] = append(m.byJob[jobID], id)
	return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []WebhookDelivery{}
	for _, d := range m.deliveries {
		if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
		}
	}
	sortDeliveries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = DeliveryDelivered
		now := time.Now()
		d.DeliveredAt = &now
		return nil
	}
	d.Attempts++
	d.Status = DeliveryRetry
	d.LastError = lastError
	if nextAttemptAt != nil {
		d.NextAttemptAt = *nextAttemptAt
	} else {
		d.NextAttemptAt = time.Now().Add(1 * time.Minute)
	}
	return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.Status = DeliveryFailed
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, jobID string) ([]WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WebhookDelivery{}
	for _, id := range m.byJob[jobID] {
		if d := m.deliveries[id]; d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
