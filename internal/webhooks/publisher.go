package webhooks

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"vrpdicho/internal/model"
	"vrpdicho/internal/store"
)

// Event types sent to job callbacks.
const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
	EventJobCancelled = "job.cancelled"
)

// JobEvent is the callback payload. The result itself is fetched from the API.
type JobEvent struct {
	ID   string       `json:"id"`
	Type string       `json:"type"`
	TS   string       `json:"ts"`
	Data JobEventData `json:"data"`
}

type JobEventData struct {
	JobID      string          `json:"jobId"`
	Status     model.JobStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
	Services   int             `json:"services"`
	Routes     int             `json:"routes"`
	Unassigned int             `json:"unassigned"`
}

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// EventFor maps a terminal job status to its event type.
func EventFor(status model.JobStatus) string {
	switch status {
	case model.JobSucceeded:
		return EventJobCompleted
	case model.JobCancelled:
		return EventJobCancelled
	default:
		return EventJobFailed
	}
}

// Emit queues the job's terminal event for its callback URL. Jobs without one are skipped.
func (p *Publisher) Emit(ctx context.Context, job model.JobRecord, res *model.Result) {
	if job.CallbackURL == "" {
		return
	}
	ev := JobEvent{
		ID:   "evt_" + uuid.New().String(),
		Type: EventFor(job.Status),
		TS:   time.Now().UTC().Format(time.RFC3339),
		Data: JobEventData{JobID: job.ID, Status: job.Status, Error: job.Error, Services: job.Services},
	}
	if res != nil {
		ev.Data.Routes = len(res.Routes)
		ev.Data.Unassigned = len(res.Unassigned)
	}
	body, _ := json.Marshal(ev)
	if _, err := p.Store.EnqueueWebhook(ctx, job.ID, ev.Type, job.CallbackURL, job.CallbackSecret, body); err != nil {
		log.Printf("[webhooks] enqueue %s for job %s: %v", ev.Type, job.ID, err)
	}
}
