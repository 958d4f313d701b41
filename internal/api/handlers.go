package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"vrpdicho/internal/jobs"
	"vrpdicho/internal/model"
	"vrpdicho/internal/store"
)

// maxJobBody bounds the size of a submitted instance.
const maxJobBody = 64 << 20

// JobsHandler handles POST/GET /v1/jobs
func (s *Server) JobsHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/v1/jobs" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req JobRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJobBody)).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateJobRequest(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid job request", err.Error(), r.URL.Path)
			return
		}
		job, err := s.Runner.Submit(r.Context(), req.Instance, req.CallbackURL, req.CallbackSecret)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Create job failed", err.Error(), r.URL.Path)
			return
		}
		log.Printf("[api] job %s submitted by %s: %d services, %d vehicles", job.ID, principal(r).Subject, job.Services, job.Vehicles)
		w.Header().Set("Location", "/v1/jobs/"+job.ID)
		writeJSON(w, http.StatusAccepted, map[string]any{"jobId": job.ID, "status": job.Status})
	case http.MethodGet:
		status := r.URL.Query().Get("status")
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListJobs(r.Context(), status, cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List jobs failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// JobByIDHandler handles /v1/jobs/{id} and its /events/stream, /ws, /metrics and /webhooks children.
func (s *Server) JobByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
		return
	}
	switch sub {
	case "":
		s.jobHandler(w, r, id)
	case "events/stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.jobStream(w, r, id)
	case "ws":
		s.jobWS(w, r, id)
	case "metrics":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.jobMetrics(w, r, id)
	case "webhooks":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		items, err := s.Store.ListWebhookDeliveries(r.Context(), id)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "List deliveries failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) jobHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		job, err := s.Store.GetJob(r.Context(), id)
		if err != nil {
			s.jobError(w, r, err)
			return
		}
		if r.URL.Query().Get("include") != "instance" {
			job.Instance = nil
		}
		writeJSON(w, http.StatusOK, job)
	case http.MethodDelete:
		err := s.Runner.Cancel(r.Context(), id)
		switch {
		case errors.Is(err, jobs.ErrFinished):
			writeProblem(w, http.StatusConflict, "Job finished", err.Error(), r.URL.Path)
		case err != nil:
			s.jobError(w, r, err)
		default:
			writeJSON(w, http.StatusAccepted, map[string]any{"jobId": id, "status": "cancelling"})
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) jobError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Job not found", "", r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Job lookup failed", err.Error(), r.URL.Path)
}

// jobMetrics returns persisted solve statistics, or the live ones while the job runs.
func (s *Server) jobMetrics(w http.ResponseWriter, r *http.Request, id string) {
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		s.jobError(w, r, err)
		return
	}
	items, err := s.Store.ListSolveStats(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Metrics failed", err.Error(), r.URL.Path)
		return
	}
	if len(items) == 0 && s.Stats != nil {
		items = s.Stats.Get(id)
	}
	if items == nil {
		items = []model.SolveStats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobId": id, "status": job.Status, "items": items})
}

// jobStream streams job events as server-sent events until the job finishes or the client leaves.
func (s *Server) jobStream(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	// subscribe before reading the status so a job finishing in between is not missed
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		s.jobError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeSSE(w, SSEEvent{Type: jobs.EventStatus, Data: map[string]any{"jobId": id, "status": job.Status}})
	if job.Status.Terminal() {
		writeSSE(w, doneEvent(job))
		flusher.Flush()
		return
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
			if evt.Type == jobs.EventDone {
				return
			}
		case <-heartbeat.C:
			writeSSE(w, SSEEvent{Type: "heartbeat", Data: map[string]any{"jobId": id, "ts": time.Now().UTC().Format(time.RFC3339)}})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt SSEEvent) {
	b, _ := json.Marshal(evt.Data)
	fmt.Fprintf(w, "event: %s\n", evt.Type)
	fmt.Fprintf(w, "data: %s\n\n", string(b))
}

// doneEvent describes an already finished job the same way the runner announces it.
func doneEvent(job model.JobRecord) SSEEvent {
	data := map[string]any{"jobId": job.ID, "status": job.Status}
	if job.Error != "" {
		data["error"] = job.Error
	}
	if job.Result != nil {
		data["routes"] = len(job.Result.Routes)
		data["unassigned"] = len(job.Result.Unassigned)
	}
	return SSEEvent{Type: jobs.EventDone, Data: data}
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler checks the store and, when configured, the Redis broker.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
		return
	}
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := s.Broker.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", "broker: "+err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
