// Package jobs runs decomposition jobs in the background and records their lifecycle.
package jobs

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"vrpdicho/internal/metrics"
	"vrpdicho/internal/model"
	"vrpdicho/internal/opt"
	"vrpdicho/internal/store"
	"vrpdicho/internal/webhooks"
)

// Event types passed to Notify.
const (
	EventStatus   = "job.status"
	EventProgress = "job.progress"
	EventDone     = "job.done"
)

// ErrFinished is returned when cancelling a job that already reached a terminal status.
var ErrFinished = errors.New("job already finished")

// Decomposer solves one instance for a job.
type Decomposer interface {
	Run(ctx context.Context, inst *model.Instance, job *model.Job) (*model.Result, error)
}

type Runner struct {
	Store store.Store
	Dicho Decomposer
	Stats *opt.MetricsStore
	Pub   *webhooks.Publisher
	// Notify receives every lifecycle and progress event. Optional.
	Notify func(jobID, eventType string, data map[string]any)

	sem     chan struct{}
	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
	base    context.Context
	stop    context.CancelFunc
}

func NewRunner(s store.Store, d Decomposer, stats *opt.MetricsStore, pub *webhooks.Publisher, maxConcurrent int) *Runner {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		Store:   s,
		Dicho:   d,
		Stats:   stats,
		Pub:     pub,
		sem:     make(chan struct{}, maxConcurrent),
		running: map[string]context.CancelFunc{},
		base:    base,
		stop:    stop,
	}
}

// Submit persists a queued job and starts solving it in the background.
func (r *Runner) Submit(ctx context.Context, inst *model.Instance, callbackURL, callbackSecret string) (model.JobRecord, error) {
	job, err := r.Store.CreateJob(ctx, model.JobRecord{
		Status:         model.JobQueued,
		Instance:       inst,
		CallbackURL:    callbackURL,
		CallbackSecret: callbackSecret,
		Services:       len(inst.Problem.Services),
		Vehicles:       len(inst.Problem.Vehicles),
	})
	if err != nil {
		return job, err
	}
	jctx, cancel := context.WithCancel(r.base)
	r.mu.Lock()
	r.running[job.ID] = cancel
	r.mu.Unlock()
	r.wg.Add(1)
	go r.run(jctx, job, inst)
	log.Printf("[jobs] %s queued: %d services, %d vehicles", job.ID, job.Services, job.Vehicles)
	return job, nil
}

// Cancel stops a queued or running job. The job records the cancellation once its solve returns.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	cancel, ok := r.running[id]
	r.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	job, err := r.Store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return ErrFinished
	}
	// not owned by this process (e.g. left over from a restart)
	return r.Store.UpdateJobStatus(ctx, id, model.JobCancelled, "cancelled")
}

// Wait blocks until every submitted job finished.
func (r *Runner) Wait() { r.wg.Wait() }

// Shutdown cancels all jobs and waits for them, or for ctx.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, job model.JobRecord, inst *model.Instance) {
	defer r.wg.Done()
	defer r.forget(job.ID)

	cancelled := ctx.Err() != nil
	if !cancelled {
		select {
		case r.sem <- struct{}{}:
		case <-ctx.Done():
			cancelled = true
		}
	}
	if cancelled {
		job.Status, job.Error = model.JobCancelled, "cancelled before start"
		r.finish(job, nil)
		return
	}
	defer func() { <-r.sem }()

	bg, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := r.Store.UpdateJobStatus(bg, job.ID, model.JobRunning, ""); err != nil {
		log.Printf("[jobs] %s: mark running: %v", job.ID, err)
	}
	cancel()
	r.notify(job.ID, EventStatus, map[string]any{"jobId": job.ID, "status": model.JobRunning})

	started := time.Now()
	handle := &model.Job{ID: job.ID, OnProgress: func(p model.Progress) {
		r.notify(job.ID, EventProgress, progressData(p))
	}}
	res, err := r.Dicho.Run(ctx, inst, handle)
	switch {
	case ctx.Err() != nil:
		job.Status, job.Error = model.JobCancelled, "cancelled"
		res = nil
	case err != nil:
		job.Status, job.Error = model.JobFailed, err.Error()
		res = nil
	default:
		job.Status = model.JobSucceeded
	}
	log.Printf("[jobs] %s %s after %v", job.ID, job.Status, time.Since(started).Round(time.Millisecond))
	r.finish(job, res)
}

// finish persists the terminal state, solve statistics and callback of a job.
func (r *Runner) finish(job model.JobRecord, res *model.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var err error
	if job.Status == model.JobSucceeded {
		err = r.Store.SaveJobResult(ctx, job.ID, res)
	} else {
		err = r.Store.UpdateJobStatus(ctx, job.ID, job.Status, job.Error)
	}
	if err != nil {
		log.Printf("[jobs] %s: save %s: %v", job.ID, job.Status, err)
	}
	if r.Stats != nil {
		if stats := r.Stats.Get(job.ID); len(stats) > 0 {
			if err := r.Store.SaveSolveStats(ctx, job.ID, stats); err != nil {
				log.Printf("[jobs] %s: save solve stats: %v", job.ID, err)
			}
		}
		r.Stats.Drop(job.ID)
	}
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	if r.Pub != nil {
		r.Pub.Emit(ctx, job, res)
	}
	done := map[string]any{"jobId": job.ID, "status": job.Status}
	if job.Error != "" {
		done["error"] = job.Error
	}
	if res != nil {
		done["routes"] = len(res.Routes)
		done["unassigned"] = len(res.Unassigned)
	}
	r.notify(job.ID, EventDone, done)
}

func (r *Runner) forget(id string) {
	r.mu.Lock()
	if cancel, ok := r.running[id]; ok {
		cancel()
		delete(r.running, id)
	}
	r.mu.Unlock()
}

func (r *Runner) notify(jobID, eventType string, data map[string]any) {
	if r.Notify != nil {
		r.Notify(jobID, eventType, data)
	}
}

func progressData(p model.Progress) map[string]any {
	d := map[string]any{
		"jobId":      p.JobID,
		"stage":      p.Stage,
		"level":      p.Level,
		"services":   p.Services,
		"unassigned": p.Unassigned,
		"ts":         p.At.Format(time.RFC3339Nano),
	}
	if p.Iteration > 0 {
		d["iteration"] = p.Iteration
	}
	return d
}
