package webhooks

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"vrpdicho/internal/metrics"
	"vrpdicho/internal/store"
)

// Worker delivers queued callbacks, retrying failures with exponential backoff until
// MaxAttempts is reached.
type Worker struct {
	Store       store.Store
	HTTP        *http.Client
	Stop        chan struct{}
	MaxAttempts int
	Interval    time.Duration
}

func NewWorker(s store.Store, maxAttempts int) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{Store: s, HTTP: &http.Client{Timeout: 5 * time.Second}, Stop: make(chan struct{}), MaxAttempts: maxAttempts, Interval: time.Second}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	items, err := w.Store.FetchDueWebhookDeliveries(ctx, 50)
	if err != nil {
		log.Printf("[webhooks] fetch due deliveries: %v", err)
		return
	}
	for _, it := range items {
		w.deliver(ctx, it)
	}
}

func (w *Worker) deliver(ctx context.Context, it store.WebhookDelivery) {
	success := false
	next := time.Now().Add(nextBackoff(it.Attempts))
	code := 0
	lastErr := ""
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err == nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEventType, it.EventType)
		req.Header.Set(HeaderJobID, it.JobID)
		if it.Secret != "" {
			req.Header.Set(HeaderSignature, SignHMAC(it.Secret, it.Payload))
		}
		var resp *http.Response
		resp, err = w.HTTP.Do(req)
		if err == nil {
			code = resp.StatusCode
			_ = resp.Body.Close()
			success = code >= 200 && code < 300
		}
	}
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		lastErr = err.Error()
	} else if !success {
		lastErr = "unexpected status " + strconv.Itoa(code)
	}

	status := "delivered"
	switch {
	case success:
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, true, nil, "", code, latency)
	case it.Attempts+1 >= w.MaxAttempts:
		status = "failed"
		err = w.Store.FailWebhookDelivery(ctx, it.ID, lastErr, code, latency)
	default:
		status = "retry"
		err = w.Store.MarkWebhookDelivery(ctx, it.ID, false, &next, lastErr, code, latency)
	}
	if err != nil {
		log.Printf("[webhooks] record delivery %s: %v", it.ID, err)
	}
	metrics.WebhookDeliveries.WithLabelValues(it.EventType, status).Inc()
	metrics.WebhookLatency.WithLabelValues(it.EventType, status).Observe(float64(latency))
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
