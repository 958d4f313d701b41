package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"vrpdicho/internal/model"
)

//go:embed migrations/*.sql
var migrations embed.FS

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

// sqlStore implements Store over database/sql. Queries are written with ? placeholders and
// rebound per dialect. Timestamps are unix milliseconds.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate creates the schema when missing.
func (s *sqlStore) Migrate(ctx context.Context) error {
	name := "migrations/postgres.sql"
	if s.dialect == dialectSQLite {
		name = "migrations/sqlite.sql"
	}
	body, err := migrations.ReadFile(name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	for _, stmt := range strings.Split(string(body), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) CreateJob(ctx context.Context, job model.JobRecord) (model.JobRecord, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = model.JobQueued
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	job.CreatedAt, job.UpdatedAt = now, now
	inst, err := toJSON(job.Instance)
	if err != nil {
		return job, err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO jobs (id, status, instance, last_error, callback_url, callback_secret, services, vehicles, created_ms, updated_ms)
        VALUES (?,?,?,?,?,?,?,?,?,?)`),
		job.ID, string(job.Status), inst, nullIfEmpty(job.Error), nullIfEmpty(job.CallbackURL), nullIfEmpty(job.CallbackSecret), job.Services, job.Vehicles, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return job, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

const jobColumns = `id, status, last_error, callback_url, callback_secret, services, vehicles, created_ms, updated_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner, extra ...any) (model.JobRecord, error) {
	var j model.JobRecord
	var status string
	var lastErr, cbURL, cbSecret sql.NullString
	var created, updated int64
	dest := append([]any{&j.ID, &status, &lastErr, &cbURL, &cbSecret, &j.Services, &j.Vehicles, &created, &updated}, extra...)
	if err := row.Scan(dest...); err != nil {
		return j, err
	}
	j.Status = model.JobStatus(status)
	j.Error = lastErr.String
	j.CallbackURL = cbURL.String
	j.CallbackSecret = cbSecret.String
	j.CreatedAt = time.UnixMilli(created).UTC()
	j.UpdatedAt = time.UnixMilli(updated).UTC()
	return j, nil
}

func (s *sqlStore) GetJob(ctx context.Context, id string) (model.JobRecord, error) {
	var inst, res []byte
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+`, instance, result FROM jobs WHERE id=?`), id)
	j, err := scanJob(row, &inst, &res)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return j, ErrNotFound
		}
		return j, fmt.Errorf("failed to get job: %w", err)
	}
	if len(inst) > 0 {
		j.Instance = &model.Instance{}
		if err := json.Unmarshal(inst, j.Instance); err != nil {
			return j, fmt.Errorf("failed to decode job instance: %w", err)
		}
	}
	if len(res) > 0 {
		j.Result = &model.Result{}
		if err := json.Unmarshal(res, j.Result); err != nil {
			return j, fmt.Errorf("failed to decode job result: %w", err)
		}
	}
	return j, nil
}

// ListJobs pages by id; the cursor is the last id of the previous page.
func (s *sqlStore) ListJobs(ctx context.Context, status, cursor string, limit int) ([]model.JobRecord, string, error) {
	limit = clampLimit(limit)
	where := []string{}
	args := []any{}
	if status != "" {
		where = append(where, "status=?")
		args = append(args, status)
	}
	if cursor != "" {
		where = append(where, "id > ?")
		args = append(args, cursor)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()
	out := []model.JobRecord{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating jobs: %w", err)
	}
	var next string
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (s *sqlStore) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus, lastError string) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs SET status=?, last_error=?, updated_ms=? WHERE id=?`),
		string(status), nullIfEmpty(lastError), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return expectRow(res)
}

func (s *sqlStore) SaveJobResult(ctx context.Context, id string, result *model.Result) error {
	body, err := toJSON(result)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE jobs SET status=?, result=?, last_error=NULL, updated_ms=? WHERE id=?`),
		string(model.JobSucceeded), body, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}
	return expectRow(res)
}

func (s *sqlStore) SaveSolveStats(ctx context.Context, jobID string, stats []model.SolveStats) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, st := range stats {
		body, err := toJSON(st)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO solve_stats (job_id, stats) VALUES (?,?)`), jobID, body); err != nil {
			return fmt.Errorf("failed to save solve stats: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) ListSolveStats(ctx context.Context, jobID string) ([]model.SolveStats, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT stats FROM solve_stats WHERE job_id=? ORDER BY id`), jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query solve stats: %w", err)
	}
	defer rows.Close()
	out := []model.SolveStats{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan solve stats: %w", err)
		}
		var st model.SolveStats
		if err := json.Unmarshal(body, &st); err != nil {
			return nil, fmt.Errorf("failed to decode solve stats: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqlStore) EnqueueWebhook(ctx context.Context, jobID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	res, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_deliveries (id, job_id, event_type, url, secret, payload, status, attempts, next_attempt_ms, dedup_key)
        VALUES (?,?,?,?,?,?,?,0,?,?)
        ON CONFLICT (job_id, event_type, url, dedup_key) DO NOTHING`),
		id, jobID, eventType, url, nullIfEmpty(secret), payload, DeliveryPending, time.Now().UnixMilli(), computeDedupKey(payload))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue webhook: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// duplicate event
		return "", nil
	}
	return id, nil
}

const deliveryColumns = `id, job_id, event_type, url, secret, payload, status, attempts, next_attempt_ms, last_error, response_code, latency_ms, delivered_ms`

func (s *sqlStore) queryDeliveries(ctx context.Context, query string, args ...any) ([]WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook deliveries: %w", err)
	}
	defer rows.Close()
	out := []WebhookDelivery{}
	for rows.Next() {
		var d WebhookDelivery
		var secret, lastErr sql.NullString
		var next int64
		var delivered sql.NullInt64
		if err := rows.Scan(&d.ID, &d.JobID, &d.EventType, &d.URL, &secret, &d.Payload, &d.Status, &d.Attempts, &next, &lastErr, &d.ResponseCode, &d.LatencyMs, &delivered); err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}
		d.Secret = secret.String
		d.LastError = lastErr.String
		d.NextAttemptAt = time.UnixMilli(next)
		if delivered.Valid {
			t := time.UnixMilli(delivered.Int64)
			d.DeliveredAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqlStore) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	return s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
        WHERE status IN ('pending','retry') AND next_attempt_ms <= ? ORDER BY next_attempt_ms ASC, id LIMIT ?`, time.Now().UnixMilli(), limit)
}

func (s *sqlStore) ListWebhookDeliveries(ctx context.Context, jobID string) ([]WebhookDelivery, error) {
	return s.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE job_id=? ORDER BY next_attempt_ms, id`, jobID)
}

func (s *sqlStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	if success {
		_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET status=?, delivered_ms=?, response_code=?, latency_ms=? WHERE id=?`),
			DeliveryDelivered, time.Now().UnixMilli(), responseCode, latencyMs, id)
		return err
	}
	next := time.Now().Add(1 * time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET attempts=attempts+1, status=?, last_error=?, next_attempt_ms=?, response_code=?, latency_ms=? WHERE id=?`),
		DeliveryRetry, nullIfEmpty(lastError), next.UnixMilli(), responseCode, latencyMs, id)
	return err
}

func (s *sqlStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	_, err := s.db.ExecContext(ctx, s.q(`UPDATE webhook_deliveries SET attempts=attempts+1, status=?, last_error=?, response_code=?, latency_ms=? WHERE id=?`),
		DeliveryFailed, nullIfEmpty(lastError), responseCode, latencyMs, id)
	return err
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// toJSON encodes v as a JSON string, or nil for a nil pointer.
func toJSON(v any) (any, error) {
	switch x := v.(type) {
	case *model.Instance:
		if x == nil {
			return nil, nil
		}
	case *model.Result:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	return string(b), nil
}
