package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdicho/internal/model"
)

func smallInstance() *model.Instance {
	return &model.Instance{Problem: &model.Problem{
		Points:   []*model.Point{{ID: "depot"}, {ID: "p1", MatrixIndex: 1}},
		Vehicles: []*model.Vehicle{{ID: "v1", StartPointID: "depot"}},
		Services: []*model.Service{{ID: "s1", Activity: model.Activity{PointID: "p1", Duration: 60}}},
	}}
}

// exerciseStore runs the behaviour every Store implementation shares against a fresh store.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	job, err := s.CreateJob(ctx, model.JobRecord{Instance: smallInstance(), CallbackURL: "http://cb", CallbackSecret: "k", Services: 1, Vehicles: 1})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobQueued, job.Status)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Instance)
	assert.Equal(t, "s1", got.Instance.Problem.Services[0].ID)
	assert.Equal(t, "http://cb", got.CallbackURL)
	assert.Equal(t, "k", got.CallbackSecret)
	assert.Nil(t, got.Result)

	_, err = s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.UpdateJobStatus(ctx, "missing", model.JobRunning, ""), ErrNotFound)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, model.JobRunning, ""))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobRunning, got.Status)

	res := &model.Result{Routes: []model.Route{{VehicleID: "v1", Activities: []model.RouteActivity{{ServiceID: "s1", PointID: "p1"}}}}, Unassigned: []model.Unassigned{}}
	require.NoError(t, s.SaveJobResult(ctx, job.ID, res))
	got, err = s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobSucceeded, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, []string{"s1"}, got.Result.RoutedServiceIDs())

	for i := 0; i < 3; i++ {
		_, err := s.CreateJob(ctx, model.JobRecord{Services: i})
		require.NoError(t, err)
	}
	seen := 0
	cursor := ""
	for page := 0; page < 10; page++ {
		items, next, err := s.ListJobs(ctx, "", cursor, 2)
		require.NoError(t, err)
		for _, it := range items {
			assert.Nil(t, it.Instance)
			assert.Nil(t, it.Result)
		}
		seen += len(items)
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, 4, seen)

	done, _, err := s.ListJobs(ctx, string(model.JobSucceeded), "", 0)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, job.ID, done[0].ID)

	stats := []model.SolveStats{{Level: 1, Services: 10}, {Level: 2, Services: 5}}
	require.NoError(t, s.SaveSolveStats(ctx, job.ID, stats))
	listed, err := s.ListSolveStats(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 1, listed[0].Level)
	assert.Equal(t, 5, listed[1].Services)

	payload := []byte(`{"id":"evt_1","type":"job.completed"}`)
	id, err := s.EnqueueWebhook(ctx, job.ID, "job.completed", "http://cb", "k", payload)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	dup, err := s.EnqueueWebhook(ctx, job.ID, "job.completed", "http://cb", "k", payload)
	require.NoError(t, err)
	assert.Empty(t, dup)

	due, err := s.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, id, due[0].ID)
	assert.Equal(t, "k", due[0].Secret)
	assert.JSONEq(t, string(payload), string(due[0].Payload))

	later := time.Now().Add(time.Hour)
	require.NoError(t, s.MarkWebhookDelivery(ctx, id, false, &later, "boom", 500, 12))
	due, err = s.FetchDueWebhookDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	deliveries, err := s.ListWebhookDeliveries(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, DeliveryRetry, deliveries[0].Status)
	assert.Equal(t, 1, deliveries[0].Attempts)
	assert.Equal(t, "boom", deliveries[0].LastError)
	assert.Equal(t, 500, deliveries[0].ResponseCode)

	require.NoError(t, s.FailWebhookDelivery(ctx, id, "gave up", 500, 10))
	deliveries, err = s.ListWebhookDeliveries(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliveryFailed, deliveries[0].Status)
	assert.Equal(t, 2, deliveries[0].Attempts)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	path := t.TempDir() + "/jobs/data.db"
	s, err := NewSQLite(context.Background(), path)
	require.NoError(t, err)
	job, err := s.CreateJob(context.Background(), model.JobRecord{Services: 3})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLite(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Services)
	assert.Equal(t, path, reopened.Path())
}

func TestRebindPostgres(t *testing.T) {
	pg := &sqlStore{dialect: dialectPostgres}
	assert.Equal(t, "UPDATE jobs SET status=$1 WHERE id=$2", pg.q("UPDATE jobs SET status=? WHERE id=?"))
	lite := &sqlStore{dialect: dialectSQLite}
	assert.Equal(t, "SELECT ?", lite.q("SELECT ?"))
}

func TestComputeDedupKey(t *testing.T) {
	assert.Equal(t, "evt_123", computeDedupKey([]byte(`{"id":"evt_123","type":"x"}`)))
	assert.Len(t, computeDedupKey([]byte(`{"notId":"x"}`)), 16)
}
