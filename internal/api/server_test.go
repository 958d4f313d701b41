package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vrpdicho/internal/config"
	"vrpdicho/internal/store"
)

func TestNewServerSelectsBackends(t *testing.T) {
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "jobs.db")
	cfg.RedisURL = "::not a url::"

	s, err := NewServer(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()
	assert.IsType(t, &store.SQLite{}, s.Store)
	assert.IsType(t, &Broker{}, s.Broker)
	assert.NotNil(t, s.Runner)
	assert.Equal(t, cfg.WebhookMaxAttempts, s.NewWebhookWorker().MaxAttempts)

	mem, err := NewServer(context.Background(), config.Default())
	require.NoError(t, err)
	defer mem.Close()
	assert.IsType(t, &store.Memory{}, mem.Store)
}

func TestNewServerRejectsBadAuth(t *testing.T) {
	cfg := config.Default()
	cfg.AuthMode = "hmac"
	_, err := NewServer(context.Background(), cfg)
	assert.Error(t, err)
}
