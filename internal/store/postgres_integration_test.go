//go:build postgres_integration

package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostgresJobLifecycle(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	p, err := OpenPostgres(t.Context(), dsn)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Ping(t.Context()))
	exerciseStore(t, p)
}
