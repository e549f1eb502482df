package incidents_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"nexuswatch/internal/db"
	"nexuswatch/internal/incidents"
	"nexuswatch/internal/incidents/storetest"
)

// Runs against a real PostgreSQL when NEXUSWATCH_TEST_DSN is set.
func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("NEXUSWATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("NEXUSWATCH_TEST_DSN not set")
	}
	ctx := context.Background()
	conn, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.RunMigrations(ctx, conn, "../../sql"))

	storetest.Run(t, func(t *testing.T) incidents.Store {
		_, err := conn.ExecContext(ctx, "TRUNCATE watch_incidents")
		require.NoError(t, err)
		return incidents.NewSQLStore(conn)
	})
}
