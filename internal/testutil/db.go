// Package testutil provides a migrated throwaway SQLite database and seed helpers for tests.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/garyjia/booking-orchestrator/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/booking-orchestrator/migrations"
	"github.com/garyjia/booking-orchestrator/pkg/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// NewDB opens a temp-file database with every migration applied
func NewDB(t testing.TB) *sqlite.DB {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 8,
		MaxIdleConns: 2,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).RunMigrationsFS(migrations.FS))
	return sqlite.NewDB(db.DB, logger)
}

// SeedAgent inserts an agent with the given permissions
func SeedAgent(t testing.TB, db *sqlite.DB, id string, permissions ...string) {
	t.Helper()
	if permissions == nil {
		permissions = []string{}
	}
	perms, err := json.Marshal(permissions)
	require.NoError(t, err)

	_, err = db.ExecContext(context.Background(),
		`INSERT INTO agents (id, name, permissions, created_at) VALUES (?, ?, ?, ?)`,
		id, "Agent "+id, string(perms), time.Now().UTC())
	require.NoError(t, err)
}

// SeedCustomer inserts a customer owned by agentID and returns its id
func SeedCustomer(t testing.TB, db *sqlite.DB, agentID string) int64 {
	t.Helper()
	result, err := db.ExecContext(context.Background(),
		`INSERT INTO customers (agent_id, name, created_at) VALUES (?, ?, ?)`,
		agentID, "Customer of "+agentID, time.Now().UTC())
	require.NoError(t, err)

	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// SeedDoctor inserts an active doctor at hospitalID and returns its id
func SeedDoctor(t testing.TB, db *sqlite.DB, hospitalID int64) int64 {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO hospitals (id, name) VALUES (?, ?)`,
		hospitalID, fmt.Sprintf("Hospital %d", hospitalID))
	require.NoError(t, err)

	result, err := db.ExecContext(ctx, `INSERT INTO doctors (hospital_id, name, active) VALUES (?, ?, 1)`,
		hospitalID, fmt.Sprintf("Dr. %d", time.Now().UnixNano()))
	require.NoError(t, err)

	id, err := result.LastInsertId()
	require.NoError(t, err)
	return id
}

// CountRows returns the row count of table
func CountRows(t testing.TB, db *sqlite.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
