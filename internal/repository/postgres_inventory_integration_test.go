//go:build integration

package repository

import (
	"context"
	"database/sql"
	"os"
	"strconv"
	"testing"
	"time"

	"tree-buffer/common/config"
	"tree-buffer/common/database"
	"tree-buffer/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const integrationSchema = "tree_buffer_it"

// 获取测试数据库连接，连不上时跳过
func getTestDB(t *testing.T) *sql.DB {
	port, _ := strconv.Atoi(getTestEnv("TEST_DB_PORT", "5432"))
	cfg := &config.DatabaseConfig{
		Host:     getTestEnv("TEST_DB_HOST", "localhost"),
		Port:     port,
		User:     getTestEnv("TEST_DB_USER", "postgres"),
		Password: getTestEnv("TEST_DB_PASSWORD", "postgres"),
		Database: getTestEnv("TEST_DB_NAME", "postgres"),
		SSLMode:  getTestEnv("TEST_DB_SSLMODE", "disable"),
	}
	db, err := database.NewPostgresDB(cfg)
	if err != nil {
		t.Skipf("Skipping integration test: cannot connect to database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func getTestEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// setupInventorySchema 建一个最小的库存 schema：地块 1 有 10 棵 A 树种，其中 1 棵已被认领
func setupInventorySchema(t *testing.T, db *sql.DB) {
	t.Helper()
	stmts := []string{
		`DROP SCHEMA IF EXISTS ` + integrationSchema + ` CASCADE`,
		`CREATE SCHEMA ` + integrationSchema,
		`CREATE TABLE ` + integrationSchema + `.plots (id BIGINT PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE ` + integrationSchema + `.plant_types (id BIGINT PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE ` + integrationSchema + `.trees (
			id BIGSERIAL PRIMARY KEY,
			sapling_id VARCHAR(64) UNIQUE NOT NULL,
			plot_id BIGINT NOT NULL,
			plant_type_id BIGINT NOT NULL,
			mapped_to_user BIGINT,
			mapped_to_group BIGINT,
			sponsored_by_group BIGINT,
			assigned_to BIGINT,
			mapped_at TIMESTAMPTZ,
			assigned_at TIMESTAMPTZ,
			sponsored_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)`,
		`INSERT INTO ` + integrationSchema + `.plots (id, name) VALUES (1, 'North Ridge')`,
		`INSERT INTO ` + integrationSchema + `.plant_types (id, name) VALUES (7, 'Neem')`,
		`INSERT INTO ` + integrationSchema + `.trees (sapling_id, plot_id, plant_type_id)
			SELECT 'IT-' || lpad(g::text, 3, '0'), 1, 7 FROM generate_series(1, 10) g`,
		`UPDATE ` + integrationSchema + `.trees SET mapped_to_user = 42 WHERE sapling_id = 'IT-001'`,
	}
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	t.Cleanup(func() {
		_, _ = db.Exec(`DROP SCHEMA IF EXISTS ` + integrationSchema + ` CASCADE`)
	})
}

func TestPostgresInventory_Integration(t *testing.T) {
	db := getTestDB(t)
	setupInventorySchema(t, db)
	ctx := context.Background()
	buffer := models.BufferIdentity{GroupID: 195, AccountID: 20621}
	repo := NewPostgresInventoryRepository(db, integrationSchema, zap.NewNop())

	ids, err := repo.ResolvePlotIDsByName(ctx, []string{"North Ridge", "Nonexistent Plot"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"North Ridge": 1}, ids)

	rows, err := repo.AggregateTreeCounts(ctx, []int64{1}, buffer)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].Total)
	assert.Equal(t, 0, rows[0].AlreadyReserved)

	eligible, err := repo.FindUnclaimedTrees(ctx, 1, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"IT-002", "IT-003"}, eligible)

	tx, err := repo.BeginReservation(ctx)
	require.NoError(t, err)
	locked, err := tx.LockUnclaimed(ctx, []string{"IT-001", "IT-002", "IT-003"})
	require.NoError(t, err)
	assert.Equal(t, []string{"IT-002", "IT-003"}, locked)
	n, err := tx.ReserveTrees(ctx, locked, buffer, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback(), "rollback after commit is a no-op")

	rows, err = repo.AggregateTreeCounts(ctx, []int64{1}, buffer)
	require.NoError(t, err)
	assert.Equal(t, 2, rows[0].AlreadyReserved)

	eligible, err = repo.FindUnclaimedTrees(ctx, 1, 7, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"IT-004", "IT-005"}, eligible)
}

func TestPostgresInventory_RollbackLeavesTreesUnclaimed(t *testing.T) {
	db := getTestDB(t)
	setupInventorySchema(t, db)
	ctx := context.Background()
	buffer := models.BufferIdentity{GroupID: 195, AccountID: 20621}
	repo := NewPostgresInventoryRepository(db, integrationSchema, zap.NewNop())

	tx, err := repo.BeginReservation(ctx)
	require.NoError(t, err)
	_, err = tx.ReserveTrees(ctx, []string{"IT-002"}, buffer, time.Now())
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	rows, err := repo.AggregateTreeCounts(ctx, []int64{1}, buffer)
	require.NoError(t, err)
	assert.Equal(t, 0, rows[0].AlreadyReserved)
}
