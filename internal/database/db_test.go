package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesParentDirectoryAndOpensConnection(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "engine.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, dbPath, db.Path())
	assert.NoError(t, db.Conn().Ping())
}

func TestMigrate_IsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate())

	row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'strategies'")
	var count int
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestExecAndQuery_RoundTripThroughAccountTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	_, err = db.Exec("INSERT INTO account (id, cash, equity_high_water_mark) VALUES (1, ?, ?)", 1000.0, 1000.0)
	require.NoError(t, err)

	rows, err := db.Query("SELECT cash FROM account WHERE id = 1")
	require.NoError(t, err)
	defer rows.Close()

	require.True(t, rows.Next())
	var cash float64
	require.NoError(t, rows.Scan(&cash))
	assert.Equal(t, 1000.0, cash)
}

func TestBegin_SupportsCommitAndRollback(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "engine.db")
	db, err := New(dbPath)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Migrate())

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = tx.Exec("INSERT INTO watched_instruments (symbol, display_name) VALUES (?, ?)", "BTC", "Bitcoin")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	row := db.QueryRow("SELECT COUNT(*) FROM watched_instruments")
	var count int
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 0, count, "rolled-back transaction must not persist")
}
