package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, profile Profile) *DB {
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: profile,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t, ProfileLedger)

	require.NoError(t, db.QuickCheck(context.Background()))
	require.NoError(t, db.HealthCheck(context.Background()))
}

func TestWithTransaction_Commits(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
			return err
		}
		_, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('b', '2')`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t, ProfileStandard)
	_, err := db.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv (k, v) VALUES ('a', '1')`); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&count))
	assert.Zero(t, count)
}
