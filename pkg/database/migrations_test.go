package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func writeMigration(t *testing.T, dir, name, sql string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sql), 0o644))
}

func TestRunMigrations_AppliesInOrderOnce(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	writeMigration(t, dir, "002_add_column.sql", "ALTER TABLE things ADD COLUMN note TEXT;")
	writeMigration(t, dir, "001_create_things.sql", "CREATE TABLE things (id INTEGER PRIMARY KEY);")

	m := NewMigrator(db, zap.NewNop())
	require.NoError(t, m.RunMigrations(dir))

	// rerun is a no-op, not a duplicate-table error
	require.NoError(t, m.RunMigrations(dir))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	_, err := db.Exec("INSERT INTO things (note) VALUES ('x')")
	require.NoError(t, err)
}

func TestRunMigrations_RejectsBadFilename(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	writeMigration(t, dir, "first.sql", "CREATE TABLE x (id INTEGER);")

	m := NewMigrator(db, zap.NewNop())
	err := m.RunMigrations(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid migration filename")
}

func TestRunMigrations_FailureRollsBack(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	writeMigration(t, dir, "001_bad.sql", "CREATE TABLE;")

	m := NewMigrator(db, zap.NewNop())
	require.Error(t, m.RunMigrations(dir))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Zero(t, count, "failed migration must not be recorded")
}
