package database

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMigrationsOnSqlite(t *testing.T) {
	conn, err := Open(filepath.Join(t.TempDir(), "db", "hexmap.db"))
	require.NoError(t, err)
	defer conn.Close()

	m := NewMigrator(conn, Migrations)
	n, err := m.Up()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = m.Up()
	require.NoError(t, err)
	assert.Zero(t, n)

	applied, err := m.Applied()
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "001_cell_records", 2: "002_layer_imports"}, applied)

	_, err = conn.Exec("INSERT INTO cell_records (layer, h3, value) VALUES ('risk', '8928308280fffff', 0.4)")
	assert.NoError(t, err)
}

func TestLoadMigrationsSkipsBadNames(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_b.sql":  {Data: []byte("SELECT 2")},
		"migrations/001_a.sql":  {Data: []byte("SELECT 1")},
		"migrations/readme.txt": {Data: []byte("x")},
		"migrations/x_bad.sql":  {Data: []byte("SELECT 3")},
		"migrations/004.sql":    {Data: []byte("SELECT 4")},
	}
	migrations, err := NewMigrator(nil, fsys).Load()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001_a", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
}

func TestApplyMigrationRollsBackOnError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = NewMigrator(conn, nil).Apply(Migration{Version: 7, Name: "007_broken", SQL: "CREATE TABLE broken"})
	assert.ErrorContains(t, err, "failed to execute migration 7")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxCommits(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM cell_records").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	err = WithTx(conn, func(tx *sql.Tx) error {
		_, err := tx.Exec("DELETE FROM cell_records")
		return err
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
