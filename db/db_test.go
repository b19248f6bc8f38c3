package db

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	_, err := Open("sqlite3://")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "x.db")
	for _, uri := range []string{"sqlite3://" + path, "sqlite://" + path, path, ":memory:"} {
		conn, err := Open(uri)
		require.NoError(t, err, uri)
		var one int
		require.NoError(t, conn.Get(&one, `SELECT 1`))
		assert.Equal(t, 1, one)
		conn.Close()
	}
}

func TestWith(t *testing.T) {
	conn, err := Open(":memory:")
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = With(conn, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(`INSERT INTO kv VALUES ('a', '1')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, With(conn, func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`INSERT INTO kv VALUES ('b', '2')`)
		return err
	}))

	var keys []string
	require.NoError(t, conn.Select(&keys, `SELECT k FROM kv ORDER BY k`))
	assert.Equal(t, []string{"b"}, keys)
}
