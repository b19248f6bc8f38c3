package monarch

import (
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countWrap struct {
	*sqlx.DB
	count int
}

func (c *countWrap) Get(dest any, query string, args ...any) error {
	c.count++
	return c.DB.Get(dest, query, args...)
}

func (c *countWrap) Exec(query string, args ...any) (sql.Result, error) {
	c.count++
	return c.DB.Exec(query, args...)
}

func connect(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMonarch(t *testing.T) {
	assert := assert.New(t)

	cw := &countWrap{DB: connect(t)}

	man, err := NewManager(cw)
	assert.NoError(err)
	assert.NotNil(man)
	// one bootstrap query and one version query; the migrations themselves
	// run inside transactions and do not go through the wrapper
	assert.Equal(2, cw.count)

	cw.count = 0

	version, err := man.GetVersion("monarch")
	assert.NoError(err)
	assert.Equal(len(man.bootstrapMigrations())-1, version)
	assert.Equal(1, cw.count)

	cw.count = 0

	man, err = NewManager(cw)
	assert.NoError(err)
	assert.NotNil(man)
	assert.Equal(2, cw.count)
}

func TestUpgradeDowngrade(t *testing.T) {
	assert := assert.New(t)
	db := connect(t)

	set := Set{
		Name: "widget",
		Migrations: []Migration{
			{Up: `CREATE TABLE widget (id INTEGER PRIMARY KEY);`, Down: `DROP TABLE widget;`},
			{Up: `ALTER TABLE widget ADD COLUMN name TEXT;`, Down: `ALTER TABLE widget DROP COLUMN name;`},
		},
	}

	require.NoError(t, UpgradeAll(db, set))
	// upgrading twice is a no-op
	require.NoError(t, UpgradeAll(db, set))

	man, err := NewManager(db)
	require.NoError(t, err)
	v, err := man.GetVersion("widget")
	assert.NoError(err)
	assert.Equal(1, v)

	latest, err := man.LatestVersions()
	assert.NoError(err)
	assert.Len(latest, 2)

	assert.NoError(man.Downgrade("widget"))
	v, err = man.GetVersion("widget")
	assert.NoError(err)
	assert.Equal(0, v)

	assert.Error(man.Downgrade("widget"), "cannot downgrade past 0")
	assert.Error(man.Downgrade("nothing"))
}

func TestFailedMigrationRollsBack(t *testing.T) {
	db := connect(t)

	set := Set{
		Name: "broken",
		Migrations: []Migration{
			{Up: `CREATE TABLE ok (id INTEGER);`, Down: `DROP TABLE ok;`},
			{Up: `THIS IS NOT SQL;`, Down: ``},
		},
	}
	require.Error(t, UpgradeAll(db, set))

	man, err := NewManager(db)
	require.NoError(t, err)
	v, err := man.GetVersion("broken")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}
