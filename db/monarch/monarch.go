// Package monarch applies named, versioned sets of schema migrations.
// It manages its own bookkeeping table with itself.
package monarch

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/koinonia/draftsafe/db"
	"github.com/rs/zerolog"
)

// A Manager applies migrations.
type Manager struct {
	db  db.DB
	log zerolog.Logger
}

// NewManager creates a new manager.  If it has not been bootstrapped on this db,
// then it is bootstrapped now.  If it fails to bootstrap, it won't work.
func NewManager(conn db.DB) (*Manager, error) {
	manager := &Manager{db: conn, log: zerolog.Nop()}
	return manager, manager.bootstrap()
}

// WithLogger sets the logger applied migrations are reported to.
func (m *Manager) WithLogger(l zerolog.Logger) *Manager {
	m.log = l
	return m
}

func (m *Manager) bootstrapMigrations() []Migration {
	return []Migration{
		{
			Up: `CREATE TABLE IF NOT EXISTS migrations (
					version int NOT NULL,
					name text NOT NULL,
					down text NOT NULL,
					applied_at datetime NOT NULL,
					PRIMARY KEY (version, name)
				);`,
			Down: `DROP TABLE migrations;`,
		},
		{
			Up:   `CREATE INDEX IF NOT EXISTS migration_name ON migrations (name, version);`,
			Down: `DROP INDEX migration_name;`,
		},
	}
}

func (m *Manager) bootstrap() error {
	migrations := m.bootstrapMigrations()

	if _, err := m.db.Exec(migrations[0].Up); err != nil {
		return err
	}

	return m.Upgrade(Set{Name: "monarch", Migrations: migrations})
}

// LatestVersions returns the current version of every migration set.
func (m *Manager) LatestVersions() ([]MigrationVersion, error) {
	q := `SELECT name, max(version) AS version FROM migrations GROUP BY name ORDER BY name;`

	var mvs []MigrationVersion
	err := m.db.Select(&mvs, q)
	return mvs, err
}

// Downgrade a single version of the named set.
func (m *Manager) Downgrade(name string) error {
	var cur MigrationVersion
	q := `SELECT name, version, down, applied_at FROM migrations WHERE name=? ORDER BY version DESC LIMIT 1;`
	if err := m.db.Get(&cur, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no migrations applied for %s", name)
		}
		return err
	}

	if cur.Version == 0 {
		return fmt.Errorf("cannot downgrade past version 0")
	}

	return db.With(m.db, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(cur.Down); err != nil {
			return fmt.Errorf("executing `%s` (%w)", cur.Down, err)
		}
		_, err := tx.Exec(`DELETE FROM migrations WHERE name=? AND version=?;`, name, cur.Version)
		return err
	})
}

// Upgrade set to its latest migration level.  Each migration is applied in
// the same transaction as its version bookkeeping.
func (m *Manager) Upgrade(set Set) error {
	version, err := m.GetVersion(set.Name)
	if err != nil {
		return err
	}

	for v, mig := range set.Migrations {
		// skip already applied migrations
		if v <= version {
			continue
		}
		err := db.With(m.db, func(tx *sqlx.Tx) error {
			if _, err := tx.Exec(mig.Up); err != nil {
				return fmt.Errorf("'%s' version %d: %w <%s>", set.Name, v, err, mig.Up)
			}
			_, err := tx.Exec(`INSERT INTO migrations (version, name, applied_at, down) VALUES (?, ?, ?, ?);`,
				v, set.Name, time.Now().UTC(), mig.Down)
			return err
		})
		if err != nil {
			return err
		}
		m.log.Debug().Str("set", set.Name).Int("version", v).Msg("applied migration")
	}
	return nil
}

// GetVersion returns the latest applied migration version for setName.
// If no version has been recorded in the migrations table, -1 is returned.
func (m *Manager) GetVersion(setName string) (version int, err error) {
	err = m.db.Get(&version, `SELECT COALESCE(max(version), -1)
	FROM migrations WHERE name=?;`, setName)
	return version, err
}

// A MigrationVersion contains information about a specific migration's application.
type MigrationVersion struct {
	Name      string
	Version   int
	Down      string
	AppliedAt time.Time `db:"applied_at"`
}

// A Set is a named set of migrations.
type Set struct {
	Name       string
	Migrations []Migration
}

// A Migration is two statements;  one that, when executed, upgrades to that version,
// and another that can undo this (either by dropping columns, tables, etc).
type Migration struct {
	Up   string
	Down string
}

// UpgradeAll bootstraps a manager on conn and upgrades every set in order.
func UpgradeAll(conn db.DB, sets ...Set) error {
	m, err := NewManager(conn)
	if err != nil {
		return err
	}
	for _, s := range sets {
		if err := m.Upgrade(s); err != nil {
			return fmt.Errorf("error running %s migration: %w", s.Name, err)
		}
	}
	return nil
}
