// Package db holds the small database abstraction shared by every service.
//
// Services accept a DB rather than a *sqlx.DB so that they can run inside a
// transaction (see With) or against a wrapped connection in tests.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var dbLogger = zerolog.Nop()

// SetLogger sets the logger used for connection lifecycle messages.
func SetLogger(l zerolog.Logger) {
	dbLogger = l
}

// A Getter can load a single row into dest.
type Getter interface {
	Get(dest any, query string, args ...any) error
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// A Querier is the read/write surface shared by *sqlx.DB and *sqlx.Tx.
type Querier interface {
	Getter
	Exec(query string, args ...any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Select(dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// DB is a Querier that can also start transactions.
type DB interface {
	Querier
	Beginx() (*sqlx.Tx, error)
}

// Open connects to the database at uri.  Only sqlite is supported; uri may be
// a bare path, ":memory:", or carry a "sqlite://" or "sqlite3://" prefix.
func Open(uri string) (*sqlx.DB, error) {
	dsn := uri
	for _, prefix := range []string{"sqlite3://", "sqlite://"} {
		dsn = strings.TrimPrefix(dsn, prefix)
	}
	if len(dsn) == 0 {
		return nil, fmt.Errorf("empty database uri")
	}

	conn, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", dsn, err)
	}
	// sqlite allows a single writer; in-memory databases are per connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		conn.Close()
		return nil, err
	}

	dbLogger.Info().Str("dsn", dsn).Msg("database opened")
	return conn, nil
}

// With runs fn in a transaction on db.  If fn returns an error, the
// transaction is rolled back, otherwise it is committed.
func With(db DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			dbLogger.Error().Err(rerr).Msg("rollback failed")
		}
		return err
	}
	return tx.Commit()
}
