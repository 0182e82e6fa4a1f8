package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
)

const sqliteDriver = "entitycore_sqlite3"

// Pragmas applied to every new connection.
var sqlitePragmas = []string{
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
}

var registerSQLite sync.Once

// OpenSQLite opens a SQLite database. ":memory:" opens a private in-memory
// database on a single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	registerSQLite.Do(func() {
		sql.Register(sqliteDriver, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				for _, pragma := range sqlitePragmas {
					if _, err := conn.Exec(pragma, nil); err != nil {
						return fmt.Errorf("set pragma: %w", err)
					}
				}
				return nil
			},
		})
	})

	db, err := sql.Open(sqliteDriver, path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// NewSQLite opens path and returns a gateway on it.
func NewSQLite(path string, opts ...Option) (*Gateway, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return New(db, SQLite, opts...), nil
}

func sqliteUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
