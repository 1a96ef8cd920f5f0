// Package store wraps the embedded SQLite database every PowerBot worker
// opens a handle to. It generalizes a Postgres sqlx.DB wrapper (embed +
// New + Migrate) from a single shared connection to a per-worker embedded
// file, and adds the BeginImmediate write-serialization primitive.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"powerbot/internal/apperr"
	"powerbot/internal/logging"
)

// DB wraps *sqlx.DB, adding a per-table column-existence cache (an
// information_schema probe retargeted at SQLite's PRAGMA table_info) so
// every component's ensure_tables() can add columns additively without
// re-querying the schema on every call.
type DB struct {
	*sqlx.DB
	path string

	columnCache      map[string]bool
	columnCacheMutex sync.RWMutex
}

// Open establishes a connection to the local embedded SQLite file at path,
// enables a busy timeout so concurrent writers observe StorageBusy instead
// of an indefinite block, and returns the wrapped handle.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, apperr.New(apperr.InvalidArgument, "store: empty db path")
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(2000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	sdb, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "open local store", err)
	}
	// SQLite allows only one writer; a single connection avoids surprising
	// "database is locked" errors from pool-level concurrency.
	sdb.SetMaxOpenConns(1)

	if err := sdb.Ping(); err != nil {
		sdb.Close()
		return nil, apperr.Wrap(apperr.Storage, "ping local store", err)
	}

	logging.For("store").Info().Str("path", path).Msg("opened local store")

	return &DB{
		DB:          sdb,
		path:        path,
		columnCache: make(map[string]bool),
	}, nil
}

// Migrate applies all available 'up' migrations from migrationsPath. It is
// not an error if the database is already up to date, mirroring the
// teacher's Migrate semantics.
func (db *DB) Migrate(migrationsPath string) error {
	driver, err := sqlite.WithInstance(db.DB.DB, &sqlite.Config{})
	if err != nil {
		return apperr.Wrap(apperr.SchemaMismatch, "create migrate driver", err)
	}
	sourceURL := fmt.Sprintf("file://%s", migrationsPath)
	m, err := migrate.NewWithDatabaseInstance(sourceURL, "sqlite", driver)
	if err != nil {
		return apperr.Wrap(apperr.SchemaMismatch, "create migrate instance", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return apperr.Wrap(apperr.SchemaMismatch, "apply migrations", err)
	}
	return nil
}

// Tx is a transaction handle passed to callers inside BeginImmediate. It
// exposes the same Get/Select/Exec surface as *sqlx.Tx but is backed by a
// connection that issued a literal BEGIN IMMEDIATE, not database/sql's
// default deferred transaction.
type Tx struct {
	*sqlx.Conn
}

// BeginImmediate issues a literal `BEGIN IMMEDIATE` on a
// dedicated connection, taking the write lock for the duration of the
// transaction, and runs fn inside it. A panic or returned error rolls back;
// otherwise the transaction commits. This is the only way any component in
// PowerBot performs a multi-statement mutation (identity merges/splits,
// economy credits/debits, ledger writes) — "serialized by a
// begin_immediate transaction" guarantee depends on every writer going
// through this one entry point.
func (db *DB) BeginImmediate(ctx context.Context, fn func(tx *Tx) error) (err error) {
	conn, connErr := db.Connx(ctx)
	if connErr != nil {
		return apperr.Wrap(apperr.Storage, "acquire connection", connErr)
	}
	defer conn.Close()

	if _, execErr := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); execErr != nil {
		return classifyBeginErr(execErr)
	}

	tx := &Tx{Conn: conn}

	defer func() {
		if p := recover(); p != nil {
			_, _ = conn.ExecContext(ctx, "ROLLBACK")
			panic(p)
		}
	}()

	if err = fn(tx); err != nil {
		if _, rbErr := conn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			logging.For("store").Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if _, execErr := conn.ExecContext(ctx, "COMMIT"); execErr != nil {
		return apperr.Wrap(apperr.Storage, "commit transaction", execErr)
	}
	return nil
}

func classifyBeginErr(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(strings.ToLower(err.Error()), "locked") || strings.Contains(strings.ToLower(err.Error()), "busy") {
		return apperr.Wrap(apperr.Storage, "StorageBusy", err)
	}
	return apperr.Wrap(apperr.Storage, "begin transaction", err)
}

// HasColumn reports whether table has column, caching the result so
// repeated calls don't re-issue the underlying PRAGMA table_info query.
func (db *DB) HasColumn(table, column string) (bool, error) {
	key := table + "." + column
	db.columnCacheMutex.RLock()
	if v, ok := db.columnCache[key]; ok {
		db.columnCacheMutex.RUnlock()
		return v, nil
	}
	db.columnCacheMutex.RUnlock()

	rows, err := db.Queryx(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, apperr.Wrap(apperr.Storage, "pragma table_info", err)
	}
	defer rows.Close()

	found := false
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, apperr.Wrap(apperr.Storage, "scan table_info", err)
		}
		if strings.EqualFold(name, column) {
			found = true
		}
	}

	db.columnCacheMutex.Lock()
	db.columnCache[key] = found
	db.columnCacheMutex.Unlock()
	return found, nil
}

// AddColumnIfMissing runs an additive ALTER TABLE ADD COLUMN the first time
// a component observes the column absent; idempotent across process
// restarts since HasColumn re-probes PRAGMA table_info on a cold cache.
func (db *DB) AddColumnIfMissing(table, column, ddlType string) error {
	has, err := db.HasColumn(table, column)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, ddlType))
	if err != nil {
		return apperr.Wrap(apperr.SchemaMismatch, "add column "+column, err)
	}
	db.columnCacheMutex.Lock()
	db.columnCache[table+"."+column] = true
	db.columnCacheMutex.Unlock()
	return nil
}

// Path returns the filesystem path of the local embedded database file.
func (db *DB) Path() string { return db.path }

// Now returns the current time truncated to second resolution, matching
// SQLite's DATETIME('now') granularity used throughout the schema.
func Now() time.Time { return time.Now().UTC().Truncate(time.Second) }
