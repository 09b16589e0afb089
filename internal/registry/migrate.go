package registry

import (
	"database/sql"
	"embed"
	"fmt"
	"sync/atomic"

	"github.com/acdbrt/acdbrt/pkg/acdberr"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	gosqlite3 "github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/sqlite3
var migrationFiles embed.FS

var driverSeq atomic.Uint64

// openDB opens the registry's sqlite metadata store at dsn, instrumented
// with query/timing hooks, and applies any pending migrations. Each Registry
// owns its own *sqlx.DB rather than sharing one process-wide connection —
// a single process may host more than one independent registry (e.g. in
// tests), so the connection is not a package-level singleton. The driver
// name is suffixed with a monotonic counter since database/sql panics if
// the same driver name is registered twice, which two registries opened
// against the same dsn (e.g. ":memory:" in tests) would otherwise trigger.
func openDB(dsn string) (*sqlx.DB, error) {
	driverName := fmt.Sprintf("acdb-registry-sqlite3-%d", driverSeq.Add(1))
	sql.Register(driverName, sqlhooks.Wrap(&gosqlite3.SQLiteDriver{}, &hooks{}))

	db, err := sqlx.Open(driverName, fmt.Sprintf("%s?_foreign_keys=on", dsn))
	if err != nil {
		return nil, acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	// sqlite does not benefit from concurrent writers; one connection avoids
	// SQLITE_BUSY under the registry's own lock discipline.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return acdberr.Wrap(component, acdberr.EFAILED, err)
	}
	return nil
}
