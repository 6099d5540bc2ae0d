// Package store provides persistent storage for agents, tasks, the
// orchestration queue, swarms, shared dashboards and hub links. SQLite is the
// default backend; Postgres is available for hosted deployments.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver registered as "pgx"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/atlassonic/atlas/internal/logging"
)

// Sentinel errors returned by the stores.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Driver names accepted by Connect.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps a SQL connection pool with migration support.
type DB struct {
	x      *sqlx.DB
	driver string
	log    *logging.Logger
	now    func() time.Time
}

// Open opens (or creates) a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for tests).
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection: keeps ":memory:" databases coherent and serializes writers.
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return open(sqlx.NewDb(sqlDB, "sqlite3"), DriverSQLite, path, log)
}

// OpenPostgres connects to Postgres through the pgx stdlib driver and runs migrations.
func OpenPostgres(dsn string, maxOpen int, log *logging.Logger) (*DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return open(sqlx.NewDb(sqlDB, "pgx"), DriverPostgres, "postgres", log)
}

// Connect opens the backend named by driver. For sqlite, target is a file
// path; for postgres, a DSN.
func Connect(driver, target string, maxOpen int, log *logging.Logger) (*DB, error) {
	switch driver {
	case DriverSQLite, "":
		return Open(target, log)
	case DriverPostgres:
		return OpenPostgres(target, maxOpen, log)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func open(x *sqlx.DB, driver, where string, log *logging.Logger) (*DB, error) {
	db := &DB{
		x:      x,
		driver: driver,
		log:    log.Sub("store"),
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}

	if err := db.migrate(); err != nil {
		x.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Info().Str("driver", driver).Str("path", where).Msg("database opened")
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.log.Info().Msg("closing database")
	return db.x.Close()
}

// SQL returns the underlying *sql.DB for direct queries.
func (db *DB) SQL() *sql.DB {
	return db.x.DB
}

// Driver reports which backend is in use.
func (db *DB) Driver() string { return db.driver }

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.x.PingContext(ctx)
}

// Tx is a transaction exposing the same stores as DB.
type Tx struct {
	tx  *sqlx.Tx
	now func() time.Time
}

// InTx runs fn inside a transaction, committing when fn returns nil.
// Only the stores obtained from tx may be used inside fn.
func (db *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx, now: db.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.log.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Agents returns the agent store.
func (db *DB) Agents() *AgentStore { return &AgentStore{q: db.x, now: db.now} }

// Tasks returns the task store.
func (db *DB) Tasks() *TaskStore { return &TaskStore{q: db.x, now: db.now} }

// Queue returns the orchestration queue store.
func (db *DB) Queue() *QueueStore { return &QueueStore{q: db.x, now: db.now} }

// Swarms returns the swarm store.
func (db *DB) Swarms() *SwarmStore { return &SwarmStore{q: db.x, now: db.now} }

// Dashboards returns the shared dashboard store.
func (db *DB) Dashboards() *DashboardStore { return &DashboardStore{q: db.x, now: db.now} }

// Hubs returns the hub connection store.
func (db *DB) Hubs() *HubStore { return &HubStore{q: db.x, now: db.now} }

// Fleet returns the fleet target store.
func (db *DB) Fleet() *FleetStore { return &FleetStore{q: db.x, now: db.now} }

// Agents returns the agent store bound to the transaction.
func (t *Tx) Agents() *AgentStore { return &AgentStore{q: t.tx, now: t.now} }

// Tasks returns the task store bound to the transaction.
func (t *Tx) Tasks() *TaskStore { return &TaskStore{q: t.tx, now: t.now} }

// Queue returns the queue store bound to the transaction.
func (t *Tx) Queue() *QueueStore { return &QueueStore{q: t.tx, now: t.now} }

// Swarms returns the swarm store bound to the transaction.
func (t *Tx) Swarms() *SwarmStore { return &SwarmStore{q: t.tx, now: t.now} }

// Dashboards returns the dashboard store bound to the transaction.
func (t *Tx) Dashboards() *DashboardStore { return &DashboardStore{q: t.tx, now: t.now} }

// migrate runs all pending migrations.
func (db *DB) migrate() error {
	if _, err := db.x.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.isMigrationApplied(m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.x.Beginx()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec(db.x.Rebind("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"), m.Version, db.now()); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (db *DB) isMigrationApplied(version int) (bool, error) {
	var count int
	err := db.x.Get(&count, db.x.Rebind("SELECT COUNT(*) FROM schema_migrations WHERE version = ?"), version)
	if err != nil {
		return false, fmt.Errorf("checking migration %d: %w", version, err)
	}
	return count > 0, nil
}

// notFound maps sql.ErrNoRows onto ErrNotFound.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// mustAffect returns ErrNotFound when an UPDATE or DELETE touched no rows.
func mustAffect(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
