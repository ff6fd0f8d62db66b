package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/username/tradeingest/src/logger"
	_ "modernc.org/sqlite"
)

var (
	// ErrStoreUnavailable wraps every driver or I/O failure of the
	// persistence layer.
	ErrStoreUnavailable = errors.New("trade store unavailable")
	// ErrAlreadyRegistered is returned when a user already owns a trade with
	// the same exact fingerprint.
	ErrAlreadyRegistered = errors.New("exact fingerprint already registered")
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DB wraps the connection with the driver name so queries written with '?'
// placeholders can be rebound for Postgres.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the database and ensures the schema exists.
func Open(driver, dsn string) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", dsn, err)
	}

	if driver == DriverSQLite {
		if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
			// every pooled connection would otherwise see its own empty database
			conn.SetMaxOpenConns(1)
		}
		if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to configure sqlite: %w", err)
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: conn, Driver: driver}
	logger.L.Info("Checking database schema", "driver", driver)
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	logger.L.Info("Database tables ensured/created.")
	return db, nil
}

// Rebind converts '?' placeholders to the driver's bind style.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (db *DB) autoIncrementKey() string {
	if db.Driver == DriverPostgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (db *DB) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			user_id BIGINT NOT NULL,
			id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			quantity TEXT NOT NULL,
			entry_price TEXT NOT NULL,
			exit_price TEXT NOT NULL,
			entry_time BIGINT NOT NULL,
			exit_time BIGINT NOT NULL,
			pnl TEXT NOT NULL,
			instrument TEXT NOT NULL,
			broker TEXT NOT NULL DEFAULT '',
			commission TEXT,
			stop_loss TEXT,
			take_profit TEXT,
			tags TEXT NOT NULL DEFAULT '[]',
			source TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (user_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS trade_fingerprints (
			id ` + db.autoIncrementKey() + `,
			user_id BIGINT NOT NULL,
			hash TEXT NOT NULL,
			hash_kind TEXT NOT NULL,
			trade_id TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		// at most one exact fingerprint per user: the insert-if-absent guard
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_trade_fingerprints_exact
			ON trade_fingerprints (user_id, hash) WHERE hash_kind = 'exact'`,
		`CREATE INDEX IF NOT EXISTS idx_trade_fingerprints_lookup
			ON trade_fingerprints (user_id, hash_kind, hash)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_fingerprints_created
			ON trade_fingerprints (created_at)`,
		`CREATE TABLE IF NOT EXISTS dedup_resolution_log (
			id ` + db.autoIncrementKey() + `,
			user_id BIGINT NOT NULL,
			trade_id TEXT NOT NULL,
			action_taken TEXT NOT NULL,
			confidence_score DOUBLE PRECISION NOT NULL,
			matched_trade_id TEXT,
			match_type TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dedup_resolution_log_user
			ON dedup_resolution_log (user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			logger.L.Error("failed to apply schema statement", "error", err)
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// unavailable marks err as an infrastructure failure.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
