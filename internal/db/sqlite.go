package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	sqlite_migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultMaxOpenConns is the default number of pooled connections. WAL
	// mode lets readers proceed while a writer holds the lock, so cycles for
	// different accounts don't queue behind a single connection.
	DefaultMaxOpenConns = 4

	// DefaultBusyTimeoutMs is how long a connection waits on a held write
	// lock before SQLite reports SQLITE_BUSY.
	DefaultBusyTimeoutMs = 5000
)

// DefaultDBPath returns the default path for the labeler database.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	return filepath.Join(home, ".labeler", "labeler.db"), nil
}

// OpenSQLite opens a SQLite database connection with WAL mode enabled and
// appropriate pragmas for performance and reliability.
func OpenSQLite(dbPath string) (*sql.DB, error) {
	return openSQLite(dbPath, DefaultMaxOpenConns)
}

func openSQLite(dbPath string, maxConns int) (*sql.DB, error) {
	// Ensure the directory exists.
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database "+
			"directory: %w", err)
	}

	// Write transactions take the lock up front with BEGIN IMMEDIATE so a
	// conflicting writer surfaces as SQLITE_BUSY at BeginTx, which the
	// transaction executor retries, rather than as a failed upgrade
	// half-way through the transaction body.
	dsn := fmt.Sprintf(
		"file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d"+
			"&_txlock=immediate",
		dbPath, DefaultBusyTimeoutMs,
	)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = DefaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	// Verify connection and apply additional pragmas.
	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	return db, nil
}

// configurePragmas sets additional SQLite pragmas for optimal performance.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		// Synchronous mode: NORMAL provides good durability with better
		// performance than FULL.
		"PRAGMA synchronous = NORMAL",

		// Cache size: Negative value is in KiB, 64MB cache.
		"PRAGMA cache_size = -65536",

		// Temp store: Keep temporary tables in memory.
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// SqliteConfig holds the settings for the on-disk store.
type SqliteConfig struct {
	// DatabaseFileName is the full path of the database file.
	DatabaseFileName string

	// MaxOpenConns bounds the connection pool. Zero selects the default.
	MaxOpenConns int

	// SkipMigrations leaves the schema untouched on open.
	SkipMigrations bool

	// SkipMigrationDbBackup disables the VACUUM INTO backup taken before
	// pending migrations are applied.
	SkipMigrationDbBackup bool
}

// SqliteStore is a Store opened from a file with its schema brought up to
// date.
type SqliteStore struct {
	*Store

	cfg *SqliteConfig
	log *slog.Logger
}

// NewSqliteStore opens the database named in cfg and applies any pending
// migrations.
func NewSqliteStore(cfg *SqliteConfig, log *slog.Logger) (*SqliteStore, error) {
	if log == nil {
		log = slog.Default()
	}

	sqlDB, err := openSQLite(cfg.DatabaseFileName, cfg.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{
		Store: NewStore(sqlDB, log),
		cfg:   cfg,
		log:   log,
	}

	if !cfg.SkipMigrations {
		if err := s.ExecuteMigrations(TargetLatest); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("error executing migrations: %w",
				err)
		}
	}

	return s, nil
}

// ExecuteMigrations runs the embedded migrations up to the given target.
// A backup of the database file is taken first when the schema is behind.
func (s *SqliteStore) ExecuteMigrations(target MigrationTarget,
	optFuncs ...MigrateOpt) error {

	opts := defaultMigrateOptions()
	for _, optFunc := range optFuncs {
		optFunc(opts)
	}

	driver, err := sqlite_migrate.WithInstance(
		s.DB(), &sqlite_migrate.Config{},
	)
	if err != nil {
		return fmt.Errorf("error creating sqlite migration: %w", err)
	}

	if !s.cfg.SkipMigrationDbBackup {
		version, _, err := driver.Version()
		if err != nil {
			return fmt.Errorf("unable to get db version: %w", err)
		}

		// A fresh database has nothing worth keeping.
		if version > 0 && uint(version) < opts.latestVersion {
			err := backupSqliteDatabase(
				s.DB(), s.cfg.DatabaseFileName, s.log,
			)
			if err != nil {
				return err
			}
		}
	}

	return applyMigrations(
		sqlSchemas, driver, "migrations", "sqlite", target, opts, s.log,
	)
}
