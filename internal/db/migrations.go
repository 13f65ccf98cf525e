package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

const (
	// LatestMigrationVersion is the newest schema version this binary
	// knows about. Opening a database with a higher version is refused.
	//
	// NOTE: This MUST be updated when a new migration is added.
	LatestMigrationVersion uint = 2
)

// MigrationTarget decides how far a migrate.Migrate instance is moved.
// currentDBVersion is the version before migrating and maxMigrationVersion
// the newest version embedded in the binary.
type MigrationTarget func(mig *migrate.Migrate,
	currentDBVersion int, maxMigrationVersion uint) error

var (
	// TargetLatest migrates all the way up.
	TargetLatest = func(mig *migrate.Migrate, _ int, _ uint) error {
		return mig.Up()
	}

	// TargetVersion returns a MigrationTarget that migrates to exactly the
	// given version, up or down.
	TargetVersion = func(version uint) MigrationTarget {
		return func(mig *migrate.Migrate, _ int, _ uint) error {
			return mig.Migrate(version)
		}
	}
)

var (
	// ErrMigrationDowngrade is returned when the database schema is newer
	// than the running binary.
	ErrMigrationDowngrade = errors.New("database downgrade detected")
)

// migrateOptions holds options for migration execution.
type migrateOptions struct {
	latestVersion uint
}

// defaultMigrateOptions returns the options used when none are passed.
func defaultMigrateOptions() *migrateOptions {
	return &migrateOptions{
		latestVersion: LatestMigrationVersion,
	}
}

// MigrateOpt is a functional option for ExecuteMigrations.
type MigrateOpt func(*migrateOptions)

// WithLatestVersion overrides the newest version the downgrade check
// accepts.
func WithLatestVersion(version uint) MigrateOpt {
	return func(o *migrateOptions) {
		o.latestVersion = version
	}
}

// migrationLogger adapts a slog.Logger to migrate.Logger.
type migrationLogger struct {
	log *slog.Logger
}

// Printf implements the migrate.Logger interface.
func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Info(fmt.Sprintf(format, v...))
}

// Verbose implements the migrate.Logger interface.
func (m *migrationLogger) Verbose() bool {
	return false
}

// applyMigrations runs the migration files found under path in fsys against
// driver, moving the schema as directed by targetVersion.
func applyMigrations(fsys fs.FS, driver database.Driver, path, dbName string,
	targetVersion MigrationTarget, opts *migrateOptions,
	log *slog.Logger) error {

	ctx := context.Background()

	migrateFileServer, err := httpfs.New(http.FS(fsys), path)
	if err != nil {
		return err
	}

	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", migrateFileServer, dbName, driver,
	)
	if err != nil {
		return err
	}

	migrationVersion, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	// A dirty version means an earlier run died part way through a
	// migration. That needs a human.
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", migrationVersion)
	}

	if migrationVersion > opts.latestVersion {
		return fmt.Errorf("%w: db_version=%v, "+
			"latest_migration_version=%v", ErrMigrationDowngrade,
			migrationVersion, opts.latestVersion)
	}

	currentDBVersion, _, err := driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.InfoContext(ctx, "Applying migrations",
		"current_db_version", currentDBVersion,
		"latest_migration_version", opts.latestVersion,
	)

	sqlMigrate.Log = &migrationLogger{log}

	err = targetVersion(sqlMigrate, currentDBVersion, opts.latestVersion)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	currentDBVersion, _, err = driver.Version()
	if err != nil {
		return fmt.Errorf("unable to get current db version: %w", err)
	}
	log.InfoContext(ctx, "Database version after migration",
		"current_db_version", currentDBVersion,
	)

	return nil
}

// backupSqliteDatabase writes a consistent copy of srcDB next to the
// original file using VACUUM INTO.
func backupSqliteDatabase(srcDB *sql.DB, dbFullFilePath string,
	log *slog.Logger) error {

	if srcDB == nil {
		return fmt.Errorf("backup source database is nil")
	}

	backupFullFilePath := fmt.Sprintf(
		"%s.%d.backup", dbFullFilePath, time.Now().UnixNano(),
	)

	log.Info("Creating backup of database file",
		"source", dbFullFilePath,
		"backup", backupFullFilePath,
	)

	if _, err := srcDB.Exec("VACUUM INTO ?;", backupFullFilePath); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	return nil
}
