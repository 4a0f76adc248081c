package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MigrationsTable tracks the applied billing schema version on postgres.
const MigrationsTable = "clientbilling_schema_migrations"

// ErrDirtySchema means an earlier run stopped halfway through a migration.
// The service refuses to start until the version is fixed by hand.
var ErrDirtySchema = errors.New("billing schema is dirty")

// Apply brings the billing schema up to date before the server starts.
// Postgres gets the versioned SQL files. Sqlite and mysql are built from
// the gorm models.
func Apply(conn *gorm.DB, log *zap.Logger) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	dialect := conn.Dialector.Name()
	if dialect != "postgres" {
		log.Info("applying billing schema via automigrate", zap.String("dialect", dialect))
		return AutoMigrate(conn)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	version, err := RunMigrations(sqlDB)
	if err != nil {
		return err
	}
	log.Info("billing migrations applied", zap.Uint("schema_version", version))
	return nil
}

// RunMigrations applies the embedded postgres migrations and returns the
// schema version left in place.
func RunMigrations(db *sql.DB) (uint, error) {
	if db == nil {
		return 0, errors.New("migration database handle is required")
	}

	src, err := Source()
	if err != nil {
		return 0, err
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		return 0, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	// migrator.Close would also close the shared pool.

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("apply billing migrations: %w", err)
	}
	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("read billing schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("%w: version %d", ErrDirtySchema, version)
	}
	return version, nil
}

// Source opens the embedded billing migrations.
func Source() (source.Driver, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	return src, nil
}
