package db

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/labsweep/internal/monitoring"
)

//go:embed migrations/*.sql
var schemaFiles embed.FS

// MigrationsFS returns the vault schema migrations compiled into the binary.
func MigrationsFS() fs.FS {
	sub, err := fs.Sub(schemaFiles, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// migrator opens a golang-migrate instance over the vault connection. The
// instance is never closed: that would close db.DB as well.
func (db *DB) migrator(files fs.FS) (*migrate.Migrate, error) {
	if files == nil {
		files = MigrationsFS()
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("open vault migrations: %w", err)
	}
	drv, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	m.Log = migrateLog{}
	return m, nil
}

// migrateStep runs op and treats "no change" as success.
func (db *DB) migrateStep(files fs.FS, what string, op func(*migrate.Migrate) error) error {
	m, err := db.migrator(files)
	if err != nil {
		return err
	}
	if err := op(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("vault %s: %w", what, err)
	}
	return nil
}

// MigrateUp applies every pending migration. A nil files selects the
// embedded schema.
func (db *DB) MigrateUp(files fs.FS) error {
	return db.migrateStep(files, "migrate up", (*migrate.Migrate).Up)
}

// MigrateDown rolls back one migration.
func (db *DB) MigrateDown(files fs.FS) error {
	return db.migrateStep(files, "migrate down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(files fs.FS, version uint) error {
	return db.migrateStep(files, fmt.Sprintf("migrate to %d", version), func(m *migrate.Migrate) error {
		return m.Migrate(version)
	})
}

// MigrateForce sets the recorded version without running anything. It is
// only for clearing a dirty state by hand.
func (db *DB) MigrateForce(files fs.FS, version int) error {
	return db.migrateStep(files, fmt.Sprintf("force %d", version), func(m *migrate.Migrate) error {
		return m.Force(version)
	})
}

// MigrateVersion reports the schema version. An empty vault is version 0.
func (db *DB) MigrateVersion(files fs.FS) (uint, bool, error) {
	m, err := db.migrator(files)
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

type migrateLog struct{}

func (migrateLog) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLog) Verbose() bool { return false }
