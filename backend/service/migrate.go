package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/cpqbox/quote/backend/pkg/logger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// CatalogMigrator applies the embedded quote_catalog schema
type CatalogMigrator struct {
	files  fs.FS
	openDB func() *sql.DB
}

func NewCatalogMigrator(pool *pgxpool.Pool, files fs.FS) *CatalogMigrator {
	return &CatalogMigrator{
		files:  files,
		openDB: func() *sql.DB { return stdlib.OpenDBFromPool(pool) },
	}
}

// Up applies all pending migrations. No pending migrations is not an error.
func (m *CatalogMigrator) Up(ctx context.Context) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := mg.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	logger.Info(ctx, "Catalog migrations applied", "version", version, "dirty", dirty)
	return nil
}

// Down rolls back every migration
func (m *CatalogMigrator) Down(ctx context.Context) error {
	mg, err := m.open()
	if err != nil {
		return err
	}
	defer mg.Close()

	if err := mg.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to roll back migrations: %w", err)
	}
	logger.Info(ctx, "Catalog migrations rolled back")
	return nil
}

func (m *CatalogMigrator) open() (*migrate.Migrate, error) {
	// Closing db leaves the pool open.
	db := m.openDB()

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(m.files, ".")
	if err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		source.Close()
		driver.Close()
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	mg.LockTimeout = 30 * time.Second
	return mg, nil
}
