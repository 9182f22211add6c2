package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/matheusmosca/cafe-checkout/checkout"
	"github.com/matheusmosca/cafe-checkout/seed"
	"github.com/matheusmosca/cafe-checkout/storage/memory"
	"github.com/matheusmosca/cafe-checkout/storage/postgres"
	"github.com/matheusmosca/cafe-checkout/storage/sqlstore"
)

type migratingStore interface {
	checkout.Store
	Migrate(ctx context.Context) error
}

// openStore connects the configured backend and applies its schema.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (checkout.Store, error) {
	var store migratingStore

	switch cfg.StoreDriver {
	case "pgx":
		pool, err := postgres.Connect(ctx, cfg.postgresDSN(), 30, logger)
		if err != nil {
			return nil, err
		}
		store = postgres.New(pool, logger)

	case "postgres":
		db, err := sqlstore.OpenPostgres(ctx, cfg.postgresDSN())
		if err != nil {
			return nil, err
		}
		store = sqlstore.New(db, sqlstore.Postgres, logger)

	case "sqlite":
		db, err := sqlstore.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = sqlstore.New(db, sqlstore.SQLite, logger)

	case "memory":
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// provision seeds the store from SEED_FILE, or from the built-in menu when
// none is set.
func provision(ctx context.Context, cfg Config, store checkout.Store, logger *slog.Logger) error {
	var (
		file *seed.File
		err  error
	)
	if cfg.SeedFile != "" {
		file, err = seed.LoadFile(cfg.SeedFile)
	} else {
		file, err = seed.Default()
	}
	if err != nil {
		return err
	}

	return seed.Apply(ctx, store, file, logger)
}
