package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-entry/internal/config"
	"github.com/sells-group/lead-entry/internal/store"
)

const defaultSQLiteDSN = "lead-entry.db"

// dialStore connects to the backend named by sc.Driver without migrating.
func dialStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	}
	return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
}

// openStore validates the store settings, connects, and applies migrations.
// Callers own the returned store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	st, err := dialStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// withStore runs fn against a migrated store and closes it afterwards.
func withStore(ctx context.Context, fn func(store.Store) error) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck
	return fn(st)
}

// withAutomation is withStore for commands that need the monitor wiring.
func withAutomation(ctx context.Context, fn func(*automationEnv) error) error {
	return withStore(ctx, func(st store.Store) error {
		env, err := buildAutomation(st)
		if err != nil {
			return err
		}
		return fn(env)
	})
}
