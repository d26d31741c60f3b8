package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oarkflow/squealx"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/permit/caches"
	"github.com/oarkflow/permit/stores"
)

var migrateOpts storeFlags

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the grant tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		switch migrateOpts.driver {
		case "sqlite":
			db, closeDB, err := openSQLite(migrateOpts.dsn)
			if err != nil {
				return err
			}
			defer closeDB()
			if err := stores.Migrate(ctx, db); err != nil {
				return err
			}
		case "postgres":
			pool, err := stores.OpenPostgres(ctx, migrateOpts.dsn)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := stores.MigratePostgres(ctx, pool); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown driver %q", migrateOpts.driver)
		}
		pterm.Success.Printfln("migrated %s database", migrateOpts.driver)
		return nil
	},
}

var (
	seedOpts    storeFlags
	seedMigrate bool
)

var seedCmd = &cobra.Command{
	Use:   "seed <file>",
	Short: "Write a configuration's grants into a database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		w, closeStore, err := openWriter(ctx, seedOpts, seedMigrate)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := cfg.Seed(ctx, w); err != nil {
			return err
		}
		st := cfg.Stats()
		pterm.Success.Printfln("seeded %d roles, %d permissions, %d accesses and %d grants", st.Roles, st.Permissions, len(cfg.Accesses), st.Authorizations)
		return nil
	},
}

func init() {
	migrateOpts.register(migrateCmd.Flags())
	seedOpts.register(seedCmd.Flags())
	seedCmd.Flags().BoolVar(&seedMigrate, "migrate", false, "create the tables first")
}

func openSQLite(dsn string) (*squealx.DB, func(), error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	return squealx.NewDb(sqlDB, "sqlite", dsn), func() { sqlDB.Close() }, nil
}

func openWriter(ctx context.Context, f storeFlags, migrate bool) (stores.Grants, func(), error) {
	w, closeStore, err := openDatabase(ctx, f, migrate)
	if err != nil || f.accessRedis == "" {
		return w, closeStore, err
	}
	client, err := caches.NewRedisClient(ctx, f.accessRedis)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return stores.NewRedisAccessStore(client, "permit:", w), func() {
		client.Close()
		closeStore()
	}, nil
}

func openDatabase(ctx context.Context, f storeFlags, migrate bool) (stores.Grants, func(), error) {
	switch f.driver {
	case "sqlite":
		db, closeDB, err := openSQLite(f.dsn)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := stores.Migrate(ctx, db); err != nil {
				closeDB()
				return nil, nil, err
			}
		}
		return stores.NewSQLGrantStore(db), closeDB, nil
	case "postgres":
		pool, err := stores.OpenPostgres(ctx, f.dsn)
		if err != nil {
			return nil, nil, err
		}
		if migrate {
			if err := stores.MigratePostgres(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		return stores.NewPostgresGrantStore(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown driver %q", f.driver)
}
