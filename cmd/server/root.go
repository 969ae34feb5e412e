package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/billing"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/logger"
	"github.com/warp/ledger-engine/store/sqlstore"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledger-engine",
		Short: "Invoice lifecycle and ledger consistency engine",
		Long: `ledger-engine keeps product stock, invoice totals, customer pending
balances and the customer ledger in agreement for a small billing desk.

Configuration is read from config.toml (., ./config, /etc/ledger-engine)
or the file given by --config, overridden by LEDGER_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "path to config file (default: search for config.toml)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newAuditCmd())
	return root
}

// runtime is what every subcommand needs.
type runtime struct {
	cfg *config.Config
	log *zap.Logger
}

func bootstrap(cmd *cobra.Command) (*runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))
	return &runtime{cfg: cfg, log: log}, nil
}

// openStore connects to the database and optionally brings the schema up.
func (rt *runtime) openStore(ctx context.Context, migrate bool) (*sqlstore.Store, error) {
	store, err := sqlstore.Open(ctx, rt.cfg.Store(), rt.log.Named("store"))
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := sqlstore.NewMigrator(store, rt.log).Up(); err != nil {
			store.Close()
			return nil, err
		}
	}
	rt.log.Info("database ready",
		zap.String("driver", string(store.Dialect())),
		zap.Bool("migrated", migrate),
	)
	return store, nil
}

func (rt *runtime) engine(store billing.Store) (*billing.Engine, error) {
	policy, err := rt.cfg.Policy()
	if err != nil {
		return nil, err
	}
	return billing.New(store, policy, rt.log)
}
