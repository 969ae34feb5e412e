package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/store/sqlstore"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Example: `  # Bring the schema up to date
  ledger-engine migrate

  # Roll every migration back
  ledger-engine migrate --down`,
		RunE: runMigrate,
	}
	cmd.Flags().Bool("down", false, "roll back all migrations")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer rt.log.Sync()

	store, err := rt.openStore(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer store.Close()

	m := sqlstore.NewMigrator(store, rt.log)
	if down, _ := cmd.Flags().GetBool("down"); down {
		return m.Down()
	}
	if err := m.Up(); err != nil {
		return err
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	rt.log.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
