package main

import (
	"github.com/spf13/cobra"
)

// MigrateCmd applies the store's schema migrations and indexes.
func MigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply store migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(cmd.Context(), a.settings, a.logger)
			if err != nil {
				return err
			}
			defer b.close() //nolint:errcheck // best-effort on exit

			if err := b.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("migrations applied", "driver", a.settings.Store.Driver)
			return nil
		},
	}
}
