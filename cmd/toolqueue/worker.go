package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
)

// WorkerCmd runs workers and the sweep scheduler without the HTTP API.
func WorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run queue workers and the sweep scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, b, err := a.buildEngine(ctx)
			if err != nil {
				return err
			}
			defer b.close() //nolint:errcheck // best-effort on exit

			if eng.Pool() == nil {
				a.logger.Warn("store has no queue engine; only scheduled sweeps will process jobs")
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.settings.Pipeline.ShutdownTimeout)
			defer cancel()
			if err := eng.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("engine shutdown failed", slog.String("error", err.Error()))
				return err
			}
			return nil
		},
	}
}
