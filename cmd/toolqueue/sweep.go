package main

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aagnone3/toolqueue/client"
	"github.com/aagnone3/toolqueue/engine"
	"github.com/aagnone3/toolqueue/sweep"
)

// SweepCmd runs one sweep, either in-process against the configured store
// or through a server's cron endpoint.
func SweepCmd(a *app) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep: stuck jobs, retries, pending jobs, cleanup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var report sweep.Report
			if server != "" {
				c := client.New(server,
					client.WithToken(a.settings.Server.CronSecret),
					client.WithLogger(a.logger),
				)
				r, err := c.Sweep(ctx)
				if err != nil {
					return err
				}
				report = *r
			} else {
				eng, b, err := a.buildEngine(ctx, engine.WithoutWorkers(), engine.WithoutScheduler())
				if err != nil {
					return err
				}
				defer b.close() //nolint:errcheck // best-effort on exit
				report = eng.Sweep(ctx)
			}

			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if len(report.Errors) > 0 {
				return errors.New("sweep stages failed: " + strings.Join(report.Errors, "; "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "call POST /v1/cron/sweep on this base URL instead of sweeping in-process")
	return cmd
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
