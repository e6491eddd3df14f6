package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aagnone3/toolqueue/client"
	"github.com/aagnone3/toolqueue/job"
)

// SubmitCmd submits a job to a running server and optionally follows it.
func SubmitCmd(a *app) *cobra.Command {
	var (
		server      string
		userID      string
		sessionID   string
		priority    int
		maxAttempts int
		delay       time.Duration
		queueName   string
		watch       bool
	)

	cmd := &cobra.Command{
		Use:   "submit <tool-slug> [input-json]",
		Short: "Submit a job through the HTTP API",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			input := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("input is not valid JSON: %s", args[1])
				}
				input = json.RawMessage(args[1])
			}

			c := client.New(server,
				client.WithOwner(userID, sessionID),
				client.WithLogger(a.logger),
			)

			var opts []client.SubmitOption
			if priority != 0 {
				opts = append(opts, client.WithPriority(priority))
			}
			if maxAttempts > 0 {
				opts = append(opts, client.WithMaxAttempts(maxAttempts))
			}
			if delay > 0 {
				opts = append(opts, client.WithDelay(delay))
			}
			if queueName != "" {
				opts = append(opts, client.WithQueue(queueName))
			}

			j, err := c.SubmitJob(ctx, args[0], input, opts...)
			if err != nil {
				return err
			}
			if !watch {
				return printJSON(cmd.OutOrStdout(), j)
			}

			final, err := c.Watch(ctx, j.ID.String(), func(u *job.Job) {
				a.logger.Info("job update",
					"job_id", u.ID.String(),
					"status", string(u.Status),
					"attempts", u.Attempts,
				)
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), final)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "base URL of a toolqueue server")
	cmd.Flags().StringVar(&userID, "user", "", "submit as this user id")
	cmd.Flags().StringVar(&sessionID, "session", "", "submit as this session id")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority (higher runs first)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "maximum attempts (0 uses the server default)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job becomes claimable")
	cmd.Flags().StringVar(&queueName, "queue", "", "queue to deliver through")
	cmd.Flags().BoolVar(&watch, "watch", false, "follow the job until it finishes")
	return cmd
}
