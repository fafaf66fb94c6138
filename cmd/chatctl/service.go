package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var errUnhealthy = errors.New("one or more services are unhealthy")

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the chat server and the restart service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.client()
			out := cmd.OutOrStdout()
			healthy := true
			if err := c.Health(cmd.Context()); err != nil {
				healthy = false
				fmt.Fprintf(out, "main server:     unreachable (%v)\n", err)
			} else {
				fmt.Fprintln(out, "main server:     healthy")
			}
			if err := c.RestartHealth(cmd.Context()); err != nil {
				healthy = false
				fmt.Fprintf(out, "restart service: unreachable (%v)\n", err)
			} else {
				fmt.Fprintln(out, "restart service: healthy")
			}
			if !healthy {
				return errUnhealthy
			}
			return nil
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	var wait time.Duration
	var settle time.Duration
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Request a server restart and wait for it to come back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.client()
			out := cmd.OutOrStdout()
			res, err := c.Restart(cmd.Context())
			if err != nil {
				return fmt.Errorf("request restart: %w", err)
			}
			fmt.Fprintf(out, "%s: %s\n", res.Status, res.Message)
			if wait <= 0 {
				return nil
			}

			// the old process keeps answering until it sees the flag
			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(settle):
			}
			took, err := c.WaitHealthy(cmd.Context(), wait, every)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "server healthy after %s\n", took.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 30*time.Second, "How long to wait for the server to become healthy (0 to skip)")
	cmd.Flags().DurationVar(&settle, "settle", 2*time.Second, "Delay before the first health poll")
	cmd.Flags().DurationVar(&every, "poll", time.Second, "Health poll interval")

	return cmd
}
