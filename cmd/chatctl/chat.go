package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/chatfeed/audio"
	"github.com/onnwee/chatfeed/client"
)

func newSendCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "send TEXT...",
		Short: "Run text through reply selection without recording audio",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().SendText(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Input:    %s\nResponse: %s\n", res.Input, res.Response)
			return nil
		},
	}
}

func newPostCmd(a *app) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "post TEXT...",
		Short: "Append a manual line to the overlay",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().PostMessage(cmd.Context(), user, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "posted")
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "PC", "Username shown on the overlay")

	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the chat feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.client().ClearChat(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "chat cleared")
			return nil
		},
	}
}

func newCaptureCmd(a *app) *cobra.Command {
	var chunk time.Duration
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record the microphone in chunks and upload them until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rec, err := a.newRecorder(audio.SampleRate)
			if err != nil {
				return fmt.Errorf("open microphone: %w", err)
			}
			defer rec.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "capturing %s chunks at %d Hz; Ctrl+C to stop\n", chunk, rec.SampleRate())
			return client.Capture(ctx, rec, a.client(), client.CaptureOptions{
				Chunk:    chunk,
				Interval: interval,
				OnResult: func(r client.AudioResult) {
					switch r.Status {
					case "success":
						fmt.Fprintf(out, "You said: %s\nChat:     %s\n", r.Transcript, r.Response)
					case "no_speech":
						fmt.Fprintln(out, "(no speech)")
					default:
						fmt.Fprintf(out, "server: %s %s\n", r.Status, r.Error)
					}
				},
			})
		},
	}

	cmd.Flags().DurationVar(&chunk, "duration", 5*time.Second, "Length of each recorded chunk")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Pause between chunks")

	return cmd
}
