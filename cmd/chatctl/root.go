package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/onnwee/chatfeed/audio/mic"
	"github.com/onnwee/chatfeed/client"
)

// recorder is a closable audio source.
type recorder interface {
	client.Recorder
	Close() error
}

type app struct {
	serverURL  string
	restartURL string
	timeout    time.Duration

	newRecorder func(sampleRate int) (recorder, error)
}

func (a *app) client() *client.Client {
	c := client.New(a.serverURL, a.restartURL)
	c.HTTP.Timeout = a.timeout
	return c
}

func openMic(sampleRate int) (recorder, error) {
	r, err := mic.NewRecorder(sampleRate)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&app{newRecorder: openMic})
}

func newRootCmdWith(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "chatctl",
		Short:         "Control a running chat overlay server",
		Long:          "chatctl talks to the chat overlay server and its restart service: health checks, restarts, text and manual messages, chat clearing and live microphone capture.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&a.serverURL, "server", envDefault("CHATFEED_URL", "http://localhost:8080"), "Chat server base URL")
	rootCmd.PersistentFlags().StringVar(&a.restartURL, "restart-server", envDefault("CHATFEED_RESTART_URL", "http://localhost:8081"), "Restart service base URL")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 30*time.Second, "Per-request timeout")

	rootCmd.AddCommand(
		newStatusCmd(a),
		newRestartCmd(a),
		newSendCmd(a),
		newPostCmd(a),
		newClearCmd(a),
		newCaptureCmd(a),
	)

	return rootCmd
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
