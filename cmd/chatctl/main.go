// Command chatctl drives a running chat server: it checks health, requests
// restarts, sends text, posts manual lines, clears the chat and streams
// microphone audio to the transcription endpoint.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
