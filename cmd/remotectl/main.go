// Command remotectl drives a remote input service from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "remotectl",
		Short: "Control a remote keyboard and touchpad",
		Long: `remotectl sends key presses, text and touchpad gestures to a remote
input service. It prefers the websocket channel and falls back to HTTP
when the channel is unavailable.

Examples:
  remotectl press enter
  remotectl type "hello world"
  remotectl click --right
  remotectl run --metrics-port 9090 < gestures.jsonl`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	opts.bind(rootCmd)

	rootCmd.AddCommand(
		pressCmd(opts),
		typeCmd(opts),
		actionsCmd(opts),
		moveCmd(opts),
		clickCmd(opts),
		scrollCmd(opts),
		statsCmd(opts),
		runCmd(opts),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
