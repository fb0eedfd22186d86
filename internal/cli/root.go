// Package cli implements the agent-connect command line: the server itself
// and the small clients that talk to it.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/0MATRIX0/agent-connect/internal/config"
)

type rootOptions struct {
	configPath string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "agent-connect",
		Short: "Run coding agents in terminal sessions you can reach from any browser",
		Long: `agent-connect starts coding agents inside pseudo-terminals on this machine
and streams them to browsers over websockets. Sessions keep running when
every viewer disconnects, and push notifications tell you when an agent
finishes or needs input.

Run "agent-connect serve" to start the server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $AGENT_CONNECT_CONFIG or <data dir>/config.toml)")

	root.AddCommand(
		newServeCmd(opts),
		newNotifyCmd(opts),
		newSessionsCmd(opts),
		newAttachCmd(opts),
		newProjectCmd(opts),
		newKeysCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(config.Path(o.configPath))
}
