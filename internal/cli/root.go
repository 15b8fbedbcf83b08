// Package cli provides the codechat command-line client.
package cli

import (
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"codechat/internal/chatclient"
)

// Version is set at build time.
var Version = "0.1.0"

type rootOptions struct {
	server string
	userID int64
}

func (o *rootOptions) client() (*chatclient.Client, error) {
	return chatclient.New(o.server, o.userID)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "codechat",
		Short: "Chat with the coding assistant from a terminal",
		Long: `codechat talks to a codechat server. Answers stream to the terminal as
they are generated and every turn is stored in a session you can resume.

Examples:
  codechat ask "What is a closure?"
  codechat ask --session 12 "Show me an example"
  codechat sessions
  codechat history 12`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.server, "server", envOr("CODECHAT_SERVER", "http://localhost:8080"), "server base URL")
	cmd.PersistentFlags().Int64Var(&opts.userID, "user", envInt64("CODECHAT_USER", 1), "user id sent as X-User-Id")

	cmd.AddCommand(newAskCmd(opts), newSessionsCmd(opts), newHistoryCmd(opts))
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return def
	}
	return n
}
