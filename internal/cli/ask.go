package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"codechat/internal/chatclient"
)

func newAskCmd(root *rootOptions) *cobra.Command {
	var (
		sessionID int64
		noStream  bool
	)
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send a message and print the answer",
		Long: `Send a message to the assistant. Without --session a new session is
started; its id is printed so the conversation can be continued.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := root.client()
			if err != nil {
				return err
			}
			req := chatclient.Request{Message: strings.Join(args, " "), Source: "cli"}
			if sessionID > 0 {
				req.SessionID = &sessionID
			}
			out := cmd.OutOrStdout()

			if noStream {
				reply, err := client.Send(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, reply.Response)
				printSession(cmd, reply.SessionID, reply.IsNewSession)
				return nil
			}

			done, err := client.Stream(cmd.Context(), req, func(text string) error {
				_, err := fmt.Fprint(out, text)
				return err
			})
			fmt.Fprintln(out)
			if err != nil {
				return err
			}
			printSession(cmd, done.SessionID, done.IsNewSession)
			return nil
		},
	}
	cmd.Flags().Int64VarP(&sessionID, "session", "s", 0, "continue an existing session")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full answer instead of streaming")
	return cmd
}

func printSession(cmd *cobra.Command, id int64, isNew bool) {
	if isNew {
		fmt.Fprintf(cmd.ErrOrStderr(), "new session %d\n", id)
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "session %d\n", id)
}
