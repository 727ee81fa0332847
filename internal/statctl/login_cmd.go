package statctl

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/statforge/statstream/internal/session"
)

var loginPassword string

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Authenticate against the gateway and save the session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _, err := mustClient()
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		password := loginPassword
		if password == "" {
			fmt.Fprint(cmd.OutOrStdout(), "Password: ")
			reader := bufio.NewReader(cmd.InOrStdin())
			line, err := reader.ReadString('\n')
			if err != nil {
				exitWithError(cmd, err)
				return
			}
			password = strings.TrimSpace(line)
		}

		token, err := client.Login(cmd.Context(), args[0], password)
		if err != nil {
			exitWithError(cmd, err)
			return
		}

		sess, err := session.Open(defaultSessionPath())
		if err != nil {
			exitWithError(cmd, err)
			return
		}
		defer sess.Close()
		if err := sess.SetToken(token); err != nil {
			exitWithError(cmd, err)
			return
		}
		if err := sess.SetProfile(session.Profile{UserID: args[0], Name: args[0]}); err != nil {
			exitWithError(cmd, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", args[0])
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "Password (prompted when omitted)")
}
