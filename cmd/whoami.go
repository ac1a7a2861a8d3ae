package cmd

import (
	"fmt"

	"github.com/foomo/keel/log"
	"github.com/spf13/cobra"
)

func NewWhoamiCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Print the account the credentials belong to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd.Context(), v, log.Logger())
			if err != nil {
				return err
			}
			user, err := client.About(cmd.Context())
			if err != nil {
				return err
			}
			if user.EmailAddress != "" {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s <%s>\n", user.DisplayName, user.EmailAddress)
			} else {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), user.DisplayName)
			}
			return err
		},
	}

	addRemoteFlags(cmd.Flags(), v)

	return cmd
}
