package cmd

import (
	"fmt"

	"github.com/foomo/keel/log"
	"github.com/spf13/cobra"
)

func NewLocateCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Print the id of the active container, creating it if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer, err := newSyncer(cmd.Context(), v, log.Logger())
			if err != nil {
				return err
			}
			id, err := syncer.Locate(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	addSyncFlags(cmd.Flags(), v)

	return cmd
}
