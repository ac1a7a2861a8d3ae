package cmd

import (
	"github.com/foomo/keel/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func NewPruneCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots beyond the retention limit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if retentionFlag(v) <= 0 {
				return errors.New("retention must be greater than 0")
			}
			syncer, err := newSyncer(cmd.Context(), v, log.Logger())
			if err != nil {
				return err
			}
			deleted, err := syncer.Prune(cmd.Context())
			if len(deleted) > 0 {
				if perr := printFiles(cmd.OutOrStdout(), deleted); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	addSyncFlags(cmd.Flags(), v)

	return cmd
}
