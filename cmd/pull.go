package cmd

import (
	"os"

	"github.com/foomo/keel/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func NewPullCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "pull [file]",
		Short: "Read the newest snapshot",
		Long:  "Read the newest snapshot into the local history and optionally into a file, stdout for '-'.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			l := log.Logger()

			syncer, err := newSyncer(ctx, v, l)
			if err != nil {
				return err
			}
			history, err := newHistory(ctx, v, l)
			if err != nil {
				return err
			}
			defer func() {
				err = multierr.Append(err, history.Close())
			}()

			data, err := syncer.Read(ctx)
			if err != nil {
				return err
			}
			if data == nil {
				l.Info("no remote state available")
				return nil
			}

			if err := history.Add(ctx, data); err != nil {
				// the pulled state is still usable
				l.Warn("failed to store state in local history", zap.Error(err))
			}

			switch {
			case len(args) == 0:
			case args[0] == "-":
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			default:
				err = errors.Wrap(os.WriteFile(args[0], data, 0o600), "failed to write state file")
			}
			return err
		},
	}

	flags := cmd.Flags()
	addSyncFlags(flags, v)
	addStorageFlags(flags, v)

	return cmd
}
