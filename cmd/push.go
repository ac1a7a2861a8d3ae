package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/foomo/cloudbackup/pkg/backup"
	"github.com/foomo/keel/log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func NewPushCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "push [file]",
		Short: "Write state as today's snapshot",
		Long:  "Write the given file, stdin for '-', or the current local state as today's snapshot.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			l := log.Logger()

			syncer, err := newSyncer(ctx, v, l)
			if err != nil {
				return err
			}

			var data []byte
			if len(args) == 1 {
				data, err = readInput(cmd, args[0])
			} else {
				history, herr := newHistory(ctx, v, l)
				if herr != nil {
					return herr
				}
				defer func() {
					err = multierr.Append(err, history.Close())
				}()
				data, err = history.Current(ctx)
			}
			if err != nil {
				return errors.Wrap(err, "failed to read state")
			}
			if err := backup.ValidateState(data); err != nil {
				return err
			}

			file, err := syncer.WriteSnapshot(ctx, data)
			if err != nil {
				return err
			}
			l.Info("pushed state",
				zap.String("container", syncer.ContainerID()),
				zap.String("snapshot", file.Name),
				zap.Int("bytes", len(data)),
			)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), file.Name)
			return err
		},
	}

	flags := cmd.Flags()
	addSyncFlags(flags, v)
	addStorageFlags(flags, v)

	return cmd
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}
