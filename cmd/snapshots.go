package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/fbiville/markdown-table-formatter/pkg/markdown"
	"github.com/foomo/cloudbackup/pkg/drive"
	"github.com/foomo/keel/log"
	"github.com/spf13/cobra"
)

func NewSnapshotsCommand() *cobra.Command {
	v := newViper()
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List the snapshots of the active container",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			syncer, err := newSyncer(cmd.Context(), v, log.Logger())
			if err != nil {
				return err
			}
			files, err := syncer.Snapshots(cmd.Context())
			if err != nil {
				return err
			}
			return printFiles(cmd.OutOrStdout(), files)
		},
	}

	addSyncFlags(cmd.Flags(), v)

	return cmd
}

func printFiles(w io.Writer, files []*drive.File) error {
	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{
			f.Name,
			f.ID,
			f.ModifiedTime.Local().Format(time.DateTime),
			strconv.FormatInt(f.Size, 10),
		})
	}
	table, err := markdown.NewTableFormatterBuilder().
		WithPrettyPrint().
		Build("Name", "ID", "Modified", "Size").
		Format(rows)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(w, table)
	return err
}
