package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bridgeping/internal/linker"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link opening locations to their nearest bridge",
	Long: `Matches every opening location without a link to the nearest bridge within
link.tolerance degrees. Existing links are kept as they are.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return linkOpenings(ctx, st, linker.New(st, cfg.Link.Tolerance), os.Stdout)
	},
}

func linkOpenings(ctx context.Context, st store.Store, l *linker.Linker, out io.Writer) error {
	var stats *linker.Stats
	err := recordPass(ctx, st, model.PassLink, func(ctx context.Context) (*model.SyncResult, error) {
		var err error
		if stats, err = l.Run(ctx); err != nil {
			return nil, err
		}
		return &model.SyncResult{RowsSynced: int64(stats.Linked), Metadata: stats.Metadata()}, nil
	})
	if err != nil {
		return eris.Wrap(err, "link")
	}

	_, _ = fmt.Fprintf(out, "Locations: %d, linked: %d, already linked: %d, unmatched: %d\n",
		stats.Locations, stats.Linked, stats.AlreadyLinked, stats.Unmatched)
	return nil
}

func init() {
	rootCmd.AddCommand(linkCmd)
}
