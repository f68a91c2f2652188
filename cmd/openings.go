package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bridgeping/internal/fetcher"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/openings"
	"github.com/sells-group/bridgeping/internal/store"
)

var openingsCmd = &cobra.Command{
	Use:   "openings",
	Short: "Ingest and inspect scheduled bridge openings",
}

// -- openings sync --

var openingsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ingest the NDW bridge-opening feed",
	Long: `Downloads the NDW DATEX II situation feed (gzip or plain XML), keeps the
bridge openings and stores every new record version. Already stored versions
are left untouched, so repeated runs are safe.

Use --file to ingest a local copy instead of downloading.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		if url == "" {
			url = cfg.Openings.FeedURL
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			Timeout:    time.Duration(cfg.Openings.TimeoutSecs) * time.Second,
			MaxRetries: cfg.Openings.MaxRetries,
		})
		return syncOpenings(ctx, st, openings.NewIngester(st, f), url, file, os.Stdout)
	},
}

func syncOpenings(ctx context.Context, st store.Store, in *openings.Ingester, url, file string, out io.Writer) error {
	var res *openings.Result
	err := recordPass(ctx, st, model.PassOpenings, func(ctx context.Context) (*model.SyncResult, error) {
		var err error
		if file != "" {
			fh, openErr := os.Open(file)
			if openErr != nil {
				return nil, eris.Wrapf(openErr, "openings sync: open %s", file)
			}
			res, err = in.IngestReader(ctx, fh)
		} else {
			res, err = in.Sync(ctx, url)
		}
		if err != nil {
			return nil, err
		}
		return &model.SyncResult{RowsSynced: int64(res.Inserted), Metadata: res.Metadata()}, nil
	})
	if err != nil {
		return eris.Wrap(err, "openings sync")
	}

	_, _ = fmt.Fprintf(out, "Records: %d, openings: %d, skipped: %d, inserted: %d, existing: %d\n",
		res.Records, res.Parsed, res.Skipped, res.Inserted, res.Existing)
	return nil
}

// -- openings status --

var openingsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored opening counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.OpeningStats(ctx)
		if err != nil {
			return eris.Wrap(err, "openings status")
		}
		formatOpeningStats(os.Stdout, stats)
		return nil
	},
}

func formatOpeningStats(out io.Writer, s *store.OpeningStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Opening events:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Locations:\t%d\n", s.Locations)
	_, _ = fmt.Fprintf(w, "Linked locations:\t%d\n", s.LinkedLocations)
	if s.EarliestStart != nil {
		_, _ = fmt.Fprintf(w, "Earliest start:\t%s\n", s.EarliestStart.Format(time.RFC3339))
	}
	if s.LatestStart != nil {
		_, _ = fmt.Fprintf(w, "Latest start:\t%s\n", s.LatestStart.Format(time.RFC3339))
	}
	_ = w.Flush()
}

func init() {
	openingsSyncCmd.Flags().String("url", "", "feed URL (default: openings.feed_url)")
	openingsSyncCmd.Flags().String("file", "", "ingest a local feed file instead of downloading")

	openingsCmd.AddCommand(openingsSyncCmd)
	openingsCmd.AddCommand(openingsStatusCmd)
	rootCmd.AddCommand(openingsCmd)
}
