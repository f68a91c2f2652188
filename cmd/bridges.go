package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bridgeping/internal/bridges"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
	"github.com/sells-group/bridgeping/pkg/nominatim"
	"github.com/sells-group/bridgeping/pkg/overpass"
)

var bridgesCmd = &cobra.Command{
	Use:   "bridges",
	Short: "Build and enrich the bridge catalog",
}

// -- bridges sync --

var bridgesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch bridges from OpenStreetMap",
	Long: `Queries the Overpass API for every configured region, removes duplicate
sightings of the same bridge and upserts the catalog.

Regions default to nine Dutch cities. Use --regions-file (or
overpass.regions_file) to load a YAML list instead.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		regionsFile, _ := cmd.Flags().GetString("regions-file")
		if regionsFile == "" {
			regionsFile = cfg.Overpass.RegionsFile
		}
		regions := bridges.DefaultRegions()
		if regionsFile != "" {
			var err error
			if regions, err = bridges.LoadRegions(regionsFile); err != nil {
				return err
			}
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		syncer := bridges.NewSyncer(st, newOverpassClient(), time.Duration(cfg.Overpass.RegionDelayMS)*time.Millisecond)
		return syncBridges(ctx, st, syncer, regions, os.Stdout)
	},
}

func syncBridges(ctx context.Context, st store.Store, syncer *bridges.Syncer, regions []bridges.Region, out io.Writer) error {
	var res *bridges.SyncResult
	err := recordPass(ctx, st, model.PassBridges, func(ctx context.Context) (*model.SyncResult, error) {
		var err error
		if res, err = syncer.Sync(ctx, regions); err != nil {
			return nil, err
		}
		return &model.SyncResult{RowsSynced: int64(res.Inserted + res.Updated), Metadata: res.Metadata()}, nil
	})
	if err != nil {
		return eris.Wrap(err, "bridges sync")
	}

	_, _ = fmt.Fprintf(out, "Regions: %d (%d failed), fetched: %d, unique: %d, inserted: %d, updated: %d\n",
		res.Regions, res.RegionsFailed, res.Fetched, res.Unique, res.Inserted, res.Updated)
	return nil
}

// -- bridges enrich --

var bridgesEnrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Derive street, water and display names for bridges",
	Long: `Looks up each bridge that has not been enriched yet with Nominatim reverse
geocoding and an Overpass nearby-features query, unnamed bridges first.
Requests are rate limited by enrich.delay_ms. Progress is committed every
enrich.commit_every bridges and on interrupt.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		delay := time.Duration(cfg.Enrich.DelayMS) * time.Millisecond

		geocoder := nominatim.NewClient(
			nominatim.WithBaseURL(cfg.Nominatim.URL),
			nominatim.WithUserAgent(cfg.Nominatim.UserAgent),
			nominatim.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Nominatim.TimeoutSecs) * time.Second}),
			nominatim.WithMinInterval(delay),
			nominatim.WithMaxAttempts(cfg.Enrich.MaxAttempts),
		)
		features := newOverpassClient(
			overpass.WithMinInterval(delay),
			overpass.WithMaxAttempts(cfg.Enrich.MaxAttempts),
		)

		enricher := bridges.NewEnricher(st, geocoder, features, bridges.EnrichOptions{
			CommitEvery: cfg.Enrich.CommitEvery,
			Radius:      cfg.Overpass.NearbyRadiusM,
		})
		return enrichBridges(ctx, st, enricher, limit, os.Stdout)
	},
}

func enrichBridges(ctx context.Context, st store.Store, enricher *bridges.Enricher, limit int, out io.Writer) error {
	var res *bridges.EnrichResult
	err := recordPass(ctx, st, model.PassEnrich, func(ctx context.Context) (*model.SyncResult, error) {
		var err error
		res, err = enricher.Run(ctx, limit)
		if err != nil {
			return nil, err
		}
		return &model.SyncResult{RowsSynced: int64(res.Processed), Metadata: res.Metadata()}, nil
	})
	if res != nil {
		_, _ = fmt.Fprintf(out, "Candidates: %d, processed: %d, enriched: %d, fallback: %d, lookup errors: %d\n",
			res.Candidates, res.Processed, res.Enriched, res.Fallback, res.LookupErrors)
	}
	if err != nil {
		return eris.Wrap(err, "bridges enrich")
	}
	return nil
}

// -- bridges status --

var bridgesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge catalog counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		stats, err := st.BridgeStats(ctx)
		if err != nil {
			return eris.Wrap(err, "bridges status")
		}
		formatBridgeStats(os.Stdout, stats)
		return nil
	},
}

func formatBridgeStats(out io.Writer, s *store.BridgeStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Bridges:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Named:\t%d\n", s.Named)
	_, _ = fmt.Fprintf(w, "Enriched:\t%d\n", s.Enriched)
	_, _ = fmt.Fprintf(w, "Linked:\t%d\n", s.Linked)
	_ = w.Flush()
}

// newOverpassClient builds an Overpass client from the overpass config block.
func newOverpassClient(opts ...overpass.Option) *overpass.Client {
	timeout := time.Duration(cfg.Overpass.TimeoutSecs) * time.Second
	base := []overpass.Option{
		overpass.WithBaseURL(cfg.Overpass.URL),
		overpass.WithServerTimeout(timeout),
		// Leave headroom over the server-side timeout for the response body.
		overpass.WithHTTPClient(&http.Client{Timeout: timeout + 30*time.Second}),
	}
	return overpass.NewClient(append(base, opts...)...)
}

func init() {
	bridgesSyncCmd.Flags().String("regions-file", "", "YAML file listing regions to query")
	bridgesEnrichCmd.Flags().Int("limit", 0, "max bridges to enrich (0 = all)")

	bridgesCmd.AddCommand(bridgesSyncCmd)
	bridgesCmd.AddCommand(bridgesEnrichCmd)
	bridgesCmd.AddCommand(bridgesStatusCmd)
	rootCmd.AddCommand(bridgesCmd)
}
