package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bridgeping/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the sync log",
	Long:  "Commands for listing and summarizing ingest, catalog, enrichment and link passes.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent passes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		pass, _ := cmd.Flags().GetString("pass")
		asJSON, _ := cmd.Flags().GetBool("json")

		runs, err := st.ListSyncs(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		runs = filterRuns(runs, model.Pass(pass))

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-pass run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		runs, err := st.ListSyncs(ctx, 10000) // high limit for stats
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}
		if since > 0 {
			cutoff := time.Now().Add(-since)
			kept := runs[:0]
			for _, r := range runs {
				if !r.StartedAt.Before(cutoff) {
					kept = append(kept, r)
				}
			}
			runs = kept
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")
	runsListCmd.Flags().String("pass", "", "filter by pass (openings, bridges, enrich, link)")
	runsListCmd.Flags().Bool("json", false, "print runs as JSON")

	runsStatsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for stats (e.g. 24h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

func filterRuns(runs []model.SyncRun, pass model.Pass) []model.SyncRun {
	if pass == "" {
		return runs
	}
	out := make([]model.SyncRun, 0, len(runs))
	for _, r := range runs {
		if r.Pass == pass {
			out = append(out, r)
		}
	}
	return out
}

// passStats holds aggregate statistics for one pass.
type passStats struct {
	Pass       model.Pass
	Total      int
	Complete   int
	Failed     int
	Running    int
	Rows       int64
	AvgDurSecs float64
	LastRun    time.Time
}

// computeRunStats aggregates runs per pass, ordered by pass name.
func computeRunStats(runs []model.SyncRun) []passStats {
	byPass := make(map[model.Pass]*passStats)
	durations := make(map[model.Pass]time.Duration)

	for _, r := range runs {
		s, ok := byPass[r.Pass]
		if !ok {
			s = &passStats{Pass: r.Pass}
			byPass[r.Pass] = s
		}
		s.Total++
		if r.StartedAt.After(s.LastRun) {
			s.LastRun = r.StartedAt
		}
		switch r.Status {
		case model.SyncStatusComplete:
			s.Complete++
			s.Rows += r.RowsSynced
			if r.CompletedAt != nil {
				durations[r.Pass] += r.CompletedAt.Sub(r.StartedAt)
			}
		case model.SyncStatusFailed:
			s.Failed++
		default:
			s.Running++
		}
	}

	out := make([]passStats, 0, len(byPass))
	for p, s := range byPass {
		if s.Complete > 0 {
			s.AvgDurSecs = durations[p].Seconds() / float64(s.Complete)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pass < out[j].Pass })
	return out
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.SyncRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPASS\tSTATUS\tROWS\tSTARTED\tDURATION\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t-------\t--------\t-----")

	for _, r := range runs {
		dur := ""
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}

		errMsg := r.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(r.ID),
			r.Pass,
			r.Status,
			r.RowsSynced,
			r.StartedAt.Format("2006-01-02 15:04"),
			dur,
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes per-pass stats to w.
func formatRunStats(out io.Writer, stats []passStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PASS\tRUNS\tCOMPLETE\tFAILED\tRUNNING\tROWS\tAVG\tLAST")
	for _, s := range stats {
		avg := ""
		if s.AvgDurSecs > 0 {
			avg = fmt.Sprintf("%.1fs", s.AvgDurSecs)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Pass, s.Total, s.Complete, s.Failed, s.Running, s.Rows, avg,
			s.LastRun.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
