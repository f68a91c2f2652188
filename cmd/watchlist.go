package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/bridgeping/internal/label"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
	"github.com/sells-group/bridgeping/internal/watchlist"
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage watchlists and query their upcoming openings",
}

// withWatchlists opens the store and hands a watchlist service to fn.
func withWatchlists(ctx context.Context, fn func(svc *watchlist.Service) error) error {
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	return fn(newWatchlistService(st))
}

func newWatchlistService(st store.Store) *watchlist.Service {
	return watchlist.NewService(st, time.Duration(cfg.Watchlist.HorizonHours)*time.Hour)
}

// -- watchlist create --

var watchlistCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a watchlist with a generated name",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withWatchlists(cmd.Context(), func(svc *watchlist.Service) error {
			wl, err := svc.Create(cmd.Context())
			if err != nil {
				return eris.Wrap(err, "watchlist create")
			}
			fmt.Printf("Created watchlist %s\nCalendar token: %s\n", wl.Name, wl.CalendarToken)
			return nil
		})
	},
}

// -- watchlist add --

var watchlistAddCmd = &cobra.Command{
	Use:   "add <name> <bridge-id>",
	Short: "Add a bridge to a watchlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBridgeID(args[1])
		if err != nil {
			return err
		}
		return withWatchlists(cmd.Context(), func(svc *watchlist.Service) error {
			added, err := svc.AddBridge(cmd.Context(), args[0], id)
			if err != nil {
				return eris.Wrap(err, "watchlist add")
			}
			if !added {
				fmt.Printf("Bridge %d is already on %s\n", id, args[0])
				return nil
			}
			fmt.Printf("Added bridge %d to %s\n", id, args[0])
			return nil
		})
	},
}

// -- watchlist remove --

var watchlistRemoveCmd = &cobra.Command{
	Use:   "remove <name> <bridge-id>",
	Short: "Remove a bridge from a watchlist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBridgeID(args[1])
		if err != nil {
			return err
		}
		return withWatchlists(cmd.Context(), func(svc *watchlist.Service) error {
			removed, err := svc.RemoveBridge(cmd.Context(), args[0], id)
			if err != nil {
				return eris.Wrap(err, "watchlist remove")
			}
			if !removed {
				fmt.Printf("Bridge %d is not on %s\n", id, args[0])
				return nil
			}
			fmt.Printf("Removed bridge %d from %s\n", id, args[0])
			return nil
		})
	},
}

// -- watchlist show --

var watchlistShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "List the bridges on a watchlist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWatchlists(cmd.Context(), func(svc *watchlist.Service) error {
			return showWatchlist(cmd.Context(), svc, args[0], os.Stdout)
		})
	},
}

// showWatchlist lists the watched bridges. Bridges with linked openings
// carry the openings marker.
func showWatchlist(ctx context.Context, svc *watchlist.Service, name string, out io.Writer) error {
	wbs, err := svc.Bridges(ctx, name)
	if err != nil {
		return eris.Wrap(err, "watchlist show")
	}
	if len(wbs) == 0 {
		_, _ = fmt.Fprintf(out, "No bridges on %s.\n", name)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "BRIDGE\tLABEL")
	_, _ = fmt.Fprintln(w, "------\t-----")
	for _, wb := range wbs {
		lbl := wb.Label
		if wb.BridgeID != 0 {
			has, err := svc.HasOpenings(ctx, wb.BridgeID)
			if err != nil {
				return eris.Wrap(err, "watchlist show")
			}
			if has {
				lbl = label.WithOpeningsMarker(lbl)
			}
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\n", wb.BridgeID, lbl)
	}
	return w.Flush()
}

// -- watchlist upcoming --

var watchlistUpcomingCmd = &cobra.Command{
	Use:   "upcoming <name>",
	Short: "List upcoming openings of the watched bridges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		horizon, _ := cmd.Flags().GetDuration("horizon")
		return withWatchlists(cmd.Context(), func(svc *watchlist.Service) error {
			events, err := svc.Upcoming(cmd.Context(), args[0], time.Now(), horizon)
			if err != nil {
				return eris.Wrap(err, "watchlist upcoming")
			}
			if len(events) == 0 {
				fmt.Fprintln(os.Stderr, "No upcoming openings.")
				return nil
			}
			formatUpcoming(os.Stdout, events)
			return nil
		})
	},
}

func formatUpcoming(out io.Writer, events []model.ScheduledOpening) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "START\tEND\tBRIDGE\tSTATUS")
	_, _ = fmt.Fprintln(w, "-----\t---\t------\t------")
	for _, e := range events {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.StartTime.Format("2006-01-02 15:04"),
			e.EndTime.Format("15:04"),
			e.BridgeLabel,
			e.Status,
		)
	}
	_ = w.Flush()
}

// -- watchlist feed --

var watchlistFeedCmd = &cobra.Command{
	Use:   "feed <calendar-token>",
	Short: "Print the calendar feed events of a watchlist as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		horizon, _ := cmd.Flags().GetDuration("horizon")
		return withWatchlists(cmd.Context(), func(svc *watchlist.Service) error {
			return writeFeed(cmd.Context(), svc, args[0], time.Now(), horizon, os.Stdout)
		})
	},
}

type feedDocument struct {
	Watchlist string                   `json:"watchlist"`
	Events    []model.ScheduledOpening `json:"events"`
}

func writeFeed(ctx context.Context, svc *watchlist.Service, token string, from time.Time, horizon time.Duration, out io.Writer) error {
	wl, events, err := svc.Feed(ctx, token, from, horizon)
	if err != nil {
		return eris.Wrap(err, "watchlist feed")
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(feedDocument{Watchlist: wl.Name, Events: events})
}

func parseBridgeID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid bridge id %q", s)
	}
	return id, nil
}

func init() {
	watchlistUpcomingCmd.Flags().Duration("horizon", 0, "look-ahead window (default: watchlist.horizon_hours)")
	watchlistFeedCmd.Flags().Duration("horizon", 0, "look-ahead window (default: watchlist.horizon_hours)")

	watchlistCmd.AddCommand(watchlistCreateCmd)
	watchlistCmd.AddCommand(watchlistAddCmd)
	watchlistCmd.AddCommand(watchlistRemoveCmd)
	watchlistCmd.AddCommand(watchlistShowCmd)
	watchlistCmd.AddCommand(watchlistUpcomingCmd)
	watchlistCmd.AddCommand(watchlistFeedCmd)
	rootCmd.AddCommand(watchlistCmd)
}
