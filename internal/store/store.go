// Package store persists opening events, bridges, links, watchlists and the
// sync log. SQLiteStore is the embedded default; PostgresStore serves shared
// deployments. Both apply ordered embedded migrations.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = eris.New("store: not found")

// InsertResult counts an insert-or-ignore batch.
type InsertResult struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// UpsertResult counts an insert-or-update batch.
type UpsertResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// OpeningStats summarizes the opening_events table.
type OpeningStats struct {
	Total           int64      `json:"total"`
	Locations       int64      `json:"locations"`
	LinkedLocations int64      `json:"linked_locations"`
	EarliestStart   *time.Time `json:"earliest_start,omitempty"`
	LatestStart     *time.Time `json:"latest_start,omitempty"`
}

// BridgeStats summarizes the bridges table.
type BridgeStats struct {
	Total    int64 `json:"total"`
	Named    int64 `json:"named"`
	Enriched int64 `json:"enriched"`
	Linked   int64 `json:"linked"`
}

// Store defines the persistence interface for every pass.
type Store interface {
	// Opening events
	InsertOpenings(ctx context.Context, events []model.OpeningEvent) (InsertResult, error)
	DistinctOpeningLocations(ctx context.Context) ([]geo.LocationKey, error)
	OpeningsByLocationKeys(ctx context.Context, keys []geo.LocationKey, from, to time.Time) ([]model.OpeningEvent, error)
	OpeningStats(ctx context.Context) (*OpeningStats, error)

	// Bridges
	UpsertBridges(ctx context.Context, bridges []model.Bridge) (UpsertResult, error)
	ListBridges(ctx context.Context) ([]model.Bridge, error)
	BridgesByIDs(ctx context.Context, ids []int64) ([]model.Bridge, error)
	UnenrichedBridges(ctx context.Context, limit int) ([]model.Bridge, error)
	UpdateEnrichments(ctx context.Context, enrichments []model.Enrichment) error
	BridgeStats(ctx context.Context) (*BridgeStats, error)

	// Links
	InsertLinks(ctx context.Context, links []model.Link) (InsertResult, error)
	ListLinks(ctx context.Context) ([]model.Link, error)
	LinksByBridgeIDs(ctx context.Context, ids []int64) ([]model.Link, error)

	// Watchlists
	CreateWatchlist(ctx context.Context, name, calendarToken string) (*model.Watchlist, error)
	WatchlistByName(ctx context.Context, name string) (*model.Watchlist, error)
	WatchlistByToken(ctx context.Context, token string) (*model.Watchlist, error)
	WatchlistNameExists(ctx context.Context, name string) (bool, error)
	AddWatchlistBridge(ctx context.Context, watchlistID, bridgeID int64, label string) (bool, error)
	RemoveWatchlistBridge(ctx context.Context, watchlistID, bridgeID int64) (bool, error)
	WatchlistBridges(ctx context.Context, watchlistID int64) ([]model.WatchlistBridge, error)

	// Sync log
	StartSync(ctx context.Context, pass model.Pass) (string, error)
	CompleteSync(ctx context.Context, id string, result *model.SyncResult) error
	FailSync(ctx context.Context, id string, syncErr error) error
	ListSyncs(ctx context.Context, limit int) ([]model.SyncRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// collapseBridges keeps one bridge per OSMID. Later sightings replace earlier
// ones in place, so the batch keeps first-seen order with last-write-wins
// attributes.
func collapseBridges(bridges []model.Bridge) []model.Bridge {
	pos := make(map[string]int, len(bridges))
	out := make([]model.Bridge, 0, len(bridges))
	for _, b := range bridges {
		if i, ok := pos[b.OSMID]; ok {
			out[i] = b
			continue
		}
		pos[b.OSMID] = len(out)
		out = append(out, b)
	}
	return out
}

func keyStrings(keys []geo.LocationKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// chunked calls fn over consecutive slices of at most size items.
func chunked[T any](items []T, size int, fn func([]T) error) error {
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		if err := fn(items[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func marshalTags(tags map[string]string) ([]byte, error) {
	if tags == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal tags")
	}
	return data, nil
}

func unmarshalTags(data []byte, dst *map[string]string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return eris.Wrap(err, "store: unmarshal tags")
	}
	return nil
}

// sortOpenings orders events by start time, then id.
func sortOpenings(events []model.OpeningEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].StartTime.Equal(events[j].StartTime) {
			return events[i].StartTime.Before(events[j].StartTime)
		}
		return events[i].ID < events[j].ID
	})
}

func sortLinks(links []model.Link) {
	sort.Slice(links, func(i, j int) bool {
		if links[i].BridgeID != links[j].BridgeID {
			return links[i].BridgeID < links[j].BridgeID
		}
		return links[i].LocationKey.Less(links[j].LocationKey)
	})
}

func sortKeys(keys []geo.LocationKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
