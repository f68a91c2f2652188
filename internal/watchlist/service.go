// Package watchlist is the read and write surface the serving layer uses:
// anonymous watchlists addressed by name, their watched bridges, and the
// upcoming openings of those bridges for pages and calendar feeds.
package watchlist

import (
	"context"
	"crypto/rand"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/label"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
)

// Lookup errors. An empty result is not an error.
var (
	ErrWatchlistNotFound = eris.New("watchlist: not found")
	ErrBridgeNotFound    = eris.New("watchlist: bridge not found")
)

// DefaultHorizon is how far ahead Upcoming and Feed look by default.
const DefaultHorizon = 14 * 24 * time.Hour

// Service implements watchlist operations over a store.
type Service struct {
	store   store.Store
	horizon time.Duration
	log     *zap.Logger
}

// NewService creates a Service. A non-positive horizon uses DefaultHorizon.
func NewService(st store.Store, horizon time.Duration) *Service {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Service{
		store:   st,
		horizon: horizon,
		log:     zap.L().With(zap.String("component", "watchlist")),
	}
}

// Create stores a new watchlist with a fresh unique name and calendar token.
func (s *Service) Create(ctx context.Context) (*model.Watchlist, error) {
	name, err := GenerateUniqueName(func(n string) (bool, error) {
		return s.store.WatchlistNameExists(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	wl, err := s.store.CreateWatchlist(ctx, name, rand.Text())
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: create")
	}
	s.log.Info("created watchlist", zap.String("name", wl.Name))
	return wl, nil
}

// Get returns the watchlist called name. A name that GenerateName could not
// have produced is reported as not found without a store lookup.
func (s *Service) Get(ctx context.Context, name string) (*model.Watchlist, error) {
	if !ValidName(name) {
		return nil, eris.Wrapf(ErrWatchlistNotFound, "invalid name %q", name)
	}
	wl, err := s.store.WatchlistByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(ErrWatchlistNotFound, "name %q", name)
	}
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: get")
	}
	return wl, nil
}

// AddBridge watches bridgeID under its resolved label. Adding a bridge twice
// is a no-op that reports false.
func (s *Service) AddBridge(ctx context.Context, name string, bridgeID int64) (bool, error) {
	wl, err := s.Get(ctx, name)
	if err != nil {
		return false, err
	}
	b, err := s.bridge(ctx, bridgeID)
	if err != nil {
		return false, err
	}
	added, err := s.store.AddWatchlistBridge(ctx, wl.ID, b.ID, label.Resolve(*b))
	if err != nil {
		return false, eris.Wrap(err, "watchlist: add bridge")
	}
	return added, nil
}

// RemoveBridge stops watching bridgeID. It reports whether anything was removed.
func (s *Service) RemoveBridge(ctx context.Context, name string, bridgeID int64) (bool, error) {
	wl, err := s.Get(ctx, name)
	if err != nil {
		return false, err
	}
	removed, err := s.store.RemoveWatchlistBridge(ctx, wl.ID, bridgeID)
	if err != nil {
		return false, eris.Wrap(err, "watchlist: remove bridge")
	}
	return removed, nil
}

// Bridges lists the watched bridges of a watchlist.
func (s *Service) Bridges(ctx context.Context, name string) ([]model.WatchlistBridge, error) {
	wl, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	wbs, err := s.store.WatchlistBridges(ctx, wl.ID)
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: list bridges")
	}
	return wbs, nil
}

// Upcoming returns the openings of the watched bridges that start in
// [from, from+horizon), ordered by start time. A non-positive horizon uses the
// service default.
func (s *Service) Upcoming(ctx context.Context, name string, from time.Time, horizon time.Duration) ([]model.ScheduledOpening, error) {
	wl, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.openings(ctx, wl, from, horizon)
}

// Feed is Upcoming for the watchlist owning a calendar token.
func (s *Service) Feed(ctx context.Context, token string, from time.Time, horizon time.Duration) (*model.Watchlist, []model.ScheduledOpening, error) {
	wl, err := s.store.WatchlistByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, eris.Wrap(ErrWatchlistNotFound, "calendar token")
	}
	if err != nil {
		return nil, nil, eris.Wrap(err, "watchlist: feed")
	}
	events, err := s.openings(ctx, wl, from, horizon)
	if err != nil {
		return nil, nil, err
	}
	return wl, events, nil
}

// BridgeLabel resolves the display label of a bridge.
func (s *Service) BridgeLabel(ctx context.Context, bridgeID int64) (string, error) {
	b, err := s.bridge(ctx, bridgeID)
	if err != nil {
		return "", err
	}
	return label.Resolve(*b), nil
}

// HasOpenings reports whether a bridge is linked to any opening location.
func (s *Service) HasOpenings(ctx context.Context, bridgeID int64) (bool, error) {
	links, err := s.store.LinksByBridgeIDs(ctx, []int64{bridgeID})
	if err != nil {
		return false, eris.Wrap(err, "watchlist: links")
	}
	return len(links) > 0, nil
}

func (s *Service) bridge(ctx context.Context, id int64) (*model.Bridge, error) {
	bs, err := s.store.BridgesByIDs(ctx, []int64{id})
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: lookup bridge")
	}
	if len(bs) == 0 {
		return nil, eris.Wrapf(ErrBridgeNotFound, "id %d", id)
	}
	return &bs[0], nil
}

func (s *Service) openings(ctx context.Context, wl *model.Watchlist, from time.Time, horizon time.Duration) ([]model.ScheduledOpening, error) {
	if horizon <= 0 {
		horizon = s.horizon
	}

	wbs, err := s.store.WatchlistBridges(ctx, wl.ID)
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: list bridges")
	}
	watched := make(map[int64]model.WatchlistBridge, len(wbs))
	ids := make([]int64, 0, len(wbs))
	for _, wb := range wbs {
		if wb.BridgeID == 0 {
			continue
		}
		if _, ok := watched[wb.BridgeID]; !ok {
			ids = append(ids, wb.BridgeID)
		}
		watched[wb.BridgeID] = wb
	}
	if len(ids) == 0 {
		return []model.ScheduledOpening{}, nil
	}

	links, err := s.store.LinksByBridgeIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: links")
	}
	if len(links) == 0 {
		return []model.ScheduledOpening{}, nil
	}
	bridgeOf := make(map[geo.LocationKey]int64, len(links))
	keys := make([]geo.LocationKey, 0, len(links))
	for _, l := range links {
		bridgeOf[l.LocationKey] = l.BridgeID
		keys = append(keys, l.LocationKey)
	}

	bridges, err := s.store.BridgesByIDs(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: lookup bridges")
	}
	byID := make(map[int64]model.Bridge, len(bridges))
	for _, b := range bridges {
		byID[b.ID] = b
	}

	events, err := s.store.OpeningsByLocationKeys(ctx, keys, from, from.Add(horizon))
	if err != nil {
		return nil, eris.Wrap(err, "watchlist: openings")
	}

	out := make([]model.ScheduledOpening, 0, len(events))
	for _, ev := range events {
		bid := bridgeOf[ev.LocationKey()]
		b, ok := byID[bid]
		if !ok {
			continue
		}
		lbl := watched[bid].Label
		if lbl == "" {
			lbl = label.Resolve(b)
		}
		out = append(out, model.ScheduledOpening{
			OpeningEvent: ev,
			BridgeID:     bid,
			BridgeLabel:  lbl,
			City:         b.City,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
