// Package linker matches each distinct opening location to its nearest bridge
// within a fixed coordinate tolerance and records the match as a link.
package linker

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
)

// Stats counts one linking pass.
type Stats struct {
	Locations     int `json:"locations"`
	Linked        int `json:"linked"`
	AlreadyLinked int `json:"already_linked"`
	Unmatched     int `json:"unmatched"`
}

// Metadata renders the stats for the sync log.
func (s *Stats) Metadata() map[string]any {
	return map[string]any{
		"locations":      s.Locations,
		"linked":         s.Linked,
		"already_linked": s.AlreadyLinked,
		"unmatched":      s.Unmatched,
	}
}

// Linker runs the linking pass.
type Linker struct {
	store     store.Store
	tolerance float64
	log       *zap.Logger
}

// New creates a Linker. A non-positive tolerance uses geo.DefaultTolerance.
func New(st store.Store, tolerance float64) *Linker {
	if tolerance <= 0 || math.IsNaN(tolerance) {
		tolerance = geo.DefaultTolerance
	}
	return &Linker{
		store:     st,
		tolerance: tolerance,
		log:       zap.L().With(zap.String("component", "linker")),
	}
}

// Run links every distinct opening location that has no link yet. Existing
// links are never re-targeted. New links are written in one transaction.
func (l *Linker) Run(ctx context.Context) (*Stats, error) {
	bridges, err := l.store.ListBridges(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "linker: list bridges")
	}
	keys, err := l.store.DistinctOpeningLocations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "linker: list opening locations")
	}
	existing, err := l.store.ListLinks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "linker: list links")
	}

	linked := make(map[geo.LocationKey]struct{}, len(existing))
	for _, ln := range existing {
		linked[ln.LocationKey] = struct{}{}
	}

	stats := &Stats{Locations: len(keys)}
	idx := NewIndex(bridges, l.tolerance)
	var links []model.Link
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "linker: cancelled")
		}
		if _, ok := linked[key]; ok {
			stats.AlreadyLinked++
			continue
		}
		b, ok := idx.Nearest(key.Lat(), key.Lon())
		if !ok {
			stats.Unmatched++
			continue
		}
		links = append(links, model.NewLink(b.ID, key))
	}

	res, err := l.store.InsertLinks(ctx, links)
	if err != nil {
		return stats, eris.Wrap(err, "linker: insert links")
	}
	stats.Linked = res.Inserted
	stats.AlreadyLinked += res.Existing

	l.log.Info("linking complete",
		zap.Int("bridges", len(bridges)),
		zap.Int("locations", stats.Locations),
		zap.Int("linked", stats.Linked),
		zap.Int("already_linked", stats.AlreadyLinked),
		zap.Int("unmatched", stats.Unmatched),
	)
	return stats, nil
}
