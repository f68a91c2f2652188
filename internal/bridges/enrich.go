package bridges

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/resilience"
	"github.com/sells-group/bridgeping/internal/store"
	"github.com/sells-group/bridgeping/pkg/nominatim"
	"github.com/sells-group/bridgeping/pkg/overpass"
)

// Geocoder reverse-geocodes a coordinate.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (*nominatim.Place, error)
}

// FeatureFinder lists named features around a coordinate.
type FeatureFinder interface {
	Nearby(ctx context.Context, lat, lon, radius float64) (*overpass.Nearby, error)
}

// EnrichOptions configures an Enricher.
type EnrichOptions struct {
	// CommitEvery is the number of bridges written per transaction. Default: 100.
	CommitEvery int
	// Radius is the nearby-feature search radius in meters. Default: 50.
	Radius float64
	// BreakerThreshold consecutive lookup failures stop calls to that API
	// for BreakerCooldown. Defaults: 5 and 5m.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// EnrichResult counts one enrichment run.
type EnrichResult struct {
	Candidates   int `json:"candidates"`
	Processed    int `json:"processed"`
	Enriched     int `json:"enriched"`
	Fallback     int `json:"fallback"`
	LookupErrors int `json:"lookup_errors"`
	Commits      int `json:"commits"`
}

// Metadata renders the result for the sync log.
func (r *EnrichResult) Metadata() map[string]any {
	return map[string]any{
		"candidates":    r.Candidates,
		"processed":     r.Processed,
		"enriched":      r.Enriched,
		"fallback":      r.Fallback,
		"lookup_errors": r.LookupErrors,
		"commits":       r.Commits,
	}
}

// Enricher fills in street, water and display names for bridges that have not
// been enriched yet. Both lookups are best effort; a bridge nothing is found
// for is stamped enriched with an empty display name so it is not picked up
// again.
type Enricher struct {
	store    store.Store
	geocoder Geocoder
	features FeatureFinder
	opts     EnrichOptions

	geocodeBreaker *resilience.Breaker
	featureBreaker *resilience.Breaker
	log            *zap.Logger
}

// NewEnricher creates an Enricher. Rate limiting is the clients' concern.
func NewEnricher(st store.Store, g Geocoder, f FeatureFinder, opts EnrichOptions) *Enricher {
	if opts.CommitEvery <= 0 {
		opts.CommitEvery = 100
	}
	if opts.Radius <= 0 {
		opts.Radius = 50
	}
	return &Enricher{
		store:          st,
		geocoder:       g,
		features:       f,
		opts:           opts,
		geocodeBreaker: resilience.NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		featureBreaker: resilience.NewBreaker(opts.BreakerThreshold, opts.BreakerCooldown),
		log:            zap.L().With(zap.String("component", "enrich")),
	}
}

// Run enriches up to limit eligible bridges, unnamed ones first. limit <= 0
// means all. Progress is committed every CommitEvery bridges; on cancellation
// the processed bridges are committed before returning.
func (e *Enricher) Run(ctx context.Context, limit int) (*EnrichResult, error) {
	res := &EnrichResult{}
	candidates, err := e.store.UnenrichedBridges(ctx, limit)
	if err != nil {
		return res, eris.Wrap(err, "enrich: list bridges")
	}
	res.Candidates = len(candidates)
	e.log.Info("enriching bridges", zap.Int("candidates", len(candidates)))

	pending := make([]model.Enrichment, 0, e.opts.CommitEvery)
	flush := func(ctx context.Context) error {
		if len(pending) == 0 {
			return nil
		}
		if err := e.store.UpdateEnrichments(ctx, pending); err != nil {
			return eris.Wrap(err, "enrich: commit")
		}
		res.Commits++
		pending = pending[:0]
		return nil
	}

	for _, b := range candidates {
		if ctx.Err() != nil {
			break
		}
		enr, found := e.enrichOne(ctx, b, res)
		if ctx.Err() != nil {
			// The lookups were cut short; leave this bridge for the next run.
			break
		}
		pending = append(pending, enr)
		res.Processed++
		if found {
			res.Enriched++
		} else {
			res.Fallback++
		}

		if len(pending) >= e.opts.CommitEvery {
			if err := flush(ctx); err != nil {
				return res, err
			}
			e.log.Info("enrichment progress", zap.Int("processed", res.Processed), zap.Int("candidates", res.Candidates))
		}
	}

	if cerr := ctx.Err(); cerr != nil {
		if err := flush(context.WithoutCancel(ctx)); err != nil {
			return res, err
		}
		return res, eris.Wrap(cerr, "enrich: cancelled")
	}
	if err := flush(ctx); err != nil {
		return res, err
	}

	e.log.Info("enrichment complete",
		zap.Int("processed", res.Processed),
		zap.Int("enriched", res.Enriched),
		zap.Int("fallback", res.Fallback),
		zap.Int("lookup_errors", res.LookupErrors),
	)
	return res, nil
}

// enrichOne runs both lookups for b concurrently and combines them. found
// is false when neither lookup produced a display name.
func (e *Enricher) enrichOne(ctx context.Context, b model.Bridge, res *EnrichResult) (model.Enrichment, bool) {
	var (
		place  *nominatim.Place
		nearby *overpass.Nearby
	)

	// Lookup errors are absorbed here, so the group never fails.
	g, gctx := errgroup.WithContext(ctx)
	var geoErr, featErr error
	g.Go(func() error {
		place, geoErr = callBreaker(e.geocodeBreaker, func() (*nominatim.Place, error) {
			return e.geocoder.Reverse(gctx, b.Latitude, b.Longitude)
		})
		return nil
	})
	g.Go(func() error {
		nearby, featErr = callBreaker(e.featureBreaker, func() (*overpass.Nearby, error) {
			return e.features.Nearby(gctx, b.Latitude, b.Longitude, e.opts.Radius)
		})
		return nil
	})
	_ = g.Wait()

	for _, lookup := range []struct {
		name string
		err  error
	}{{"nominatim", geoErr}, {"overpass", featErr}} {
		if lookup.err == nil || ctx.Err() != nil {
			continue
		}
		if !errors.Is(lookup.err, resilience.ErrCircuitOpen) {
			res.LookupErrors++
		}
		e.log.Debug("lookup failed", zap.String("api", lookup.name), zap.Int64("bridge_id", b.ID), zap.Error(lookup.err))
	}

	enr := Combine(b, place, nearby)
	return enr, enr.DisplayName != ""
}

// Combine merges the lookups for b into an enrichment. Either lookup may be nil.
func Combine(b model.Bridge, place *nominatim.Place, nearby *overpass.Nearby) model.Enrichment {
	if place == nil {
		place = &nominatim.Place{}
	}
	if nearby == nil {
		nearby = &overpass.Nearby{}
	}

	enr := model.Enrichment{BridgeID: b.ID, Neighborhood: place.Neighborhood}

	enr.StreetName = place.Street
	if enr.StreetName == "" {
		enr.StreetName = b.Tags["addr:street"]
	}
	if enr.StreetName == "" && len(nearby.Streets) > 0 {
		enr.StreetName = nearby.Streets[0]
	}

	enr.WaterName = place.Water
	if enr.WaterName == "" && len(nearby.Waterways) > 0 {
		enr.WaterName = nearby.Waterways[0]
	}

	switch {
	case b.Name == "" && enr.StreetName != "" && enr.WaterName != "":
		enr.DisplayName = enr.StreetName + " over " + enr.WaterName
	case b.Name == "" && enr.StreetName != "":
		enr.DisplayName = enr.StreetName + " Bridge"
	default:
		enr.DisplayName = place.DisplayName
	}
	return enr
}

func callBreaker[T any](b *resilience.Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}
	v, err := fn()
	b.Record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}
