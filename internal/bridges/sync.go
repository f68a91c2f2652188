package bridges

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
	"github.com/sells-group/bridgeping/pkg/overpass"
)

// Source fetches the bridge elements inside a box.
type Source interface {
	Bridges(ctx context.Context, b overpass.BBox) ([]overpass.Element, error)
}

// SyncResult counts one catalog sync.
type SyncResult struct {
	Regions       int `json:"regions"`
	RegionsFailed int `json:"regions_failed"`
	Fetched       int `json:"fetched"`
	Unique        int `json:"unique"`
	Inserted      int `json:"inserted"`
	Updated       int `json:"updated"`
}

// Metadata renders the result for the sync log.
func (r *SyncResult) Metadata() map[string]any {
	return map[string]any{
		"regions":        r.Regions,
		"regions_failed": r.RegionsFailed,
		"fetched":        r.Fetched,
		"unique":         r.Unique,
		"inserted":       r.Inserted,
		"updated":        r.Updated,
	}
}

// Syncer refreshes the bridge catalog from a Source.
type Syncer struct {
	store  store.Store
	source Source
	// Delay is the pause between region queries.
	Delay time.Duration
	log   *zap.Logger
}

// NewSyncer creates a Syncer.
func NewSyncer(st store.Store, src Source, delay time.Duration) *Syncer {
	return &Syncer{
		store:  st,
		source: src,
		Delay:  delay,
		log:    zap.L().With(zap.String("component", "bridges")),
	}
}

// Sync fetches every region, removes duplicate sightings and upserts the rest
// in one transaction. A failed region is logged and skipped; if all regions
// fail nothing is written and the last error is returned.
func (s *Syncer) Sync(ctx context.Context, regions []Region) (*SyncResult, error) {
	res := &SyncResult{Regions: len(regions)}
	if len(regions) == 0 {
		return res, eris.New("bridges: no regions to sync")
	}

	var (
		candidates []model.Bridge
		lastErr    error
	)
	for i, r := range regions {
		if i > 0 && s.Delay > 0 {
			if err := sleepCtx(ctx, s.Delay); err != nil {
				return res, eris.Wrap(err, "bridges: sync cancelled")
			}
		}

		els, err := s.source.Bridges(ctx, r.BBox())
		if err != nil {
			if ctx.Err() != nil {
				return res, eris.Wrap(ctx.Err(), "bridges: sync cancelled")
			}
			res.RegionsFailed++
			lastErr = eris.Wrapf(err, "bridges: fetch region %s", r.Name)
			s.log.Warn("region fetch failed, skipping", zap.String("region", r.Name), zap.Error(err))
			continue
		}

		parsed := ParseElements(els, r.Name)
		res.Fetched += len(parsed)
		candidates = append(candidates, parsed...)
		s.log.Info("fetched region",
			zap.String("region", r.Name),
			zap.Int("elements", len(els)),
			zap.Int("bridges", len(parsed)),
		)
	}
	if res.RegionsFailed == len(regions) {
		return res, lastErr
	}

	unique := Dedupe(candidates)
	res.Unique = len(unique)

	up, err := s.store.UpsertBridges(ctx, unique)
	if err != nil {
		return res, eris.Wrap(err, "bridges: upsert")
	}
	res.Inserted = up.Inserted
	res.Updated = up.Updated

	s.log.Info("bridge catalog synced",
		zap.Int("fetched", res.Fetched),
		zap.Int("unique", res.Unique),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("regions_failed", res.RegionsFailed),
	)
	return res, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
