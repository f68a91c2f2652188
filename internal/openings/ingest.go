// Package openings ingests NDW bridge-opening records into the opening store.
// Each record version is stored once; re-ingesting a feed is a no-op.
package openings

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bridgeping/internal/fetcher"
	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
)

// Result counts one ingest batch.
type Result struct {
	Records  int `json:"records"`
	Filtered int `json:"filtered"`
	Skipped  int `json:"skipped"`
	Parsed   int `json:"parsed"`
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// Metadata renders the result for the sync log.
func (r *Result) Metadata() map[string]any {
	return map[string]any{
		"records":  r.Records,
		"filtered": r.Filtered,
		"skipped":  r.Skipped,
		"parsed":   r.Parsed,
		"inserted": r.Inserted,
		"existing": r.Existing,
	}
}

// Ingester parses opening records and stores the bridge openings among them.
type Ingester struct {
	store   store.Store
	fetcher fetcher.Fetcher
	log     *zap.Logger
}

// NewIngester creates an Ingester. f may be nil when only Ingest or
// IngestReader are used.
func NewIngester(st store.Store, f fetcher.Fetcher) *Ingester {
	return &Ingester{
		store:   st,
		fetcher: f,
		log:     zap.L().With(zap.String("component", "openings")),
	}
}

// Ingest parses records and inserts the valid bridge openings in one
// transaction. A record that fails to parse is logged and skipped.
func (in *Ingester) Ingest(ctx context.Context, records []RawRecord) (*Result, error) {
	res := &Result{Records: len(records)}
	events := make([]model.OpeningEvent, 0, len(records))

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "openings: ingest cancelled")
		}
		if !rec.IsBridgeOpening() {
			res.Filtered++
			continue
		}
		ev, err := Parse(rec)
		if err != nil {
			res.Skipped++
			in.log.Warn("skipping malformed record",
				zap.String("record_id", rec.ID),
				zap.String("version", rec.Version),
				zap.Error(err),
			)
			continue
		}
		events = append(events, ev)
	}
	res.Parsed = len(events)

	ins, err := in.store.InsertOpenings(ctx, events)
	if err != nil {
		return res, eris.Wrap(err, "openings: insert")
	}
	res.Inserted = ins.Inserted
	res.Existing = ins.Existing

	in.log.Info("ingested opening records",
		zap.Int("records", res.Records),
		zap.Int("filtered", res.Filtered),
		zap.Int("skipped", res.Skipped),
		zap.Int("inserted", res.Inserted),
		zap.Int("existing", res.Existing),
	)
	return res, nil
}

// IngestReader decodes a DATEX II document, gzip-compressed or plain, and
// ingests its situation records. Records are streamed off the decoder and
// those that are not bridge openings are dropped as they arrive. A document
// that cannot be read is fatal.
func (in *Ingester) IngestReader(ctx context.Context, r io.ReadCloser) (*Result, error) {
	body, err := fetcher.Gunzip(r)
	if err != nil {
		return nil, eris.Wrap(err, "openings: decompress feed")
	}
	defer body.Close() //nolint:errcheck

	// Stops the decoder goroutine on every return path.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	recCh, errCh := fetcher.StreamXML[RawRecord](streamCtx, body, RecordElement)

	var (
		filtered int
		kept     []RawRecord
	)
	for rec := range recCh {
		if !rec.IsBridgeOpening() {
			filtered++
			continue
		}
		kept = append(kept, rec)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrap(err, "openings: decode feed")
	}

	res, err := in.Ingest(ctx, kept)
	res.Records += filtered
	res.Filtered += filtered
	return res, err
}

// Sync downloads the feed at url and ingests it.
func (in *Ingester) Sync(ctx context.Context, url string) (*Result, error) {
	if in.fetcher == nil {
		return nil, eris.New("openings: no fetcher configured")
	}
	in.log.Info("downloading opening feed", zap.String("url", url))

	body, err := in.fetcher.Download(ctx, url)
	if err != nil {
		return nil, eris.Wrap(err, "openings: download feed")
	}
	return in.IngestReader(ctx, body)
}
