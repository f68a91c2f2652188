package openings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bridgeping/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

type stubFetcher struct {
	body []byte
	err  error
	urls []string
}

func (f *stubFetcher) Download(_ context.Context, url string) (io.ReadCloser, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.body)), nil
}

func TestIngest_Versions(t *testing.T) {
	st := newTestStore(t)
	in := NewIngester(st, nil)
	ctx := context.Background()

	res, err := in.Ingest(ctx, []RawRecord{rawOpening("R1", "1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	res, err = in.Ingest(ctx, []RawRecord{rawOpening("R1", "2")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Existing)

	stats, err := st.OpeningStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)

	events, err := st.OpeningsByLocationKeys(ctx, nil, time.Time{}, time.Now().AddDate(10, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, events, "no keys, no events")
}

func TestIngest_Idempotent(t *testing.T) {
	st := newTestStore(t)
	in := NewIngester(st, nil)
	ctx := context.Background()
	batch := []RawRecord{rawOpening("R1", "1"), rawOpening("R2", "1"), rawOpening("R3", "4")}

	res, err := in.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)

	res, err = in.Ingest(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Existing)
}

func TestIngest_ManagementTypeFilter(t *testing.T) {
	st := newTestStore(t)
	in := NewIngester(st, nil)

	other := rawOpening("R9", "1")
	other.ManagementType = "roadClosed"

	res, err := in.Ingest(context.Background(), []RawRecord{other, rawOpening("R1", "1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 1, res.Inserted)

	stats, err := st.OpeningStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestIngest_PartialBatch(t *testing.T) {
	st := newTestStore(t)
	in := NewIngester(st, nil)

	var batch []RawRecord
	for i := 1; i <= 10; i++ {
		r := rawOpening(fmt.Sprintf("R%d", i), "1")
		if i == 5 {
			r.StartTime = "not-a-time"
		}
		batch = append(batch, r)
	}

	res, err := in.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Records)
	assert.Equal(t, 9, res.Parsed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 9, res.Inserted)

	stats, err := st.OpeningStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), stats.Total)
}

func TestIngest_Cancelled(t *testing.T) {
	in := NewIngester(newTestStore(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := in.Ingest(ctx, []RawRecord{rawOpening("R1", "1")})
	assert.ErrorIs(t, err, context.Canceled)
}

func gzipString(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSync_GzipFeed(t *testing.T) {
	st := newTestStore(t)
	f := &stubFetcher{body: gzipString(t, feedDoc)}
	in := NewIngester(st, f)

	res, err := in.Sync(context.Background(), "https://example.test/feed.xml.gz")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.test/feed.xml.gz"}, f.urls)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Inserted)

	keys, err := st.DistinctOpeningLocations(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "52.3701,4.8900", keys[0].String())
}

func TestSync_DownloadFailureIsFatal(t *testing.T) {
	boom := errors.New("unreachable")
	in := NewIngester(newTestStore(t), &stubFetcher{err: boom})

	_, err := in.Sync(context.Background(), "https://example.test/feed.xml.gz")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestSync_NoFetcher(t *testing.T) {
	_, err := NewIngester(newTestStore(t), nil).Sync(context.Background(), "x")
	require.Error(t, err)
}

func TestIngestReader_MalformedDocument(t *testing.T) {
	in := NewIngester(newTestStore(t), nil)
	_, err := in.IngestReader(context.Background(), io.NopCloser(strings.NewReader("<d2LogicalModel><situationRecord")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openings: decode feed")
}

func TestIngestReader_PlainStream(t *testing.T) {
	st := newTestStore(t)
	in := NewIngester(st, nil)

	res, err := in.IngestReader(context.Background(), io.NopCloser(strings.NewReader(feedDoc)))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Parsed)
	assert.Equal(t, 1, res.Inserted)
}

func TestIngestReader_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewIngester(newTestStore(t), nil).IngestReader(ctx, io.NopCloser(strings.NewReader(feedDoc)))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_Metadata(t *testing.T) {
	r := &Result{Records: 3, Inserted: 2, Existing: 1}
	md := r.Metadata()
	assert.Equal(t, 2, md["inserted"])
	assert.Equal(t, 1, md["existing"])
}
