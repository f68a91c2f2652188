package watchlist

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
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

var now = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func event(id string, lat, lon float64, start time.Time) model.OpeningEvent {
	return model.OpeningEvent{
		IdentityKey: id + "_v1", SourceRecordID: id, Version: 1,
		Latitude: lat, Longitude: lon,
		StartTime: start, EndTime: start.Add(10 * time.Minute),
		CreationTime: now, VersionTime: now,
		Source: "NDW", Status: "approved",
	}
}

// fixture: bridge 1 (named, linked), bridge 2 (unnamed, linked), bridge 3 (unlinked).
func fixture(t *testing.T) (*Service, *store.SQLiteStore) {
	t.Helper()
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.UpsertBridges(ctx, []model.Bridge{
		{OSMID: "way/1", Name: "Magere Brug", City: "Amsterdam", Latitude: 52.3634, Longitude: 4.9023},
		{OSMID: "way/2", City: "Amsterdam", Latitude: 52.3700, Longitude: 4.8900},
		{OSMID: "way/3", City: "Leiden", Latitude: 52.16, Longitude: 4.49},
	})
	require.NoError(t, err)

	_, err = st.InsertOpenings(ctx, []model.OpeningEvent{
		event("A", 52.3634, 4.9023, now.Add(3*time.Hour)),
		event("B", 52.3700, 4.8900, now.Add(1*time.Hour)),
		event("C", 52.3634, 4.9023, now.Add(2*time.Hour)),
		event("D", 52.3634, 4.9023, now.Add(-time.Hour)),
		event("E", 52.3700, 4.8900, now.Add(30*24*time.Hour)),
	})
	require.NoError(t, err)

	_, err = st.InsertLinks(ctx, []model.Link{
		model.NewLink(1, geo.Normalize(52.3634, 4.9023)),
		model.NewLink(2, geo.Normalize(52.3700, 4.8900)),
	})
	require.NoError(t, err)

	return NewService(st, 0), st
}

func TestService_CreateAndGet(t *testing.T) {
	svc, _ := fixture(t)
	ctx := context.Background()

	wl, err := svc.Create(ctx)
	require.NoError(t, err)
	assert.True(t, ValidName(wl.Name))
	assert.NotEmpty(t, wl.CalendarToken)

	got, err := svc.Get(ctx, wl.Name)
	require.NoError(t, err)
	assert.Equal(t, wl.ID, got.ID)

	other, err := svc.Create(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, wl.CalendarToken, other.CalendarToken)
}

func TestService_NotFoundErrors(t *testing.T) {
	svc, _ := fixture(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "missing-name")
	assert.True(t, errors.Is(err, ErrWatchlistNotFound))

	_, err = svc.Upcoming(ctx, "missing-name", now, 0)
	assert.True(t, errors.Is(err, ErrWatchlistNotFound))

	_, _, err = svc.Feed(ctx, "bad-token", now, 0)
	assert.True(t, errors.Is(err, ErrWatchlistNotFound))

	wl, err := svc.Create(ctx)
	require.NoError(t, err)
	_, err = svc.AddBridge(ctx, wl.Name, 999)
	assert.True(t, errors.Is(err, ErrBridgeNotFound))
	assert.False(t, errors.Is(err, ErrWatchlistNotFound))

	_, err = svc.BridgeLabel(ctx, 999)
	assert.True(t, errors.Is(err, ErrBridgeNotFound))
}

func TestService_InvalidNameIsNotFound(t *testing.T) {
	svc, _ := fixture(t)
	ctx := context.Background()

	wl, err := svc.Create(ctx)
	require.NoError(t, err)

	for _, name := range []string{"", "Not A Name!", strings.ToUpper(wl.Name), wl.Name + "-"} {
		_, err := svc.Get(ctx, name)
		assert.True(t, errors.Is(err, ErrWatchlistNotFound), "name %q", name)

		_, err = svc.AddBridge(ctx, name, 2)
		assert.True(t, errors.Is(err, ErrWatchlistNotFound), "name %q", name)
	}

	wbs, err := svc.Bridges(ctx, wl.Name)
	require.NoError(t, err)
	assert.Empty(t, wbs)
}

func TestService_AddRemoveBridges(t *testing.T) {
	svc, _ := fixture(t)
	ctx := context.Background()
	wl, err := svc.Create(ctx)
	require.NoError(t, err)

	added, err := svc.AddBridge(ctx, wl.Name, 2)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.AddBridge(ctx, wl.Name, 2)
	require.NoError(t, err)
	assert.False(t, added, "second add is a no-op")

	wbs, err := svc.Bridges(ctx, wl.Name)
	require.NoError(t, err)
	require.Len(t, wbs, 1)
	assert.Equal(t, int64(2), wbs[0].BridgeID)
	assert.Equal(t, "Bridge in Amsterdam", wbs[0].Label)

	removed, err := svc.RemoveBridge(ctx, wl.Name, 2)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = svc.RemoveBridge(ctx, wl.Name, 2)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestService_Upcoming(t *testing.T) {
	svc, _ := fixture(t)
	ctx := context.Background()
	wl, err := svc.Create(ctx)
	require.NoError(t, err)

	for _, id := range []int64{1, 2, 3} {
		_, err := svc.AddBridge(ctx, wl.Name, id)
		require.NoError(t, err)
	}

	events, err := svc.Upcoming(ctx, wl.Name, now, 24*time.Hour)
	require.NoError(t, err)

	var got []string
	for _, ev := range events {
		got = append(got, fmt.Sprintf("%s@%d", ev.SourceRecordID, ev.BridgeID))
	}
	assert.Equal(t, []string{"B@2", "C@1", "A@1"}, got)
	assert.Equal(t, "Magere Brug, Amsterdam", events[1].BridgeLabel)
	assert.Equal(t, "Amsterdam", events[1].City)

	events, err = svc.Upcoming(ctx, wl.Name, now, 0)
	require.NoError(t, err)
	assert.Len(t, events, 3, "default horizon excludes the event 30 days out")

	_, feed, err := svc.Feed(ctx, wl.CalendarToken, now, 60*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, feed, 4)
}

func TestService_UpcomingEmpty(t *testing.T) {
	svc, _ := fixture(t)
	ctx := context.Background()
	wl, err := svc.Create(ctx)
	require.NoError(t, err)

	events, err := svc.Upcoming(ctx, wl.Name, now, 0)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)

	_, err = svc.AddBridge(ctx, wl.Name, 3)
	require.NoError(t, err)
	events, err = svc.Upcoming(ctx, wl.Name, now, 0)
	require.NoError(t, err)
	assert.Empty(t, events, "an unlinked bridge has no openings")
}

func TestService_BridgeLabelAndHasOpenings(t *testing.T) {
	svc, _ := fixture(t)
	ctx := context.Background()

	lbl, err := svc.BridgeLabel(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Magere Brug, Amsterdam", lbl)

	has, err := svc.HasOpenings(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = svc.HasOpenings(ctx, 3)
	require.NoError(t, err)
	assert.False(t, has)
}
