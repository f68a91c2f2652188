package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
)

// timeLayout is fixed width so stored instants compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteMaxParams bounds the size of one IN list.
const sqliteMaxParams = 500

const bridgeColumns = `id, osm_id, name, city, latitude, longitude, bridge_type, tags,
	street_name, water_name, neighborhood, display_name, enriched_at, created_at, updated_at`

const openingColumns = `id, record_id, source_record_id, version, latitude, longitude,
	start_time, end_time, creation_time, version_time, source, status, created_at`

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
// The pool is limited to one connection so that per-connection pragmas hold
// and writers are serialized.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Migrate applies every embedded SQLite migration not yet recorded in
// schema_migrations. Each file runs in its own transaction.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.Name))
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return eris.Wrapf(err, "sqlite: apply migration %s", m.Name)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
				m.Name, formatTime(time.Now()),
			); err != nil {
				return eris.Wrapf(err, "sqlite: record migration %s", m.Name)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query applied migrations")
	}
	defer rows.Close() //nolint:errcheck

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit tx")
	}
	return nil
}

// --- Opening events ---

func (s *SQLiteStore) InsertOpenings(ctx context.Context, events []model.OpeningEvent) (InsertResult, error) {
	var out InsertResult
	if len(events) == 0 {
		return out, nil
	}
	now := formatTime(time.Now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO opening_events
			(record_id, source_record_id, version, latitude, longitude, location_key,
			 start_time, end_time, creation_time, version_time, source, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(record_id) DO NOTHING`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare insert opening")
		}
		defer stmt.Close() //nolint:errcheck

		for _, e := range events {
			res, err := stmt.ExecContext(ctx,
				e.IdentityKey, e.SourceRecordID, e.Version, e.Latitude, e.Longitude, e.LocationKey().String(),
				formatTime(e.StartTime), formatTime(e.EndTime), formatTime(e.CreationTime), formatTime(e.VersionTime),
				e.Source, e.Status, now,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert opening %s", e.IdentityKey)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return eris.Wrap(err, "sqlite: rows affected")
			}
			if n > 0 {
				out.Inserted++
			} else {
				out.Existing++
			}
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return out, nil
}

func (s *SQLiteStore) DistinctOpeningLocations(ctx context.Context) ([]geo.LocationKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT location_key FROM opening_events`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct opening locations")
	}
	defer rows.Close() //nolint:errcheck

	var keys []geo.LocationKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan location key")
		}
		k, err := geo.ParseLocationKey(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate location keys")
	}
	sortKeys(keys)
	return keys, nil
}

func (s *SQLiteStore) OpeningsByLocationKeys(ctx context.Context, keys []geo.LocationKey, from, to time.Time) ([]model.OpeningEvent, error) {
	var events []model.OpeningEvent
	err := chunked(keyStrings(keys), sqliteMaxParams, func(chunk []string) error {
		args := append(anySlice(chunk), formatTime(from), formatTime(to))
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+openingColumns+` FROM opening_events
			 WHERE location_key IN `+inList(len(chunk))+`
			   AND start_time >= ? AND start_time < ?`,
			args...,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: openings by location keys")
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			e, err := scanSQLiteOpening(rows)
			if err != nil {
				return err
			}
			events = append(events, *e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	sortOpenings(events)
	return events, nil
}

func (s *SQLiteStore) OpeningStats(ctx context.Context) (*OpeningStats, error) {
	var st OpeningStats
	var earliest, latest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COUNT(DISTINCT location_key),
		MIN(start_time), MAX(start_time),
		(SELECT COUNT(*) FROM bridge_opening_links)
		FROM opening_events`,
	).Scan(&st.Total, &st.Locations, &earliest, &latest, &st.LinkedLocations)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: opening stats")
	}
	if st.EarliestStart, err = parseNullTime(earliest); err != nil {
		return nil, err
	}
	if st.LatestStart, err = parseNullTime(latest); err != nil {
		return nil, err
	}
	return &st, nil
}

// --- Bridges ---

func (s *SQLiteStore) UpsertBridges(ctx context.Context, bridges []model.Bridge) (UpsertResult, error) {
	var out UpsertResult
	if len(bridges) == 0 {
		return out, nil
	}
	bridges = collapseBridges(bridges)
	now := formatTime(time.Now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := tx.PrepareContext(ctx, `SELECT 1 FROM bridges WHERE osm_id = ?`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare bridge lookup")
		}
		defer exists.Close() //nolint:errcheck

		upsert, err := tx.PrepareContext(ctx, `INSERT INTO bridges
			(osm_id, name, city, latitude, longitude, bridge_type, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(osm_id) DO UPDATE SET
				name = excluded.name,
				city = excluded.city,
				bridge_type = excluded.bridge_type,
				tags = excluded.tags,
				updated_at = excluded.updated_at`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare bridge upsert")
		}
		defer upsert.Close() //nolint:errcheck

		for _, b := range bridges {
			var one int
			err := exists.QueryRowContext(ctx, b.OSMID).Scan(&one)
			switch {
			case err == nil:
				out.Updated++
			case errors.Is(err, sql.ErrNoRows):
				out.Inserted++
			default:
				return eris.Wrapf(err, "sqlite: look up bridge %s", b.OSMID)
			}

			tags, err := marshalTags(b.Tags)
			if err != nil {
				return err
			}
			if _, err := upsert.ExecContext(ctx,
				b.OSMID, b.Name, b.City, b.Latitude, b.Longitude, b.BridgeType, string(tags), now, now,
			); err != nil {
				return eris.Wrapf(err, "sqlite: upsert bridge %s", b.OSMID)
			}
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return out, nil
}

func (s *SQLiteStore) ListBridges(ctx context.Context) ([]model.Bridge, error) {
	return s.queryBridges(ctx, `SELECT `+bridgeColumns+` FROM bridges ORDER BY id`)
}

func (s *SQLiteStore) BridgesByIDs(ctx context.Context, ids []int64) ([]model.Bridge, error) {
	var out []model.Bridge
	err := chunked(ids, sqliteMaxParams, func(chunk []int64) error {
		bridges, err := s.queryBridges(ctx,
			`SELECT `+bridgeColumns+` FROM bridges WHERE id IN `+inList(len(chunk)),
			anySlice(chunk)...,
		)
		if err != nil {
			return err
		}
		out = append(out, bridges...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *SQLiteStore) UnenrichedBridges(ctx context.Context, limit int) ([]model.Bridge, error) {
	q := `SELECT ` + bridgeColumns + ` FROM bridges
		WHERE enriched_at IS NULL
		ORDER BY CASE WHEN name = '' THEN 0 ELSE 1 END, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryBridges(ctx, q, args...)
}

func (s *SQLiteStore) UpdateEnrichments(ctx context.Context, enrichments []model.Enrichment) error {
	if len(enrichments) == 0 {
		return nil
	}
	now := formatTime(time.Now())

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `UPDATE bridges SET
			street_name = ?, water_name = ?, neighborhood = ?, display_name = ?, enriched_at = ?
			WHERE id = ?`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare enrichment update")
		}
		defer stmt.Close() //nolint:errcheck

		for _, e := range enrichments {
			if _, err := stmt.ExecContext(ctx,
				e.StreetName, e.WaterName, e.Neighborhood, e.DisplayName, now, e.BridgeID,
			); err != nil {
				return eris.Wrapf(err, "sqlite: update enrichment for bridge %d", e.BridgeID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) BridgeStats(ctx context.Context) (*BridgeStats, error) {
	var st BridgeStats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN name <> '' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN enriched_at IS NOT NULL THEN 1 ELSE 0 END), 0),
		(SELECT COUNT(DISTINCT bridge_id) FROM bridge_opening_links)
		FROM bridges`,
	).Scan(&st.Total, &st.Named, &st.Enriched, &st.Linked)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: bridge stats")
	}
	return &st, nil
}

func (s *SQLiteStore) queryBridges(ctx context.Context, q string, args ...any) ([]model.Bridge, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query bridges")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Bridge
	for rows.Next() {
		b, err := scanSQLiteBridge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate bridges")
}

// --- Links ---

func (s *SQLiteStore) InsertLinks(ctx context.Context, links []model.Link) (InsertResult, error) {
	var out InsertResult
	if len(links) == 0 {
		return out, nil
	}
	now := formatTime(time.Now())

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO bridge_opening_links
			(bridge_id, opening_location_key, latitude, longitude, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare insert link")
		}
		defer stmt.Close() //nolint:errcheck

		for _, l := range links {
			res, err := stmt.ExecContext(ctx, l.BridgeID, l.LocationKey.String(), l.Latitude, l.Longitude, now)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert link %s", l.LocationKey)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return eris.Wrap(err, "sqlite: rows affected")
			}
			if n > 0 {
				out.Inserted++
			} else {
				out.Existing++
			}
		}
		return nil
	})
	if err != nil {
		return InsertResult{}, err
	}
	return out, nil
}

func (s *SQLiteStore) ListLinks(ctx context.Context) ([]model.Link, error) {
	return s.queryLinks(ctx, `SELECT bridge_id, opening_location_key, latitude, longitude, created_at
		FROM bridge_opening_links ORDER BY bridge_id, opening_location_key`)
}

func (s *SQLiteStore) LinksByBridgeIDs(ctx context.Context, ids []int64) ([]model.Link, error) {
	var out []model.Link
	err := chunked(ids, sqliteMaxParams, func(chunk []int64) error {
		links, err := s.queryLinks(ctx,
			`SELECT bridge_id, opening_location_key, latitude, longitude, created_at
			 FROM bridge_opening_links WHERE bridge_id IN `+inList(len(chunk)),
			anySlice(chunk)...,
		)
		if err != nil {
			return err
		}
		out = append(out, links...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortLinks(out)
	return out, nil
}

func (s *SQLiteStore) queryLinks(ctx context.Context, q string, args ...any) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query links")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Link
	for rows.Next() {
		var (
			l          model.Link
			key, added string
		)
		if err := rows.Scan(&l.BridgeID, &key, &l.Latitude, &l.Longitude, &added); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan link")
		}
		if l.LocationKey, err = geo.ParseLocationKey(key); err != nil {
			return nil, err
		}
		if l.CreatedAt, err = parseTime(added); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate links")
}

// --- Watchlists ---

func (s *SQLiteStore) CreateWatchlist(ctx context.Context, name, calendarToken string) (*model.Watchlist, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlists (name, calendar_token, created_at) VALUES (?, ?, ?)`,
		name, calendarToken, formatTime(now),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: create watchlist %s", name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: last insert id")
	}
	return &model.Watchlist{ID: id, Name: name, CalendarToken: calendarToken, CreatedAt: now}, nil
}

func (s *SQLiteStore) WatchlistByName(ctx context.Context, name string) (*model.Watchlist, error) {
	return s.queryWatchlist(ctx, `name = ?`, name)
}

func (s *SQLiteStore) WatchlistByToken(ctx context.Context, token string) (*model.Watchlist, error) {
	return s.queryWatchlist(ctx, `calendar_token = ?`, token)
}

func (s *SQLiteStore) queryWatchlist(ctx context.Context, where string, arg string) (*model.Watchlist, error) {
	var (
		w       model.Watchlist
		created string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, calendar_token, created_at FROM watchlists WHERE `+where, arg,
	).Scan(&w.ID, &w.Name, &w.CalendarToken, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: watchlist")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get watchlist")
	}
	if w.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLiteStore) WatchlistNameExists(ctx context.Context, name string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM watchlists WHERE name = ?`, name).Scan(&n); err != nil {
		return false, eris.Wrapf(err, "sqlite: watchlist name exists %s", name)
	}
	return n > 0, nil
}

func (s *SQLiteStore) AddWatchlistBridge(ctx context.Context, watchlistID, bridgeID int64, label string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist_bridges (watchlist_id, bridge_id, label, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(watchlist_id, bridge_id) DO NOTHING`,
		watchlistID, bridgeID, label, formatTime(time.Now()),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: add bridge %d to watchlist %d", bridgeID, watchlistID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) RemoveWatchlistBridge(ctx context.Context, watchlistID, bridgeID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM watchlist_bridges WHERE watchlist_id = ? AND bridge_id = ?`,
		watchlistID, bridgeID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: remove bridge %d from watchlist %d", bridgeID, watchlistID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) WatchlistBridges(ctx context.Context, watchlistID int64) ([]model.WatchlistBridge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, watchlist_id, bridge_id, label, created_at FROM watchlist_bridges
		 WHERE watchlist_id = ? ORDER BY id`,
		watchlistID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: watchlist bridges %d", watchlistID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WatchlistBridge
	for rows.Next() {
		var (
			wb      model.WatchlistBridge
			bridge  sql.NullInt64
			created string
		)
		if err := rows.Scan(&wb.ID, &wb.WatchlistID, &bridge, &wb.Label, &created); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan watchlist bridge")
		}
		wb.BridgeID = bridge.Int64
		if wb.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, wb)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate watchlist bridges")
}

// --- Sync log ---

func (s *SQLiteStore) StartSync(ctx context.Context, pass model.Pass) (string, error) {
	id := uuid.New().String()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (id, pass, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(pass), string(model.SyncStatusRunning), formatTime(time.Now()),
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: start sync for %s", pass)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteSync(ctx context.Context, id string, result *model.SyncResult) error {
	var rowsSynced int64
	var meta []byte
	if result != nil {
		rowsSynced = result.RowsSynced
		if result.Metadata != nil {
			var err error
			if meta, err = json.Marshal(result.Metadata); err != nil {
				return eris.Wrap(err, "sqlite: marshal sync metadata")
			}
		}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, rows_synced = ?, metadata = ? WHERE id = ?`,
		string(model.SyncStatusComplete), formatTime(time.Now()), rowsSynced, nullString(meta), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete sync %s", id)
	}
	return checkRowsAffected(res, "sync run", id)
}

func (s *SQLiteStore) FailSync(ctx context.Context, id string, syncErr error) error {
	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		string(model.SyncStatusFailed), formatTime(time.Now()), msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail sync %s", id)
	}
	return checkRowsAffected(res, "sync run", id)
}

func (s *SQLiteStore) ListSyncs(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pass, status, started_at, completed_at, rows_synced, error, metadata
		 FROM sync_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list syncs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SyncRun
	for rows.Next() {
		var (
			r                model.SyncRun
			pass, status     string
			started          string
			completed, metaS sql.NullString
		)
		if err := rows.Scan(&r.ID, &pass, &status, &started, &completed, &r.RowsSynced, &r.Error, &metaS); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sync run")
		}
		r.Pass = model.Pass(pass)
		r.Status = model.SyncStatus(status)
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseNullTime(completed); err != nil {
			return nil, err
		}
		if metaS.Valid && metaS.String != "" {
			if err := json.Unmarshal([]byte(metaS.String), &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal sync metadata")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate syncs")
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteOpening(row scannable) (*model.OpeningEvent, error) {
	var (
		e                                   model.OpeningEvent
		start, end, creation, version, made string
	)
	if err := row.Scan(&e.ID, &e.IdentityKey, &e.SourceRecordID, &e.Version, &e.Latitude, &e.Longitude,
		&start, &end, &creation, &version, &e.Source, &e.Status, &made); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan opening")
	}
	var err error
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&e.StartTime, start}, {&e.EndTime, end}, {&e.CreationTime, creation},
		{&e.VersionTime, version}, {&e.CreatedAt, made},
	} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func scanSQLiteBridge(row scannable) (*model.Bridge, error) {
	var (
		b                model.Bridge
		tags             string
		enriched         sql.NullString
		created, updated string
	)
	if err := row.Scan(&b.ID, &b.OSMID, &b.Name, &b.City, &b.Latitude, &b.Longitude, &b.BridgeType, &tags,
		&b.StreetName, &b.WaterName, &b.Neighborhood, &b.DisplayName, &enriched, &created, &updated); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan bridge")
	}
	if err := unmarshalTags([]byte(tags), &b.Tags); err != nil {
		return nil, err
	}
	var err error
	if b.EnrichedAt, err = parseNullTime(enriched); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if b.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &b, nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// inList returns a parenthesized list of n "?" placeholders.
func inList(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func anySlice[T any](xs []T) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse time %q", s)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
