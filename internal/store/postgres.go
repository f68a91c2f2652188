package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bridgeping/internal/db"
	"github.com/sells-group/bridgeping/internal/geo"
	"github.com/sells-group/bridgeping/internal/model"
)

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 7206417

var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller keeps ownership.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate applies every embedded PostgreSQL migration not yet recorded in
// schema_migrations, under an advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration advisory lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.Name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.Name))
		err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return eris.Wrapf(err, "postgres: apply migration %s", m.Name)
			}
			if _, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())", m.Name,
			); err != nil {
				return eris.Wrapf(err, "postgres: record migration %s", m.Name)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Opening events ---

var openingUpsert = db.UpsertConfig{
	Table: "opening_events",
	Columns: []string{
		"record_id", "source_record_id", "version", "latitude", "longitude", "location_key",
		"start_time", "end_time", "creation_time", "version_time", "source", "status",
	},
	ConflictKeys: []string{"record_id"},
	DoNothing:    true,
}

func (s *PostgresStore) InsertOpenings(ctx context.Context, events []model.OpeningEvent) (InsertResult, error) {
	if len(events) == 0 {
		return InsertResult{}, nil
	}

	unique := make(map[string]bool, len(events))
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		unique[e.IdentityKey] = true
		rows = append(rows, []any{
			e.IdentityKey, e.SourceRecordID, e.Version, e.Latitude, e.Longitude, e.LocationKey().String(),
			e.StartTime.UTC(), e.EndTime.UTC(), e.CreationTime.UTC(), e.VersionTime.UTC(), e.Source, e.Status,
		})
	}

	var inserted int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		inserted, err = db.BulkUpsert(ctx, tx, openingUpsert, rows)
		return err
	})
	if err != nil {
		return InsertResult{}, eris.Wrap(err, "postgres: insert openings")
	}
	return InsertResult{Inserted: int(inserted), Existing: len(events) - int(inserted)}, nil
}

func (s *PostgresStore) DistinctOpeningLocations(ctx context.Context) ([]geo.LocationKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT location_key FROM opening_events`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct opening locations")
	}
	defer rows.Close()

	var keys []geo.LocationKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan location key")
		}
		k, err := geo.ParseLocationKey(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate location keys")
	}
	sortKeys(keys)
	return keys, nil
}

func (s *PostgresStore) OpeningsByLocationKeys(ctx context.Context, keys []geo.LocationKey, from, to time.Time) ([]model.OpeningEvent, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+openingColumns+` FROM opening_events
		 WHERE location_key = ANY($1) AND start_time >= $2 AND start_time < $3
		 ORDER BY start_time, id`,
		keyStrings(keys), from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: openings by location keys")
	}
	defer rows.Close()

	var events []model.OpeningEvent
	for rows.Next() {
		var e model.OpeningEvent
		if err := rows.Scan(&e.ID, &e.IdentityKey, &e.SourceRecordID, &e.Version, &e.Latitude, &e.Longitude,
			&e.StartTime, &e.EndTime, &e.CreationTime, &e.VersionTime, &e.Source, &e.Status, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opening")
		}
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: iterate openings")
}

func (s *PostgresStore) OpeningStats(ctx context.Context) (*OpeningStats, error) {
	var st OpeningStats
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(DISTINCT location_key),
		MIN(start_time), MAX(start_time),
		(SELECT COUNT(*) FROM bridge_opening_links)
		FROM opening_events`,
	).Scan(&st.Total, &st.Locations, &st.EarliestStart, &st.LatestStart, &st.LinkedLocations)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: opening stats")
	}
	return &st, nil
}

// --- Bridges ---

var bridgeUpsert = db.UpsertConfig{
	Table:        "bridges",
	Columns:      []string{"osm_id", "name", "city", "latitude", "longitude", "bridge_type", "tags", "updated_at"},
	ConflictKeys: []string{"osm_id"},
	UpdateCols:   []string{"name", "city", "bridge_type", "tags", "updated_at"},
}

func (s *PostgresStore) UpsertBridges(ctx context.Context, bridges []model.Bridge) (UpsertResult, error) {
	if len(bridges) == 0 {
		return UpsertResult{}, nil
	}
	bridges = collapseBridges(bridges)
	now := time.Now().UTC()

	ids := make([]string, len(bridges))
	rows := make([][]any, len(bridges))
	for i, b := range bridges {
		tags, err := marshalTags(b.Tags)
		if err != nil {
			return UpsertResult{}, err
		}
		ids[i] = b.OSMID
		rows[i] = []any{b.OSMID, b.Name, b.City, b.Latitude, b.Longitude, b.BridgeType, tags, now}
	}

	var existing int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM bridges WHERE osm_id = ANY($1)`, ids,
		).Scan(&existing); err != nil {
			return eris.Wrap(err, "postgres: count existing bridges")
		}
		_, err := db.BulkUpsert(ctx, tx, bridgeUpsert, rows)
		return err
	})
	if err != nil {
		return UpsertResult{}, eris.Wrap(err, "postgres: upsert bridges")
	}
	return UpsertResult{Inserted: len(bridges) - int(existing), Updated: int(existing)}, nil
}

func (s *PostgresStore) ListBridges(ctx context.Context) ([]model.Bridge, error) {
	return s.queryBridges(ctx, `SELECT `+bridgeColumns+` FROM bridges ORDER BY id`)
}

func (s *PostgresStore) BridgesByIDs(ctx context.Context, ids []int64) ([]model.Bridge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryBridges(ctx, `SELECT `+bridgeColumns+` FROM bridges WHERE id = ANY($1) ORDER BY id`, ids)
}

func (s *PostgresStore) UnenrichedBridges(ctx context.Context, limit int) ([]model.Bridge, error) {
	q := `SELECT ` + bridgeColumns + ` FROM bridges
		WHERE enriched_at IS NULL
		ORDER BY CASE WHEN name = '' THEN 0 ELSE 1 END, id`
	var args []any
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	return s.queryBridges(ctx, q, args...)
}

func (s *PostgresStore) UpdateEnrichments(ctx context.Context, enrichments []model.Enrichment) error {
	if len(enrichments) == 0 {
		return nil
	}
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, e := range enrichments {
			if _, err := tx.Exec(ctx,
				`UPDATE bridges SET street_name = $1, water_name = $2, neighborhood = $3,
				 display_name = $4, enriched_at = now() WHERE id = $5`,
				e.StreetName, e.WaterName, e.Neighborhood, e.DisplayName, e.BridgeID,
			); err != nil {
				return eris.Wrapf(err, "postgres: update enrichment for bridge %d", e.BridgeID)
			}
		}
		return nil
	})
}

func (s *PostgresStore) BridgeStats(ctx context.Context) (*BridgeStats, error) {
	var st BridgeStats
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*),
		COUNT(*) FILTER (WHERE name <> ''),
		COUNT(*) FILTER (WHERE enriched_at IS NOT NULL),
		(SELECT COUNT(DISTINCT bridge_id) FROM bridge_opening_links)
		FROM bridges`,
	).Scan(&st.Total, &st.Named, &st.Enriched, &st.Linked)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: bridge stats")
	}
	return &st, nil
}

func (s *PostgresStore) queryBridges(ctx context.Context, q string, args ...any) ([]model.Bridge, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query bridges")
	}
	defer rows.Close()

	var out []model.Bridge
	for rows.Next() {
		var (
			b    model.Bridge
			tags []byte
		)
		if err := rows.Scan(&b.ID, &b.OSMID, &b.Name, &b.City, &b.Latitude, &b.Longitude, &b.BridgeType, &tags,
			&b.StreetName, &b.WaterName, &b.Neighborhood, &b.DisplayName, &b.EnrichedAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan bridge")
		}
		if err := unmarshalTags(tags, &b.Tags); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate bridges")
}

// --- Links ---

var linkInsert = db.UpsertConfig{
	Table:     "bridge_opening_links",
	Columns:   []string{"bridge_id", "opening_location_key", "latitude", "longitude"},
	DoNothing: true,
}

func (s *PostgresStore) InsertLinks(ctx context.Context, links []model.Link) (InsertResult, error) {
	if len(links) == 0 {
		return InsertResult{}, nil
	}
	rows := make([][]any, len(links))
	for i, l := range links {
		rows[i] = []any{l.BridgeID, l.LocationKey.String(), l.Latitude, l.Longitude}
	}

	var inserted int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		inserted, err = db.BulkUpsert(ctx, tx, linkInsert, rows)
		return err
	})
	if err != nil {
		return InsertResult{}, eris.Wrap(err, "postgres: insert links")
	}
	return InsertResult{Inserted: int(inserted), Existing: len(links) - int(inserted)}, nil
}

func (s *PostgresStore) ListLinks(ctx context.Context) ([]model.Link, error) {
	return s.queryLinks(ctx, `SELECT bridge_id, opening_location_key, latitude, longitude, created_at
		FROM bridge_opening_links ORDER BY bridge_id, opening_location_key`)
}

func (s *PostgresStore) LinksByBridgeIDs(ctx context.Context, ids []int64) ([]model.Link, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryLinks(ctx, `SELECT bridge_id, opening_location_key, latitude, longitude, created_at
		FROM bridge_opening_links WHERE bridge_id = ANY($1)`, ids)
}

func (s *PostgresStore) queryLinks(ctx context.Context, q string, args ...any) ([]model.Link, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query links")
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		var (
			l   model.Link
			key string
		)
		if err := rows.Scan(&l.BridgeID, &key, &l.Latitude, &l.Longitude, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan link")
		}
		if l.LocationKey, err = geo.ParseLocationKey(key); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate links")
	}
	sortLinks(out)
	return out, nil
}

// --- Watchlists ---

func (s *PostgresStore) CreateWatchlist(ctx context.Context, name, calendarToken string) (*model.Watchlist, error) {
	w := model.Watchlist{Name: name, CalendarToken: calendarToken}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO watchlists (name, calendar_token) VALUES ($1, $2) RETURNING id, created_at`,
		name, calendarToken,
	).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: create watchlist %s", name)
	}
	return &w, nil
}

func (s *PostgresStore) WatchlistByName(ctx context.Context, name string) (*model.Watchlist, error) {
	return s.queryWatchlist(ctx, `name = $1`, name)
}

func (s *PostgresStore) WatchlistByToken(ctx context.Context, token string) (*model.Watchlist, error) {
	return s.queryWatchlist(ctx, `calendar_token = $1`, token)
}

func (s *PostgresStore) queryWatchlist(ctx context.Context, where string, arg string) (*model.Watchlist, error) {
	var w model.Watchlist
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, calendar_token, created_at FROM watchlists WHERE `+where, arg,
	).Scan(&w.ID, &w.Name, &w.CalendarToken, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "postgres: watchlist")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get watchlist")
	}
	return &w, nil
}

func (s *PostgresStore) WatchlistNameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM watchlists WHERE name = $1)`, name,
	).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "postgres: watchlist name exists %s", name)
	}
	return exists, nil
}

func (s *PostgresStore) AddWatchlistBridge(ctx context.Context, watchlistID, bridgeID int64, label string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist_bridges (watchlist_id, bridge_id, label) VALUES ($1, $2, $3)
		 ON CONFLICT (watchlist_id, bridge_id) DO NOTHING`,
		watchlistID, bridgeID, label,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: add bridge %d to watchlist %d", bridgeID, watchlistID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RemoveWatchlistBridge(ctx context.Context, watchlistID, bridgeID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist_bridges WHERE watchlist_id = $1 AND bridge_id = $2`,
		watchlistID, bridgeID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: remove bridge %d from watchlist %d", bridgeID, watchlistID)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) WatchlistBridges(ctx context.Context, watchlistID int64) ([]model.WatchlistBridge, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, watchlist_id, COALESCE(bridge_id, 0), label, created_at FROM watchlist_bridges
		 WHERE watchlist_id = $1 ORDER BY id`,
		watchlistID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: watchlist bridges %d", watchlistID)
	}
	defer rows.Close()

	var out []model.WatchlistBridge
	for rows.Next() {
		var wb model.WatchlistBridge
		if err := rows.Scan(&wb.ID, &wb.WatchlistID, &wb.BridgeID, &wb.Label, &wb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan watchlist bridge")
		}
		out = append(out, wb)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate watchlist bridges")
}

// --- Sync log ---

func (s *PostgresStore) StartSync(ctx context.Context, pass model.Pass) (string, error) {
	id := uuid.New().String()
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, pass, status, started_at) VALUES ($1, $2, $3, now())`,
		id, string(pass), string(model.SyncStatusRunning),
	); err != nil {
		return "", eris.Wrapf(err, "postgres: start sync for %s", pass)
	}
	return id, nil
}

func (s *PostgresStore) CompleteSync(ctx context.Context, id string, result *model.SyncResult) error {
	var rowsSynced int64
	var meta []byte
	if result != nil {
		rowsSynced = result.RowsSynced
		if result.Metadata != nil {
			var err error
			if meta, err = json.Marshal(result.Metadata); err != nil {
				return eris.Wrap(err, "postgres: marshal sync metadata")
			}
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = now(), rows_synced = $2, metadata = $3 WHERE id = $4`,
		string(model.SyncStatusComplete), rowsSynced, meta, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "sync run %s", id)
	}
	return nil
}

func (s *PostgresStore) FailSync(ctx context.Context, id string, syncErr error) error {
	msg := ""
	if syncErr != nil {
		msg = syncErr.Error()
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sync_runs SET status = $1, completed_at = now(), error = $2 WHERE id = $3`,
		string(model.SyncStatusFailed), msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail sync %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "sync run %s", id)
	}
	return nil
}

func (s *PostgresStore) ListSyncs(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, pass, status, started_at, completed_at, rows_synced, error, metadata
		 FROM sync_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list syncs")
	}
	defer rows.Close()

	var out []model.SyncRun
	for rows.Next() {
		var (
			r            model.SyncRun
			pass, status string
			meta         []byte
		)
		if err := rows.Scan(&r.ID, &pass, &status, &r.StartedAt, &r.CompletedAt, &r.RowsSynced, &r.Error, &meta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sync run")
		}
		r.Pass = model.Pass(pass)
		r.Status = model.SyncStatus(status)
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &r.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal sync metadata")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate syncs")
}
