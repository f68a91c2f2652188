package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/bridgeping/internal/model"
	"github.com/sells-group/bridgeping/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "bridgeping.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and brings the schema up to date.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// passFunc runs one batch pass and reports what it did.
type passFunc func(ctx context.Context) (*model.SyncResult, error)

// recordPass wraps fn in a sync log entry. A failed or interrupted pass is
// still marked failed when ctx is already cancelled.
func recordPass(ctx context.Context, st store.Store, pass model.Pass, fn passFunc) error {
	log := zap.L().With(zap.String("pass", string(pass)))

	id, err := st.StartSync(ctx, pass)
	if err != nil {
		return err
	}

	res, runErr := fn(ctx)
	if runErr != nil {
		if err := st.FailSync(context.WithoutCancel(ctx), id, runErr); err != nil {
			log.Warn("record failed pass", zap.String("sync_id", id), zap.Error(err))
		}
		return runErr
	}

	if err := st.CompleteSync(ctx, id, res); err != nil {
		return err
	}
	log.Info("pass complete", zap.String("sync_id", id), zap.Int64("rows_synced", res.RowsSynced))
	return nil
}
