package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tamarack-research/surveyqc/internal/store"
)

// initStore opens the run-history store for the configured driver.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "surveyqc.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openHistory opens and migrates the run-history store for the report
// command. Run history never gates the batch, so any failure here downgrades
// to a warning and the pipeline runs without it.
func openHistory(ctx context.Context) store.Store {
	st, err := initStore(ctx)
	if err != nil {
		zap.L().Warn("run history unavailable, proceeding without it", zap.Error(err))
		return nil
	}
	if err := st.Migrate(ctx); err != nil {
		zap.L().Warn("run history migration failed, proceeding without it", zap.Error(err))
		_ = st.Close()
		return nil
	}
	return st
}
