package main

import (
	"context"

	"github.com/sells-group/tankindex/internal/checkpoint"
)

// initStore opens and migrates the checkpoint database.
func initStore(ctx context.Context) (*checkpoint.SQLiteStore, error) {
	st, err := checkpoint.NewSQLite(cfg.Paths.CheckpointDB)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
