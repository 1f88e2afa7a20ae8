package commands

import (
	"context"
	"fmt"

	"github.com/alphapipe/alphapipe/pkg/stores"
)

// openStore opens, initializes, and migrates the bar database named by the
// --db flag. The caller owns the returned store and must Close it.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database %s: %w", dbPath, err)
	}
	return store, nil
}
