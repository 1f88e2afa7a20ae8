package stores_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alphapipe/alphapipe/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	dir, err := os.MkdirTemp("", "alphapipe-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            filepath.Join(dir, "bars.db"),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	// Initialize the database connection
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	// Store is now ready to use
	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_UpsertBars demonstrates ingesting CSV bars and reading
// a pricing window back.
func ExampleSQLiteStore_UpsertBars() {
	dir, err := os.MkdirTemp("", "alphapipe-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(dir, "bars.db"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	csvData := `date,asset,open,high,low,close,volume
2024-01-02,ACME,99,105,95,100,1000
2024-01-03,ACME,100,108,98,104,1500
`
	bars, err := stores.ReadBarsCSV(strings.NewReader(csvData))
	if err != nil {
		log.Fatal(err)
	}
	if err := store.UpsertBars(ctx, bars); err != nil {
		log.Fatal(err)
	}

	sessions, err := store.Sessions(ctx)
	if err != nil {
		log.Fatal(err)
	}
	frame, err := store.GetWindow(ctx, "close", sessions, []string{"ACME"})
	if err != nil {
		log.Fatal(err)
	}
	for i, sess := range sessions {
		fmt.Printf("%s %g\n", sess.Format("2006-01-02"), frame.At(i, 0))
	}
	// Output:
	// 2024-01-02 100
	// 2024-01-03 104
}
