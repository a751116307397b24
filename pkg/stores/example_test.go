package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/capstan/pkg/engine"
	"github.com/openfroyo/capstan/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a journal.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            ":memory:", // Use in-memory database for example
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
	fmt.Println("Journal initialized successfully")
	// Output: Journal initialized successfully
}

// ExampleSQLiteStore_RecordResolution demonstrates journaling one
// resolution outcome.
func ExampleSQLiteStore_RecordResolution() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	sessionID, _ := store.StartSession(ctx, "session-001")

	err := store.RecordResolution(ctx, engine.ResolutionRecord{
		SessionID:  sessionID,
		Capability: "kvp",
		TargetID:   "vm-01",
		Variant:    "kvp-compiled",
		Outcome:    "resolved",
		DurationMS: 420,
	})
	if err != nil {
		log.Fatal(err)
	}

	resolutions, _ := store.ListResolutions(ctx, sessionID, 10, 0)
	fmt.Printf("%s via %s\n", resolutions[0].Capability, resolutions[0].Variant)
	// Output: kvp via kvp-compiled
}
