package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/campusdesk/campusdesk/pkg/stores"
)

// ExampleNewSQLiteBackend demonstrates opening an in-memory SQLite backend.
func ExampleNewSQLiteBackend() {
	store, err := stores.NewSQLiteBackend(stores.SQLiteConfig{
		Path: ":memory:", // Use in-memory database for example
	})
	if err != nil {
		log.Fatal(err)
	}

	// Open connects and runs migrations
	ctx := context.Background()
	if err := store.Open(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleMemoryBackend_InsertRecord demonstrates storing and reading a record.
func ExampleMemoryBackend_InsertRecord() {
	store := stores.NewMemoryBackend()
	ctx := context.Background()

	err := store.InsertRecord(ctx, "professors", &stores.Record{
		Key:    "P001",
		Fields: map[string]string{"name": "Dr. Kim", "department": "Physics"},
	})
	if err != nil {
		log.Fatal(err)
	}

	rec, err := store.GetRecord(ctx, "professors", "P001")
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("%s: %s (%s)\n", rec.Key, rec.Fields["name"], rec.Fields["department"])
	// Output: P001: Dr. Kim (Physics)
}

// ExampleMemoryBackend_AppendScores demonstrates score history storage.
func ExampleMemoryBackend_AppendScores() {
	store := stores.NewMemoryBackend()
	ctx := context.Background()

	_ = store.AppendScores(ctx, []*stores.ScoreEntry{
		{Collection: "students", Key: "S1", Subject: "Math", Value: 88},
		{Collection: "students", Key: "S1", Subject: "Physics", Value: 92},
	})

	entries, _ := store.ListScores(ctx, stores.ScoreFilter{Collection: "students", Key: "S1"})
	for _, e := range entries {
		fmt.Printf("#%d %s=%.0f\n", e.Seq, e.Subject, e.Value)
	}
	// Output:
	// #1 Math=88
	// #2 Physics=92
}
