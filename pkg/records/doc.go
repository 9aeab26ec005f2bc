// Package records implements the record store: CRUD, filtering, sorting and
// score aggregation over string-keyed record collections, independent of the
// physical backend.
//
// A Store runs on exactly one of two backends at a time. Initialize probes
// the primary (remote) backend with a short timeout; if the probe fails the
// store runs on its in-process local backend. Any later backend failure on
// the primary switches the store to local for the rest of the process and the
// failing operation is re-run against local state. Data-integrity errors
// (duplicate key, not found, validation) are always returned to the caller.
//
//	store := records.New(records.Options{Primary: mongo})
//	mode, _ := store.Initialize(ctx)
//	rec, err := store.UpsertRecord(ctx, "students", "S001", fields)
//	avg, err := store.AverageForKey(ctx, "students", "S001")
package records
