// Package stores provides the persistence backends behind the campusdesk
// Record Store. It includes an in-process memory backend used as the local
// fallback, a MongoDB document-store backend, a SQLite backend with WAL mode
// and embedded migrations, and a bbolt single-file backend. All of them
// implement Backend with the same record and score semantics.
package stores
