package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteBackend implements Backend using a single SQLite database file.
//
// Tables:
//
//	records(seq, collection, record_key, fields, created_at, updated_at)  UNIQUE (collection, record_key)
//	scores(seq, collection, record_key, subject, value, recorded_at)
type SQLiteBackend struct {
	db   *sql.DB
	path string
	cfg  SQLiteConfig
}

// SQLiteConfig holds SQLite backend configuration.
type SQLiteConfig struct {
	Path            string
	BusyTimeout     time.Duration
	ConnMaxLifetime time.Duration
}

// NewSQLiteBackend creates a new SQLite backend instance. Call Open before use.
func NewSQLiteBackend(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteBackend{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Name returns the backend name.
func (s *SQLiteBackend) Name() string { return "sqlite" }

// Open opens the database, sets PRAGMAs and runs migrations.
func (s *SQLiteBackend) Open(ctx context.Context) error {
	if s.path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.cfg.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	s.db = db
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteBackend) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteBackend) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection
func (s *SQLiteBackend) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Backup writes a consistent copy of the database to dest using VACUUM INTO.
func (s *SQLiteBackend) Backup(ctx context.Context, dest string) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	query := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(dest, "'", "''"))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to back up database: %w", err)
	}
	return nil
}

// InsertRecord creates a new record
func (s *SQLiteBackend) InsertRecord(ctx context.Context, collection string, rec *Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	now := time.Now().UTC()
	created := rec.CreatedAt
	if created.IsZero() {
		created = now
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = created
	}

	query := `
		INSERT INTO records (collection, record_key, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, record_key) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		collection,
		rec.Key,
		string(fields),
		created.UnixNano(),
		updated.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, rec.Key)
	}

	return nil
}

// GetRecord retrieves a record by key
func (s *SQLiteBackend) GetRecord(ctx context.Context, collection, key string) (*Record, error) {
	query := `
		SELECT record_key, fields, created_at, updated_at
		FROM records
		WHERE collection = ? AND record_key = ?
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, collection, key))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return rec, nil
}

// ReplaceRecord overwrites the fields of an existing record
func (s *SQLiteBackend) ReplaceRecord(ctx context.Context, collection string, rec *Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	query := `
		UPDATE records
		SET fields = ?, updated_at = ?
		WHERE collection = ? AND record_key = ?
	`

	result, err := s.db.ExecContext(ctx, query, string(fields), updated.UnixNano(), collection, rec.Key)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, rec.Key)
	}

	return nil
}

// DeleteRecord deletes a record
func (s *SQLiteBackend) DeleteRecord(ctx context.Context, collection, key string) error {
	query := `DELETE FROM records WHERE collection = ? AND record_key = ?`

	result, err := s.db.ExecContext(ctx, query, collection, key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}

	return nil
}

// ListRecords lists the records of a collection in insertion order
func (s *SQLiteBackend) ListRecords(ctx context.Context, collection string) ([]*Record, error) {
	query := `
		SELECT record_key, fields, created_at, updated_at
		FROM records
		WHERE collection = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// DeleteRecordsWhere deletes every record of a collection whose field equals value
func (s *SQLiteBackend) DeleteRecordsWhere(ctx context.Context, collection, field, value string) (int64, error) {
	query := `DELETE FROM records WHERE collection = ? AND json_extract(fields, ?) = ?`

	path := fmt.Sprintf(`$."%s"`, strings.ReplaceAll(field, `"`, `\"`))
	result, err := s.db.ExecContext(ctx, query, collection, path, value)
	if err != nil {
		return 0, fmt.Errorf("failed to delete dependent records: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// AppendScores inserts score entries in a single transaction
func (s *SQLiteBackend) AppendScores(ctx context.Context, entries []*ScoreEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `
		INSERT INTO scores (collection, record_key, subject, value, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`

	for _, e := range entries {
		result, err := tx.ExecContext(ctx, query, e.Collection, e.Key, e.Subject, e.Value, e.RecordedAt.UnixNano())
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to append score: %w", err)
		}
		if id, err := result.LastInsertId(); err == nil {
			e.Seq = id
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scores: %w", err)
	}

	return nil
}

// ListScores lists score entries matching the filter in insertion order
func (s *SQLiteBackend) ListScores(ctx context.Context, filter ScoreFilter) ([]*ScoreEntry, error) {
	query := `
		SELECT seq, collection, record_key, subject, value, recorded_at
		FROM scores
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Collection != "" {
		query += " AND collection = ?"
		args = append(args, filter.Collection)
	}
	if filter.Key != "" {
		query += " AND record_key = ?"
		args = append(args, filter.Key)
	}
	if filter.Subject != "" {
		query += " AND subject = ?"
		args = append(args, filter.Subject)
	}

	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}
	defer rows.Close()

	entries := []*ScoreEntry{}
	for rows.Next() {
		e := &ScoreEntry{}
		var recordedAt int64
		if err := rows.Scan(&e.Seq, &e.Collection, &e.Key, &e.Subject, &e.Value, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan score: %w", err)
		}
		e.RecordedAt = time.Unix(0, recordedAt).UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating scores: %w", err)
	}

	return entries, nil
}

// DeleteScores deletes the score history of a record key
func (s *SQLiteBackend) DeleteScores(ctx context.Context, collection, key string) (int64, error) {
	query := `DELETE FROM scores WHERE collection = ? AND record_key = ?`

	result, err := s.db.ExecContext(ctx, query, collection, key)
	if err != nil {
		return 0, fmt.Errorf("failed to delete scores: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	rec := &Record{}
	var fields string
	var createdAt, updatedAt int64
	if err := row.Scan(&rec.Key, &fields, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}
