package stores

import (
	"context"
	"errors"
	"time"
)

// Domain errors shared by every backend. Any other error returned by a
// Backend is treated as a backend (connectivity) failure by the caller.
var (
	ErrDuplicateKey = errors.New("record key already exists")
	ErrNotFound     = errors.New("record not found")
)

// IsDomainError reports whether err is one of the backend domain errors.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrNotFound)
}

// Record is a single keyed entry in a collection.
type Record struct {
	Key       string            `json:"key"`
	Fields    map[string]string `json:"fields"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	return &out
}

// Field returns the value of a field, or "" if unset.
func (r *Record) Field(name string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// ScoreEntry is one recorded score for a record key and subject.
type ScoreEntry struct {
	Seq        int64     `json:"seq"`
	Collection string    `json:"collection"`
	Key        string    `json:"key"`
	Subject    string    `json:"subject"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ScoreFilter selects score entries. Empty fields match everything.
type ScoreFilter struct {
	Collection string
	Key        string
	Subject    string
}

// Matches reports whether the entry satisfies the filter.
func (f ScoreFilter) Matches(e *ScoreEntry) bool {
	if f.Collection != "" && e.Collection != f.Collection {
		return false
	}
	if f.Key != "" && e.Key != f.Key {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	return true
}

// Backend defines the interface every persistence backend implements.
//
// Records are returned in insertion order. Score entries are returned in
// insertion order with Seq set.
type Backend interface {
	// Lifecycle
	Name() string
	Open(ctx context.Context) error
	Close() error
	HealthCheck(ctx context.Context) error

	// Record operations
	InsertRecord(ctx context.Context, collection string, rec *Record) error
	GetRecord(ctx context.Context, collection, key string) (*Record, error)
	ReplaceRecord(ctx context.Context, collection string, rec *Record) error
	DeleteRecord(ctx context.Context, collection, key string) error
	ListRecords(ctx context.Context, collection string) ([]*Record, error)
	DeleteRecordsWhere(ctx context.Context, collection, field, value string) (int64, error)

	// Score operations
	AppendScores(ctx context.Context, entries []*ScoreEntry) error
	ListScores(ctx context.Context, filter ScoreFilter) ([]*ScoreEntry, error)
	DeleteScores(ctx context.Context, collection, key string) (int64, error)
}
