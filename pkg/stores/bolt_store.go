package stores

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltScoresBucket = []byte("scores")

// BoltConfig holds bbolt backend configuration.
type BoltConfig struct {
	Path        string
	OpenTimeout time.Duration
}

// BoltBackend implements Backend using bbolt (embedded B+ tree).
//
// Buckets:
//
//	records/<collection>  key -> JSON boltRecord
//	scores                big-endian seq -> JSON ScoreEntry
type BoltBackend struct {
	cfg BoltConfig
	db  *bolt.DB
}

type boltRecord struct {
	Seq    uint64  `json:"seq"`
	Record *Record `json:"record"`
}

// NewBoltBackend creates a bbolt backend. Call Open before use.
func NewBoltBackend(cfg BoltConfig) (*BoltBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = time.Second
	}
	return &BoltBackend{cfg: cfg}, nil
}

// Name returns the backend name.
func (s *BoltBackend) Name() string { return "bolt" }

// Open creates or opens the bbolt database file.
func (s *BoltBackend) Open(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("creating bolt directory: %w", err)
	}

	timeout := s.cfg.OpenTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("opening bolt db: %w", context.DeadlineExceeded)
	}

	db, err := bolt.Open(s.cfg.Path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("opening bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltScoresBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating bucket: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database file.
func (s *BoltBackend) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// HealthCheck verifies the database can start a read transaction.
func (s *BoltBackend) HealthCheck(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("bolt db not open")
	}
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func recordsBucket(collection string) []byte {
	return []byte("records/" + collection)
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

// InsertRecord stores a new record.
func (s *BoltBackend) InsertRecord(_ context.Context, collection string, rec *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(recordsBucket(collection))
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		if b.Get([]byte(rec.Key)) != nil {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, rec.Key)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}

		stored := rec.Clone()
		now := time.Now().UTC()
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = now
		}
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = stored.CreatedAt
		}

		data, err := json.Marshal(boltRecord{Seq: seq, Record: stored})
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		return b.Put([]byte(rec.Key), data)
	})
}

// GetRecord returns a record or ErrNotFound.
func (s *BoltBackend) GetRecord(_ context.Context, collection, key string) (*Record, error) {
	var out *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		if b == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
		}
		v := b.Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
		}
		var br boltRecord
		if err := json.Unmarshal(v, &br); err != nil {
			return fmt.Errorf("decoding record: %w", err)
		}
		out = br.Record
		return nil
	})
	return out, err
}

// ReplaceRecord overwrites the fields of an existing record.
func (s *BoltBackend) ReplaceRecord(_ context.Context, collection string, rec *Record) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		if b == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, rec.Key)
		}
		v := b.Get([]byte(rec.Key))
		if v == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, rec.Key)
		}
		var br boltRecord
		if err := json.Unmarshal(v, &br); err != nil {
			return fmt.Errorf("decoding record: %w", err)
		}

		stored := rec.Clone()
		stored.CreatedAt = br.Record.CreatedAt
		if stored.UpdatedAt.IsZero() {
			stored.UpdatedAt = time.Now().UTC()
		}
		br.Record = stored

		data, err := json.Marshal(br)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		return b.Put([]byte(rec.Key), data)
	})
}

// DeleteRecord removes a record or returns ErrNotFound.
func (s *BoltBackend) DeleteRecord(_ context.Context, collection, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		if b == nil || b.Get([]byte(key)) == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
		}
		return b.Delete([]byte(key))
	})
}

// ListRecords returns every record of a collection in insertion order.
func (s *BoltBackend) ListRecords(_ context.Context, collection string) ([]*Record, error) {
	var entries []boltRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var br boltRecord
			if err := json.Unmarshal(v, &br); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
			entries = append(entries, br)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	out := make([]*Record, 0, len(entries))
	for _, br := range entries {
		out = append(out, br.Record)
	}
	return out, nil
}

// DeleteRecordsWhere removes every record whose field equals value.
func (s *BoltBackend) DeleteRecordsWhere(_ context.Context, collection, field, value string) (int64, error) {
	var removed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(recordsBucket(collection))
		if b == nil {
			return nil
		}
		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var br boltRecord
			if err := json.Unmarshal(v, &br); err != nil {
				return fmt.Errorf("decoding record: %w", err)
			}
			if br.Record.Field(field) == value {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// AppendScores appends score entries in one transaction.
func (s *BoltBackend) AppendScores(_ context.Context, entries []*ScoreEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltScoresBucket)
		for _, e := range entries {
			seq, err := b.NextSequence()
			if err != nil {
				return fmt.Errorf("allocating sequence: %w", err)
			}
			e.Seq = int64(seq)
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding score: %w", err)
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListScores returns matching score entries in insertion order.
func (s *BoltBackend) ListScores(_ context.Context, filter ScoreFilter) ([]*ScoreEntry, error) {
	out := []*ScoreEntry{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltScoresBucket).ForEach(func(_, v []byte) error {
			e := &ScoreEntry{}
			if err := json.Unmarshal(v, e); err != nil {
				return fmt.Errorf("decoding score: %w", err)
			}
			if filter.Matches(e) {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// DeleteScores removes the score history of a record key.
func (s *BoltBackend) DeleteScores(_ context.Context, collection, key string) (int64, error) {
	var removed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltScoresBucket)
		var doomed [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e ScoreEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding score: %w", err)
			}
			if e.Collection == collection && e.Key == key {
				doomed = append(doomed, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range doomed {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}
