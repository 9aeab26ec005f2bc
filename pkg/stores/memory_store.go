package stores

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBackend keeps everything in process memory. Data is lost when the
// process exits. Safe for concurrent use.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	scores      []*ScoreEntry
	scoreSeq    int64
}

type memCollection struct {
	records map[string]*Record
	order   []string
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]*memCollection),
	}
}

// Name returns the backend name.
func (m *MemoryBackend) Name() string { return "memory" }

// Open is a no-op for the memory backend.
func (m *MemoryBackend) Open(_ context.Context) error { return nil }

// Close is a no-op for the memory backend.
func (m *MemoryBackend) Close() error { return nil }

// HealthCheck always succeeds.
func (m *MemoryBackend) HealthCheck(_ context.Context) error { return nil }

func (m *MemoryBackend) collection(name string, create bool) *memCollection {
	c, ok := m.collections[name]
	if !ok && create {
		c = &memCollection{records: make(map[string]*Record)}
		m.collections[name] = c
	}
	return c
}

// InsertRecord stores a new record. Fails with ErrDuplicateKey if the key exists.
func (m *MemoryBackend) InsertRecord(_ context.Context, collection string, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection, true)
	if _, exists := c.records[rec.Key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, rec.Key)
	}

	stored := rec.Clone()
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	c.records[rec.Key] = stored
	c.order = append(c.order, rec.Key)
	return nil
}

// GetRecord returns a copy of a record or ErrNotFound.
func (m *MemoryBackend) GetRecord(_ context.Context, collection, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.collection(collection, false)
	if c == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	rec, ok := c.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	return rec.Clone(), nil
}

// ReplaceRecord overwrites the fields of an existing record.
func (m *MemoryBackend) ReplaceRecord(_ context.Context, collection string, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection, false)
	if c == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, rec.Key)
	}
	existing, ok := c.records[rec.Key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, rec.Key)
	}

	stored := rec.Clone()
	stored.CreatedAt = existing.CreatedAt
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	c.records[rec.Key] = stored
	return nil
}

// DeleteRecord removes a record or returns ErrNotFound.
func (m *MemoryBackend) DeleteRecord(_ context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection, false)
	if c == nil {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	if _, ok := c.records[key]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	c.remove(key)
	return nil
}

func (c *memCollection) remove(key string) {
	delete(c.records, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// ListRecords returns copies of every record in insertion order.
func (m *MemoryBackend) ListRecords(_ context.Context, collection string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := m.collection(collection, false)
	if c == nil {
		return []*Record{}, nil
	}
	out := make([]*Record, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.records[key].Clone())
	}
	return out, nil
}

// DeleteRecordsWhere removes every record whose field equals value.
func (m *MemoryBackend) DeleteRecordsWhere(_ context.Context, collection, field, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.collection(collection, false)
	if c == nil {
		return 0, nil
	}
	var doomed []string
	for _, key := range c.order {
		if c.records[key].Fields[field] == value {
			doomed = append(doomed, key)
		}
	}
	for _, key := range doomed {
		c.remove(key)
	}
	return int64(len(doomed)), nil
}

// AppendScores appends score entries and assigns their sequence numbers.
func (m *MemoryBackend) AppendScores(_ context.Context, entries []*ScoreEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		m.scoreSeq++
		stored := *e
		stored.Seq = m.scoreSeq
		e.Seq = stored.Seq
		m.scores = append(m.scores, &stored)
	}
	return nil
}

// ListScores returns matching score entries in insertion order.
func (m *MemoryBackend) ListScores(_ context.Context, filter ScoreFilter) ([]*ScoreEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*ScoreEntry{}
	for _, e := range m.scores {
		if filter.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// DeleteScores removes the score history of a record key.
func (m *MemoryBackend) DeleteScores(_ context.Context, collection, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.scores[:0]
	var removed int64
	for _, e := range m.scores {
		if e.Collection == collection && e.Key == key {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.scores = kept
	return removed, nil
}
