package stores

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const scoresCollection = "scores"

// MongoConfig holds MongoDB backend configuration.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	// Collections lists record collections whose indexes are created on Open.
	Collections []string
}

// MongoBackend implements Backend on a MongoDB database. Each record
// collection maps to a Mongo collection keyed by _id; score history lives in
// a shared "scores" collection.
type MongoBackend struct {
	cfg    MongoConfig
	client *mongo.Client
	db     *mongo.Database
	seq    atomic.Int64
}

type mongoRecord struct {
	Key       string            `bson:"_id"`
	Fields    map[string]string `bson:"fields"`
	Seq       int64             `bson:"seq"`
	CreatedAt time.Time         `bson:"created_at"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

type mongoScore struct {
	Seq        int64     `bson:"seq"`
	Collection string    `bson:"collection"`
	Key        string    `bson:"record_key"`
	Subject    string    `bson:"subject"`
	Value      float64   `bson:"value"`
	RecordedAt time.Time `bson:"recorded_at"`
}

// NewMongoBackend creates a MongoDB backend. Call Open to connect.
func NewMongoBackend(cfg MongoConfig) (*MongoBackend, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "campusdesk"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 50 * time.Millisecond
	}
	return &MongoBackend{cfg: cfg}, nil
}

// Name returns the backend name.
func (m *MongoBackend) Name() string { return "mongo" }

// Open connects to the server, pings the primary and creates indexes.
// Index creation is best-effort.
func (m *MongoBackend) Open(ctx context.Context) error {
	opts := options.Client().
		ApplyURI(m.cfg.URI).
		SetConnectTimeout(m.cfg.ConnectTimeout).
		SetServerSelectionTimeout(m.cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping mongo: %w", err)
	}

	m.client = client
	m.db = client.Database(m.cfg.Database)
	m.seq.Store(time.Now().UnixNano())
	m.ensureIndexes(ctx)
	return nil
}

func (m *MongoBackend) ensureIndexes(ctx context.Context) {
	for _, name := range m.cfg.Collections {
		_, _ = m.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "seq", Value: 1}},
		})
	}
	_, _ = m.db.Collection(scoresCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "record_key", Value: 1}, {Key: "seq", Value: 1}}},
		{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "subject", Value: 1}}},
	})
}

// Close disconnects from the server.
func (m *MongoBackend) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := m.client.Disconnect(ctx)
	m.client = nil
	m.db = nil
	return err
}

// HealthCheck pings the primary.
func (m *MongoBackend) HealthCheck(ctx context.Context) error {
	if m.client == nil {
		return fmt.Errorf("mongo client not connected")
	}
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

func (m *MongoBackend) coll(name string) (*mongo.Collection, error) {
	if m.db == nil {
		return nil, fmt.Errorf("mongo client not connected")
	}
	return m.db.Collection(name), nil
}

// InsertRecord inserts a record document.
func (m *MongoBackend) InsertRecord(ctx context.Context, collection string, rec *Record) error {
	c, err := m.coll(collection)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := mongoRecord{
		Key:       rec.Key,
		Fields:    rec.Fields,
		Seq:       m.seq.Add(1),
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
	if doc.Fields == nil {
		doc.Fields = map[string]string{}
	}

	if _, err := c.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s/%s", ErrDuplicateKey, collection, rec.Key)
		}
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// GetRecord finds a record document by key.
func (m *MongoBackend) GetRecord(ctx context.Context, collection, key string) (*Record, error) {
	c, err := m.coll(collection)
	if err != nil {
		return nil, err
	}

	var doc mongoRecord
	err = c.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return doc.toRecord(), nil
}

// ReplaceRecord overwrites the fields of an existing record document.
func (m *MongoBackend) ReplaceRecord(ctx context.Context, collection string, rec *Record) error {
	c, err := m.coll(collection)
	if err != nil {
		return err
	}

	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}

	res, err := c.UpdateOne(ctx,
		bson.M{"_id": rec.Key},
		bson.M{"$set": bson.M{"fields": rec.Fields, "updated_at": updated}},
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, rec.Key)
	}
	return nil
}

// DeleteRecord removes a record document.
func (m *MongoBackend) DeleteRecord(ctx context.Context, collection, key string) error {
	c, err := m.coll(collection)
	if err != nil {
		return err
	}

	res, err := c.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, key)
	}
	return nil
}

// ListRecords returns every record document in insertion order.
func (m *MongoBackend) ListRecords(ctx context.Context, collection string) ([]*Record, error) {
	c, err := m.coll(collection)
	if err != nil {
		return nil, err
	}

	cur, err := c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	var docs []mongoRecord
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode records: %w", err)
	}

	records := make([]*Record, 0, len(docs))
	for i := range docs {
		records = append(records, docs[i].toRecord())
	}
	return records, nil
}

// DeleteRecordsWhere removes every record document whose field equals value.
func (m *MongoBackend) DeleteRecordsWhere(ctx context.Context, collection, field, value string) (int64, error) {
	c, err := m.coll(collection)
	if err != nil {
		return 0, err
	}

	res, err := c.DeleteMany(ctx, bson.M{"fields." + field: value})
	if err != nil {
		return 0, fmt.Errorf("failed to delete dependent records: %w", err)
	}
	return res.DeletedCount, nil
}

// AppendScores inserts score documents.
func (m *MongoBackend) AppendScores(ctx context.Context, entries []*ScoreEntry) error {
	c, err := m.coll(scoresCollection)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	docs := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		e.Seq = m.seq.Add(1)
		docs = append(docs, mongoScore{
			Seq:        e.Seq,
			Collection: e.Collection,
			Key:        e.Key,
			Subject:    e.Subject,
			Value:      e.Value,
			RecordedAt: e.RecordedAt,
		})
	}

	if _, err := c.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to append scores: %w", err)
	}
	return nil
}

// ListScores lists score documents matching the filter in insertion order.
func (m *MongoBackend) ListScores(ctx context.Context, filter ScoreFilter) ([]*ScoreEntry, error) {
	c, err := m.coll(scoresCollection)
	if err != nil {
		return nil, err
	}

	query := bson.M{}
	if filter.Collection != "" {
		query["collection"] = filter.Collection
	}
	if filter.Key != "" {
		query["record_key"] = filter.Key
	}
	if filter.Subject != "" {
		query["subject"] = filter.Subject
	}

	cur, err := c.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}

	var docs []mongoScore
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode scores: %w", err)
	}

	entries := make([]*ScoreEntry, 0, len(docs))
	for _, d := range docs {
		entries = append(entries, &ScoreEntry{
			Seq:        d.Seq,
			Collection: d.Collection,
			Key:        d.Key,
			Subject:    d.Subject,
			Value:      d.Value,
			RecordedAt: d.RecordedAt.UTC(),
		})
	}
	return entries, nil
}

// DeleteScores removes the score history of a record key.
func (m *MongoBackend) DeleteScores(ctx context.Context, collection, key string) (int64, error) {
	c, err := m.coll(scoresCollection)
	if err != nil {
		return 0, err
	}

	res, err := c.DeleteMany(ctx, bson.M{"collection": collection, "record_key": key})
	if err != nil {
		return 0, fmt.Errorf("failed to delete scores: %w", err)
	}
	return res.DeletedCount, nil
}

func (d *mongoRecord) toRecord() *Record {
	fields := d.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	return &Record{
		Key:       d.Key,
		Fields:    fields,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}
