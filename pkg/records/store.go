package records

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusdesk/campusdesk/pkg/stores"
	"github.com/campusdesk/campusdesk/pkg/telemetry"
)

// Default timeouts.
const (
	DefaultProbeTimeout     = 50 * time.Millisecond
	DefaultOperationTimeout = 2 * time.Second
)

// Options configures a Store.
type Options struct {
	// Primary is the remote backend tried at startup. Nil runs local only.
	Primary stores.Backend

	// Local is the fallback backend. Defaults to an empty MemoryBackend.
	Local stores.Backend

	// Schemas lists the known collections. Defaults to DefaultRegistry().
	Schemas *Registry

	// ProbeTimeout bounds the startup connectivity probe.
	ProbeTimeout time.Duration

	// OperationTimeout bounds each call against the primary backend.
	OperationTimeout time.Duration

	// Telemetry receives logs, spans and metrics. Defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// CascadeResult reports what a DeleteRecord removed.
type CascadeResult struct {
	Collection        string           `json:"collection"`
	Key               string           `json:"key"`
	ScoresRemoved     int64            `json:"scores_removed"`
	DependentsRemoved int64            `json:"dependents_removed"`
	ByCollection      map[string]int64 `json:"by_collection,omitempty"`
	ParentRemoved     bool             `json:"parent_removed"`
}

// ScoreInput is one subject reading passed to RecordScores.
type ScoreInput struct {
	Subject string
	Value   float64
}

// Store is the record store facade. Every operation goes through one Policy,
// which picks the backend and handles demotion. Mutations are serialized.
type Store struct {
	policy  *Policy
	schemas *Registry
	tel     *telemetry.Telemetry
	log     *telemetry.Logger
	probe   time.Duration
	now     func() time.Time

	mu sync.Mutex
}

// New creates a Store. Call Initialize before use.
func New(opts Options) *Store {
	if opts.Local == nil {
		opts.Local = stores.NewMemoryBackend()
	}
	if opts.Schemas == nil {
		opts.Schemas = DefaultRegistry()
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.OperationTimeout == 0 {
		opts.OperationTimeout = DefaultOperationTimeout
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		schemas: opts.Schemas,
		tel:     opts.Telemetry,
		log:     opts.Telemetry.Logger.NewComponentLogger("records"),
		probe:   opts.ProbeTimeout,
		now:     opts.Now,
	}
	s.policy = NewPolicy(opts.Primary, opts.Local, opts.OperationTimeout, s.demoted)
	return s
}

func (s *Store) demoted(ctx context.Context, backend string, cause error) {
	s.log.WithBackend(backend, string(ModeLocal)).WithError(cause).
		Warn("remote backend failed, continuing on local storage")
	s.tel.Metrics.RecordDemotion(backend)
	s.tel.Metrics.SetMode(string(ModeLocal))
	telemetry.AddDemotionEvent(trace.SpanFromContext(ctx), backend, cause)
}

// Initialize probes the primary backend and settles the mode. Connectivity
// failures are not returned; inspect Mode afterwards.
func (s *Store) Initialize(ctx context.Context) (Mode, error) {
	ctx, span := s.tel.Tracer.StartStoreSpan(ctx, "initialize", "", "")
	defer span.End()

	mode, err := s.policy.Initialize(ctx, s.probe)
	s.tel.Metrics.SetMode(string(mode))
	if IsConnectivity(err) {
		s.log.WithError(err).Warn("remote backend unavailable, using local storage")
		telemetry.AddDemotionEvent(span, "primary", err)
		err = nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return mode, err
	}

	s.log.WithBackend(s.BackendName(), string(mode)).Info("record store initialized")
	telemetry.RecordSuccess(span)
	return mode, nil
}

// Mode returns the current backend mode. Display only.
func (s *Store) Mode() Mode { return s.policy.Mode() }

// BackendName returns the name of the active backend.
func (s *Store) BackendName() string {
	if b := s.policy.Active(); b != nil {
		return b.Name()
	}
	return ""
}

// Active returns the active backend, or nil before Initialize.
func (s *Store) Active() stores.Backend { return s.policy.Active() }

// Schemas returns the collection registry.
func (s *Store) Schemas() *Registry { return s.schemas }

// Telemetry returns the telemetry bundle the store reports to.
func (s *Store) Telemetry() *telemetry.Telemetry { return s.tel }

// Close closes all backends.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy.Close()
}

// observe wraps an operation with a span, metrics and error translation.
func (s *Store) observe(ctx context.Context, op, collection, key string, fn func(ctx context.Context) error) error {
	ctx, span := s.tel.Tracer.StartStoreSpan(ctx, op, collection, key)
	defer span.End()
	timer := telemetry.NewTimer()

	err := translate(collection, key, fn(ctx))

	backend := s.BackendName()
	span.SetAttributes(
		telemetry.AttrBackend.String(backend),
		telemetry.AttrMode.String(string(s.Mode())),
	)

	outcome := "ok"
	if err != nil {
		outcome = string(ClassOf(err))
		s.tel.Metrics.RecordError(outcome)
		span.SetAttributes(telemetry.AttrErrorClass.String(outcome))
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	s.tel.Metrics.RecordOperation(op, backend, outcome, timer.Duration())
	return err
}

// translate maps backend errors onto the record store taxonomy. Remote
// timeouts never get here since they demote, so a context error is the
// caller's. Anything still unclassified came from the local backend.
func translate(collection, key string, err error) error {
	var classified *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &classified):
		return err
	case errors.Is(err, stores.ErrDuplicateKey):
		return NewDuplicateKeyError(collection, key)
	case errors.Is(err, stores.ErrNotFound):
		return NewNotFoundError(collection, key)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewCanceledError(err).WithCollection(collection).WithKey(key)
	case errors.Is(err, ErrNotInitialized):
		return NewInternalError("operation before initialize", err).WithCollection(collection).WithKey(key)
	default:
		return NewInternalError("local backend failure", err).WithCollection(collection).WithKey(key)
	}
}

func (s *Store) schema(collection string) (*Schema, error) {
	sc, ok := s.schemas.Get(collection)
	if !ok {
		return nil, NewValidationError("unknown collection").WithCollection(collection)
	}
	return sc, nil
}

// resolveKey picks the record key from the argument or the key field, or
// generates one from the schema prefix.
func resolveKey(sc *Schema, key string, fields map[string]string) (string, error) {
	key = strings.TrimSpace(key)
	fromField := strings.TrimSpace(fields[sc.KeyField])
	switch {
	case key == "" && fromField != "":
		key = fromField
	case key != "" && fromField != "" && fromField != key:
		return "", NewValidationError("key field does not match record key").
			WithCollection(sc.Name).WithKey(key).WithField(sc.KeyField)
	}
	if key == "" {
		if sc.KeyPrefix == "" {
			return "", NewValidationError("record key is required").
				WithCollection(sc.Name).WithField(sc.KeyField)
		}
		key = fmt.Sprintf("%s-%s", sc.KeyPrefix, uuid.NewString()[:8])
	}
	return key, nil
}

// UpsertRecord inserts a new record. It fails with a duplicate key error if
// the key already exists in the active backend. An empty key is taken from
// the key field or generated. Fields are stored normalized, see
// Schema.Normalize.
func (s *Store) UpsertRecord(ctx context.Context, collection, key string, fields map[string]string) (*stores.Record, error) {
	sc, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	key, err = resolveKey(sc, key, fields)
	if err != nil {
		return nil, err
	}

	merged := sc.withDefaults(sc.Normalize(fields))
	if err := sc.checkFields(key, merged); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored *stores.Record
	err = s.observe(ctx, "upsert", collection, key, func(ctx context.Context) error {
		return s.policy.Do(ctx, func(ctx context.Context, b stores.Backend) error {
			now := s.now().UTC()
			rec := &stores.Record{Key: key, Fields: merged, CreatedAt: now, UpdatedAt: now}
			if err := b.InsertRecord(ctx, collection, rec); err != nil {
				return err
			}
			stored = rec.Clone()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.log.WithCollection(collection).WithKey(key).Debug("record stored")
	return stored, nil
}

// FindByKey returns the record and whether it exists. Absence is not an error.
func (s *Store) FindByKey(ctx context.Context, collection, key string) (*stores.Record, bool, error) {
	if _, err := s.schema(collection); err != nil {
		return nil, false, err
	}

	var rec *stores.Record
	err := s.observe(ctx, "find", collection, key, func(ctx context.Context) error {
		return s.policy.Do(ctx, func(ctx context.Context, b stores.Backend) error {
			r, err := b.GetRecord(ctx, collection, key)
			if errors.Is(err, stores.ErrNotFound) {
				rec = nil
				return nil
			}
			rec = r
			return err
		})
	})
	if err != nil {
		return nil, false, err
	}
	return rec, rec != nil, nil
}

// UpdateRecord merges fields into an existing record.
func (s *Store) UpdateRecord(ctx context.Context, collection, key string, fields map[string]string) (*stores.Record, error) {
	sc, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(key) == "" {
		return nil, NewValidationError("record key is required").
			WithCollection(collection).WithField(sc.KeyField)
	}
	if v, ok := fields[sc.KeyField]; ok && strings.TrimSpace(v) != key {
		return nil, NewValidationError("record key cannot be changed").
			WithCollection(collection).WithKey(key).WithField(sc.KeyField)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *stores.Record
	err = s.observe(ctx, "update", collection, key, func(ctx context.Context) error {
		return s.policy.Do(ctx, func(ctx context.Context, b stores.Backend) error {
			existing, err := b.GetRecord(ctx, collection, key)
			if err != nil {
				return err
			}
			rec := existing.Clone()
			if rec.Fields == nil {
				rec.Fields = make(map[string]string, len(fields))
			}
			// An empty value clears the field.
			for k, v := range fields {
				if k == sc.KeyField {
					continue
				}
				if v = strings.TrimSpace(v); v == "" {
					delete(rec.Fields, k)
				} else {
					rec.Fields[k] = v
				}
			}
			if err := sc.checkFields(key, rec.Fields); err != nil {
				return err
			}
			rec.UpdatedAt = s.now().UTC()
			if err := b.ReplaceRecord(ctx, collection, rec); err != nil {
				return err
			}
			updated = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteRecord removes a record and its dependents: score history for scored
// collections, then records of every dependent collection that reference the
// key, then the record itself. The cascade is not transactional; a failure
// after dependents were removed is reported as a partial cascade error.
func (s *Store) DeleteRecord(ctx context.Context, collection, key string) (CascadeResult, error) {
	sc, err := s.schema(collection)
	if err != nil {
		return CascadeResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var res CascadeResult
	err = s.observe(ctx, "delete", collection, key, func(ctx context.Context) error {
		var attempts []cascadeAttempt
		err := s.policy.Do(ctx, func(ctx context.Context, b stores.Backend) error {
			r, err := cascadeDelete(ctx, b, sc, collection, key)
			attempts = append(attempts, cascadeAttempt{result: r, err: err})
			return err
		})
		if len(attempts) == 0 {
			return err
		}
		// A remote attempt that removed dependents before the backend failed
		// left the remote data half deleted. The local rerun cannot undo that.
		if first := attempts[0]; len(attempts) > 1 && first.result.DependentsRemoved > 0 {
			res = first.result
			return NewPartialCascadeError(collection, key, res, first.err)
		}
		res = attempts[len(attempts)-1].result
		if err != nil && res.DependentsRemoved > 0 {
			return NewPartialCascadeError(collection, key, res, err)
		}
		return err
	})
	if err != nil {
		return res, err
	}

	s.log.WithCollection(collection).WithKey(key).
		WithField("dependents_removed", res.DependentsRemoved).
		Debug("record deleted")
	return res, nil
}

type cascadeAttempt struct {
	result CascadeResult
	err    error
}

// cascadeDelete runs one cascade against b and reports how far it got.
func cascadeDelete(ctx context.Context, b stores.Backend, sc *Schema, collection, key string) (CascadeResult, error) {
	res := CascadeResult{Collection: collection, Key: key}

	if _, err := b.GetRecord(ctx, collection, key); err != nil {
		return res, err
	}
	if sc.Scored {
		n, err := b.DeleteScores(ctx, collection, key)
		res.ScoresRemoved = n
		res.DependentsRemoved += n
		if err != nil {
			return res, err
		}
	}
	for _, d := range sc.Dependents {
		n, err := b.DeleteRecordsWhere(ctx, d.Collection, d.Field, key)
		if n > 0 {
			if res.ByCollection == nil {
				res.ByCollection = make(map[string]int64)
			}
			res.ByCollection[d.Collection] += n
		}
		res.DependentsRemoved += n
		if err != nil {
			return res, err
		}
	}
	if err := b.DeleteRecord(ctx, collection, key); err != nil {
		return res, err
	}
	res.ParentRemoved = true
	return res, nil
}

// ListRecords returns the records of a collection selected and ordered by q.
func (s *Store) ListRecords(ctx context.Context, collection string, q Query) ([]*stores.Record, error) {
	sc, err := s.schema(collection)
	if err != nil {
		return nil, err
	}

	var all []*stores.Record
	err = s.observe(ctx, "list", collection, "", func(ctx context.Context) error {
		return s.policy.Do(ctx, func(ctx context.Context, b stores.Backend) error {
			recs, err := b.ListRecords(ctx, collection)
			all = recs
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return q.Apply(sc, all), nil
}

// RecordScore appends one score entry. at defaults to now.
func (s *Store) RecordScore(ctx context.Context, collection, key, subject string, value float64, at time.Time) (*stores.ScoreEntry, error) {
	entries, err := s.RecordScores(ctx, collection, key, []ScoreInput{{Subject: subject, Value: value}}, at)
	if err != nil {
		return nil, err
	}
	return entries[0], nil
}

// RecordScores validates every reading first and then appends all of them
// with the same timestamp.
func (s *Store) RecordScores(ctx context.Context, collection, key string, scores []ScoreInput, at time.Time) ([]*stores.ScoreEntry, error) {
	sc, err := s.schema(collection)
	if err != nil {
		return nil, err
	}
	if !sc.Scored {
		return nil, NewValidationError("collection does not track scores").WithCollection(collection)
	}
	if len(scores) == 0 {
		return nil, NewValidationError("no scores given").WithCollection(collection).WithKey(key)
	}
	for _, in := range scores {
		if strings.TrimSpace(in.Subject) == "" {
			return nil, NewValidationError("subject is required").
				WithCollection(collection).WithKey(key).WithField("subject")
		}
		if math.IsNaN(in.Value) || in.Value < MinScore || in.Value > MaxScore {
			return nil, NewValidationError(fmt.Sprintf("score %g out of range [%g, %g]", in.Value, MinScore, MaxScore)).
				WithCollection(collection).WithKey(key).WithField(in.Subject)
		}
	}
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []*stores.ScoreEntry
	err = s.observe(ctx, "record_score", collection, key, func(ctx context.Context) error {
		return s.policy.Do(ctx, func(ctx context.Context, b stores.Backend) error {
			if _, err := b.GetRecord(ctx, collection, key); err != nil {
				if errors.Is(err, stores.ErrNotFound) {
					return NewValidationError("record does not exist").
						WithCollection(collection).WithKey(key)
				}
				return err
			}
			entries = make([]*stores.ScoreEntry, 0, len(scores))
			for _, in := range scores {
				entries = append(entries, &stores.ScoreEntry{
					Collection: collection,
					Key:        key,
					Subject:    strings.TrimSpace(in.Subject),
					Value:      in.Value,
					RecordedAt: at,
				})
			}
			return b.AppendScores(ctx, entries)
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) listScores(ctx context.Context, op string, filter stores.ScoreFilter) ([]*stores.ScoreEntry, error) {
	if _, err := s.schema(filter.Collection); err != nil {
		return nil, err
	}
	var entries []*stores.ScoreEntry
	err := s.observe(ctx, op, filter.Collection, filter.Key, func(ctx context.Context) error {
		return s.policy.Do(ctx, func(ctx context.Context, b stores.Backend) error {
			es, err := b.ListScores(ctx, filter)
			entries = es
			return err
		})
	})
	return entries, err
}

// ScoreHistory returns every score entry of a key, newest first.
func (s *Store) ScoreHistory(ctx context.Context, collection, key string) ([]*stores.ScoreEntry, error) {
	entries, err := s.listScores(ctx, "score_history", stores.ScoreFilter{Collection: collection, Key: key})
	if err != nil {
		return nil, err
	}
	NewestFirst(entries)
	return entries, nil
}

// Scores returns every score entry of a collection in insertion order.
func (s *Store) Scores(ctx context.Context, collection string) ([]*stores.ScoreEntry, error) {
	return s.listScores(ctx, "scores", stores.ScoreFilter{Collection: collection})
}

// LatestScores returns the current entry of each subject for a key.
func (s *Store) LatestScores(ctx context.Context, collection, key string) (map[string]*stores.ScoreEntry, error) {
	entries, err := s.listScores(ctx, "latest_scores", stores.ScoreFilter{Collection: collection, Key: key})
	if err != nil {
		return nil, err
	}
	return LatestPerSubject(entries), nil
}

// AverageForKey is the mean of each subject's latest entry for key, 0 when
// the key has no history.
func (s *Store) AverageForKey(ctx context.Context, collection, key string) (float64, error) {
	entries, err := s.listScores(ctx, "average_key", stores.ScoreFilter{Collection: collection, Key: key})
	if err != nil {
		return 0, err
	}
	return AverageLatest(entries), nil
}

// AverageForSubject is the mean of the latest entry per key among keys with
// a reading for subject, 0 when there are none.
func (s *Store) AverageForSubject(ctx context.Context, collection, subject string) (float64, error) {
	entries, err := s.listScores(ctx, "average_subject", stores.ScoreFilter{Collection: collection, Subject: subject})
	if err != nil {
		return 0, err
	}
	return SubjectAverage(entries, subject), nil
}
