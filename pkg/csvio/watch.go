package csvio

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/campusdesk/campusdesk/pkg/telemetry"
)

// DefaultDebounce is how long a file must stay quiet before it is imported.
const DefaultDebounce = 500 * time.Millisecond

// WatchOptions configures a Watcher.
type WatchOptions struct {
	// Collection receives every file. When empty the collection is taken
	// from the file name: professors.csv and professors-2024.csv both go
	// to professors.
	Collection string

	// Import is passed to every import.
	Import ImportOptions

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// OnReport is called after each import attempt.
	OnReport func(path string, report *Report, err error)
}

// Watcher imports CSV files dropped into a directory.
type Watcher struct {
	importer *Importer
	logger   zerolog.Logger
	opts     WatchOptions

	mu      sync.Mutex
	timers  map[string]*time.Timer
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher that feeds importer.
func NewWatcher(importer *Importer, logger zerolog.Logger, opts WatchOptions) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		importer: importer,
		logger:   logger.With().Str("component", "csv-watcher").Logger(),
		opts:     opts,
		timers:   make(map[string]*time.Timer),
	}
}

// Watch starts watching dir in the background. It returns once the watch is
// registered; events are processed until ctx is done or StopWatching is called.
func (w *Watcher) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	go w.processEvents(ctx, watcher)

	w.logger.Info().
		Str("dir", dir).
		Str("collection", w.opts.Collection).
		Msg("Started watching for csv files")

	return nil
}

// processEvents debounces write and create events per file.
func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			_ = w.StopWatching()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("CSV file changed")

			path := event.Name
			w.mu.Lock()
			if t, ok := w.timers[path]; ok {
				t.Stop()
			}
			w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
				w.mu.Lock()
				delete(w.timers, path)
				w.mu.Unlock()
				w.importFile(ctx, path)
			})
			w.mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) importFile(ctx context.Context, path string) {
	collection := w.opts.Collection
	if collection == "" {
		collection = w.collectionFor(path)
	}

	op := telemetry.StartOperation(w.importer.withTelemetry(ctx), "csv.watch.file",
		attribute.String("csv.file", filepath.Base(path)),
		telemetry.AttrCollection.String(collection),
	)
	var (
		report *Report
		err    error
	)
	if collection == "" {
		err = fmt.Errorf("no collection matches file %s", filepath.Base(path))
	} else {
		report, err = w.importer.ImportFile(op.Ctx, collection, path, w.opts.Import)
	}
	op.End(err)

	if err != nil {
		w.logger.Error().Err(err).
			Str("file", path).
			Str("trace_id", telemetry.TraceID(op.Ctx)).
			Msg("Failed to import csv file")
	} else {
		w.logger.Info().
			Str("file", path).
			Str("collection", collection).
			Int("imported", report.Imported).
			Int("invalid", len(report.Invalid)).
			Int("duplicates", len(report.Duplicates)).
			Msg("Imported csv file")
	}

	// The watcher runs until interrupted; export each file's spans now.
	if ferr := w.importer.tel.Tracer.ForceFlush(ctx); ferr != nil {
		w.logger.Debug().Err(ferr).Msg("Failed to flush spans")
	}

	if w.opts.OnReport != nil {
		w.opts.OnReport(path, report, err)
	}
}

// collectionFor matches the file name against the registered collections,
// preferring the longest name.
func (w *Watcher) collectionFor(path string) string {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	var best string
	for _, name := range w.importer.store.Schemas().Names() {
		if base != name && !strings.HasPrefix(base, name+"-") && !strings.HasPrefix(base, name+"_") {
			continue
		}
		if len(name) > len(best) {
			best = name
		}
	}
	return best
}

// StopWatching stops the file watcher and cancels pending imports.
func (w *Watcher) StopWatching() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	w.watcher = nil
	return err
}
