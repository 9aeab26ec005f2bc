package csvio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcherImportsNewFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := setupTestStore(t)
	reports := make(chan *Report, 4)
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	w := NewWatcher(NewImporter(s), logger, WatchOptions{
		Debounce: 100 * time.Millisecond,
		OnReport: func(path string, report *Report, err error) {
			if err != nil {
				t.Errorf("import of %s failed: %v", path, err)
				return
			}
			reports <- report
		},
	})

	dir := t.TempDir()
	if err := w.Watch(ctx, dir); err != nil {
		t.Fatalf("failed to watch: %v", err)
	}
	defer func() { _ = w.StopWatching() }()

	content := "Student ID,Name,Class,Major\nS001,Kim,1,Art\nS002,Lee,2,Art\n"
	if err := os.WriteFile(filepath.Join(dir, "students-2024.csv"), []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case report := <-reports:
		if report.Collection != "students" || report.Imported != 2 {
			t.Fatalf("unexpected report: %+v", report)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for import")
	}

	if _, found, _ := s.FindByKey(ctx, "students", "S002"); !found {
		t.Error("expected S002 to be imported")
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	s := setupTestStore(t)
	w := NewWatcher(NewImporter(s), zerolog.New(nil).Level(zerolog.Disabled), WatchOptions{})
	if err := w.Watch(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
	if err := w.StopWatching(); err != nil {
		t.Errorf("StopWatching on an idle watcher: %v", err)
	}
}

func TestCollectionFor(t *testing.T) {
	s := setupTestStore(t)
	w := NewWatcher(NewImporter(s), zerolog.New(nil).Level(zerolog.Disabled), WatchOptions{})

	tests := map[string]string{
		"/in/professors.csv":       "professors",
		"/in/Students-2024.CSV":    "students",
		"/in/feedbacks_march.csv":  "feedbacks",
		"/in/counselingsextra.csv": "",
		"/in/unknown.csv":          "",
	}
	for path, want := range tests {
		if got := w.collectionFor(path); got != want {
			t.Errorf("collectionFor(%s) = %q, want %q", path, got, want)
		}
	}
}
