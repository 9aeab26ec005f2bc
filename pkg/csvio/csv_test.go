package csvio

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/telemetry"
)

func setupTestStore(t *testing.T) *records.Store {
	t.Helper()
	s := records.New(records.Options{})
	if _, err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupTestStore(t)

	const n = 12
	for i := 1; i <= n; i++ {
		fields := map[string]string{
			"name":           fmt.Sprintf("Dr. Prof %02d", i),
			"department":     records.Departments[i%len(records.Departments)],
			"position":       records.Positions[i%len(records.Positions)],
			"specialization": "Field, with comma",
			"email":          fmt.Sprintf("prof%02d@university.edu", i),
			"phone":          fmt.Sprintf("555-%04d", i),
			"office":         `Room "A" 10`,
		}
		if _, err := src.UpsertRecord(ctx, "professors", fmt.Sprintf("P%03d", i), fields); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
	}
	// Key given as a field, with padded values, the way desk record add
	// --set professor_id=... passes it.
	padded := map[string]string{
		"professor_id": "P100",
		"name":         " Kim ",
		"department":   "Physics",
		"position":     "Professor",
		"office":       "",
	}
	if _, err := src.UpsertRecord(ctx, "professors", "", padded); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	const total = n + 1

	var buf bytes.Buffer
	count, err := Export(ctx, src, "professors", &buf, ExportOptions{BOM: true})
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if count != total {
		t.Fatalf("expected %d exported rows, got %d", total, count)
	}
	if !strings.HasPrefix(buf.String(), bom+"Professor ID,Name,") {
		t.Fatalf("unexpected export prefix: %q", buf.String()[:40])
	}

	dst := setupTestStore(t)
	report, err := NewImporter(dst).Import(ctx, "professors", &buf, ImportOptions{})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !report.Clean() || report.Imported != total || !report.Header {
		t.Fatalf("unexpected report: %+v", report)
	}

	want, _ := src.ListRecords(ctx, "professors", records.Query{})
	got, _ := dst.ListRecords(ctx, "professors", records.Query{})
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Key != want[i].Key {
			t.Errorf("record %d: key %s, want %s", i, got[i].Key, want[i].Key)
		}
		for field, v := range want[i].Fields {
			if got[i].Field(field) != v {
				t.Errorf("%s.%s = %q, want %q", want[i].Key, field, got[i].Field(field), v)
			}
		}
		if len(got[i].Fields) != len(want[i].Fields) {
			t.Errorf("%s: %d fields, want %d", want[i].Key, len(got[i].Fields), len(want[i].Fields))
		}
	}
	kim, found, err := dst.FindByKey(ctx, "professors", "P100")
	if err != nil || !found {
		t.Fatalf("expected P100 after import, found=%v err=%v", found, err)
	}
	if kim.Field("name") != "Kim" || len(kim.Fields) != 3 {
		t.Errorf("unexpected P100 fields: %v", kim.Fields)
	}
}

func TestImportWithoutHeader(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	input := "S001,Kim,1,Computer Science\nS002,Lee,2\n"
	report, err := NewImporter(s).Import(ctx, "students", strings.NewReader(input), ImportOptions{})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if report.Header {
		t.Error("first row must not be taken as a header")
	}
	if report.Imported != 1 || len(report.Invalid) != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if issue := report.Invalid[0]; issue.Row != 2 || issue.Field != "major" || issue.Key != "S002" {
		t.Errorf("unexpected issue: %+v", issue)
	}
}

func TestImportBOMAndBlankRows(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	input := bom + "student id , NAME,Class,Major\n\n,,,\nS001,Kim,1,Physics\n  ,  ,,\nS002,Lee,2,Physics\n"
	report, err := NewImporter(s).Import(ctx, "students", strings.NewReader(input), ImportOptions{})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !report.Header || report.Imported != 2 || !report.Clean() {
		t.Fatalf("unexpected report: %+v", report)
	}
	rec, found, _ := s.FindByKey(ctx, "students", "S001")
	if !found || rec.Field("name") != "Kim" || rec.Field("major") != "Physics" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestImportReorderedHeader(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	input := "major,name,student_id,class,notes\nBiology,Park,S009,3,ignored\n"
	report, err := NewImporter(s).Import(ctx, "students", strings.NewReader(input), ImportOptions{})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if !report.Header || report.Imported != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
	rec, _, _ := s.FindByKey(ctx, "students", "S009")
	if rec.Field("major") != "Biology" || rec.Field("class") != "3" {
		t.Errorf("columns not remapped: %+v", rec.Fields)
	}
	if _, ok := rec.Fields["notes"]; ok {
		t.Error("unknown columns must be dropped")
	}
}

func TestImportDuplicates(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	if _, err := s.UpsertRecord(ctx, "students", "S001", map[string]string{"name": "Kim", "class": "1", "major": "Art"}); err != nil {
		t.Fatalf("failed to seed: %v", err)
	}

	input := strings.Join([]string{
		"Student ID,Name,Class,Major",
		"S001,Kim,1,Art",
		"S002,Lee,2,Art",
		"S002,Lee Again,2,Art",
		",Nobody,1,Art",
		"S003,Choi,3,Art",
	}, "\n")
	report, err := NewImporter(s).Import(ctx, "students", strings.NewReader(input), ImportOptions{})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}

	if report.Valid != 2 || report.Imported != 2 {
		t.Errorf("expected 2 valid and imported, got %d and %d", report.Valid, report.Imported)
	}
	if len(report.Duplicates) != 2 {
		t.Fatalf("expected 2 duplicates, got %+v", report.Duplicates)
	}
	if d := report.Duplicates[0]; d.Row != 2 || d.Key != "S001" || d.Reason != "key already exists" {
		t.Errorf("unexpected duplicate: %+v", d)
	}
	if d := report.Duplicates[1]; d.Row != 4 || !strings.Contains(d.Reason, "row 3") {
		t.Errorf("unexpected duplicate: %+v", d)
	}
	if len(report.Invalid) != 1 || report.Invalid[0].Row != 5 {
		t.Errorf("unexpected invalid rows: %+v", report.Invalid)
	}

	rec, _, _ := s.FindByKey(ctx, "students", "S002")
	if rec.Field("name") != "Lee" {
		t.Errorf("first occurrence must win, got %q", rec.Field("name"))
	}
}

func TestImportDryRunAndStrict(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	im := NewImporter(s)

	input := "S001,Kim,1,Art\nS002,,2,Art\n"

	report, err := im.Import(ctx, "students", strings.NewReader(input), ImportOptions{DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if report.Valid != 1 || report.Imported != 0 || !report.DryRun {
		t.Errorf("unexpected dry run report: %+v", report)
	}

	report, err = im.Import(ctx, "students", strings.NewReader(input), ImportOptions{Strict: true})
	if err != nil {
		t.Fatalf("strict import failed: %v", err)
	}
	if report.Imported != 0 {
		t.Errorf("strict import must not commit with invalid rows, imported %d", report.Imported)
	}

	recs, _ := s.ListRecords(ctx, "students", records.Query{})
	if len(recs) != 0 {
		t.Fatalf("expected no stored records, got %d", len(recs))
	}
}

func TestImportAllowedValues(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	input := "C1,Plan,Body,S001,P001,bogus,normal,academic\nC2,Plan,Body,S001,P001,,,\n"
	report, err := NewImporter(s).Import(ctx, "counselings", strings.NewReader(input), ImportOptions{})
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if len(report.Invalid) != 1 || report.Invalid[0].Field != "status" {
		t.Fatalf("unexpected invalid rows: %+v", report.Invalid)
	}
	rec, found, _ := s.FindByKey(ctx, "counselings", "C2")
	if !found || rec.Field("status") != records.StatusPending {
		t.Errorf("expected default status, got %+v", rec)
	}
}

func TestImportUnknownCollection(t *testing.T) {
	s := setupTestStore(t)
	_, err := NewImporter(s).Import(context.Background(), "grades", strings.NewReader(""), ImportOptions{})
	if !records.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTemplate(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	for _, name := range s.Schemas().Names() {
		sc, _ := s.Schemas().Get(name)

		var buf bytes.Buffer
		if err := Template(&buf, sc, false); err != nil {
			t.Fatalf("%s: template failed: %v", name, err)
		}
		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if lines[0] != strings.Join(sc.Headers(), ",") {
			t.Errorf("%s: unexpected header %q", name, lines[0])
		}

		report, err := NewImporter(s).Import(ctx, name, &buf, ImportOptions{})
		if err != nil {
			t.Fatalf("%s: import failed: %v", name, err)
		}
		if !report.Clean() || report.Imported != len(lines)-1 {
			t.Errorf("%s: template must import cleanly, got %+v", name, report)
		}
	}
}

func TestImportTracing(t *testing.T) {
	ctx := context.Background()
	var spans bytes.Buffer
	tracer, err := telemetry.NewTracerWithWriter(telemetry.DevelopmentConfig().Tracing, "campusdesk", "test", "test", &spans)
	if err != nil {
		t.Fatal(err)
	}
	tel := telemetry.Nop()
	tel.Tracer = tracer

	s := records.New(records.Options{Telemetry: tel})
	if _, err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	input := "Student ID,Name,Class,Major\nS001,Kim,1,Math\n"
	if _, err := NewImporter(s).Import(ctx, "students", strings.NewReader(input), ImportOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := tracer.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	out := spans.String()
	for _, name := range []string{"csv.import", "store.upsert", "csv.imported"} {
		if !strings.Contains(out, name) {
			t.Errorf("expected %s in exported spans", name)
		}
	}
}
