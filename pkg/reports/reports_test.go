package reports

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/campusdesk/campusdesk/pkg/csvio"
	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

func rec(key string, fields map[string]string) *stores.Record {
	return &stores.Record{Key: key, Fields: fields}
}

func professors() []*stores.Record {
	return []*stores.Record{
		rec("P1", map[string]string{"name": "Yoon", "department": "Physics", "position": "Professor", "office": "Sci 101", "email": "yoon@u.edu"}),
		rec("P2", map[string]string{"name": "Kim", "department": "Physics", "position": "Professor"}),
		rec("P3", map[string]string{"name": "Baek", "department": "Mathematics", "position": "Lecturer", "phone": "555-0100"}),
	}
}

// assertOrder fails unless every part appears in s, in order.
func assertOrder(t *testing.T, s string, parts ...string) {
	t.Helper()
	pos := 0
	for _, p := range parts {
		i := strings.Index(s[pos:], p)
		if i < 0 {
			t.Fatalf("expected %q after offset %d in:\n%s", p, pos, s)
		}
		pos += i + len(p)
	}
}

func TestDepartmentReport(t *testing.T) {
	out := Grouped(professors(), DepartmentSpec)

	assertOrder(t, out,
		"DEPARTMENT REPORT\n"+strings.Repeat("=", 50)+"\n\n",
		"DEPARTMENT: Mathematics\n"+strings.Repeat("-", 30)+"\nTotal Professors: 1\n",
		"  Lecturer: 1\n    - Baek (ID: P3)\n",
		"DEPARTMENT: Physics\n",
		"Total Professors: 2\n",
		"  Professor: 2\n    - Kim (ID: P2)\n    - Yoon (ID: P1)\n      Office: Sci 101\n",
	)
	if strings.Contains(out, "Baek (ID: P3)\n      Office") {
		t.Error("office line must be omitted when empty")
	}
}

func TestPositionReport(t *testing.T) {
	out := Grouped(professors(), PositionSpec)
	assertOrder(t, out,
		"POSITION: Lecturer\n",
		"Total: 1\n",
		"POSITION: Professor\n",
		"  Physics: 2\n",
		"    - Yoon (ID: P1)\n      Email: yoon@u.edu\n",
	)
}

func TestContactList(t *testing.T) {
	out := ContactList(professors())
	assertOrder(t, out,
		"Name: Baek\nID: P3\nDepartment: Mathematics\nPosition: Lecturer\nPhone: 555-0100\n",
		"Name: Kim\n",
		"Name: Yoon\n",
	)
	if strings.Contains(out, "Email: \n") {
		t.Error("empty contact fields must be skipped")
	}
}

func TestProfessorStatistics(t *testing.T) {
	out := ProfessorStatistics(professors())
	for _, want := range []string{
		"Total Professors: 3\n",
		"  Physics: 2 (66.7%)\n",
		"  Mathematics: 1 (33.3%)\n",
		"  Not Specified: 3 (100.0%)\n",
		"  Email addresses: 1/3 (33.3%)\n",
		"  Office locations: 1/3 (33.3%)\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if got := ProfessorStatistics(nil); got != "No professor data available\n" {
		t.Errorf("unexpected empty statistics: %q", got)
	}
}

func TestCounselingStatus(t *testing.T) {
	counselings := []*stores.Record{
		rec("C1", map[string]string{"title": "Plan", "student_id": "S1", "status": "pending", "priority": "high"}),
		rec("C2", map[string]string{"title": "Career", "student_id": "S2", "status": "completed", "priority": "normal"}),
		rec("C3", map[string]string{"title": "Thesis", "student_id": "S1", "status": "in_progress", "priority": "normal"}),
	}
	feedbacks := []*stores.Record{
		rec("F1", map[string]string{"counseling_id": "C1"}),
		rec("F2", map[string]string{"counseling_id": "C1"}),
	}
	out := CounselingStatus(counselings, feedbacks)
	assertOrder(t, out,
		"Total Counselings: 3\n",
		"  pending     :   1 (33.3%)\n",
		"  in_progress :   1 (33.3%)\n",
		"  completed   :   1 (33.3%)\n",
		"  high        :   1 (33.3%)\n",
		"  normal      :   2 (66.7%)\n",
		"  - [high] Plan (ID: C1) student S1, pending, feedback 2\n",
		"  - [normal] Thesis (ID: C3) student S1, in_progress, feedback 0\n",
	)
	if strings.Contains(out, "Career") {
		t.Error("completed requests must not be listed as open")
	}
}

func scoreFixture() ([]*stores.Record, []*stores.ScoreEntry) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	students := []*stores.Record{
		rec("S1", map[string]string{"name": "Kim", "class": "1", "major": "CS"}),
		rec("S2", map[string]string{"name": "Lee", "class": "1", "major": "CS"}),
		rec("S3", map[string]string{"name": "Park", "class": "2", "major": "EE"}),
	}
	entries := []*stores.ScoreEntry{
		{Seq: 1, Key: "S1", Subject: "Math", Value: 80, RecordedAt: at},
		{Seq: 2, Key: "S1", Subject: "Math", Value: 90, RecordedAt: at.Add(time.Hour)},
		{Seq: 3, Key: "S1", Subject: "Science", Value: 70, RecordedAt: at},
		{Seq: 4, Key: "S2", Subject: "Math", Value: 60, RecordedAt: at},
	}
	return students, entries
}

func TestIndividual(t *testing.T) {
	students, entries := scoreFixture()
	out := Individual(students[0], entries[:3], []string{"Math", "Art"})

	assertOrder(t, out,
		"Student ID: S1\nName: Kim\nClass: 1\nMajor: CS\n\n",
		"Math           :   90.0 (A) [2024-03-01]\n",
		"Art            :   No Score\n",
		"Science        :   70.0 (C) [2024-03-01]\n",
		"Overall Average:   80.0 (B)\n",
	)
}

func TestClassReport(t *testing.T) {
	students, entries := scoreFixture()
	out := ClassReport(students, entries)

	assertOrder(t, out,
		"CLASS: 1\n",
		"Kim                  (ID: S1):   80.0 (B)\n",
		"Lee                  (ID: S2):   60.0 (D)\n",
		"Class Average: 70.0\n",
		"CLASS: 2\n",
		"Park                 (ID: S3):   No Score\n",
	)
	if strings.Count(out, "Class Average") != 1 {
		t.Error("class without scores must not print an average")
	}
}

func TestSubjectReport(t *testing.T) {
	students, entries := scoreFixture()
	out := SubjectReport(students, entries, []string{"Math", "History"})

	assertOrder(t, out,
		"SUBJECT: Math\n",
		"Students with scores: 2\nAverage Score: 75.0\nHighest Score: 90.0\nLowest Score: 60.0\n",
		"  1. Kim (ID: S1): 90.0 (A)\n  2. Lee (ID: S2): 60.0 (D)\n",
		"SUBJECT: History\n",
		"No scores recorded for this subject\n",
		"SUBJECT: Science\n",
	)
}

func TestSubjectSummaryTopFive(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var entries []*stores.ScoreEntry
	for i, key := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		entries = append(entries, &stores.ScoreEntry{Seq: int64(i + 1), Key: key, Subject: "Math", Value: float64(60 + i*5), RecordedAt: at})
	}
	st := SubjectSummary("Math", entries, nil)
	if st.Count != 7 || st.Highest != 90 || st.Lowest != 60 || st.Average != 75 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	out := SubjectReport(nil, entries, []string{"Math"})
	if strings.Contains(out, "6. ") || !strings.Contains(out, "5.  (ID: C): 70.0") {
		t.Errorf("expected exactly five ranked students:\n%s", out)
	}
}

func TestStudentStatistics(t *testing.T) {
	students, entries := scoreFixture()
	out := StudentStatistics(students, entries, []string{"Math", "Art"})
	for _, want := range []string{
		"Total Students: 3\nTotal Score Records: 4\n",
		"  1: 2 students\n",
		"  EE: 1 students\n",
		"  Math           :   75.0 (2 students)\n",
		"  Art            :    No Data\n",
		"SYSTEM AVERAGE: 70.0\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestImportSummary(t *testing.T) {
	out := ImportSummary(&csvio.Report{
		Valid:      2,
		Imported:   2,
		Invalid:    []csvio.RowIssue{{Row: 3, Reason: "missing required fields: Name"}},
		Duplicates: []csvio.RowIssue{{Row: 4, Key: "S1", Reason: "key already exists"}},
	})
	assertOrder(t, out,
		"Valid records found: 2\nInvalid rows: 1\nDuplicate IDs: 1\n",
		"  - Row 3: missing required fields: Name\n",
		"  - Row 4: key already exists (S1)\n",
		"Successfully imported: 2\n",
	)
}

func TestGenerator(t *testing.T) {
	ctx := context.Background()
	s := records.New(records.Options{})
	if _, err := s.Initialize(ctx); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	defer s.Close()

	g := NewGenerator(s, []string{"Math"})

	out, err := g.Generate(ctx, KindDepartment, "")
	if err != nil || out != "No professor data available\n" {
		t.Fatalf("unexpected empty report: %q, %v", out, err)
	}

	if _, err := s.UpsertRecord(ctx, "students", "S1", map[string]string{"name": "Kim", "class": "1", "major": "CS"}); err != nil {
		t.Fatalf("failed to insert: %v", err)
	}
	if _, err := s.RecordScore(ctx, "students", "S1", "Math", 88, time.Now()); err != nil {
		t.Fatalf("failed to record score: %v", err)
	}

	out, err = g.Generate(ctx, KindIndividual, "S1")
	if err != nil {
		t.Fatalf("individual report failed: %v", err)
	}
	if !strings.Contains(out, "Overall Average:   88.0 (B+)") {
		t.Errorf("unexpected individual report:\n%s", out)
	}

	if _, err := g.Generate(ctx, KindIndividual, "S9"); !records.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := g.Generate(ctx, KindIndividual, ""); !records.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := g.Generate(ctx, Kind("bogus"), ""); !records.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	for _, kind := range Kinds {
		if kind == KindIndividual {
			continue
		}
		if _, err := g.Generate(ctx, kind, ""); err != nil {
			t.Errorf("%s: %v", kind, err)
		}
	}
}
