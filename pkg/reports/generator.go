package reports

import (
	"context"
	"fmt"
	"strings"

	"github.com/campusdesk/campusdesk/pkg/csvio"
	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

// Kind names a report.
type Kind string

const (
	KindDepartment          Kind = "department"
	KindPosition            Kind = "position"
	KindContacts            Kind = "contacts"
	KindProfessorStatistics Kind = "professor-stats"
	KindCounseling          Kind = "counseling"
	KindIndividual          Kind = "individual"
	KindClass               Kind = "class"
	KindSubject             Kind = "subject"
	KindStudentStatistics   Kind = "student-stats"
)

// Kinds lists every report kind in display order.
var Kinds = []Kind{
	KindDepartment, KindPosition, KindContacts, KindProfessorStatistics,
	KindCounseling, KindIndividual, KindClass, KindSubject, KindStudentStatistics,
}

// Generator renders reports from the current contents of a store.
type Generator struct {
	store    *records.Store
	subjects []string
}

// NewGenerator creates a generator. Subjects default to DefaultSubjects.
func NewGenerator(store *records.Store, subjects []string) *Generator {
	if len(subjects) == 0 {
		subjects = DefaultSubjects
	}
	return &Generator{store: store, subjects: subjects}
}

// Generate renders the report of the given kind. key selects the student for
// KindIndividual and is ignored otherwise.
func (g *Generator) Generate(ctx context.Context, kind Kind, key string) (string, error) {
	switch kind {
	case KindDepartment, KindPosition, KindContacts, KindProfessorStatistics:
		profs, err := g.store.ListRecords(ctx, "professors", records.Query{})
		if err != nil {
			return "", err
		}
		if len(profs) == 0 && kind != KindProfessorStatistics {
			return "No professor data available\n", nil
		}
		switch kind {
		case KindDepartment:
			return Grouped(profs, DepartmentSpec), nil
		case KindPosition:
			return Grouped(profs, PositionSpec), nil
		case KindContacts:
			return ContactList(profs), nil
		default:
			return ProfessorStatistics(profs), nil
		}

	case KindCounseling:
		counselings, err := g.store.ListRecords(ctx, "counselings", records.Query{})
		if err != nil {
			return "", err
		}
		feedbacks, err := g.store.ListRecords(ctx, "feedbacks", records.Query{})
		if err != nil {
			return "", err
		}
		return CounselingStatus(counselings, feedbacks), nil

	case KindIndividual:
		if key == "" {
			return "", records.NewValidationError("student key is required").WithCollection("students")
		}
		student, found, err := g.store.FindByKey(ctx, "students", key)
		if err != nil {
			return "", err
		}
		if !found {
			return "", records.NewNotFoundError("students", key)
		}
		history, err := g.store.ScoreHistory(ctx, "students", key)
		if err != nil {
			return "", err
		}
		return Individual(student, history, g.subjects), nil

	case KindClass, KindSubject, KindStudentStatistics:
		students, entries, err := g.studentData(ctx)
		if err != nil {
			return "", err
		}
		switch kind {
		case KindClass:
			return ClassReport(students, entries), nil
		case KindSubject:
			return SubjectReport(students, entries, g.subjects), nil
		default:
			return StudentStatistics(students, entries, g.subjects), nil
		}
	}
	return "", records.NewValidationError(fmt.Sprintf("unknown report kind %q", kind))
}

func (g *Generator) studentData(ctx context.Context) ([]*stores.Record, []*stores.ScoreEntry, error) {
	students, err := g.store.ListRecords(ctx, "students", records.Query{})
	if err != nil {
		return nil, nil, err
	}
	entries, err := g.store.Scores(ctx, "students")
	if err != nil {
		return nil, nil, err
	}
	return students, entries, nil
}

// ImportSummary renders a CSV import report.
func ImportSummary(r *csvio.Report) string {
	var b strings.Builder
	b.WriteString("CSV Import Validation Results:\n\n")
	fmt.Fprintf(&b, "Valid records found: %d\n", r.Valid)
	fmt.Fprintf(&b, "Invalid rows: %d\n", len(r.Invalid))
	fmt.Fprintf(&b, "Duplicate IDs: %d\n", len(r.Duplicates))

	for _, section := range []struct {
		heading string
		issues  []csvio.RowIssue
	}{
		{"Invalid Rows", r.Invalid},
		{"Duplicate IDs", r.Duplicates},
		{"Failed imports", r.Failures},
	} {
		if len(section.issues) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", section.heading)
		for _, issue := range section.issues {
			fmt.Fprintf(&b, "  - %s\n", issue)
		}
	}

	b.WriteByte('\n')
	switch {
	case r.DryRun:
		fmt.Fprintf(&b, "Dry run: %d records would be imported\n", r.Valid)
	default:
		fmt.Fprintf(&b, "Successfully imported: %d\n", r.Imported)
		fmt.Fprintf(&b, "Failed imports: %d\n", len(r.Failures))
	}
	return b.String()
}
