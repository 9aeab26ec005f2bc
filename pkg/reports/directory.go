package reports

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

const (
	wideRule   = 50
	narrowRule = 30
)

func rule(b *strings.Builder, width int, ch string) {
	b.WriteString(strings.Repeat(ch, width))
	b.WriteByte('\n')
}

func title(b *strings.Builder, text string, width int) {
	b.WriteString(text)
	b.WriteByte('\n')
	rule(b, width, "=")
	b.WriteByte('\n')
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// groupBy buckets records by the value of field.
func groupBy(recs []*stores.Record, field string) map[string][]*stores.Record {
	out := make(map[string][]*stores.Record)
	for _, r := range recs {
		v := r.Field(field)
		out[v] = append(out[v], r)
	}
	return out
}

func byName(recs []*stores.Record) []*stores.Record {
	sorted := slices.Clone(recs)
	slices.SortStableFunc(sorted, func(a, b *stores.Record) int {
		return strings.Compare(a.Field("name"), b.Field("name"))
	})
	return sorted
}

// GroupSpec describes a two level grouped listing.
type GroupSpec struct {
	Title       string
	Group       string
	GroupLabel  string
	TotalLabel  string
	SubGroup    string
	Detail      string
	DetailLabel string
}

// DepartmentSpec groups professors by department then position.
var DepartmentSpec = GroupSpec{
	Title:       "DEPARTMENT REPORT",
	Group:       "department",
	GroupLabel:  "DEPARTMENT",
	TotalLabel:  "Total Professors",
	SubGroup:    "position",
	Detail:      "office",
	DetailLabel: "Office",
}

// PositionSpec groups professors by position then department.
var PositionSpec = GroupSpec{
	Title:       "POSITION REPORT",
	Group:       "position",
	GroupLabel:  "POSITION",
	TotalLabel:  "Total",
	SubGroup:    "department",
	Detail:      "email",
	DetailLabel: "Email",
}

// Grouped renders recs grouped by layout.Group and layout.SubGroup, both in
// sorted order, with names sorted inside each sub-group. The detail line is
// printed only when the record has a value for it.
func Grouped(recs []*stores.Record, layout GroupSpec) string {
	var b strings.Builder
	title(&b, layout.Title, wideRule)

	groups := groupBy(recs, layout.Group)
	for _, g := range slices.Sorted(maps.Keys(groups)) {
		members := groups[g]
		fmt.Fprintf(&b, "%s: %s\n", layout.GroupLabel, g)
		rule(&b, narrowRule, "-")
		fmt.Fprintf(&b, "%s: %d\n\n", layout.TotalLabel, len(members))

		subs := groupBy(members, layout.SubGroup)
		for _, sg := range slices.Sorted(maps.Keys(subs)) {
			fmt.Fprintf(&b, "  %s: %d\n", sg, len(subs[sg]))
			for _, r := range byName(subs[sg]) {
				fmt.Fprintf(&b, "    - %s (ID: %s)\n", r.Field("name"), r.Key)
				if d := r.Field(layout.Detail); d != "" {
					fmt.Fprintf(&b, "      %s: %s\n", layout.DetailLabel, d)
				}
			}
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// ContactList renders one contact block per professor, sorted by name.
func ContactList(recs []*stores.Record) string {
	var b strings.Builder
	title(&b, "PROFESSOR CONTACT LIST", wideRule)

	for _, r := range byName(recs) {
		fmt.Fprintf(&b, "Name: %s\n", r.Field("name"))
		fmt.Fprintf(&b, "ID: %s\n", r.Key)
		fmt.Fprintf(&b, "Department: %s\n", r.Field("department"))
		fmt.Fprintf(&b, "Position: %s\n", r.Field("position"))
		for _, opt := range []struct{ label, field string }{
			{"Email", "email"},
			{"Phone", "phone"},
			{"Office", "office"},
			{"Specialization", "specialization"},
		} {
			if v := r.Field(opt.field); v != "" {
				fmt.Fprintf(&b, "%s: %s\n", opt.label, v)
			}
		}
		rule(&b, 40, "-")
		b.WriteByte('\n')
	}
	return b.String()
}

func distribution(b *strings.Builder, heading string, recs []*stores.Record, field, empty string) {
	counts := make(map[string]int)
	for _, r := range recs {
		v := r.Field(field)
		if v == "" {
			v = empty
		}
		counts[v]++
	}
	fmt.Fprintf(b, "%s:\n", heading)
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(b, "  %s: %d (%.1f%%)\n", k, counts[k], percent(counts[k], len(recs)))
	}
}

// ProfessorStatistics renders department, position and specialization
// distributions plus contact completeness.
func ProfessorStatistics(recs []*stores.Record) string {
	if len(recs) == 0 {
		return "No professor data available\n"
	}

	var b strings.Builder
	title(&b, "PROFESSOR SYSTEM STATISTICS", 40)
	fmt.Fprintf(&b, "Total Professors: %d\n\n", len(recs))

	distribution(&b, "DEPARTMENT DISTRIBUTION", recs, "department", "Not Specified")
	b.WriteByte('\n')
	distribution(&b, "POSITION DISTRIBUTION", recs, "position", "Not Specified")
	b.WriteByte('\n')
	distribution(&b, "SPECIALIZATION DISTRIBUTION", recs, "specialization", "Not Specified")

	b.WriteString("\nCONTACT INFORMATION COMPLETENESS:\n")
	for _, c := range []struct{ label, field string }{
		{"Email addresses", "email"},
		{"Phone numbers", "phone"},
		{"Office locations", "office"},
	} {
		n := 0
		for _, r := range recs {
			if r.Field(c.field) != "" {
				n++
			}
		}
		fmt.Fprintf(&b, "  %s: %d/%d (%.1f%%)\n", c.label, n, len(recs), percent(n, len(recs)))
	}
	return b.String()
}

// CounselingStatus renders counseling counts by status and priority and
// lists the requests that are not completed.
func CounselingStatus(counselings, feedbacks []*stores.Record) string {
	var b strings.Builder
	title(&b, "COUNSELING STATUS REPORT", wideRule)

	if len(counselings) == 0 {
		b.WriteString("No counseling requests recorded\n")
		return b.String()
	}

	feedbackCount := make(map[string]int)
	for _, f := range feedbacks {
		feedbackCount[f.Field("counseling_id")]++
	}

	total := len(counselings)
	fmt.Fprintf(&b, "Total Counselings: %d\n\n", total)

	status := groupBy(counselings, "status")
	b.WriteString("STATUS:\n")
	for _, s := range []string{records.StatusPending, records.StatusInProgress, records.StatusCompleted} {
		n := len(status[s])
		fmt.Fprintf(&b, "  %-12s: %3d (%.1f%%)\n", s, n, percent(n, total))
	}

	b.WriteString("\nPRIORITY:\n")
	priority := groupBy(counselings, "priority")
	for _, p := range slices.Sorted(maps.Keys(priority)) {
		n := len(priority[p])
		fmt.Fprintf(&b, "  %-12s: %3d (%.1f%%)\n", p, n, percent(n, total))
	}

	b.WriteString("\nOPEN REQUESTS:\n")
	open := 0
	for _, c := range counselings {
		if c.Field("status") == records.StatusCompleted {
			continue
		}
		open++
		fmt.Fprintf(&b, "  - [%s] %s (ID: %s) student %s, %s, feedback %d\n",
			c.Field("priority"), c.Field("title"), c.Key, c.Field("student_id"),
			c.Field("status"), feedbackCount[c.Key])
	}
	if open == 0 {
		b.WriteString("  none\n")
	}
	return b.String()
}
