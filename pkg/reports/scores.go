package reports

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

// DefaultSubjects are the subjects listed when none are configured.
var DefaultSubjects = []string{"Introduction to Computers", "IoT Emb", "Capston Design"}

// TopPerformers is how many students a subject report ranks.
const TopPerformers = 5

// subjectOrder lists the configured subjects first, then any other subject
// present in latest, sorted.
func subjectOrder(subjects []string, latest map[string]*stores.ScoreEntry) []string {
	out := slices.Clone(subjects)
	var extra []string
	for s := range latest {
		if !slices.Contains(subjects, s) {
			extra = append(extra, s)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// Individual renders one student's current score per subject and the
// overall average with its grade.
func Individual(student *stores.Record, entries []*stores.ScoreEntry, subjects []string) string {
	var b strings.Builder
	title(&b, "INDIVIDUAL STUDENT REPORT", wideRule)
	fmt.Fprintf(&b, "Student ID: %s\n", student.Key)
	fmt.Fprintf(&b, "Name: %s\n", student.Field("name"))
	fmt.Fprintf(&b, "Class: %s\n", student.Field("class"))
	fmt.Fprintf(&b, "Major: %s\n\n", student.Field("major"))

	b.WriteString("SUBJECT SCORES:\n")
	rule(&b, narrowRule, "-")

	latest := records.LatestPerSubject(entries)
	for _, subject := range subjectOrder(subjects, latest) {
		e, ok := latest[subject]
		if !ok {
			fmt.Fprintf(&b, "%-15s: %10s\n", subject, "No Score")
			continue
		}
		fmt.Fprintf(&b, "%-15s: %6.1f (%s) [%s]\n",
			subject, e.Value, records.Grade(e.Value), e.RecordedAt.Format("2006-01-02"))
	}

	if len(latest) > 0 {
		avg := records.AverageLatest(entries)
		rule(&b, narrowRule, "-")
		fmt.Fprintf(&b, "%-15s: %6.1f (%s)\n", "Overall Average", avg, records.Grade(avg))
	}
	return b.String()
}

// ClassReport groups students by class and lists each student's average.
func ClassReport(students []*stores.Record, entries []*stores.ScoreEntry) string {
	if len(students) == 0 {
		return "No students available\n"
	}

	var b strings.Builder
	title(&b, "CLASS REPORT", wideRule)

	latest := records.LatestByKey(entries)
	classes := groupBy(students, "class")
	for _, class := range slices.Sorted(maps.Keys(classes)) {
		fmt.Fprintf(&b, "CLASS: %s\n", class)
		rule(&b, narrowRule, "-")

		var sum float64
		var scored int
		for _, s := range byName(classes[class]) {
			if len(latest[s.Key]) == 0 {
				fmt.Fprintf(&b, "%-20s (ID: %s): %10s\n", s.Field("name"), s.Key, "No Score")
				continue
			}
			avg := mean(latest[s.Key])
			fmt.Fprintf(&b, "%-20s (ID: %s): %6.1f (%s)\n", s.Field("name"), s.Key, avg, records.Grade(avg))
			sum += avg
			scored++
		}
		if scored > 0 {
			fmt.Fprintf(&b, "\nClass Average: %.1f\n", sum/float64(scored))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func mean(latest map[string]*stores.ScoreEntry) float64 {
	if len(latest) == 0 {
		return 0
	}
	var sum float64
	for _, e := range latest {
		sum += e.Value
	}
	return sum / float64(len(latest))
}

// SubjectStats summarizes the current scores of one subject.
type SubjectStats struct {
	Subject string
	Count   int
	Average float64
	Highest float64
	Lowest  float64
	Ranking []Ranked
}

// Ranked is one entry of a subject ranking.
type Ranked struct {
	Key   string
	Name  string
	Value float64
}

// SubjectSummary computes the statistics of subject over each student's
// current value. names maps keys to display names.
func SubjectSummary(subject string, entries []*stores.ScoreEntry, names map[string]string) SubjectStats {
	st := SubjectStats{Subject: subject}
	for key, subjects := range records.LatestByKey(entries) {
		e, ok := subjects[subject]
		if !ok {
			continue
		}
		st.Ranking = append(st.Ranking, Ranked{Key: key, Name: names[key], Value: e.Value})
	}
	if len(st.Ranking) == 0 {
		return st
	}

	slices.SortStableFunc(st.Ranking, func(a, b Ranked) int {
		switch {
		case a.Value > b.Value:
			return -1
		case a.Value < b.Value:
			return 1
		default:
			return strings.Compare(a.Key, b.Key)
		}
	})

	st.Count = len(st.Ranking)
	st.Highest = st.Ranking[0].Value
	st.Lowest = st.Ranking[st.Count-1].Value
	var sum float64
	for _, r := range st.Ranking {
		sum += r.Value
	}
	st.Average = sum / float64(st.Count)
	return st
}

func nameIndex(students []*stores.Record) map[string]string {
	names := make(map[string]string, len(students))
	for _, s := range students {
		names[s.Key] = s.Field("name")
	}
	return names
}

// SubjectReport renders count, average, highest, lowest and the top
// performers of every subject.
func SubjectReport(students []*stores.Record, entries []*stores.ScoreEntry, subjects []string) string {
	var b strings.Builder
	title(&b, "SUBJECT ANALYSIS REPORT", wideRule)

	names := nameIndex(students)
	for _, subject := range subjectOrder(subjects, records.LatestPerSubject(entries)) {
		st := SubjectSummary(subject, entries, names)
		fmt.Fprintf(&b, "SUBJECT: %s\n", subject)
		rule(&b, narrowRule, "-")

		if st.Count == 0 {
			b.WriteString("No scores recorded for this subject\n\n")
			continue
		}
		fmt.Fprintf(&b, "Students with scores: %d\n", st.Count)
		fmt.Fprintf(&b, "Average Score: %.1f\n", st.Average)
		fmt.Fprintf(&b, "Highest Score: %.1f\n", st.Highest)
		fmt.Fprintf(&b, "Lowest Score: %.1f\n\n", st.Lowest)

		b.WriteString("Top performers:\n")
		for i, r := range st.Ranking[:min(TopPerformers, len(st.Ranking))] {
			fmt.Fprintf(&b, "  %d. %s (ID: %s): %.1f (%s)\n", i+1, r.Name, r.Key, r.Value, records.Grade(r.Value))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// StudentStatistics renders class and major distributions, per subject
// averages and the system average over student averages.
func StudentStatistics(students []*stores.Record, entries []*stores.ScoreEntry, subjects []string) string {
	if len(students) == 0 {
		return "No student data available\n"
	}

	var b strings.Builder
	title(&b, "SYSTEM STATISTICS", 40)
	fmt.Fprintf(&b, "Total Students: %d\n", len(students))
	fmt.Fprintf(&b, "Total Score Records: %d\n\n", len(entries))

	for _, d := range []struct{ heading, field string }{
		{"CLASS DISTRIBUTION", "class"},
		{"MAJOR DISTRIBUTION", "major"},
	} {
		groups := groupBy(students, d.field)
		fmt.Fprintf(&b, "%s:\n", d.heading)
		for _, k := range slices.Sorted(maps.Keys(groups)) {
			fmt.Fprintf(&b, "  %s: %d students\n", k, len(groups[k]))
		}
		b.WriteByte('\n')
	}

	b.WriteString("SUBJECT AVERAGES:\n")
	for _, subject := range subjectOrder(subjects, records.LatestPerSubject(entries)) {
		st := SubjectSummary(subject, entries, nil)
		if st.Count == 0 {
			fmt.Fprintf(&b, "  %-15s: %10s\n", subject, "No Data")
			continue
		}
		fmt.Fprintf(&b, "  %-15s: %6.1f (%d students)\n", subject, st.Average, st.Count)
	}

	latest := records.LatestByKey(entries)
	if len(latest) > 0 {
		var sum float64
		for _, subjects := range latest {
			sum += mean(subjects)
		}
		fmt.Fprintf(&b, "\nSYSTEM AVERAGE: %.1f\n", sum/float64(len(latest)))
	}
	return b.String()
}
