package records

import (
	"sort"

	"github.com/campusdesk/campusdesk/pkg/stores"
)

// Score bounds, inclusive.
const (
	MinScore = 0.0
	MaxScore = 100.0
)

// newer reports whether a supersedes b as the current value: later
// timestamp, ties broken by later insertion.
func newer(a, b *stores.ScoreEntry) bool {
	if !a.RecordedAt.Equal(b.RecordedAt) {
		return a.RecordedAt.After(b.RecordedAt)
	}
	return a.Seq > b.Seq
}

// LatestPerSubject returns the current entry of every subject.
func LatestPerSubject(entries []*stores.ScoreEntry) map[string]*stores.ScoreEntry {
	latest := make(map[string]*stores.ScoreEntry)
	for _, e := range entries {
		if cur, ok := latest[e.Subject]; !ok || newer(e, cur) {
			latest[e.Subject] = e
		}
	}
	return latest
}

// LatestByKey groups entries by record key and keeps the current entry of
// every subject.
func LatestByKey(entries []*stores.ScoreEntry) map[string]map[string]*stores.ScoreEntry {
	byKey := make(map[string][]*stores.ScoreEntry)
	for _, e := range entries {
		byKey[e.Key] = append(byKey[e.Key], e)
	}
	out := make(map[string]map[string]*stores.ScoreEntry, len(byKey))
	for k, es := range byKey {
		out[k] = LatestPerSubject(es)
	}
	return out
}

// AverageLatest is the mean of each subject's current value; 0 when empty.
func AverageLatest(entries []*stores.ScoreEntry) float64 {
	latest := LatestPerSubject(entries)
	if len(latest) == 0 {
		return 0
	}
	var sum float64
	for _, e := range latest {
		sum += e.Value
	}
	return sum / float64(len(latest))
}

// SubjectAverage is the mean over keys of each key's current value for
// subject; keys without a reading are ignored. 0 when none.
func SubjectAverage(entries []*stores.ScoreEntry, subject string) float64 {
	latest := make(map[string]*stores.ScoreEntry)
	for _, e := range entries {
		if e.Subject != subject {
			continue
		}
		if cur, ok := latest[e.Key]; !ok || newer(e, cur) {
			latest[e.Key] = e
		}
	}
	if len(latest) == 0 {
		return 0
	}
	var sum float64
	for _, e := range latest {
		sum += e.Value
	}
	return sum / float64(len(latest))
}

// NewestFirst sorts entries by timestamp descending, later insertion first
// on ties.
func NewestFirst(entries []*stores.ScoreEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return newer(entries[i], entries[j]) })
}

// Grade maps an average to a letter grade.
func Grade(avg float64) string {
	switch {
	case avg >= 95:
		return "A+"
	case avg >= 90:
		return "A"
	case avg >= 85:
		return "B+"
	case avg >= 80:
		return "B"
	case avg >= 75:
		return "C+"
	case avg >= 70:
		return "C"
	case avg >= 65:
		return "D+"
	case avg >= 60:
		return "D"
	default:
		return "F"
	}
}
