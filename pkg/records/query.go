package records

import (
	"slices"
	"strings"

	"github.com/campusdesk/campusdesk/pkg/stores"
)

// Query selects and orders records for ListRecords.
//
// Equals filters are case-insensitive exact matches, Search is a
// case-insensitive substring match on SearchField (the schema's search
// field when empty). SortBy "" keeps insertion order; "key" or the schema
// key field sorts by record key. Sorting is stable.
type Query struct {
	Equals      map[string]string
	Search      string
	SearchField string
	SortBy      string
	Descending  bool
	Limit       int
}

// value returns a record's value for field, treating the key field and the
// literal "key" as the record key.
func value(s *Schema, rec *stores.Record, field string) string {
	if field == "key" || field == s.KeyField {
		return rec.Key
	}
	return rec.Field(field)
}

// Apply filters and sorts recs, which must be in insertion order.
func (q Query) Apply(s *Schema, recs []*stores.Record) []*stores.Record {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	searchField := q.SearchField
	if searchField == "" {
		searchField = s.searchField()
	}

	out := make([]*stores.Record, 0, len(recs))
	for _, rec := range recs {
		if !q.matches(s, rec) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(value(s, rec, searchField)), search) {
			continue
		}
		out = append(out, rec)
	}

	if q.SortBy != "" {
		slices.SortStableFunc(out, func(a, b *stores.Record) int {
			c := compareValues(value(s, a, q.SortBy), value(s, b, q.SortBy))
			if q.Descending {
				return -c
			}
			return c
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (q Query) matches(s *Schema, rec *stores.Record) bool {
	for field, want := range q.Equals {
		if !strings.EqualFold(strings.TrimSpace(value(s, rec, field)), strings.TrimSpace(want)) {
			return false
		}
	}
	return true
}

// compareValues orders case-insensitively, falling back to the raw bytes so
// that values differing only in case still have a fixed order.
func compareValues(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}
