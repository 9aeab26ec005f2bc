// Package reports renders plain-text reports over record store contents:
// grouped directory listings, contact lists, distribution statistics,
// counseling status, and per-student, per-class and per-subject score
// summaries with letter grades.
//
// The rendering functions take records and score entries directly; a
// Generator loads them from a records.Store.
package reports
