// Package csvio moves record collections in and out of CSV files.
//
// Import reads a whole file before writing anything. Headers are optional
// and may reorder columns; short rows are padded and blank rows skipped.
// Rows with missing required fields, disallowed values, or keys that repeat
// within the file or already exist in the store are reported by line number
// and left out. Export and Template write the schema columns in order, with
// an optional UTF-8 byte order mark for spreadsheet tools.
//
// Watcher imports files dropped into a directory.
package csvio
