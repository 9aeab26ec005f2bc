package csvio

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
	"github.com/campusdesk/campusdesk/pkg/telemetry"
)

// bom is the UTF-8 byte order mark written by spreadsheet tools.
const bom = "\ufeff"

// RowIssue describes one rejected row. Row is the line number in the file.
type RowIssue struct {
	Row    int    `json:"row"`
	Key    string `json:"key,omitempty"`
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

func (i RowIssue) String() string {
	if i.Key != "" {
		return fmt.Sprintf("Row %d: %s (%s)", i.Row, i.Reason, i.Key)
	}
	return fmt.Sprintf("Row %d: %s", i.Row, i.Reason)
}

// Report is the outcome of an import.
type Report struct {
	Collection string     `json:"collection"`
	Header     bool       `json:"header"`
	DryRun     bool       `json:"dry_run"`
	Valid      int        `json:"valid"`
	Invalid    []RowIssue `json:"invalid,omitempty"`
	Duplicates []RowIssue `json:"duplicates,omitempty"`
	Imported   int        `json:"imported"`
	Failures   []RowIssue `json:"failures,omitempty"`
}

// Clean reports whether every row was accepted.
func (r *Report) Clean() bool {
	return len(r.Invalid) == 0 && len(r.Duplicates) == 0 && len(r.Failures) == 0
}

// ImportOptions tunes an import.
type ImportOptions struct {
	// DryRun validates every row without writing.
	DryRun bool

	// Strict refuses to commit anything when a row is invalid or duplicate.
	Strict bool
}

// Importer loads CSV files into a record store.
type Importer struct {
	store   *records.Store
	tel     *telemetry.Telemetry
	metrics *telemetry.Metrics
}

// NewImporter creates an importer bound to store.
func NewImporter(store *records.Store) *Importer {
	tel := store.Telemetry()
	return &Importer{
		store:   store,
		tel:     tel,
		metrics: tel.Metrics,
	}
}

// withTelemetry makes sure ctx carries telemetry for StartOperation,
// falling back to the store's.
func (im *Importer) withTelemetry(ctx context.Context) context.Context {
	if telemetry.FromTelemetryContext(ctx) != nil {
		return ctx
	}
	return im.tel.WithContext(ctx)
}

type pendingRow struct {
	row    int
	key    string
	fields map[string]string
}

// ImportFile imports the CSV file at path.
func (im *Importer) ImportFile(ctx context.Context, collection, path string, opts ImportOptions) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return im.Import(ctx, collection, f, opts)
}

// Import validates every row of r, then commits the valid ones. Nothing is
// written before the whole file has been read and checked.
func (im *Importer) Import(ctx context.Context, collection string, r io.Reader, opts ImportOptions) (*Report, error) {
	op := telemetry.StartOperation(im.withTelemetry(ctx), "csv.import",
		telemetry.AttrCollection.String(collection),
		attribute.Bool("csv.dry_run", opts.DryRun),
	)
	report, err := im.importRows(op.Ctx, collection, r, opts)
	if report != nil {
		op.Span.SetAttributes(
			attribute.Int("csv.valid", report.Valid),
			attribute.Int("csv.invalid", len(report.Invalid)),
			attribute.Int("csv.imported", report.Imported),
		)
		op.Logger.NewComponentLogger("csvio").WithCollection(collection).WithFields(map[string]interface{}{
			"valid":       report.Valid,
			"invalid":     len(report.Invalid),
			"duplicates":  len(report.Duplicates),
			"imported":    report.Imported,
			"failures":    len(report.Failures),
			"dry_run":     report.DryRun,
			"duration_ms": op.Timer.Duration().Milliseconds(),
		}).Info("csv import finished")
	}
	op.End(err)
	return report, err
}

func (im *Importer) importRows(ctx context.Context, collection string, r io.Reader, opts ImportOptions) (*Report, error) {
	sc, ok := im.store.Schemas().Get(collection)
	if !ok {
		return nil, records.NewValidationError("unknown collection").WithCollection(collection)
	}

	cr := csv.NewReader(skipBOM(r))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	report := &Report{Collection: collection, DryRun: opts.DryRun}
	var (
		pending []pendingRow
		layout  []int
		first   = true
		seen    = make(map[string]int)
	)

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if blank(row) {
			continue
		}

		if first {
			first = false
			if idx, ok := headerLayout(sc, row); ok {
				layout = idx
				report.Header = true
				continue
			}
			layout = positional(sc)
		}

		key, fields := extract(sc, layout, row)
		if missing := missingRequired(sc, key, fields); len(missing) > 0 {
			report.Invalid = append(report.Invalid, RowIssue{
				Row:    line,
				Key:    key,
				Field:  missing[0],
				Reason: "missing required fields: " + strings.Join(headersFor(sc, missing), ", "),
			})
			continue
		}
		if err := sc.Check(key, fields); err != nil {
			issue := RowIssue{Row: line, Key: key, Reason: err.Error()}
			var rerr *records.Error
			if errors.As(err, &rerr) {
				issue.Field = rerr.Field
				issue.Reason = rerr.Message
			}
			report.Invalid = append(report.Invalid, issue)
			continue
		}
		if at, dup := seen[key]; dup {
			report.Duplicates = append(report.Duplicates, RowIssue{
				Row:    line,
				Key:    key,
				Reason: fmt.Sprintf("duplicate key in file, first seen at row %d", at),
			})
			continue
		}
		seen[key] = line

		_, exists, err := im.store.FindByKey(ctx, collection, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing key %s: %w", key, err)
		}
		if exists {
			report.Duplicates = append(report.Duplicates, RowIssue{Row: line, Key: key, Reason: "key already exists"})
			continue
		}
		pending = append(pending, pendingRow{row: line, key: key, fields: fields})
	}

	report.Valid = len(pending)
	im.metrics.RecordCSVRows(collection, "invalid", len(report.Invalid))
	im.metrics.RecordCSVRows(collection, "duplicate", len(report.Duplicates))

	if opts.DryRun || (opts.Strict && (len(report.Invalid) > 0 || len(report.Duplicates) > 0)) {
		return report, nil
	}

	for _, p := range pending {
		if _, err := im.store.UpsertRecord(ctx, collection, p.key, p.fields); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failures = append(report.Failures, RowIssue{Row: p.row, Key: p.key, Reason: err.Error()})
			continue
		}
		report.Imported++
	}
	im.metrics.RecordCSVRows(collection, "imported", report.Imported)
	im.metrics.RecordCSVRows(collection, "failed", len(report.Failures))
	return report, nil
}

// skipBOM drops a leading UTF-8 byte order mark.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(bom)); err == nil && string(b) == bom {
		_, _ = br.Discard(len(bom))
	}
	return br
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// headerLayout treats row as a header when it names the key column and at
// least half of its non-empty cells name schema columns, by header label or
// field name. The result maps each cell position to a column index; unknown
// cells map to -1 and are ignored.
func headerLayout(sc *records.Schema, row []string) ([]int, bool) {
	names := make(map[string]int, 2*len(sc.Columns))
	for i, c := range sc.Columns {
		names[normalize(c.Header)] = i
		names[normalize(c.Field)] = i
	}

	layout := make([]int, len(row))
	var cells, matched int
	hasKey := false
	for pos, cell := range row {
		layout[pos] = -1
		if normalize(cell) == "" {
			continue
		}
		cells++
		i, ok := names[normalize(cell)]
		if !ok {
			continue
		}
		matched++
		layout[pos] = i
		if sc.Columns[i].Field == sc.KeyField {
			hasKey = true
		}
	}
	return layout, hasKey && 2*matched >= cells
}

func positional(sc *records.Schema) []int {
	layout := make([]int, len(sc.Columns))
	for i := range layout {
		layout[i] = i
	}
	return layout
}

// extract reads a row through layout. Short rows are padded with empty
// cells, extra cells are ignored. Empty values are left out of fields.
func extract(sc *records.Schema, layout []int, row []string) (string, map[string]string) {
	var key string
	fields := make(map[string]string, len(sc.Columns))
	for pos, col := range layout {
		if col < 0 {
			continue
		}
		var v string
		if pos < len(row) {
			v = strings.TrimSpace(row[pos])
		}
		if v == "" {
			continue
		}
		field := sc.Columns[col].Field
		if field == sc.KeyField {
			key = v
			continue
		}
		fields[field] = v
	}
	return key, fields
}

func missingRequired(sc *records.Schema, key string, fields map[string]string) []string {
	var missing []string
	for _, c := range sc.Columns {
		if !sc.IsRequired(c.Field) {
			continue
		}
		if c.Field == sc.KeyField {
			if key == "" {
				missing = append(missing, c.Field)
			}
			continue
		}
		if fields[c.Field] == "" {
			missing = append(missing, c.Field)
		}
	}
	return missing
}

func headersFor(sc *records.Schema, fields []string) []string {
	labels := make(map[string]string, len(sc.Columns))
	for _, c := range sc.Columns {
		labels[c.Field] = c.Header
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = labels[f]
	}
	return out
}

// ExportOptions tunes an export.
type ExportOptions struct {
	// BOM prefixes the output with a UTF-8 byte order mark.
	BOM bool

	// Query selects and orders the exported records.
	Query records.Query
}

// Export writes every record of collection to w and returns the row count.
func Export(ctx context.Context, store *records.Store, collection string, w io.Writer, opts ExportOptions) (int, error) {
	sc, ok := store.Schemas().Get(collection)
	if !ok {
		return 0, records.NewValidationError("unknown collection").WithCollection(collection)
	}
	recs, err := store.ListRecords(ctx, collection, opts.Query)
	if err != nil {
		return 0, err
	}
	if err := WriteRecords(w, sc, recs, opts.BOM); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// WriteRecords writes a header and one row per record in column order. The
// key column carries the record key.
func WriteRecords(w io.Writer, sc *records.Schema, recs []*stores.Record, withBOM bool) error {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		row := make([]string, len(sc.Columns))
		for i, c := range sc.Columns {
			if c.Field == sc.KeyField {
				row[i] = rec.Key
				continue
			}
			row[i] = rec.Field(c.Field)
		}
		rows = append(rows, row)
	}
	return write(w, sc.Headers(), rows, withBOM)
}

// Template writes the header row plus sample rows for the collection.
func Template(w io.Writer, sc *records.Schema, withBOM bool) error {
	return write(w, sc.Headers(), samples[sc.Name], withBOM)
}

func write(w io.Writer, header []string, rows [][]string, withBOM bool) error {
	if withBOM {
		if _, err := io.WriteString(w, bom); err != nil {
			return fmt.Errorf("failed to write bom: %w", err)
		}
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	return nil
}

var samples = map[string][][]string{
	"professors": {
		{"PROF001", "Dr. John Smith", "Computer Science", "Professor", "AI/Machine Learning", "john.smith@university.edu", "555-0123", "CS Building 301"},
		{"PROF002", "Dr. Jane Doe", "Mathematics", "Associate Professor", "Statistics", "jane.doe@university.edu", "555-0124", "Math Building 205"},
		{"PROF003", "Dr. Bob Johnson", "Physics", "Assistant Professor", "Quantum Physics", "bob.johnson@university.edu", "555-0125", "Physics Building 105"},
	},
	"students": {
		{"S001", "Kim Minjun", "1", "Computer Science"},
		{"S002", "Lee Seoyeon", "2", "Electrical Engineering"},
		{"S003", "Park Jiho", "3", "Mathematics"},
	},
	"counselings": {
		{"counseling-001", "Course planning", "Discussed next semester courses", "S001", "PROF001", "pending", "normal", "academic"},
		{"counseling-002", "Career advice", "Internship options", "S002", "PROF002", "in_progress", "high", "career"},
	},
	"feedbacks": {
		{"feedback-001", "counseling-001", "PROF001", "Follow up after registration"},
	},
}
