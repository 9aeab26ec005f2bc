package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

// output writes command results either as text or, with --json, as a
// {"success": true, "data": ...} envelope.
type output struct {
	w    io.Writer
	json bool
}

func newOutput(cmd *cobra.Command) *output {
	asJSON, _ := cmd.Flags().GetBool("json")
	return &output{w: cmd.OutOrStdout(), json: asJSON}
}

// result prints data as JSON, or calls text when JSON output is off.
func (o *output) result(data interface{}, text func(w io.Writer)) error {
	if o.json {
		enc := json.NewEncoder(o.w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"success": true,
			"data":    data,
		})
	}
	text(o.w)
	return nil
}

// printf writes text output only.
func (o *output) printf(format string, args ...interface{}) {
	if !o.json {
		fmt.Fprintf(o.w, format, args...)
	}
}

// printRecord writes a record as "Header: value" lines in column order,
// followed by any fields the schema does not declare.
func printRecord(w io.Writer, sc *records.Schema, rec *stores.Record) {
	fmt.Fprintf(w, "%s: %s\n", headerFor(sc, sc.KeyField), rec.Key)
	seen := map[string]bool{sc.KeyField: true}
	for _, col := range sc.Columns {
		seen[col.Field] = true
		if v := rec.Field(col.Field); v != "" && col.Field != sc.KeyField {
			fmt.Fprintf(w, "%s: %s\n", col.Header, v)
		}
	}
	var extra []string
	for k := range rec.Fields {
		if !seen[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		fmt.Fprintf(w, "%s: %s\n", k, rec.Fields[k])
	}
}

func headerFor(sc *records.Schema, field string) string {
	for _, col := range sc.Columns {
		if col.Field == field {
			return col.Header
		}
	}
	return field
}

// printTable writes one line per record with the key and the listed fields.
func printTable(w io.Writer, sc *records.Schema, recs []*stores.Record, fields []string) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records found")
		return
	}
	for _, rec := range recs {
		parts := []string{rec.Key}
		for _, f := range fields {
			if f == sc.KeyField {
				continue
			}
			parts = append(parts, rec.Field(f))
		}
		fmt.Fprintln(w, strings.Join(parts, " | "))
	}
	fmt.Fprintf(w, "\n%d record(s)\n", len(recs))
}

// parseAssignments turns field=value pairs into a map.
func parseAssignments(pairs []string) (map[string]string, error) {
	fields := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, newUsageError(fmt.Sprintf("expected field=value, got %q", p))
		}
		fields[k] = strings.TrimSpace(v)
	}
	return fields, nil
}

// Argument validators that report misuse with ExitUsage.
func wrapArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return newUsageError(err.Error())
		}
		return nil
	}
}

var noArgs = wrapArgs(cobra.NoArgs)

func exactArgs(n int) cobra.PositionalArgs { return wrapArgs(cobra.ExactArgs(n)) }

func rangeArgs(min, max int) cobra.PositionalArgs { return wrapArgs(cobra.RangeArgs(min, max)) }

func minimumArgs(n int) cobra.PositionalArgs { return wrapArgs(cobra.MinimumNArgs(n)) }
