package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/csvio"
	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/reports"
)

func newCSVCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Import and export records as CSV",
		Long: `Exchange records with spreadsheets.

Files use the collection's column headers as the first row. Imports also
accept files without a header row, in column order. Every row is checked
before anything is written.`,
	}

	cmd.AddCommand(newCSVImportCommand())
	cmd.AddCommand(newCSVExportCommand())
	cmd.AddCommand(newCSVTemplateCommand())
	cmd.AddCommand(newCSVWatchCommand())

	return cmd
}

// openOutput returns the file named by args[1], or stdout when there is none.
func openOutput(cmd *cobra.Command, args []string) (io.Writer, func() error, error) {
	if len(args) < 2 || args[1] == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(args[1]), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(args[1])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", args[1], err)
	}
	return f, f.Close, nil
}

// bomFlag reads --bom, falling back to the configured default.
func bomFlag(cmd *cobra.Command, s *session) bool {
	if cmd.Flags().Changed("bom") {
		v, _ := cmd.Flags().GetBool("bom")
		return v
	}
	return s.cfg.CSV.BOM
}

func newCSVImportCommand() *cobra.Command {
	var opts csvio.ImportOptions

	cmd := &cobra.Command{
		Use:   "import <collection> <file>",
		Short: "Import records from a CSV file",
		Long: `Validate every row of a CSV file, then add the valid rows.

Rows with missing required fields or values outside the allowed set are
reported as invalid. Keys that repeat within the file or already exist are
reported as duplicates. With --strict nothing is imported when any row is
rejected; with --dry-run nothing is imported at all.`,
		Example: `  desk csv import professors ./professors.csv --dry-run
  desk csv import students ./students.csv --strict`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			if _, err := collectionSchema(s, args[0]); err != nil {
				return err
			}

			log.Info().
				Str("collection", args[0]).
				Str("file", args[1]).
				Bool("dry_run", opts.DryRun).
				Bool("strict", opts.Strict).
				Msg("Importing CSV")

			rep, err := csvio.NewImporter(s.store).ImportFile(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			if err := newOutput(cmd).result(rep, func(w io.Writer) {
				io.WriteString(w, reports.ImportSummary(rep))
			}); err != nil {
				return err
			}
			if opts.Strict && !rep.Clean() {
				return records.NewValidationError(
					fmt.Sprintf("%d invalid and %d duplicate rows, nothing imported", len(rep.Invalid), len(rep.Duplicates)),
				).WithCollection(args[0])
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "validate only, import nothing")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "import nothing if any row is rejected")

	return cmd
}

func newCSVExportCommand() *cobra.Command {
	var (
		where  []string
		sortBy string
	)

	cmd := &cobra.Command{
		Use:   "export <collection> [file]",
		Short: "Export records to CSV",
		Long:  `Write the records of a collection as CSV, to a file or to stdout.`,
		Example: `  desk csv export professors ./professors.csv
  desk csv export counselings --where status=pending --bom=false`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			if _, err := collectionSchema(s, args[0]); err != nil {
				return err
			}
			equals, err := parseAssignments(where)
			if err != nil {
				return err
			}

			w, closeOut, err := openOutput(cmd, args)
			if err != nil {
				return err
			}
			n, err := csvio.Export(cmd.Context(), s.store, args[0], w, csvio.ExportOptions{
				BOM:   bomFlag(cmd, s),
				Query: records.Query{Equals: equals, SortBy: sortBy},
			})
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			log.Info().Str("collection", args[0]).Int("records", n).Msg("Exported CSV")
			if len(args) == 2 && args[1] != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d %s to %s\n", n, args[0], args[1])
			}
			return nil
		},
	}

	cmd.Flags().Bool("bom", true, "prefix the file with a UTF-8 byte order mark (default from config)")
	cmd.Flags().StringArrayVar(&where, "where", nil, "field=value equality filter (repeatable)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "field to sort by")

	return cmd
}

func newCSVTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template <collection> [file]",
		Short:   "Write a CSV template with sample rows",
		Example: `  desk csv template professors ./professors-template.csv`,
		Args:    rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			sc, err := collectionSchema(s, args[0])
			if err != nil {
				return err
			}

			w, closeOut, err := openOutput(cmd, args)
			if err != nil {
				return err
			}
			err = csvio.Template(w, sc, bomFlag(cmd, s))
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			return err
		},
	}

	cmd.Flags().Bool("bom", true, "prefix the file with a UTF-8 byte order mark (default from config)")
	return cmd
}

func newCSVWatchCommand() *cobra.Command {
	var opts csvio.WatchOptions

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Import CSV files as they appear in a directory",
		Long: `Watch a directory and import every CSV file written to it.

The collection is taken from the file name (students.csv, students-2024.csv)
unless --collection is given. Runs until interrupted.`,
		Example: `  desk csv watch ./inbox
  desk csv watch ./inbox --collection professors --strict`,
		Args: rangeArgs(0, 1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			dir := s.cfg.CSV.WatchDir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return newUsageError("no directory given and csv.watch_dir is not set")
			}

			out := newOutput(cmd)
			var mu sync.Mutex
			opts.OnReport = func(path string, rep *csvio.Report, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					return
				}
				_ = out.result(map[string]interface{}{"file": path, "report": rep}, func(w io.Writer) {
					fmt.Fprintf(w, "== %s (%s)\n%s\n", filepath.Base(path), rep.Collection, reports.ImportSummary(rep))
				})
			}

			logger := s.tel.Logger.Zerolog()
			watcher := csvio.NewWatcher(csvio.NewImporter(s.store), logger, opts)
			if err := watcher.Watch(cmd.Context(), dir); err != nil {
				return err
			}
			defer watcher.StopWatching()

			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for CSV files (Ctrl+C to stop)\n", dir)
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "", "import every file into this collection")
	cmd.Flags().BoolVar(&opts.Import.DryRun, "dry-run", false, "validate only, import nothing")
	cmd.Flags().BoolVar(&opts.Import.Strict, "strict", false, "skip a file if any row is rejected")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", csvio.DefaultDebounce, "quiet period before a file is imported")

	return cmd
}
