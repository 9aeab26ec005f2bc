package commands

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/csvio"
	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

func newBackupCommand() *cobra.Command {
	var (
		outPath string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up all records",
		Long: `Write a copy of every record and score entry.

Formats:
  sqlite  hot copy of the SQLite database (VACUUM INTO); needs the
          sqlite backend to be active
  csv     one CSV file per collection plus one per scored collection's
          history, written into a directory

The default picks sqlite when it is active and csv otherwise, so records
held in local storage after a backend failure can still be saved.`,
		Example: `  # Snapshot into the data directory
  desk backup

  # CSV dump to a directory
  desk backup --format csv --out ./backup-2024-06`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			sqlite, isSQLite := s.store.Active().(*stores.SQLiteBackend)
			if format == "" {
				format = "csv"
				if isSQLite {
					format = "sqlite"
				}
			}
			stamp := time.Now().Format("20060102-150405")

			log.Info().
				Str("format", format).
				Str("out", outPath).
				Str("mode", string(s.store.Mode())).
				Msg("Creating backup")

			var summary map[string]interface{}
			switch format {
			case "sqlite":
				if !isSQLite {
					return records.NewValidationError(
						fmt.Sprintf("sqlite backup needs the sqlite backend, active backend is %s", s.store.BackendName()),
					)
				}
				if outPath == "" {
					outPath = filepath.Join(s.cfg.DataDir, "backups", "campusdesk-"+stamp+".db")
				}
				if _, err := os.Stat(outPath); err == nil {
					return newUsageError(fmt.Sprintf("%s already exists", outPath))
				}
				if err := sqlite.Backup(ctx, outPath); err != nil {
					return err
				}
				summary = map[string]interface{}{"format": format, "out": outPath}

			case "csv":
				if outPath == "" {
					outPath = filepath.Join(s.cfg.DataDir, "backups", "campusdesk-"+stamp)
				}
				counts, err := backupCSV(cmd, s, outPath)
				if err != nil {
					return err
				}
				summary = map[string]interface{}{"format": format, "out": outPath, "files": counts}

			default:
				return newUsageError(fmt.Sprintf("unknown backup format %q (want sqlite or csv)", format))
			}

			return newOutput(cmd).result(summary, func(w io.Writer) {
				fmt.Fprintf(w, "Backup written to %s\n", outPath)
			})
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "backup file or directory (default under data_dir/backups)")
	cmd.Flags().StringVar(&format, "format", "", "sqlite or csv (default: sqlite when active)")

	return cmd
}

// backupCSV writes every collection and score history into dir and returns
// the row count per file.
func backupCSV(cmd *cobra.Command, s *session, dir string) (map[string]int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	ctx := cmd.Context()
	counts := make(map[string]int)

	for _, name := range s.store.Schemas().Names() {
		file := name + ".csv"
		n, err := writeFile(filepath.Join(dir, file), func(w io.Writer) (int, error) {
			return csvio.Export(ctx, s.store, name, w, csvio.ExportOptions{BOM: s.cfg.CSV.BOM})
		})
		if err != nil {
			return nil, err
		}
		counts[file] = n

		if sc, _ := s.store.Schemas().Get(name); !sc.Scored {
			continue
		}
		entries, err := s.store.Scores(ctx, name)
		if err != nil {
			return nil, err
		}
		file = name + "-scores.csv"
		n, err = writeFile(filepath.Join(dir, file), func(w io.Writer) (int, error) {
			return len(entries), writeScores(w, entries)
		})
		if err != nil {
			return nil, err
		}
		counts[file] = n
	}
	return counts, nil
}

func writeFile(path string, fn func(w io.Writer) (int, error)) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := fn(f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to write %s: %w", path, cerr)
	}
	return n, err
}

// writeScores writes score history in insertion order.
func writeScores(w io.Writer, entries []*stores.ScoreEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Key", "Subject", "Score", "Recorded At"}); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.Key,
			e.Subject,
			strconv.FormatFloat(e.Value, 'f', -1, 64),
			e.RecordedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
