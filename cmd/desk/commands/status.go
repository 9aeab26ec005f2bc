package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/records"
)

type collectionStatus struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
	Scores  *int   `json:"scores,omitempty"`
}

type statusReport struct {
	Mode        string             `json:"mode"`
	Backend     string             `json:"backend"`
	Configured  string             `json:"configured_backend"`
	DataDir     string             `json:"data_dir"`
	Collections []collectionStatus `json:"collections"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the storage mode and record counts",
		Long: `Show which backend is serving records and how many records each
collection holds. Mode "local" means the configured backend could not be
used and records are kept in memory until the process exits.`,
		Example: `  desk status
  desk status --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			rep := statusReport{
				Mode:       string(s.store.Mode()),
				Backend:    s.store.BackendName(),
				Configured: s.cfg.Storage.Backend,
				DataDir:    s.cfg.DataDir,
			}
			for _, name := range s.store.Schemas().Names() {
				recs, err := s.store.ListRecords(ctx, name, records.Query{})
				if err != nil {
					return err
				}
				cs := collectionStatus{Name: name, Records: len(recs)}
				if sc, _ := s.store.Schemas().Get(name); sc.Scored {
					entries, err := s.store.Scores(ctx, name)
					if err != nil {
						return err
					}
					n := len(entries)
					cs.Scores = &n
				}
				rep.Collections = append(rep.Collections, cs)
			}

			return newOutput(cmd).result(rep, func(w io.Writer) {
				fmt.Fprintf(w, "Mode: %s\n", rep.Mode)
				fmt.Fprintf(w, "Backend: %s\n", rep.Backend)
				if rep.Mode == string(records.ModeLocal) && rep.Configured != "memory" {
					fmt.Fprintf(w, "Warning: %s backend unavailable, changes will not be persisted\n", rep.Configured)
				}
				fmt.Fprintf(w, "Data directory: %s\n\n", rep.DataDir)
				for _, cs := range rep.Collections {
					if cs.Scores != nil {
						fmt.Fprintf(w, "  %-12s %5d records, %d scores\n", cs.Name, cs.Records, *cs.Scores)
						continue
					}
					fmt.Fprintf(w, "  %-12s %5d records\n", cs.Name, cs.Records)
				}
			})
		},
	}
}
