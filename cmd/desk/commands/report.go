package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/reports"
)

func newReportCommand() *cobra.Command {
	kinds := make([]string, len(reports.Kinds))
	for i, k := range reports.Kinds {
		kinds[i] = string(k)
	}

	cmd := &cobra.Command{
		Use:   "report <kind> [student-key]",
		Short: "Print a text report",
		Long: fmt.Sprintf(`Print a text report built from the current records.

Kinds: %s

The individual report needs a student key. Score reports list the subjects
configured under "subjects" even when nobody has a score.`, strings.Join(kinds, ", ")),
		Example: `  desk report department
  desk report individual S001
  desk report subject --json`,
		Args:      rangeArgs(1, 2),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			key := ""
			if len(args) == 2 {
				key = args[1]
			}

			kind := reports.Kind(args[0])
			text, err := reports.NewGenerator(s.store, s.cfg.Subjects).Generate(cmd.Context(), kind, key)
			if err != nil {
				return err
			}
			data := map[string]string{"kind": string(kind), "report": text}
			return newOutput(cmd).result(data, func(w io.Writer) {
				io.WriteString(w, text)
			})
		},
	}

	return cmd
}
