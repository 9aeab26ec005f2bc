package commands

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

const defaultScoredCollection = "students"

func newScoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Record and query score history",
		Long: `Scores are kept as history: every reading is appended with a timestamp.
Averages use the latest reading of each subject.`,
	}

	cmd.PersistentFlags().String("collection", defaultScoredCollection, "scored collection")

	cmd.AddCommand(newScoreAddCommand())
	cmd.AddCommand(newScoreHistoryCommand())
	cmd.AddCommand(newScoreAverageCommand())
	cmd.AddCommand(newScoreSubjectCommand())

	return cmd
}

// parseTime accepts RFC 3339 or a plain date.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, newUsageError(fmt.Sprintf("invalid time %q (want RFC 3339 or YYYY-MM-DD)", s))
}

// parseScores turns subject=value pairs into score inputs. Subjects may
// contain spaces when quoted.
func parseScores(pairs []string) ([]records.ScoreInput, error) {
	out := make([]records.ScoreInput, 0, len(pairs))
	for _, p := range pairs {
		i := strings.LastIndex(p, "=")
		if i <= 0 {
			return nil, newUsageError(fmt.Sprintf("expected subject=score, got %q", p))
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(p[i+1:]), 64)
		if err != nil {
			return nil, records.NewValidationError(fmt.Sprintf("score for %s is not a number", p[:i])).
				WithField(strings.TrimSpace(p[:i]))
		}
		out = append(out, records.ScoreInput{Subject: strings.TrimSpace(p[:i]), Value: v})
	}
	return out, nil
}

func newScoreAddCommand() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "add <key> <subject=score>...",
		Short: "Record one or more scores",
		Long: `Append score readings for a record. All readings share one timestamp.
Nothing is recorded if any reading is invalid. Scores range from 0 to 100.`,
		Example: `  desk score add S001 "Introduction to Computers=92" "IoT Emb=85.5"
  desk score add S001 "Capston Design=78" --at 2024-06-01`,
		Args: minimumArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			collection, _ := cmd.Flags().GetString("collection")
			when, err := parseTime(at)
			if err != nil {
				return err
			}
			inputs, err := parseScores(args[1:])
			if err != nil {
				return err
			}

			entries, err := s.store.RecordScores(cmd.Context(), collection, args[0], inputs, when)
			if err != nil {
				return err
			}
			return newOutput(cmd).result(entries, func(w io.Writer) {
				for _, e := range entries {
					fmt.Fprintf(w, "Recorded %s %.1f for %s\n", e.Subject, e.Value, e.Key)
				}
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "time of the readings (default now)")
	return cmd
}

func newScoreHistoryCommand() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:     "history <key>",
		Short:   "Show every score reading of a record, newest first",
		Example: `  desk score history S001 --subject "IoT Emb"`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			collection, _ := cmd.Flags().GetString("collection")

			history, err := s.store.ScoreHistory(cmd.Context(), collection, args[0])
			if err != nil {
				return err
			}
			entries := make([]*stores.ScoreEntry, 0, len(history))
			for _, e := range history {
				if subject == "" || e.Subject == subject {
					entries = append(entries, e)
				}
			}
			return newOutput(cmd).result(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "No scores recorded")
					return
				}
				for _, e := range entries {
					fmt.Fprintf(w, "%s  %-25s %6.1f\n", e.RecordedAt.Local().Format("2006-01-02 15:04"), e.Subject, e.Value)
				}
			})
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "only show this subject")
	return cmd
}

type averageResult struct {
	Key     string                        `json:"key"`
	Average float64                       `json:"average"`
	Grade   string                        `json:"grade"`
	Latest  map[string]*stores.ScoreEntry `json:"latest"`
}

func newScoreAverageCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "average <key>",
		Short:   "Show the latest-per-subject average and letter grade",
		Example: `  desk score average S001`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			collection, _ := cmd.Flags().GetString("collection")
			ctx := cmd.Context()

			latest, err := s.store.LatestScores(ctx, collection, args[0])
			if err != nil {
				return err
			}
			avg, err := s.store.AverageForKey(ctx, collection, args[0])
			if err != nil {
				return err
			}

			res := averageResult{Key: args[0], Average: avg, Latest: latest}
			if len(latest) > 0 {
				res.Grade = records.Grade(avg)
			}
			return newOutput(cmd).result(res, func(w io.Writer) {
				if len(latest) == 0 {
					fmt.Fprintf(w, "No scores recorded for %s\n", args[0])
					return
				}
				for _, subject := range sortedSubjects(latest) {
					e := latest[subject]
					fmt.Fprintf(w, "%-25s %6.1f (%s)\n", subject, e.Value, records.Grade(e.Value))
				}
				fmt.Fprintf(w, "\nAverage: %.1f (%s)\n", avg, res.Grade)
			})
		},
	}
}

func newScoreSubjectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "subject <subject>",
		Short: "Show the average of a subject across records",
		Long: `Average the latest reading of a subject over every record that has one.
Records without a reading for the subject are not counted.`,
		Example: `  desk score subject "IoT Emb"`,
		Args:    exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			collection, _ := cmd.Flags().GetString("collection")

			avg, err := s.store.AverageForSubject(cmd.Context(), collection, args[0])
			if err != nil {
				return err
			}
			data := map[string]interface{}{"subject": args[0], "average": avg}
			return newOutput(cmd).result(data, func(w io.Writer) {
				fmt.Fprintf(w, "%s average: %.1f\n", args[0], avg)
			})
		},
	}
}

func sortedSubjects(latest map[string]*stores.ScoreEntry) []string {
	out := make([]string, 0, len(latest))
	for subject := range latest {
		out = append(out, subject)
	}
	sort.Strings(out)
	return out
}
