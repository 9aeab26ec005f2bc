package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
)

func newRecordCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "record",
		Aliases: []string{"rec"},
		Short:   "Create, read, update and delete records",
		Long: `Manage records of a collection: professors, students, counselings or
feedbacks. Fields are given as field=value pairs.`,
	}

	cmd.AddCommand(newRecordAddCommand())
	cmd.AddCommand(newRecordGetCommand())
	cmd.AddCommand(newRecordUpdateCommand())
	cmd.AddCommand(newRecordDeleteCommand())
	cmd.AddCommand(newRecordListCommand())

	return cmd
}

// collectionSchema resolves a collection argument against the store registry.
func collectionSchema(s *session, name string) (*records.Schema, error) {
	sc, ok := s.store.Schemas().Get(name)
	if !ok {
		return nil, records.NewValidationError(
			fmt.Sprintf("unknown collection (want one of %v)", s.store.Schemas().Names()),
		).WithCollection(name)
	}
	return sc, nil
}

func newRecordAddCommand() *cobra.Command {
	var set []string

	cmd := &cobra.Command{
		Use:   "add <collection> [key]",
		Short: "Add a record",
		Long: `Add a record to a collection. The key may be given as an argument, as the
collection's key field, or left out to generate one.`,
		Example: `  desk record add professors PROF001 --set name="Kim Chulsoo" --set department="Computer Engineering" --set position=Professor
  desk record add counselings --set title="Course planning" --set student_id=S001`,
		Args: rangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			sc, err := collectionSchema(s, args[0])
			if err != nil {
				return err
			}
			fields, err := parseAssignments(set)
			if err != nil {
				return err
			}
			key := ""
			if len(args) == 2 {
				key = args[1]
			}

			rec, err := s.store.UpsertRecord(cmd.Context(), sc.Name, key, fields)
			if err != nil {
				return err
			}
			log.Debug().Str("collection", sc.Name).Str("key", rec.Key).Msg("Record added")

			return newOutput(cmd).result(rec, func(w io.Writer) {
				fmt.Fprintf(w, "Added %s record %s\n", sc.Name, rec.Key)
			})
		},
	}

	cmd.Flags().StringArrayVar(&set, "set", nil, "field=value (repeatable)")
	return cmd
}

func newRecordGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <key>",
		Short: "Show a record",
		Example: `  desk record get students S001
  desk record get students S001 --json`,
		Args: exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			sc, err := collectionSchema(s, args[0])
			if err != nil {
				return err
			}
			rec, found, err := s.store.FindByKey(cmd.Context(), sc.Name, args[1])
			if err != nil {
				return err
			}
			if !found {
				return records.NewNotFoundError(sc.Name, args[1])
			}
			return newOutput(cmd).result(rec, func(w io.Writer) {
				printRecord(w, sc, rec)
			})
		},
	}
}

func newRecordUpdateCommand() *cobra.Command {
	var set []string

	cmd := &cobra.Command{
		Use:   "update <collection> <key>",
		Short: "Update fields of a record",
		Long: `Merge the given fields into an existing record. Fields that are not
given keep their value. The key cannot be changed.`,
		Example: `  desk record update counselings counseling-1a2b3c4d --set status=completed`,
		Args:    exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			sc, err := collectionSchema(s, args[0])
			if err != nil {
				return err
			}
			fields, err := parseAssignments(set)
			if err != nil {
				return err
			}
			if len(fields) == 0 {
				return newUsageError("nothing to update (use --set field=value)")
			}

			rec, err := s.store.UpdateRecord(cmd.Context(), sc.Name, args[1], fields)
			if err != nil {
				return err
			}
			return newOutput(cmd).result(rec, func(w io.Writer) {
				fmt.Fprintf(w, "Updated %s record %s\n", sc.Name, rec.Key)
			})
		},
	}

	cmd.Flags().StringArrayVar(&set, "set", nil, "field=value (repeatable)")
	return cmd
}

func newRecordDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <key>",
		Short: "Delete a record and everything that depends on it",
		Long: `Delete a record. Score history of a student and feedback on a
counseling request are removed with it.`,
		Example: `  desk record delete students S001`,
		Args:    exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			sc, err := collectionSchema(s, args[0])
			if err != nil {
				return err
			}

			res, err := s.store.DeleteRecord(cmd.Context(), sc.Name, args[1])
			if err != nil {
				return err
			}
			return newOutput(cmd).result(res, func(w io.Writer) {
				printCascade(w, res)
			})
		},
	}
}

func printCascade(w io.Writer, res records.CascadeResult) {
	fmt.Fprintf(w, "Deleted %s record %s\n", res.Collection, res.Key)
	if res.ScoresRemoved > 0 {
		fmt.Fprintf(w, "  score entries removed: %d\n", res.ScoresRemoved)
	}
	names := make([]string, 0, len(res.ByCollection))
	for name := range res.ByCollection {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s removed: %d\n", name, res.ByCollection[name])
	}
}

func newRecordListCommand() *cobra.Command {
	var (
		where       []string
		search      string
		searchField string
		sortBy      string
		desc        bool
		limit       int
		fields      []string
	)

	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "List records with filters and sorting",
		Long: `List the records of a collection.

--where keeps records whose field equals the value, ignoring case
(repeatable, all must match). --search keeps records whose search field
contains the text, ignoring case. --sort orders by a field, ignoring case;
"key" sorts by record key.`,
		Example: `  desk record list professors --where department="Computer Engineering" --sort name
  desk record list counselings --where status=pending --search plan
  desk record list students --sort student_id --desc --limit 10`,
		Args: exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			sc, err := collectionSchema(s, args[0])
			if err != nil {
				return err
			}
			equals, err := parseAssignments(where)
			if err != nil {
				return err
			}
			if limit < 0 {
				return newUsageError("--limit must not be negative")
			}

			recs, err := s.store.ListRecords(cmd.Context(), sc.Name, records.Query{
				Equals:      equals,
				Search:      search,
				SearchField: searchField,
				SortBy:      sortBy,
				Descending:  desc,
				Limit:       limit,
			})
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []*stores.Record{}
			}

			columns := fields
			if len(columns) == 0 {
				columns = sc.Fields()
			}
			return newOutput(cmd).result(recs, func(w io.Writer) {
				printTable(w, sc, recs, columns)
			})
		},
	}

	cmd.Flags().StringArrayVar(&where, "where", nil, "field=value equality filter (repeatable)")
	cmd.Flags().StringVar(&search, "search", "", "case-insensitive substring match on the search field")
	cmd.Flags().StringVar(&searchField, "search-field", "", "field --search applies to (default per collection)")
	cmd.Flags().StringVar(&sortBy, "sort", "", "field to sort by")
	cmd.Flags().BoolVar(&desc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of records (0 for all)")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "fields to show in text output")

	return cmd
}
