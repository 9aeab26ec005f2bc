package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/records"
)

// annotationNoStore marks commands that run without opening the store.
const annotationNoStore = "desk/no-store"

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd, closeSession := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	err = errors.Join(err, closeSession(context.WithoutCancel(ctx)))
	if err != nil {
		if asJSON, _ := rootCmd.PersistentFlags().GetBool("json"); asJSON {
			_ = writeJSONError(rootCmd, err)
		}
	}
	return err
}

// newRootCommand builds the command tree. The returned function closes the
// session opened for the command, if any.
func newRootCommand(version, commit, buildDate string) (*cobra.Command, func(context.Context) error) {
	var (
		configPath string
		owned      *session
	)

	rootCmd := &cobra.Command{
		Use:   "desk",
		Short: "campusdesk - campus records on a remote or local store",
		Long: `campusdesk keeps professor, student, counseling and feedback records
together with student score history.

Records live in the configured primary backend (MongoDB, SQLite or bbolt).
If the primary cannot be reached at startup, or fails later, desk keeps
working on in-memory local storage for the rest of the process.

Features:
  - Create, update, delete, filter and sort records
  - Cascade delete of score history and dependent records
  - Latest-per-subject score averages and letter grades
  - CSV import (validated before commit), export and templates
  - Text reports and an interactive shell`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationNoStore] == "true" || sessionFrom(cmd.Context()) != nil {
				return nil
			}
			s, err := openSession(cmd.Context(), configPath, version)
			if err != nil {
				return err
			}
			owned = s
			cmd.SetContext(s.tel.WithContext(withSession(cmd.Context(), s)))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ~/.campusdesk/config.yaml)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return newUsageError(err.Error())
	})

	rootCmd.AddCommand(newInitCommand(&configPath))
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newRecordCommand())
	rootCmd.AddCommand(newScoreCommand())
	rootCmd.AddCommand(newReportCommand())
	rootCmd.AddCommand(newCSVCommand())
	rootCmd.AddCommand(newBackupCommand())
	rootCmd.AddCommand(newShellCommand(version, commit, buildDate))

	closeSession := func(ctx context.Context) error {
		if owned == nil {
			return nil
		}
		s := owned
		owned = nil
		return s.close(ctx)
	}
	return rootCmd, closeSession
}

// writeJSONError writes {"success": false, "error": {...}} to stdout.
func writeJSONError(cmd *cobra.Command, err error) error {
	errData := map[string]interface{}{
		"code":    ExitCode(err),
		"message": err.Error(),
	}
	var rerr *records.Error
	if errors.As(err, &rerr) {
		errData["class"] = rerr.Class
		if rerr.Collection != "" {
			errData["collection"] = rerr.Collection
		}
		if rerr.Key != "" {
			errData["key"] = rerr.Key
		}
		if rerr.Field != "" {
			errData["field"] = rerr.Field
		}
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
		"success": false,
		"error":   errData,
	})
}
