package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/config"
)

func newInitCommand(configPath *string) *cobra.Command {
	var (
		backend  string
		dataDir  string
		mongoURI string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a campusdesk config file",
		Long: `Write a config file with default settings and create the data directory.

The default backend is SQLite under the data directory. Use --backend mongo
with --mongo-uri to keep records on a MongoDB server instead.`,
		Example: `  # SQLite under ~/.campusdesk
  desk init

  # MongoDB primary, TOML config
  desk init --backend mongo --mongo-uri mongodb://localhost:27017 --config ./desk.toml`,
		Annotations: map[string]string{annotationNoStore: "true"},
		Args:        noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *configPath
			if path == "" {
				path = config.DefaultPath
			}
			path = config.ExpandHome(path)

			log.Info().
				Str("config", path).
				Str("backend", backend).
				Msg("Initializing config")

			if _, err := os.Stat(path); err == nil && !force {
				return newUsageError(fmt.Sprintf("config file %s already exists (use --force to overwrite)", path))
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("failed to check config file: %w", err)
			}

			cfg := config.Default()
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			cfg.Storage.Backend = backend
			cfg.Storage.MongoURI = mongoURI
			if err := cfg.Validate(); err != nil {
				return newUsageError(err.Error())
			}

			if err := os.MkdirAll(config.ExpandHome(cfg.DataDir), 0o755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			if err := cfg.Write(path); err != nil {
				return err
			}

			out := newOutput(cmd)
			return out.result(map[string]string{
				"config":   path,
				"data_dir": cfg.DataDir,
				"backend":  cfg.Storage.Backend,
			}, func(w io.Writer) {
				fmt.Fprintf(w, "Created config file: %s\n", path)
				fmt.Fprintf(w, "Data directory: %s\n", cfg.DataDir)
				fmt.Fprintf(w, "Backend: %s\n", cfg.Storage.Backend)
				fmt.Fprintf(w, "\nNext: desk status --config %s\n", filepath.Clean(path))
			})
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "sqlite", "primary backend: mongo, sqlite, bolt or memory")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default ~/.campusdesk)")
	cmd.Flags().StringVar(&mongoURI, "mongo-uri", "", "MongoDB connection URI")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
