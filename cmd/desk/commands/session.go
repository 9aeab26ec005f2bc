package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/campusdesk/campusdesk/pkg/config"
	"github.com/campusdesk/campusdesk/pkg/records"
	"github.com/campusdesk/campusdesk/pkg/stores"
	"github.com/campusdesk/campusdesk/pkg/telemetry"
)

// session is the state shared by every command of one desk process: the
// loaded config, telemetry and an initialized record store.
type session struct {
	cfg   *config.Config
	tel   *telemetry.Telemetry
	store *records.Store
}

type sessionKey struct{}

func withSession(ctx context.Context, s *session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *session {
	s, _ := ctx.Value(sessionKey{}).(*session)
	return s
}

// openSession loads the config, builds the primary backend and initializes
// the store. An unreachable primary is not an error: the store runs local.
func openSession(ctx context.Context, configPath, version string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	registry := records.DefaultRegistry()
	primary, err := stores.New(cfg.FactoryConfig(registry.Names()))
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create %s backend: %w", cfg.Storage.Backend, err)
	}

	store := records.New(records.Options{
		Primary:          primary,
		Schemas:          registry,
		ProbeTimeout:     cfg.Storage.ProbeTimeout.Duration(),
		OperationTimeout: cfg.Storage.OperationTimeout.Duration(),
		Telemetry:        tel,
	})
	if _, err := store.Initialize(ctx); err != nil {
		_ = store.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	return &session{cfg: cfg, tel: tel, store: store}, nil
}

func (s *session) close(ctx context.Context) error {
	return errors.Join(s.store.Close(), s.tel.Shutdown(ctx))
}

// requireSession returns the session installed by the root command.
func requireSession(cmd *cobra.Command) (*session, error) {
	s := sessionFrom(cmd.Context())
	if s == nil {
		return nil, fmt.Errorf("%s needs an open record store", cmd.CommandPath())
	}
	return s, nil
}
