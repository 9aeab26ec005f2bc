package commands

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shellPrompt = "desk> "

func newShellCommand(version, commit, buildDate string) *cobra.Command {
	var metrics bool

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run desk commands interactively against one store",
		Long: `Read desk commands from standard input and run them against a single
open store. Local storage lives as long as the shell, so records added
after a backend failure stay available until you exit.

Lines are split like a POSIX shell, so quote values with spaces. Type
"exit" or "quit", or send EOF, to leave.`,
		Example: `  desk shell
  desk shell --metrics
  echo 'record list professors' | desk shell`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := requireSession(cmd)
			if err != nil {
				return err
			}
			if metrics {
				if err := s.tel.StartMetricsServer(); err != nil {
					return fmt.Errorf("failed to start metrics server: %w", err)
				}
				log.Info().Str("address", s.cfg.Telemetry.MetricsAddress).Msg("Serving metrics")
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "campusdesk %s, mode %s (%s)\n", version, s.store.Mode(), s.store.BackendName())
			return runShell(cmd, version, commit, buildDate)
		},
	}

	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve Prometheus metrics while the shell runs")
	return cmd
}

// runShell executes each input line as a desk command sharing the session
// in cmd's context. Command errors are printed and the loop continues.
func runShell(cmd *cobra.Command, version, commit, buildDate string) error {
	ctx := cmd.Context()
	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	parser := shellwords.NewParser()
	parser.ParseEnv = true

	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(cmd.ErrOrStderr(), shellPrompt)
		if !in.Scan() {
			fmt.Fprintln(cmd.ErrOrStderr())
			return in.Err()
		}

		line := strings.TrimSpace(in.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := parser.Parse(line)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			continue
		}
		if len(args) > 0 && args[0] == "desk" {
			args = args[1:]
		}
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "exit", "quit":
			return nil
		case "shell":
			fmt.Fprintln(cmd.ErrOrStderr(), "Error: already in a shell")
			continue
		}

		if err := runLine(cmd, args, version, commit, buildDate); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
	}
}

func runLine(cmd *cobra.Command, args []string, version, commit, buildDate string) error {
	child, closeSession := newRootCommand(version, commit, buildDate)
	child.SetArgs(args)
	child.SetIn(cmd.InOrStdin())
	child.SetOut(cmd.OutOrStdout())
	child.SetErr(cmd.ErrOrStderr())

	err := child.ExecuteContext(cmd.Context())
	if cerr := closeSession(cmd.Context()); err == nil {
		err = cerr
	}
	if err != nil {
		if asJSON, _ := child.PersistentFlags().GetBool("json"); asJSON {
			_ = writeJSONError(child, err)
		}
	}
	return err
}
