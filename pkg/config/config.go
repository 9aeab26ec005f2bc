package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/campusdesk/campusdesk/pkg/reports"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DESK_"

// DefaultPath is where desk looks for a config file when none is given.
const DefaultPath = "~/.campusdesk/config.yaml"

// Config is the desk configuration file.
type Config struct {
	// DataDir holds the SQLite and bbolt files and backups.
	DataDir string `yaml:"data_dir" toml:"data_dir" validate:"required"`

	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
	CSV       CSVConfig       `yaml:"csv" toml:"csv"`

	// Subjects are listed by score reports even when nobody has a score.
	Subjects []string `yaml:"subjects" toml:"subjects" validate:"min=1,dive,required"`
}

// StorageConfig selects the primary backend.
type StorageConfig struct {
	// Backend is mongo, sqlite, bolt or memory. Memory runs local only.
	Backend string `yaml:"backend" toml:"backend" validate:"oneof=mongo sqlite bolt memory"`

	MongoURI      string `yaml:"mongo_uri,omitempty" toml:"mongo_uri,omitempty" validate:"required_if=Backend mongo"`
	MongoDatabase string `yaml:"mongo_database" toml:"mongo_database" validate:"required_if=Backend mongo"`
	SQLitePath    string `yaml:"sqlite_path,omitempty" toml:"sqlite_path,omitempty"`
	BoltPath      string `yaml:"bolt_path,omitempty" toml:"bolt_path,omitempty"`

	// ProbeTimeout bounds the startup connectivity check.
	ProbeTimeout Duration `yaml:"probe_timeout" toml:"probe_timeout" validate:"gt=0"`

	// OperationTimeout bounds each call against the primary backend.
	OperationTimeout Duration `yaml:"operation_timeout" toml:"operation_timeout" validate:"gt=0"`
}

// TelemetryConfig is the subset of telemetry settings exposed to users.
type TelemetryConfig struct {
	LogLevel       string  `yaml:"log_level" toml:"log_level" validate:"oneof=debug info warn error disabled"`
	LogFormat      string  `yaml:"log_format" toml:"log_format" validate:"oneof=console json"`
	TraceExporter  string  `yaml:"trace_exporter" toml:"trace_exporter" validate:"oneof=none stdout otlp"`
	TraceEndpoint  string  `yaml:"trace_endpoint,omitempty" toml:"trace_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`
	SamplingRate   float64 `yaml:"sampling_rate" toml:"sampling_rate" validate:"gte=0,lte=1"`
	MetricsAddress string  `yaml:"metrics_address" toml:"metrics_address" validate:"required"`
}

// CSVConfig tunes CSV interchange.
type CSVConfig struct {
	// BOM prefixes exports with a UTF-8 byte order mark for spreadsheet tools.
	BOM bool `yaml:"bom" toml:"bom"`

	// WatchDir is the default directory for desk csv watch.
	WatchDir string `yaml:"watch_dir,omitempty" toml:"watch_dir,omitempty"`
}

// Duration is a time.Duration written as a string such as "50ms" or "2s".
type Duration time.Duration

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with sane defaults: a local SQLite primary under
// ~/.campusdesk and console logging at info.
func Default() *Config {
	return &Config{
		DataDir: "~/.campusdesk",
		Storage: StorageConfig{
			Backend:          "sqlite",
			MongoDatabase:    "campusdesk",
			ProbeTimeout:     Duration(50 * time.Millisecond),
			OperationTimeout: Duration(2 * time.Second),
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "console",
			TraceExporter:  "none",
			SamplingRate:   1.0,
			MetricsAddress: ":9090",
		},
		CSV:      CSVConfig{BOM: true},
		Subjects: append([]string(nil), reports.DefaultSubjects...),
	}
}

// Load reads a YAML or TOML config file, chosen by extension, on top of the
// defaults, then applies environment overrides and validates the result.
// An empty path tries DefaultPath and falls back to defaults when it does
// not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	path = ExpandHome(path)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.DataDir = ExpandHome(cfg.DataDir)
	cfg.CSV.WatchDir = ExpandHome(cfg.CSV.WatchDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return nil
}

// applyEnv overrides settings from DESK_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := []struct {
		name string
		dst  *string
	}{
		{"DATA_DIR", &c.DataDir},
		{"BACKEND", &c.Storage.Backend},
		{"MONGO_URI", &c.Storage.MongoURI},
		{"MONGO_DATABASE", &c.Storage.MongoDatabase},
		{"LOG_LEVEL", &c.Telemetry.LogLevel},
		{"LOG_FORMAT", &c.Telemetry.LogFormat},
	}
	for _, o := range overrides {
		if v, ok := lookup(EnvPrefix + o.name); ok && v != "" {
			*o.dst = v
		}
	}
}

// Validate checks the struct tags. Errors name the offending fields.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Write saves the config to path in the format its extension selects.
func (c *Config) Write(path string) error {
	path = ExpandHome(path)

	var buf bytes.Buffer
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
	case ".toml":
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to encode TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
