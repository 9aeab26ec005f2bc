package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Storage.ProbeTimeout.Duration() != 50*time.Millisecond {
		t.Errorf("unexpected probe timeout %s", cfg.Storage.ProbeTimeout)
	}
	if len(cfg.Subjects) != 3 {
		t.Errorf("expected default subjects, got %v", cfg.Subjects)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "desk.yaml", `
data_dir: /var/lib/desk
storage:
  backend: mongo
  mongo_uri: mongodb://db:27017
  operation_timeout: 750ms
telemetry:
  log_level: debug
  log_format: json
subjects: [Math, Science]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "/var/lib/desk" || cfg.Storage.Backend != "mongo" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Storage.OperationTimeout.Duration() != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %s", cfg.Storage.OperationTimeout)
	}
	if cfg.Storage.ProbeTimeout.Duration() != 50*time.Millisecond {
		t.Errorf("unset fields must keep defaults, got %s", cfg.Storage.ProbeTimeout)
	}
	if cfg.Storage.MongoDatabase != "campusdesk" {
		t.Errorf("expected default database, got %q", cfg.Storage.MongoDatabase)
	}
	if len(cfg.Subjects) != 2 || cfg.Subjects[1] != "Science" {
		t.Errorf("unexpected subjects: %v", cfg.Subjects)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "desk.toml", `
data_dir = "/srv/desk"
subjects = ["Art"]

[storage]
backend = "bolt"
probe_timeout = "100ms"
bolt_path = "/srv/desk/records.bolt"

[csv]
bom = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "bolt" || cfg.CSV.BOM {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Storage.ProbeTimeout.Duration() != 100*time.Millisecond {
		t.Errorf("expected 100ms, got %s", cfg.Storage.ProbeTimeout)
	}
	fc := cfg.FactoryConfig([]string{"students"})
	if fc.BoltPath != "/srv/desk/records.bolt" || fc.ConnectTimeout != 100*time.Millisecond {
		t.Errorf("unexpected factory config: %+v", fc)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"unknown extension", "desk.json", `{}`, "unsupported config format"},
		{"bad duration", "desk.yaml", "storage:\n  probe_timeout: soon\n", "invalid duration"},
		{"bad backend", "desk.yaml", "storage:\n  backend: redis\n", "Config.Storage.Backend"},
		{"mongo without uri", "desk.yaml", "storage:\n  backend: mongo\n", "Config.Storage.MongoURI"},
		{"otlp without endpoint", "desk.toml", "[telemetry]\ntrace_exporter = \"otlp\"\n", "TraceEndpoint"},
		{"no subjects", "desk.yaml", "subjects: []\n", "Config.Subjects"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("an explicit missing file must be an error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DESK_BACKEND", "mongo")
	t.Setenv("DESK_MONGO_URI", "mongodb://env:27017")
	t.Setenv("DESK_LOG_LEVEL", "warn")

	cfg, err := Load(writeFile(t, "desk.yaml", "storage:\n  backend: sqlite\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Storage.Backend != "mongo" || cfg.Storage.MongoURI != "mongodb://env:27017" {
		t.Errorf("env must override the file: %+v", cfg.Storage)
	}
	if cfg.Telemetry.LogLevel != "warn" {
		t.Errorf("expected warn, got %s", cfg.Telemetry.LogLevel)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	for _, name := range []string{"out.yaml", "out.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.DataDir = "/tmp/desk"
			cfg.Storage.OperationTimeout = Duration(3 * time.Second)
			cfg.Subjects = []string{"Math"}

			path := filepath.Join(t.TempDir(), "nested", name)
			if err := cfg.Write(path); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if loaded.DataDir != cfg.DataDir || loaded.Storage.OperationTimeout != cfg.Storage.OperationTimeout {
				t.Errorf("round trip mismatch: %+v", loaded)
			}
			if len(loaded.Subjects) != 1 || loaded.Subjects[0] != "Math" {
				t.Errorf("unexpected subjects: %v", loaded.Subjects)
			}
		})
	}
}

func TestTelemetryConfig(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.TraceExporter = "stdout"
	cfg.Telemetry.LogLevel = "debug"

	tc := cfg.TelemetryConfig("1.2.3")
	if tc.ServiceVersion != "1.2.3" || !tc.Tracing.Enabled || tc.Logging.Level != "debug" {
		t.Errorf("unexpected telemetry config: %+v", tc)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("telemetry config must validate: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/desk"); got != filepath.Join(home, "desk") {
		t.Errorf("unexpected expansion: %s", got)
	}
	if got := ExpandHome("/abs/desk"); got != "/abs/desk" {
		t.Errorf("absolute paths must be unchanged: %s", got)
	}
}
