package config

import (
	"github.com/campusdesk/campusdesk/pkg/stores"
	"github.com/campusdesk/campusdesk/pkg/telemetry"
)

// FactoryConfig returns the backend factory settings for the given
// collections.
func (c *Config) FactoryConfig(collections []string) stores.FactoryConfig {
	return stores.FactoryConfig{
		Backend:        c.Storage.Backend,
		DataDir:        c.DataDir,
		MongoURI:       c.Storage.MongoURI,
		MongoDatabase:  c.Storage.MongoDatabase,
		SQLitePath:     ExpandHome(c.Storage.SQLitePath),
		BoltPath:       ExpandHome(c.Storage.BoltPath),
		ConnectTimeout: c.Storage.ProbeTimeout.Duration(),
		Collections:    collections,
	}
}

// TelemetryConfig builds the telemetry configuration for a desk process.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.Logging.Level = c.Telemetry.LogLevel
	tc.Logging.Format = c.Telemetry.LogFormat
	tc.Tracing.Exporter = c.Telemetry.TraceExporter
	tc.Tracing.Enabled = c.Telemetry.TraceExporter != "none"
	tc.Tracing.Endpoint = c.Telemetry.TraceEndpoint
	tc.Tracing.SamplingRate = c.Telemetry.SamplingRate
	tc.Metrics.ListenAddress = c.Telemetry.MetricsAddress
	return tc
}
