package telemetry_test

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/campusdesk/campusdesk/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"
	cfg.Logging.Level = "disabled"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	fmt.Println("Telemetry ready")
	// Output: Telemetry ready
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DefaultConfig().Logging
	cfg.Format = "json"
	cfg.TimeFormat = "unix"

	logger := telemetry.NewLoggerWithWriter(cfg, os.Stdout)

	logger = logger.NewComponentLogger("records").
		WithCollection("students").
		WithKey("S001")

	logger.Debug("Filtered out at info level")
	fmt.Println("Structured logging configured")
	// Output: Structured logging configured
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = "disabled"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.SetMode("remote")
	tel.Metrics.RecordOperation("upsert", "mongo", "ok", 3*time.Millisecond)
	tel.Metrics.RecordDemotion("mongo")
	tel.Metrics.SetMode("local")
	tel.Metrics.RecordError("duplicate_key")
	tel.Metrics.RecordCSVRows("professors", "imported", 12)

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}

// Example_instrumentedOperation demonstrates the operation helper.
func Example_instrumentedOperation() {
	tel := telemetry.Nop()
	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "csv.import",
		attribute.String("collection", "professors"))
	ic.Logger.Info("Importing file")
	ic.End(nil)

	fmt.Println(ic.Timer.Duration() >= 0)
	// Output: true
}
