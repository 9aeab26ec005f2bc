// Package telemetry provides observability instrumentation for campusdesk.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Telemetry bundle that
// the record store, the CSV importer and the CLI share.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// Tests and one-shot tools that want no output use telemetry.Nop().
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("records")
//	logger = logger.WithCollection("students").WithKey("S001")
//	logger.Info("record stored")
//	logger.WithError(err).Warn("remote backend failed, switching to local")
//
// Log levels: trace, debug, info, warn, error, fatal, disabled
//
// # Distributed Tracing
//
// Every record store operation opens a span named store.<operation>:
//
//	ctx, span := tel.Tracer.StartStoreSpan(ctx, "upsert", "students", "S001")
//	defer span.End()
//
// Exporters:
//
//   - "stdout": pretty-printed spans (development)
//   - "otlp": OTLP/gRPC to a collector at TracingConfig.Endpoint
//   - "none": spans are generated but not exported
//
// # Metrics
//
// Metrics live on a private registry and are exposed at /metrics when the
// metrics server is started:
//
//   - campusdesk_store_operations_total{operation,backend,outcome}
//   - campusdesk_store_operation_duration_seconds{operation,backend}
//   - campusdesk_store_backend_mode{mode}
//   - campusdesk_store_demotions_total{backend}
//   - campusdesk_errors_by_class_total{class}
//   - campusdesk_csv_rows_total{collection,result}
//
// # Graceful Shutdown
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
package telemetry
