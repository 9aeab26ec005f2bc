// Package config loads the desk configuration.
//
// A config file is YAML or TOML, chosen by extension, and is layered over
// Default(). DESK_* environment variables (DESK_BACKEND, DESK_MONGO_URI,
// DESK_DATA_DIR, ...) override file values. The result is validated with
// struct tags before use.
//
//	data_dir: ~/.campusdesk
//	storage:
//	  backend: mongo
//	  mongo_uri: mongodb://localhost:27017
//	  mongo_database: campusdesk
//	  probe_timeout: 50ms
//	  operation_timeout: 2s
//	telemetry:
//	  log_level: info
//	  log_format: console
//	  trace_exporter: none
//	  metrics_address: :9090
//	csv:
//	  bom: true
//	subjects:
//	  - Introduction to Computers
//	  - IoT Emb
//	  - Capston Design
package config
