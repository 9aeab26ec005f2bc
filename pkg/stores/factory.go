package stores

import (
	"fmt"
	"path/filepath"
	"time"
)

// FactoryConfig selects and configures a primary backend.
type FactoryConfig struct {
	Backend        string
	DataDir        string
	MongoURI       string
	MongoDatabase  string
	SQLitePath     string
	BoltPath       string
	ConnectTimeout time.Duration
	Collections    []string
}

// New creates a primary Backend based on the backend name.
//
// Supported backends:
//
//	"mongo"  - MongoDB document store at MongoURI
//	"sqlite" - SQLite database at SQLitePath (default DataDir/campusdesk.db)
//	"bolt"   - bbolt file at BoltPath (default DataDir/campusdesk.bolt)
//	"memory" - no primary; returns nil so the caller runs local only
func New(cfg FactoryConfig) (Backend, error) {
	switch cfg.Backend {
	case "mongo", "":
		return NewMongoBackend(MongoConfig{
			URI:            cfg.MongoURI,
			Database:       cfg.MongoDatabase,
			ConnectTimeout: cfg.ConnectTimeout,
			Collections:    cfg.Collections,
		})
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "campusdesk.db")
		}
		return NewSQLiteBackend(SQLiteConfig{Path: path})
	case "bolt":
		path := cfg.BoltPath
		if path == "" {
			path = filepath.Join(cfg.DataDir, "campusdesk.bolt")
		}
		return NewBoltBackend(BoltConfig{Path: path, OpenTimeout: cfg.ConnectTimeout})
	case "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: mongo, sqlite, bolt, memory)", cfg.Backend)
	}
}
