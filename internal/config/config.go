// Package config loads the subset of Options that makes sense to persist
// as a JSON file on disk (paths, durations, size constraints, log level),
// separate from the Go-only fields (Now, FS, Logger, callbacks) that only
// make sense wired up in code. Adapted from FlashDB's config.Config
// (same DefaultConfig/Load/Save JSON-file shape), narrowed to the fields
// a blob cache deployment actually needs to override per environment.
package config

import (
	"encoding/json"
	"os"
	"time"
)

// FileConfig is the on-disk, environment-overridable half of a Cache's
// Options.
type FileConfig struct {
	CachePath               string        `json:"cache_path"`
	CacheIdentifier         string        `json:"cache_identifier"`
	UseDirectorySeparation  bool          `json:"use_directory_separation"`
	GarbageCollectionPeriod time.Duration `json:"garbage_collection_period"`
	DefaultExpirationPeriod time.Duration `json:"default_expiration_period"`
	SizeConstraintBytes     uint64        `json:"size_constraint_bytes"`
	MaxConcurrentOperations int           `json:"max_concurrent_operations"`
	LogLevel                string        `json:"log_level"`
}

// Default returns the FileConfig equivalent of the zero-value Options
// defaults (mirrors blobcache.NewOptions's applied defaults).
func Default() *FileConfig {
	return &FileConfig{
		CachePath:               "cache",
		CacheIdentifier:         "persistent.cache",
		UseDirectorySeparation:  true,
		GarbageCollectionPeriod: 60 * time.Second,
		DefaultExpirationPeriod: 10 * time.Minute,
		MaxConcurrentOperations: 4,
		LogLevel:                "info",
	}
}

// Load reads a FileConfig from a JSON file. A missing file is not an
// error: it returns Default().
func Load(path string) (*FileConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func (c *FileConfig) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
