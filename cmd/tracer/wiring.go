package main

import (
	"fmt"
	"io"

	"github.com/quantlark/tracer/internal/archive"
	"github.com/quantlark/tracer/internal/config"
	"github.com/quantlark/tracer/internal/store"
)

// loadConfig reads the config file, or falls back to defaults when no
// file was given.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Defaults(), nil
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// buildBarStore creates the configured bar backend. The returned closer
// is nil for backends without connections.
func buildBarStore(cfg *config.Config) (store.BarStore, io.Closer, error) {
	switch cfg.Storage.Bars.Type {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Storage.Bars.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening bar database: %w", err)
		}
		return s, s, nil
	case "parquet":
		return store.NewParquetStore(cfg.Storage.Bars.Path), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown bar storage type %q", cfg.Storage.Bars.Type)
	}
}

// buildArchiver creates the report archiver, or nil when archiving is
// disabled.
func buildArchiver(cfg *config.Config) (*archive.Archiver, error) {
	switch cfg.Storage.Archive.Type {
	case "":
		return nil, nil
	case "localfs":
		backend, err := archive.NewLocalDir(cfg.Storage.Archive.Path)
		if err != nil {
			return nil, fmt.Errorf("opening archive directory: %w", err)
		}
		return archive.New(backend), nil
	case "s3":
		s3cfg := cfg.Storage.Archive.S3
		backend, err := archive.NewS3(archive.S3Config{
			Bucket:    s3cfg.Bucket,
			Endpoint:  s3cfg.Endpoint,
			Region:    s3cfg.Region,
			AccessKey: s3cfg.AccessKey,
			SecretKey: s3cfg.SecretKey,
			Prefix:    s3cfg.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("creating S3 archive: %w", err)
		}
		return archive.New(backend), nil
	default:
		return nil, fmt.Errorf("unknown archive type %q", cfg.Storage.Archive.Type)
	}
}
