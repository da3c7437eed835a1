// Package storage opens the StorageBackend selected by configuration.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/cloudsync/internal/config"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/storage/folder"
	"github.com/alexjbarnes/cloudsync/internal/storage/gcsstore"
	"github.com/alexjbarnes/cloudsync/internal/storage/httpapi"
	"github.com/alexjbarnes/cloudsync/internal/storage/s3store"
)

// Backend is a StorageBackend plus the release of any client it holds.
type Backend struct {
	filesync.StorageBackend
	close func() error
}

// Close releases the backend's client, if any.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}

	return b.close()
}

// pinger is implemented by backends that can check connectivity before
// the first pass.
type pinger interface {
	Ping(ctx context.Context) error
}

// Open builds the backend named by cfg.Backend. Object store backends
// are pinged so misconfiguration fails before any pass starts.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	logger = logger.With(slog.String("backend", cfg.Backend))

	b, err := open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if p, ok := b.StorageBackend.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("connecting to %s backend: %w", cfg.Backend, err)
		}
	}

	logger.Info("storage backend ready", slog.String("service", b.ServiceType().String()))

	return b, nil
}

func open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Backend {
	case config.BackendFolder:
		fb, err := folder.New(cfg.FolderRoot, logger)
		if err != nil {
			return nil, err
		}

		return &Backend{StorageBackend: fb}, nil

	case config.BackendHTTP:
		hb := httpapi.New(httpapi.Config{
			APIURL:           cfg.HTTPBaseURL,
			ContentURL:       cfg.HTTPContentURL,
			Token:            cfg.HTTPToken,
			MaxUploadRetries: cfg.MaxUploadRetries,
		}, logger)

		return &Backend{StorageBackend: hb}, nil

	case config.BackendS3:
		client, err := s3store.NewClient(ctx, s3store.ClientConfig{
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}

		sb, err := s3store.New(client, s3store.Config{
			Bucket:           cfg.S3Bucket,
			Prefix:           cfg.S3Prefix,
			Versioned:        cfg.S3Versioned,
			MaxUploadRetries: cfg.MaxUploadRetries,
		}, logger)
		if err != nil {
			return nil, err
		}

		return &Backend{StorageBackend: sb}, nil

	case config.BackendGCS:
		client, err := gcsstore.NewClient(ctx, cfg.GCSCredentialsFile, cfg.GCSEndpoint)
		if err != nil {
			return nil, err
		}

		gb, err := gcsstore.New(client, gcsstore.Config{
			Bucket:           cfg.GCSBucket,
			Prefix:           cfg.GCSPrefix,
			MaxUploadRetries: cfg.MaxUploadRetries,
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}

		return &Backend{StorageBackend: gb, close: gb.Close}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
