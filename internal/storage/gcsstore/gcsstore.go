// Package gcsstore is a StorageBackend for Google Cloud Storage buckets.
// Files live directly under an optional object prefix.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/storage/retry"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	// mtimeKey is the custom metadata key holding the file's
	// modification time.
	mtimeKey = "mtime"

	lookupLimit = 8
)

// Config selects the bucket area the backend syncs against.
type Config struct {
	Bucket string
	Prefix string

	// MaxUploadRetries bounds rate-limit retries on upload. Zero retries
	// without limit.
	MaxUploadRetries int
}

// Backend syncs against one bucket prefix.
type Backend struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
	logger *slog.Logger
	retry  retry.Policy
}

var _ filesync.StorageBackend = (*Backend)(nil)

// NewClient creates a GCS client. An empty credentials file uses
// application default credentials. A custom endpoint disables
// authentication, for emulators.
func NewClient(ctx context.Context, credentialsFile, endpoint string) (*storage.Client, error) {
	var opts []option.ClientOption

	switch {
	case endpoint != "":
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	return client, nil
}

// New returns a backend using client.
func New(client *storage.Client, cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &Backend{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: prefix,
		logger: logger,
		retry: retry.Policy{
			Max:    cfg.MaxUploadRetries,
			Logger: logger,
		},
	}, nil
}

func (b *Backend) IsAuthenticated() bool {
	return b.client != nil
}

func (b *Backend) IsReadyForSyncing() bool {
	return b.client != nil && b.bucket != nil
}

func (b *Backend) ServiceType() filesync.ServiceType {
	return filesync.ServiceGCS
}

// Ping checks that the bucket exists and is readable.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.bucket.Attrs(ctx); err != nil {
		return classify("", fmt.Errorf("checking bucket %s: %w", b.name, err))
	}

	return nil
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) object(filename string) *storage.ObjectHandle {
	return b.bucket.Object(b.prefix + filename)
}

// ListRootFolder lists objects directly under the prefix. GCS does not
// report deletions, so no tombstones are returned.
func (b *Backend) ListRootFolder(ctx context.Context) ([]filesync.Descriptor, error) {
	if !b.IsAuthenticated() {
		return nil, syncerr.NotAuthenticated()
	}

	var out []filesync.Descriptor

	it := b.bucket.Objects(ctx, &storage.Query{Prefix: b.prefix, Delimiter: "/"})

	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}

		if err != nil {
			return nil, classify("", fmt.Errorf("listing gs://%s/%s: %w", b.name, b.prefix, err))
		}

		// Synthetic directory entries carry only a prefix.
		if attrs.Prefix != "" {
			continue
		}

		name, ok := strings.CutPrefix(attrs.Name, b.prefix)
		if !ok || name == "" || strings.Contains(name, "/") {
			continue
		}

		out = append(out, filesync.Descriptor{
			Filename:      name,
			State:         filesync.StateNormal,
			UpdatedAt:     modTime(attrs),
			Size:          attrs.Size,
			RemoteLocator: "gs://" + b.name + "/" + attrs.Name,
		})
	}
}

func modTime(attrs *storage.ObjectAttrs) time.Time {
	if raw, ok := attrs.Metadata[mtimeKey]; ok {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return t
		}
	}

	return attrs.Updated
}

// Upload writes the bytes at d.LocalLocator. Without overwrite the
// write only succeeds if no live object has the name.
func (b *Backend) Upload(ctx context.Context, d filesync.Descriptor, overwrite bool) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	if d.LocalLocator == "" {
		return syncerr.NoContent(d.Filename)
	}

	data, err := os.ReadFile(d.LocalLocator)
	if err != nil {
		return syncerr.NoContent(d.Filename)
	}

	return b.retry.Do(ctx, d.Filename, func() error {
		obj := b.object(d.Filename)
		if !overwrite {
			obj = obj.If(storage.Conditions{DoesNotExist: true})
		}

		w := obj.NewWriter(ctx)
		if !d.UpdatedAt.IsZero() {
			w.Metadata = map[string]string{mtimeKey: d.UpdatedAt.UTC().Format(time.RFC3339Nano)}
		}

		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return classify(d.Filename, err)
		}

		if err := w.Close(); err != nil {
			return classify(d.Filename, err)
		}

		return nil
	})
}

func (b *Backend) Download(ctx context.Context, d filesync.Descriptor) ([]byte, error) {
	if !b.IsAuthenticated() {
		return nil, syncerr.NotAuthenticated()
	}

	r, err := b.object(d.Filename).NewReader(ctx)
	if err != nil {
		return nil, classify(d.Filename, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, syncerr.BackendIO(d.Filename, fmt.Errorf("reading object: %w", err))
	}

	return data, nil
}

// Remove deletes the object. A missing object is not an error.
func (b *Backend) Remove(ctx context.Context, d filesync.Descriptor) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	err := b.object(d.Filename).Delete(ctx)
	if err == nil {
		return nil
	}

	err = classify(d.Filename, err)
	if errors.Is(err, syncerr.ErrNoContent) {
		return nil
	}

	return err
}

// Rename validates the whole batch, then copies each object with its
// metadata and deletes the source.
func (b *Backend) Rename(ctx context.Context, changes []filesync.Rename) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	if err := b.validateRenames(ctx, changes); err != nil {
		return err
	}

	var errs []error

	for _, c := range changes {
		src := b.object(c.Source.Filename)
		dst := b.object(c.Destination.Filename).If(storage.Conditions{DoesNotExist: true})

		if _, err := dst.CopierFrom(src).Run(ctx); err != nil {
			errs = append(errs, classify(c.Source.Filename, fmt.Errorf("copying to %s: %w", c.Destination.Filename, err)))
			continue
		}

		if err := src.Delete(ctx); err != nil {
			errs = append(errs, classify(c.Source.Filename, fmt.Errorf("deleting after copy: %w", err)))
			continue
		}

		b.logger.Info("renamed remote object",
			slog.String("from", c.Source.Filename),
			slog.String("to", c.Destination.Filename),
		)
	}

	return errors.Join(errs...)
}

func (b *Backend) validateRenames(ctx context.Context, changes []filesync.Rename) error {
	// Two slots per change: source lookup then destination lookup.
	results := make([]error, 2*len(changes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupLimit)

	for i, c := range changes {
		if !strings.EqualFold(path.Ext(c.Source.Filename), path.Ext(c.Destination.Filename)) {
			results[2*i] = syncerr.DifferentFileTypes(c.Source.Filename, c.Destination.Filename)
			continue
		}

		g.Go(func() error {
			exists, err := b.exists(gctx, c.Source.Filename)

			switch {
			case err != nil:
				results[2*i] = err
			case !exists:
				results[2*i] = syncerr.NoContent(c.Source.Filename)
			}

			return nil
		})

		g.Go(func() error {
			exists, err := b.exists(gctx, c.Destination.Filename)

			switch {
			case err != nil:
				results[2*i+1] = err
			case exists:
				results[2*i+1] = syncerr.FileAlreadyExists(c.Destination.Filename)
			}

			return nil
		})
	}

	_ = g.Wait()

	return errors.Join(append(results, filesync.CheckRenameBatch(changes, nil))...)
}

func (b *Backend) exists(ctx context.Context, filename string) (bool, error) {
	_, err := b.object(filename).Attrs(ctx)
	if err == nil {
		return true, nil
	}

	err = classify(filename, err)
	if errors.Is(err, syncerr.ErrNoContent) {
		return false, nil
	}

	return false, err
}

// classify converts a client error for filename into the error taxonomy.
func classify(filename string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return syncerr.NoContent(filename)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return syncerr.NoContent(filename)
		case http.StatusPreconditionFailed:
			return &syncerr.SyncError{Kind: syncerr.KindFileAlreadyExists, Filename: filename, Err: err}
		case http.StatusTooManyRequests:
			return syncerr.RateLimited(filename, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return &syncerr.SyncError{Kind: syncerr.KindNotAuthenticated, Filename: filename, Err: err}
		}
	}

	return syncerr.BackendIO(filename, err)
}
