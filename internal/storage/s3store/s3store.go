// Package s3store is a StorageBackend for S3 and S3-compatible object
// stores. Files live directly under an optional key prefix; deeper keys
// are ignored.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/storage/retry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

const (
	// mtimeKey is the user metadata key holding the file's modification
	// time. S3 returns it lower-cased without the x-amz-meta- prefix.
	mtimeKey = "mtime"

	// headLimit bounds concurrent HeadObject calls.
	headLimit = 8
)

// Config selects the bucket area the backend syncs against.
type Config struct {
	Bucket string
	Prefix string

	// Versioned lists object versions so that deletions surface as
	// tombstones. The bucket must have versioning enabled.
	Versioned bool

	// MaxUploadRetries bounds throttling retries on upload. Zero retries
	// without limit.
	MaxUploadRetries int
}

// Backend syncs against one bucket prefix.
type Backend struct {
	client    Client
	bucket    string
	prefix    string
	versioned bool
	logger    *slog.Logger
	retry     retry.Policy
}

var _ filesync.StorageBackend = (*Backend)(nil)

// New returns a backend using client. The prefix is normalised to end
// with a slash.
func New(client Client, cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	return &Backend{
		client:    client,
		bucket:    cfg.Bucket,
		prefix:    prefix,
		versioned: cfg.Versioned,
		logger:    logger,
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
	return b.client != nil && b.bucket != ""
}

func (b *Backend) ServiceType() filesync.ServiceType {
	return filesync.ServiceS3
}

// Ping checks that the bucket is reachable with the configured
// credentials.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err != nil {
		return classify("", fmt.Errorf("checking bucket %s: %w", b.bucket, err))
	}

	return nil
}

func (b *Backend) key(filename string) string {
	return b.prefix + filename
}

// nameFor returns the filename for key, or false if the key is not a
// direct child of the prefix.
func (b *Backend) nameFor(key string) (string, bool) {
	name, ok := strings.CutPrefix(key, b.prefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}

	return name, true
}

func (b *Backend) locator(key string) string {
	return "s3://" + b.bucket + "/" + key
}

// ListRootFolder lists the files under the prefix. Modification times
// come from the mtime metadata written on upload, falling back to the
// object's LastModified.
func (b *Backend) ListRootFolder(ctx context.Context) ([]filesync.Descriptor, error) {
	if !b.IsAuthenticated() {
		return nil, syncerr.NotAuthenticated()
	}

	var (
		live       []filesync.Descriptor
		tombstones []filesync.Descriptor
		err        error
	)

	if b.versioned {
		live, tombstones, err = b.listVersions(ctx)
	} else {
		live, err = b.listObjects(ctx)
	}

	if err != nil {
		return nil, err
	}

	if err := b.resolveModTimes(ctx, live); err != nil {
		return nil, err
	}

	return append(live, tombstones...), nil
}

func (b *Backend) listObjects(ctx context.Context) ([]filesync.Descriptor, error) {
	var out []filesync.Descriptor

	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(b.prefix),
		Delimiter: aws.String("/"),
	})

	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("", fmt.Errorf("listing s3://%s/%s: %w", b.bucket, b.prefix, err))
		}

		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)

			name, ok := b.nameFor(key)
			if !ok {
				continue
			}

			out = append(out, filesync.Descriptor{
				Filename:      name,
				State:         filesync.StateNormal,
				UpdatedAt:     aws.ToTime(obj.LastModified),
				Size:          aws.ToInt64(obj.Size),
				RemoteLocator: b.locator(key),
			})
		}
	}

	return out, nil
}

// listVersions returns the latest live version of each key and a
// tombstone for each key whose latest version is a delete marker.
func (b *Backend) listVersions(ctx context.Context) ([]filesync.Descriptor, []filesync.Descriptor, error) {
	var live, tombstones []filesync.Descriptor

	in := &s3.ListObjectVersionsInput{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(b.prefix),
		Delimiter: aws.String("/"),
	}

	for {
		page, err := b.client.ListObjectVersions(ctx, in)
		if err != nil {
			return nil, nil, classify("", fmt.Errorf("listing versions of s3://%s/%s: %w", b.bucket, b.prefix, err))
		}

		for _, v := range page.Versions {
			name, ok := b.nameFor(aws.ToString(v.Key))
			if !ok || !aws.ToBool(v.IsLatest) {
				continue
			}

			live = append(live, filesync.Descriptor{
				Filename:      name,
				State:         filesync.StateNormal,
				UpdatedAt:     aws.ToTime(v.LastModified),
				Size:          aws.ToInt64(v.Size),
				RemoteLocator: b.locator(aws.ToString(v.Key)),
			})
		}

		for _, m := range page.DeleteMarkers {
			name, ok := b.nameFor(aws.ToString(m.Key))
			if !ok || !aws.ToBool(m.IsLatest) {
				continue
			}

			tombstones = append(tombstones, filesync.Descriptor{
				Filename:      name,
				State:         filesync.StateDeleted,
				UpdatedAt:     aws.ToTime(m.LastModified),
				RemoteLocator: b.locator(aws.ToString(m.Key)),
			})
		}

		if !aws.ToBool(page.IsTruncated) {
			return live, tombstones, nil
		}

		in.KeyMarker = page.NextKeyMarker
		in.VersionIdMarker = page.NextVersionIdMarker
	}
}

// resolveModTimes replaces UpdatedAt with the stored mtime metadata
// where present. Objects that vanish between listing and lookup keep
// their listed time.
func (b *Backend) resolveModTimes(ctx context.Context, ds []filesync.Descriptor) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headLimit)

	for i := range ds {
		g.Go(func() error {
			out, err := b.client.HeadObject(gctx, &s3.HeadObjectInput{
				Bucket: aws.String(b.bucket),
				Key:    aws.String(b.key(ds[i].Filename)),
			})
			if err != nil {
				err = classify(ds[i].Filename, err)
				if errors.Is(err, syncerr.ErrNoContent) {
					return nil
				}

				return err
			}

			if t, ok := parseModTime(out.Metadata); ok {
				ds[i].UpdatedAt = t
			}

			return nil
		})
	}

	return g.Wait()
}

func parseModTime(meta map[string]string) (time.Time, bool) {
	raw, ok := meta[mtimeKey]
	if !ok {
		return time.Time{}, false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}

	return t, true
}

// Upload puts the bytes at d.LocalLocator with d.UpdatedAt stored as
// metadata. Without overwrite the put is conditional on the key being
// absent.
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

	meta := map[string]string{}
	if !d.UpdatedAt.IsZero() {
		meta[mtimeKey] = d.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}

	return b.retry.Do(ctx, d.Filename, func() error {
		in := &s3.PutObjectInput{
			Bucket:        aws.String(b.bucket),
			Key:           aws.String(b.key(d.Filename)),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
			Metadata:      meta,
		}

		if !overwrite {
			in.IfNoneMatch = aws.String("*")
		}

		if _, err := b.client.PutObject(ctx, in); err != nil {
			return classify(d.Filename, err)
		}

		return nil
	})
}

func (b *Backend) Download(ctx context.Context, d filesync.Descriptor) ([]byte, error) {
	if !b.IsAuthenticated() {
		return nil, syncerr.NotAuthenticated()
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(d.Filename)),
	})
	if err != nil {
		return nil, classify(d.Filename, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, syncerr.BackendIO(d.Filename, fmt.Errorf("reading object body: %w", err))
	}

	return data, nil
}

// Remove deletes the object. On a versioned bucket this leaves a delete
// marker, which later listings report as a tombstone.
func (b *Backend) Remove(ctx context.Context, d filesync.Descriptor) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(d.Filename)),
	})
	if err == nil {
		return nil
	}

	err = classify(d.Filename, err)
	if errors.Is(err, syncerr.ErrNoContent) {
		return nil
	}

	return err
}

// Rename validates the whole batch, then copies each object to its new
// key and deletes the old one.
func (b *Backend) Rename(ctx context.Context, changes []filesync.Rename) error {
	if !b.IsAuthenticated() {
		return syncerr.NotAuthenticated()
	}

	if err := b.validateRenames(ctx, changes); err != nil {
		return err
	}

	var errs []error

	for _, c := range changes {
		if err := b.move(ctx, c.Source.Filename, c.Destination.Filename); err != nil {
			errs = append(errs, err)
			continue
		}

		b.logger.Info("renamed remote object",
			slog.String("from", c.Source.Filename),
			slog.String("to", c.Destination.Filename),
		)
	}

	return errors.Join(errs...)
}

func (b *Backend) move(ctx context.Context, from, to string) error {
	src := b.bucket + "/" + b.key(from)

	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(b.bucket),
		Key:               aws.String(b.key(to)),
		CopySource:        aws.String((&url.URL{Path: src}).EscapedPath()),
		MetadataDirective: types.MetadataDirectiveCopy,
	})
	if err != nil {
		return classify(from, fmt.Errorf("copying to %s: %w", to, err))
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(from)),
	})
	if err != nil {
		return classify(from, fmt.Errorf("deleting after copy to %s: %w", to, err))
	}

	return nil
}

func (b *Backend) validateRenames(ctx context.Context, changes []filesync.Rename) error {
	// Two slots per change: source lookup then destination lookup.
	results := make([]error, 2*len(changes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(headLimit)

	for i, c := range changes {
		if !strings.EqualFold(path.Ext(c.Source.Filename), path.Ext(c.Destination.Filename)) {
			results[2*i] = syncerr.DifferentFileTypes(c.Source.Filename, c.Destination.Filename)
			continue
		}

		check := func(slot int, filename string, wantExists bool) {
			g.Go(func() error {
				exists, err := b.exists(gctx, filename)

				switch {
				case err != nil:
					results[slot] = err
				case wantExists && !exists:
					results[slot] = syncerr.NoContent(filename)
				case !wantExists && exists:
					results[slot] = syncerr.FileAlreadyExists(filename)
				}

				return nil
			})
		}

		check(2*i, c.Source.Filename, true)
		check(2*i+1, c.Destination.Filename, false)
	}

	_ = g.Wait()

	return errors.Join(append(results, filesync.CheckRenameBatch(changes, nil))...)
}

func (b *Backend) exists(ctx context.Context, filename string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(filename)),
	})
	if err == nil {
		return true, nil
	}

	err = classify(filename, err)
	if errors.Is(err, syncerr.ErrNoContent) {
		return false, nil
	}

	return false, err
}
