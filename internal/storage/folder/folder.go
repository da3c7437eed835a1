// Package folder is a StorageBackend that keeps remote files directly
// inside a root directory, for mounted network shares and tests.
package folder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"golang.org/x/text/unicode/norm"
)

const (
	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)

	tempPrefix = ".cloudsync-upload-"
)

// Backend stores files under a single root directory.
type Backend struct {
	root   string
	logger *slog.Logger
}

var _ filesync.StorageBackend = (*Backend)(nil)

// New returns a backend rooted at root, creating the directory if it
// does not exist.
func New(root string, logger *slog.Logger) (*Backend, error) {
	if root == "" {
		return nil, fmt.Errorf("folder root must not be empty")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving folder root: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating folder root %s: %w", abs, err)
	}

	return &Backend{root: abs, logger: logger}, nil
}

// Root returns the absolute root directory.
func (b *Backend) Root() string {
	return b.root
}

func (b *Backend) IsAuthenticated() bool {
	info, err := os.Stat(b.root)
	return err == nil && info.IsDir()
}

func (b *Backend) IsReadyForSyncing() bool {
	return b.IsAuthenticated()
}

func (b *Backend) ServiceType() filesync.ServiceType {
	return filesync.ServiceFolder
}

// ListRootFolder returns every regular, non-hidden file under the root.
func (b *Backend) ListRootFolder(ctx context.Context) ([]filesync.Descriptor, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, syncerr.BackendIO("", fmt.Errorf("listing %s: %w", b.root, err))
	}

	out := make([]filesync.Descriptor, 0, len(entries))

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		info, err := e.Info()
		if err != nil {
			b.logger.Warn("folder: stat failed", slog.String("path", e.Name()), slog.String("error", err.Error()))
			continue
		}

		out = append(out, filesync.Descriptor{
			Filename:      norm.NFC.String(e.Name()),
			State:         filesync.StateNormal,
			UpdatedAt:     info.ModTime(),
			Size:          info.Size(),
			RemoteLocator: filepath.Join(b.root, e.Name()),
		})
	}

	return out, nil
}

// Upload copies the bytes at d.LocalLocator into the root and stamps the
// copy with d.UpdatedAt.
func (b *Backend) Upload(ctx context.Context, d filesync.Descriptor, overwrite bool) error {
	path, err := b.resolve(d.Filename)
	if err != nil {
		return err
	}

	if d.LocalLocator == "" {
		return syncerr.NoContent(d.Filename)
	}

	data, err := os.ReadFile(d.LocalLocator)
	if errors.Is(err, fs.ErrNotExist) {
		return syncerr.NoContent(d.Filename)
	}

	if err != nil {
		return syncerr.BackendIO(d.Filename, err)
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return syncerr.FileAlreadyExists(d.Filename)
		}
	}

	tmp, err := os.CreateTemp(b.root, tempPrefix+"*")
	if err != nil {
		return syncerr.BackendIO(d.Filename, err)
	}

	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return syncerr.BackendIO(d.Filename, err)
	}

	if err := tmp.Close(); err != nil {
		return syncerr.BackendIO(d.Filename, err)
	}

	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return syncerr.BackendIO(d.Filename, err)
	}

	if !d.UpdatedAt.IsZero() {
		if err := os.Chtimes(tmpPath, d.UpdatedAt, d.UpdatedAt); err != nil {
			return syncerr.BackendIO(d.Filename, err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return syncerr.BackendIO(d.Filename, err)
	}

	return nil
}

func (b *Backend) Download(ctx context.Context, d filesync.Descriptor) ([]byte, error) {
	path, err := b.resolve(d.Filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, syncerr.NoContent(d.Filename)
	}

	if err != nil {
		return nil, syncerr.BackendIO(d.Filename, err)
	}

	return data, nil
}

// Remove deletes the file. Removing an absent file succeeds.
func (b *Backend) Remove(ctx context.Context, d filesync.Descriptor) error {
	path, err := b.resolve(d.Filename)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return syncerr.BackendIO(d.Filename, err)
	}

	return nil
}

// Rename validates the whole batch before moving anything. Missing
// sources, existing or repeated destinations, repeated sources and
// extension changes are all reported together.
func (b *Backend) Rename(ctx context.Context, changes []filesync.Rename) error {
	type move struct{ src, dst string }

	moves := make([]move, 0, len(changes))

	var errs []error

	for _, c := range changes {
		src, err := b.resolve(c.Source.Filename)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		dst, err := b.resolve(c.Destination.Filename)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if !strings.EqualFold(filepath.Ext(src), filepath.Ext(dst)) {
			errs = append(errs, syncerr.DifferentFileTypes(c.Source.Filename, c.Destination.Filename))
		}

		if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, syncerr.NoContent(c.Source.Filename))
		}

		if _, err := os.Stat(dst); err == nil {
			errs = append(errs, syncerr.FileAlreadyExists(c.Destination.Filename))
		}

		moves = append(moves, move{src: src, dst: dst})
	}

	errs = append(errs, syncerr.Flatten(filesync.CheckRenameBatch(changes, norm.NFC.String))...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for i, m := range moves {
		if err := os.Rename(m.src, m.dst); err != nil {
			errs = append(errs, syncerr.BackendIO(changes[i].Source.Filename, err))
		}
	}

	return errors.Join(errs...)
}

// resolve maps a filename to a path directly under the root.
func (b *Backend) resolve(filename string) (string, error) {
	name := norm.NFC.String(filename)

	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return "", syncerr.Unexpected(fmt.Sprintf("invalid filename %q", filename))
	}

	return filepath.Join(b.root, name), nil
}
