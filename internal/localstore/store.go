// Package localstore is the on-disk LocalDataHandler: a flat directory of
// files plus the last committed descriptor of each one, kept in bbolt.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/filesync"
	syncerr "github.com/alexjbarnes/cloudsync/internal/errors"
	"github.com/alexjbarnes/cloudsync/internal/state"
	"github.com/bmatcuk/doublestar/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	dirPerm  = fs.FileMode(0o755)
	filePerm = fs.FileMode(0o644)

	lockFile   = ".cloudsync.lock"
	tempPrefix = ".cloudsync-tmp-"
)

// ErrLocked is returned by Lock when another process holds the store.
var ErrLocked = errors.New("local store is locked by another process")

// Store implements filesync.LocalDataHandler over a directory. Writes to
// the directory are serialized; reads may run concurrently.
type Store struct {
	dir      string
	id       string
	state    *state.State
	logger   *slog.Logger
	patterns []string
	ignore   mapset.Set[string]
	service  filesync.ServiceType

	mu    sync.RWMutex
	flock *flock.Flock
}

var _ filesync.LocalDataHandler = (*Store)(nil)

// Option configures a Store.
type Option func(*Store) error

// WithPatterns restricts the store to filenames matching any of the
// doublestar patterns. The default is every file.
func WithPatterns(patterns ...string) Option {
	return func(s *Store) error {
		for _, p := range patterns {
			if !doublestar.ValidatePattern(p) {
				return fmt.Errorf("invalid file pattern %q", p)
			}
		}

		s.patterns = patterns

		return nil
	}
}

// WithIgnored excludes absolute paths from the store, typically the
// state database when it lives inside the directory.
func WithIgnored(paths ...string) Option {
	return func(s *Store) error {
		for _, p := range paths {
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}

			s.ignore.Add(abs)
		}

		return nil
	}
}

// WithServiceType records which backend the store is synced against.
func WithServiceType(t filesync.ServiceType) Option {
	return func(s *Store) error {
		s.service = t
		return nil
	}
}

// New opens the store rooted at dir, creating the directory if needed.
// The store's records are keyed by a stable id derived from the
// absolute directory path.
func New(dir string, st *state.State, logger *slog.Logger, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("local directory must not be empty")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving local directory: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("creating local directory %s: %w", abs, err)
	}

	s := &Store{
		dir:      abs,
		id:       uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+abs)).String(),
		state:    st,
		logger:   logger,
		patterns: []string{"*"},
		ignore:   mapset.NewThreadUnsafeSet[string](),
		flock:    flock.New(filepath.Join(abs, lockFile)),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := st.InitStore(s.id); err != nil {
		return nil, fmt.Errorf("initializing store records: %w", err)
	}

	return s, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// ID returns the key under which the store's records are kept.
func (s *Store) ID() string {
	return s.id
}

// LastSync returns bookkeeping about the last committed pass, or nil.
func (s *Store) LastSync() (*state.SyncInfo, error) {
	return s.state.LastSync(s.id)
}

// Record returns the committed record for filename, or nil when the
// file has never been synced.
func (s *Store) Record(filename string) (*state.Record, error) {
	return s.state.GetRecord(s.id, normalizeName(filename))
}

// Lock takes an exclusive cross-process lock on the store directory.
func (s *Store) Lock() error {
	locked, err := s.flock.TryLock()
	if err != nil {
		return fmt.Errorf("locking local store: %w", err)
	}

	if !locked {
		return ErrLocked
	}

	return nil
}

// Unlock releases the lock taken by Lock and removes the lock file.
func (s *Store) Unlock() error {
	if !s.flock.Locked() {
		return nil
	}

	if err := s.flock.Unlock(); err != nil {
		return fmt.Errorf("unlocking local store: %w", err)
	}

	return os.Remove(s.flock.Path())
}

// CanHandle reports whether filename belongs to this store.
func (s *Store) CanHandle(filename string) bool {
	name := normalizeName(filename)
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return false
	}

	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return false
	}

	if s.ignore.Contains(filepath.Join(s.dir, name)) {
		return false
	}

	for _, p := range s.patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}

	return false
}

// PrepareLocalData points d at the file on disk and refreshes its size.
func (s *Store) PrepareLocalData(ctx context.Context, d *filesync.Descriptor) error {
	path, err := s.resolve(d.Filename)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return syncerr.NoContent(d.Filename)
	}

	if err != nil {
		return syncerr.BackendIO(d.Filename, err)
	}

	d.LocalLocator = path
	d.Size = info.Size()

	return nil
}

// SaveLocally writes data for d through a temporary file so readers
// never observe a partial write. The file's mtime is set to d.UpdatedAt.
func (s *Store) SaveLocally(ctx context.Context, data []byte, d *filesync.Descriptor) error {
	path, err := s.resolve(d.Filename)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
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
			return syncerr.BackendIO(d.Filename, fmt.Errorf("setting mtime: %w", err))
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return syncerr.BackendIO(d.Filename, err)
	}

	d.LocalLocator = path
	d.Size = int64(len(data))

	return nil
}

// RemoveLocalData deletes the file and its record. A missing file is
// not an error.
func (s *Store) RemoveLocalData(ctx context.Context, locator string, d filesync.Descriptor) error {
	path, err := s.resolve(d.Filename)
	if err != nil {
		return err
	}

	if locator != "" && filepath.Dir(filepath.Clean(locator)) == s.dir {
		path = filepath.Clean(locator)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return syncerr.BackendIO(d.Filename, err)
	}

	if err := s.state.DeleteRecord(s.id, d.Filename); err != nil {
		return fmt.Errorf("deleting record for %s: %w", d.Filename, err)
	}

	return nil
}

// IdentifierFor returns the filename without its final extension, so
// "song.txt" and "song.pdf" belong to the same logical item.
func (s *Store) IdentifierFor(d filesync.Descriptor) string {
	return strings.TrimSuffix(d.Filename, filepath.Ext(d.Filename))
}

// GroupByIdentifier buckets ds by IdentifierFor. Each group is sorted by
// case-folded filename.
func (s *Store) GroupByIdentifier(ds []filesync.Descriptor) map[string][]filesync.Descriptor {
	out := make(map[string][]filesync.Descriptor)
	for _, d := range ds {
		id := s.IdentifierFor(d)
		out[id] = append(out[id], d)
	}

	for _, group := range out {
		filesync.SortByFilename(group)
	}

	return out
}

// Commit persists the outcome of a pass. Each synced descriptor whose
// file is on disk becomes a record carrying the file's current mtime.
// A full pass also drops records outside the synced set: a stale file
// still matching its record is removed with it, a locally edited file
// is left to be picked up as new, and a record whose file is already
// gone is kept so the pending remote delete is retried.
func (s *Store) Commit(ctx context.Context, synced []filesync.Descriptor, fullSync bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := s.state.AllRecords(s.id)
	if err != nil {
		return fmt.Errorf("loading records: %w", err)
	}

	var errs []error

	keep := mapset.NewThreadUnsafeSet[string]()
	records := make([]state.Record, 0, len(synced))

	for _, d := range synced {
		if d.IsDeleted() {
			continue
		}

		path, err := s.resolve(d.Filename)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("commit: skipping missing file", slog.String("path", d.Filename))
			continue
		}

		if err != nil {
			errs = append(errs, syncerr.BackendIO(d.Filename, err))
			continue
		}

		keep.Add(d.Filename)
		records = append(records, recordFor(d, info))
	}

	if fullSync {
		for name, r := range prev {
			if keep.Contains(name) {
				continue
			}

			if rec, ok := s.dropStale(name, r); ok {
				records = append(records, rec)
			}
		}

		err = s.state.ReplaceRecords(s.id, records)
	} else {
		err = s.state.PutRecords(s.id, records...)
	}

	if err != nil {
		errs = append(errs, fmt.Errorf("saving records: %w", err))
	}

	info := state.SyncInfo{At: time.Now(), Full: fullSync, Service: s.service}
	if err := s.state.SetLastSync(s.id, info); err != nil {
		errs = append(errs, fmt.Errorf("saving last sync: %w", err))
	}

	s.logger.Debug("commit: records saved",
		slog.Int("records", len(records)),
		slog.Bool("full", fullSync),
	)

	return errors.Join(errs...)
}

// dropStale handles a record left out of a full pass and reports whether
// it should be kept.
func (s *Store) dropStale(name string, r state.Record) (state.Record, bool) {
	path := filepath.Join(s.dir, name)

	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return r, true
	}

	if err != nil || info.ModTime().UnixNano() != r.MTime {
		return state.Record{}, false
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("commit: removing stale file failed",
			slog.String("path", name),
			slog.String("error", err.Error()),
		)
	}

	return state.Record{}, false
}

// ApplyRenames moves files and records for renames that already
// succeeded on the remote. Existing destinations are replaced.
func (s *Store) ApplyRenames(ctx context.Context, changes []filesync.Rename) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error

	for _, c := range changes {
		src, err := s.resolve(c.Source.Filename)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		dst, err := s.resolve(c.Destination.Filename)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if err := os.Rename(src, dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, syncerr.BackendIO(c.Source.Filename, err))
			continue
		}

		if err := s.state.RenameRecord(s.id, c.Source.Filename, c.Destination.Filename); err != nil {
			errs = append(errs, fmt.Errorf("renaming record %s: %w", c.Source.Filename, err))
		}
	}

	return errors.Join(errs...)
}

// resolve maps a filename to its absolute path inside the store,
// rejecting anything that is not a plain top-level name.
func (s *Store) resolve(filename string) (string, error) {
	name := normalizeName(filename)

	switch {
	case name == "", name == ".", name == "..":
		return "", syncerr.Unexpected(fmt.Sprintf("invalid filename %q", filename))
	case strings.ContainsRune(name, 0):
		return "", syncerr.Unexpected(fmt.Sprintf("filename contains null byte: %q", filename))
	case strings.ContainsAny(name, `/\`):
		return "", syncerr.Unexpected(fmt.Sprintf("filename contains a path separator: %q", filename))
	}

	return filepath.Join(s.dir, name), nil
}

func recordFor(d filesync.Descriptor, info fs.FileInfo) state.Record {
	return state.Record{
		Filename:      d.Filename,
		State:         d.State,
		UpdatedAt:     d.UpdatedAt,
		MTime:         info.ModTime().UnixNano(),
		Size:          info.Size(),
		RemoteLocator: d.RemoteLocator,
		Metadata:      d.Metadata,
	}
}

// normalizeName applies NFC so names from the filesystem and from the
// remote compare equal.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}
