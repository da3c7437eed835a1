package localstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/state"
	mapset "github.com/deckarep/golang-set/v2"
)

// KnownLocalDescriptors returns the current state of every handled file.
func (s *Store) KnownLocalDescriptors(ctx context.Context) ([]filesync.Descriptor, error) {
	return s.Scan(ctx)
}

// Scan reads the directory and compares each file with its record:
//
//   - a file with no record is new
//   - a record with no file is deleted
//   - a file whose mtime moved since the record keeps the record's state
//     but takes the disk timestamp
//   - anything else is the record as committed
//
// The result is sorted by case-folded filename.
func (s *Store) Scan(ctx context.Context) ([]filesync.Descriptor, error) {
	records, err := s.state.AllRecords(s.id)
	if err != nil {
		return nil, fmt.Errorf("loading records: %w", err)
	}

	s.mu.RLock()
	entries, err := os.ReadDir(s.dir)
	s.mu.RUnlock()

	if err != nil {
		return nil, fmt.Errorf("reading local directory: %w", err)
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	out := make([]filesync.Descriptor, 0, len(entries))

	var changed, added int

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if !e.Type().IsRegular() {
			continue
		}

		name := normalizeName(e.Name())
		if !s.CanHandle(name) {
			continue
		}

		info, err := e.Info()
		if err != nil {
			s.logger.Warn("scan: stat failed", slog.String("path", name), slog.String("error", err.Error()))
			continue
		}

		seen.Add(name)

		d := filesync.Descriptor{
			Filename:     name,
			State:        filesync.StateNew,
			UpdatedAt:    info.ModTime(),
			Size:         info.Size(),
			LocalLocator: filepath.Join(s.dir, e.Name()),
		}

		r, ok := records[name]

		switch {
		case !ok:
			added++
		case r.MTime != info.ModTime().UnixNano():
			changed++

			d.State = r.State
			d.RemoteLocator = r.RemoteLocator
			d.Metadata = r.Metadata
		default:
			d.State = r.State
			d.UpdatedAt = r.UpdatedAt
			d.RemoteLocator = r.RemoteLocator
			d.Metadata = r.Metadata
		}

		out = append(out, d)
	}

	var deleted int

	for name, r := range records {
		if seen.Contains(name) {
			continue
		}

		deleted++

		out = append(out, tombstone(r))
	}

	filesync.SortByFilename(out)

	s.logger.Debug("scan: complete",
		slog.Int("on_disk", seen.Cardinality()),
		slog.Int("new", added),
		slog.Int("changed", changed),
		slog.Int("deleted", deleted),
	)

	return out, nil
}

// Lookup scans the directory and returns the descriptors for names.
// Names with neither a file nor a record are skipped.
func (s *Store) Lookup(ctx context.Context, names []string) ([]filesync.Descriptor, error) {
	all, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}

	want := mapset.NewThreadUnsafeSet[string]()
	for _, n := range names {
		want.Add(normalizeName(n))
	}

	out := make([]filesync.Descriptor, 0, len(names))
	for _, d := range all {
		if want.Contains(d.Filename) {
			out = append(out, d)
		}
	}

	return out, nil
}

func tombstone(r state.Record) filesync.Descriptor {
	at := r.UpdatedAt
	if at.IsZero() {
		at = time.Unix(0, r.MTime)
	}

	return filesync.Descriptor{
		Filename:      r.Filename,
		State:         filesync.StateDeleted,
		UpdatedAt:     at,
		Size:          r.Size,
		RemoteLocator: r.RemoteLocator,
		Metadata:      r.Metadata,
	}
}
